package storage

import (
	"fmt"

	"github.com/orneryd/refstore/pkg/refs"
)

// index is the bidirectional edge index behind a State:
//
//	sources[s][r] = targets of (s, r, *)
//	targets[t][r] = sources of (*, r, t)
//
// Both sides always describe the same edge set. Endpoints without edges and
// relations without endpoints are removed, never kept as empty containers.
//
// Mutations take a shadow index (the frozen backup of a Store, or nil). Any
// nested container that is reachable from the shadow is cloned before it is
// changed, so only the path from a mutated edge to the root is ever copied.
// The top-level maps of the mutated index must already be private.
type index struct {
	sources *endpoints
	targets *endpoints
	edges   int
}

func newIndex() index {
	return index{
		sources: refs.NewMap[*relations](),
		targets: refs.NewMap[*relations](),
	}
}

func (x *index) contains(source, relation, target Ref) bool {
	rels, _ := x.sources.Get(source)
	adj, _ := rels.Get(relation)
	return adj.contains(target)
}

// halfInsert is one prepared side of an insert. Preparing reserves every slot
// the insert needs, so applying it cannot fail.
type halfInsert struct {
	outer *endpoints
	key   Ref
	rel   Ref
	rels  *relations
	adj   adjacency
	add   Ref
}

func prepareInsert(outer, shadow *endpoints, key, rel, other Ref) (halfInsert, error) {
	h := halfInsert{outer: outer, key: key, rel: rel}

	rels, ok := outer.Get(key)
	if !ok {
		if err := outer.Reserve(); err != nil {
			return h, err
		}
		h.rels = refs.NewMap[adjacency]()
		h.adj = single(other)
		return h, nil
	}

	shadowRels, _ := shadow.Get(key)
	if rels == shadowRels {
		rels = rels.Clone()
	}
	h.rels = rels

	adj, ok := rels.Get(rel)
	switch {
	case !ok:
		if err := rels.Reserve(); err != nil {
			return h, err
		}
		h.adj = single(other)
	case adj.set == nil:
		h.adj = adjacency{set: refs.SetOf(adj.one, other)}
	default:
		set := adj.set
		if shadowAdj, _ := shadowRels.Get(rel); set == shadowAdj.set {
			set = set.Clone()
		}
		if err := set.Reserve(); err != nil {
			return h, err
		}
		h.adj = adjacency{set: set}
		h.add = other
	}
	return h, nil
}

func (h halfInsert) apply() {
	if h.add != 0 {
		mustReserved(h.adj.set.Put(h.add))
	}
	mustReserved(h.rels.Put(h.rel, h.adj))
	mustReserved(h.outer.Put(h.key, h.rels))
}

func mustReserved(_ int32, err error) {
	if err != nil {
		panic(fmt.Errorf("%w: reserved slot unavailable: %v", ErrInconsistent, err))
	}
}

// insert adds the edge and reports whether it was new. On error the index is
// unchanged apart from capacity.
func (x *index) insert(shadow *index, source, relation, target Ref) (bool, error) {
	if source == 0 || relation == 0 || target == 0 {
		return false, nil
	}
	if x.contains(source, relation, target) {
		return false, nil
	}
	var shadowSources, shadowTargets *endpoints
	if shadow != nil {
		shadowSources, shadowTargets = shadow.sources, shadow.targets
	}

	src, err := prepareInsert(x.sources, shadowSources, source, relation, target)
	if err != nil {
		return false, err
	}
	dst, err := prepareInsert(x.targets, shadowTargets, target, relation, source)
	if err != nil {
		return false, err
	}
	src.apply()
	dst.apply()
	x.edges++
	return true, nil
}

// mustInsert is used when the result is known to fit, e.g. when building a
// subset of an existing state.
func (x *index) mustInsert(source, relation, target Ref) {
	if _, err := x.insert(nil, source, relation, target); err != nil {
		panic(fmt.Errorf("%w: %v", ErrInconsistent, err))
	}
}

// delete removes the edge and reports whether it was present. Deleting never
// allocates beyond the clones required by the shadow.
func (x *index) delete(shadow *index, source, relation, target Ref) bool {
	if !x.contains(source, relation, target) {
		return false
	}
	var shadowSources, shadowTargets *endpoints
	if shadow != nil {
		shadowSources, shadowTargets = shadow.sources, shadow.targets
	}
	removeHalf(x.sources, shadowSources, source, relation, target)
	removeHalf(x.targets, shadowTargets, target, relation, source)
	x.edges--
	return true
}

// removeHalf drops other from outer[key][rel]. The entry must exist.
func removeHalf(outer, shadow *endpoints, key, rel, other Ref) {
	slot := outer.Slot(key)
	rels := outer.ValueAt(slot)
	shadowRels, _ := shadow.Get(key)
	if rels == shadowRels {
		rels = rels.Clone()
	}

	relSlot := rels.Slot(rel)
	adj := rels.ValueAt(relSlot)
	if adj.set == nil {
		rels.Pop(rel)
	} else {
		set := adj.set
		if shadowAdj, _ := shadowRels.Get(rel); set == shadowAdj.set {
			set = set.Clone()
		}
		set.Pop(other)
		if set.Len() == 1 {
			rels.SetAt(relSlot, single(set.Any()))
		} else {
			set.Shrink()
			rels.SetAt(relSlot, adjacency{set: set})
		}
	}

	if rels.Len() == 0 {
		outer.Pop(key)
		outer.Shrink()
		return
	}
	rels.Shrink()
	outer.SetAt(slot, rels)
}
