// Package storage provides the bidirectional entity-relation store.
//
// The package is built around three types:
//   - State: an immutable snapshot of an edge set, indexed from the source
//     side and from the target side at the same time
//   - Store: the mutable front door with copy-on-write commit and rollback
//   - Update: the report produced by Commit and Rollback
//
// Edges are typed connections (source, relation, target) between int32
// references. The reference 0 means "absent": it is never stored, and
// operations receiving it return false, 0 or an empty result.
//
// Example Usage:
//
//	store := storage.NewStore()
//
//	store.Put(1, 10, 2) // 1 -[10]-> 2
//	store.Put(1, 10, 3)
//	store.Put(2, 10, 2)
//
//	update := store.Commit()
//	fmt.Println(update.PutState().Len()) // 3
//
//	store.Pop(1, 10, 2)
//	update = store.Commit()
//	fmt.Println(update.PopState().EdgeList()) // [(1 10 2)]
//
//	// snapshots are safe to read from other goroutines
//	snap := update.NewState()
//	go func() { fmt.Println(snap.TargetsOf(1, 10)) }()
//
//	// encode for transport
//	data := snap.ToBytes()
//	restored, err := storage.FromBytes(data)
package storage

import (
	"fmt"
	"iter"
	"slices"
	"strconv"
	"sync"

	"github.com/orneryd/refstore/pkg/pool"
)

// State is a snapshot of an edge set together with two opaque counters,
// nextRef and rootRef.
//
// Every edge is reachable from its source and from its target, so all
// queries below run in O(1) average time plus the size of their result.
// Absent endpoints and relations are never an error: queries return false,
// 0 or an empty result.
//
// States returned by Store.Snapshot, Update, Diff and the decoding functions
// are frozen and may be read concurrently without locking. A decoded state
// keeps its raw encoding and builds its index on first use.
//
// Example:
//
//	state, _ := storage.FromEdges(
//		storage.Edge{Source: 1, Relation: 5, Target: 2},
//		storage.Edge{Source: 1, Relation: 5, Target: 3},
//	)
//	state.TargetsOf(1, 5)      // [2 3] in unspecified order
//	state.SourceOf(5, 2)       // 1
//	state.SourceRelations(1)   // [5]
//	state.ContainsTarget(1)    // false
type State struct {
	nextRef Ref
	rootRef Ref
	idx     index

	raw  []Ref
	once sync.Once
}

// NewState returns an empty state with both counters at 0.
func NewState() *State {
	return &State{idx: newIndex()}
}

// FromEdges builds a state holding the given edges. Edges with a zero
// reference are skipped.
func FromEdges(edges ...Edge) (*State, error) {
	st := NewState()
	for _, e := range edges {
		if _, err := st.idx.insert(nil, e.Source, e.Relation, e.Target); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// index returns the materialized index, decoding the raw form on first use.
func (st *State) index() *index {
	st.once.Do(st.materialize)
	return &st.idx
}

func (st *State) materialize() {
	if st.raw == nil {
		if st.idx.sources == nil {
			st.idx = newIndex()
		}
		return
	}
	// FromInts decodes eagerly whenever the edges might exceed the capacity
	// limit, so this only panics if the limit is lowered in between.
	idx := newIndex()
	forEachEncoded(st.raw, func(e Edge) bool {
		idx.mustInsert(e.Source, e.Relation, e.Target)
		return true
	})
	st.idx = idx
}

// decode materializes the raw form right away and reports capacity errors.
func (st *State) decode() error {
	idx := newIndex()
	var err error
	forEachEncoded(st.raw, func(e Edge) bool {
		_, err = idx.insert(nil, e.Source, e.Relation, e.Target)
		return err == nil
	})
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	st.once.Do(func() { st.idx = idx })
	return nil
}

// snapshot returns a new State sharing the index of st. st must not be
// mutated afterwards unless the mutation copies on write against the result.
func (st *State) snapshot() *State {
	idx := st.index()
	return &State{nextRef: st.nextRef, rootRef: st.rootRef, idx: *idx}
}

// NextRef returns the next-reference counter.
func (st *State) NextRef() Ref { return st.nextRef }

// RootRef returns the root-reference counter.
func (st *State) RootRef() Ref { return st.rootRef }

// Len returns the number of edges.
func (st *State) Len() int { return st.index().edges }

// Contains reports whether the edge (source, relation, target) exists.
func (st *State) Contains(source, relation, target Ref) bool {
	return st.index().contains(source, relation, target)
}

// ContainsEdge is Contains for an Edge value.
func (st *State) ContainsEdge(e Edge) bool {
	return st.Contains(e.Source, e.Relation, e.Target)
}

// ContainsSource reports whether ref is the source of at least one edge.
func (st *State) ContainsSource(ref Ref) bool {
	return st.index().sources.Contains(ref)
}

// ContainsTarget reports whether ref is the target of at least one edge.
func (st *State) ContainsTarget(ref Ref) bool {
	return st.index().targets.Contains(ref)
}

// ContainsSourceRelation reports whether an edge (source, relation, *) exists.
func (st *State) ContainsSourceRelation(source, relation Ref) bool {
	rels, _ := st.index().sources.Get(source)
	return rels.Contains(relation)
}

// ContainsTargetRelation reports whether an edge (*, relation, target) exists.
func (st *State) ContainsTargetRelation(target, relation Ref) bool {
	rels, _ := st.index().targets.Get(target)
	return rels.Contains(relation)
}

// Sources returns every reference used as a source.
func (st *State) Sources() []Ref {
	return st.index().sources.Keys().ToArray()
}

// SourceCount returns the number of distinct sources.
func (st *State) SourceCount() int {
	return st.index().sources.Len()
}

// Targets returns every reference used as a target.
func (st *State) Targets() []Ref {
	return st.index().targets.Keys().ToArray()
}

// TargetCount returns the number of distinct targets.
func (st *State) TargetCount() int {
	return st.index().targets.Len()
}

// SourceRelations returns the relations of the edges leaving source.
func (st *State) SourceRelations(source Ref) []Ref {
	rels, _ := st.index().sources.Get(source)
	return rels.Keys().ToArray()
}

// SourceRelationCount returns len(SourceRelations(source)).
func (st *State) SourceRelationCount(source Ref) int {
	rels, _ := st.index().sources.Get(source)
	return rels.Len()
}

// TargetRelations returns the relations of the edges entering target.
func (st *State) TargetRelations(target Ref) []Ref {
	rels, _ := st.index().targets.Get(target)
	return rels.Keys().ToArray()
}

// TargetRelationCount returns len(TargetRelations(target)).
func (st *State) TargetRelationCount(target Ref) int {
	rels, _ := st.index().targets.Get(target)
	return rels.Len()
}

func (st *State) targetAdjacency(source, relation Ref) adjacency {
	rels, _ := st.index().sources.Get(source)
	adj, _ := rels.Get(relation)
	return adj
}

func (st *State) sourceAdjacency(target, relation Ref) adjacency {
	rels, _ := st.index().targets.Get(target)
	adj, _ := rels.Get(relation)
	return adj
}

// TargetsOf returns the targets of the edges (source, relation, *).
func (st *State) TargetsOf(source, relation Ref) []Ref {
	return st.targetAdjacency(source, relation).toArray()
}

// TargetOf returns one target of (source, relation, *), or 0 if there is none.
func (st *State) TargetOf(source, relation Ref) Ref {
	return st.targetAdjacency(source, relation).first()
}

// CountTargetsOf returns len(TargetsOf(source, relation)).
func (st *State) CountTargetsOf(source, relation Ref) int {
	return st.targetAdjacency(source, relation).len()
}

// SourcesOf returns the sources of the edges (*, relation, target).
func (st *State) SourcesOf(relation, target Ref) []Ref {
	return st.sourceAdjacency(target, relation).toArray()
}

// SourceOf returns one source of (*, relation, target), or 0 if there is none.
func (st *State) SourceOf(relation, target Ref) Ref {
	return st.sourceAdjacency(target, relation).first()
}

// CountSourcesOf returns len(SourcesOf(relation, target)).
func (st *State) CountSourcesOf(relation, target Ref) int {
	return st.sourceAdjacency(target, relation).len()
}

// Edges yields every edge exactly once in unspecified order.
func (st *State) Edges() iter.Seq[Edge] {
	return func(yield func(Edge) bool) {
		idx := st.index()
		for source, rels := range idx.sources.All() {
			for relation, adj := range rels.All() {
				for target := range adj.all() {
					if !yield(Edge{Source: source, Relation: relation, Target: target}) {
						return
					}
				}
			}
		}
	}
}

// EdgeList returns all edges sorted by source, relation and target.
func (st *State) EdgeList() []Edge {
	out := make([]Edge, 0, st.Len())
	for e := range st.Edges() {
		out = append(out, e)
	}
	slices.SortFunc(out, CompareEdges)
	return out
}

// Equal reports whether both states hold the same edges. Counters are not
// compared.
func (st *State) Equal(other *State) bool {
	if st == other {
		return true
	}
	if st.Len() != other.Len() {
		return false
	}
	for e := range st.Edges() {
		if !other.ContainsEdge(e) {
			return false
		}
	}
	return true
}

// String returns the counters and the sorted edges, e.g.
// "State{next=4 root=1 [(1 2 3)]}".
func (st *State) String() string {
	b := pool.GetStringBuilder()
	defer pool.PutStringBuilder(b)
	b.WriteString("State{next=")
	b.WriteString(strconv.Itoa(int(st.nextRef)))
	b.WriteString(" root=")
	b.WriteString(strconv.Itoa(int(st.rootRef)))
	b.WriteString(" [")
	for i, e := range st.EdgeList() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.String())
	}
	b.WriteString("]}")
	return b.String()
}
