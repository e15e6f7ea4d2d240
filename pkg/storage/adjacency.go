package storage

import (
	"iter"

	"github.com/orneryd/refstore/pkg/refs"
)

// adjacency holds the opposite endpoints of one (endpoint, relation) pair.
//
// Exactly one of the two variants is used by a live entry:
//   - one != 0, set == nil: a single endpoint stored inline
//   - one == 0, set != nil: two or more endpoints
//
// The zero value means "no endpoints" and is never stored.
type adjacency struct {
	one Ref
	set *refs.Set
}

// relations maps a relation to the adjacency of one endpoint.
type relations = refs.Map[adjacency]

// endpoints maps an endpoint to its relations.
type endpoints = refs.Map[*relations]

func single(ref Ref) adjacency {
	return adjacency{one: ref}
}

func (a adjacency) empty() bool {
	return a.one == 0 && a.set == nil
}

func (a adjacency) len() int {
	if a.set != nil {
		return a.set.Len()
	}
	if a.one != 0 {
		return 1
	}
	return 0
}

func (a adjacency) contains(ref Ref) bool {
	if a.set != nil {
		return a.set.Contains(ref)
	}
	return ref != 0 && a.one == ref
}

// first returns any endpoint, or 0.
func (a adjacency) first() Ref {
	if a.set != nil {
		return a.set.Any()
	}
	return a.one
}

// same reports whether both values are the identical representation, i.e.
// the same inline reference or the same shared set.
func (a adjacency) same(b adjacency) bool {
	return a.one == b.one && a.set == b.set
}

func (a adjacency) all() iter.Seq[Ref] {
	return func(yield func(Ref) bool) {
		if a.set != nil {
			for ref := range a.set.All() {
				if !yield(ref) {
					return
				}
			}
			return
		}
		if a.one != 0 {
			yield(a.one)
		}
	}
}

func (a adjacency) toArray() []Ref {
	if a.set != nil {
		return a.set.ToArray()
	}
	if a.one != 0 {
		return []Ref{a.one}
	}
	return nil
}
