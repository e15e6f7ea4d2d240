package storage

import "fmt"

// CheckConsistency verifies the structural invariants of the state:
//   - every edge of the source index is in the target index and vice versa
//   - the edge counter matches both indexes
//   - adjacency values hold one inline endpoint or a set of two or more
//   - no endpoint or relation is kept with an empty container
//
// A non-nil result wraps ErrInconsistent and always indicates a bug.
func (st *State) CheckConsistency() error {
	idx := st.index()
	forward, err := checkSide(idx.sources, idx.targets, "source", false)
	if err != nil {
		return err
	}
	backward, err := checkSide(idx.targets, idx.sources, "target", true)
	if err != nil {
		return err
	}
	if forward != backward || forward != idx.edges {
		return fmt.Errorf("%w: edge counts differ: sources=%d targets=%d counter=%d",
			ErrInconsistent, forward, backward, idx.edges)
	}
	return nil
}

func checkSide(side, other *endpoints, name string, reversed bool) (int, error) {
	count := 0
	for key, rels := range side.All() {
		if rels == nil || rels.Len() == 0 {
			return 0, fmt.Errorf("%w: %s %d has no relations", ErrInconsistent, name, key)
		}
		for relation, adj := range rels.All() {
			switch {
			case adj.set == nil && adj.one == 0:
				return 0, fmt.Errorf("%w: %s %d relation %d is empty", ErrInconsistent, name, key, relation)
			case adj.set != nil && adj.one != 0:
				return 0, fmt.Errorf("%w: %s %d relation %d has both variants", ErrInconsistent, name, key, relation)
			case adj.set != nil && adj.set.Len() < 2:
				return 0, fmt.Errorf("%w: %s %d relation %d holds a set of %d",
					ErrInconsistent, name, key, relation, adj.set.Len())
			}
			for end := range adj.all() {
				otherRels, _ := other.Get(end)
				otherAdj, _ := otherRels.Get(relation)
				if !otherAdj.contains(key) {
					e := Edge{Source: key, Relation: relation, Target: end}
					if reversed {
						e.Source, e.Target = end, key
					}
					return 0, fmt.Errorf("%w: edge %v is only in the %s index", ErrInconsistent, e, name)
				}
				count++
			}
		}
	}
	return count, nil
}
