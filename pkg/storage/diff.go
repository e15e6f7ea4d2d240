package storage

// Diff returns the edges of newState that are missing from oldState. The
// counters of the result are the deltas newState - oldState.
//
// Subtrees shared by pointer between both states are skipped without being
// walked, so for two states connected by a Store transaction the cost is
// proportional to the size of the change. Unrelated states are compared
// edge by edge.
//
//	puts := storage.Diff(old, new)
//	pops := storage.Diff(new, old)
func Diff(oldState, newState *State) *State {
	oldIdx, newIdx := oldState.index(), newState.index()
	result := &State{
		nextRef: newState.nextRef - oldState.nextRef,
		rootRef: newState.rootRef - oldState.rootRef,
		idx:     newIndex(),
	}
	if oldIdx.sources == newIdx.sources {
		return result
	}

	for source, newRels := range newIdx.sources.All() {
		oldRels, _ := oldIdx.sources.Get(source)
		if newRels == oldRels {
			continue
		}
		for relation, newAdj := range newRels.All() {
			oldAdj, _ := oldRels.Get(relation)
			if newAdj.same(oldAdj) {
				continue
			}
			for target := range newAdj.all() {
				if !oldAdj.contains(target) {
					result.idx.mustInsert(source, relation, target)
				}
			}
		}
	}
	return result
}
