package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	t.Run("unrelated_states", func(t *testing.T) {
		before := mustState(t, Edge{1, 2, 3}, Edge{1, 2, 4}, Edge{5, 6, 7}, Edge{8, 9, 10})
		after := mustState(t, Edge{1, 2, 3}, Edge{1, 2, 11}, Edge{5, 6, 7}, Edge{5, 12, 7}, Edge{13, 2, 3})

		assert.Equal(t, []Edge{{1, 2, 11}, {5, 12, 7}, {13, 2, 3}}, Diff(before, after).EdgeList())
		assert.Equal(t, []Edge{{1, 2, 4}, {8, 9, 10}}, Diff(after, before).EdgeList())
	})

	t.Run("counters_are_deltas", func(t *testing.T) {
		before, after := NewState(), NewState()
		before.nextRef, before.rootRef = 5, 2
		after.nextRef, after.rootRef = 9, 1

		d := Diff(before, after)
		assert.Equal(t, Ref(4), d.NextRef())
		assert.Equal(t, Ref(-1), d.RootRef())
		assert.Zero(t, d.Len())
	})

	t.Run("identical_index_short_circuits", func(t *testing.T) {
		st := mustState(t, Edge{1, 2, 3})
		assert.Zero(t, Diff(st, st).Len())
		assert.Zero(t, Diff(st, st.snapshot()).Len())
	})

	t.Run("inline_to_set", func(t *testing.T) {
		before := mustState(t, Edge{1, 2, 3})
		after := mustState(t, Edge{1, 2, 3}, Edge{1, 2, 4})
		assert.Equal(t, []Edge{{1, 2, 4}}, Diff(before, after).EdgeList())
		assert.Zero(t, Diff(after, before).Len())
	})

	t.Run("empty_and_decoded", func(t *testing.T) {
		st := mustState(t, Edge{1, 2, 3}, Edge{4, 5, 6})
		decoded, err := FromInts(st.ToInts())
		require.NoError(t, err)

		assert.Zero(t, Diff(st, decoded).Len())
		assert.Zero(t, Diff(decoded, st).Len())
		assert.Equal(t, 2, Diff(NewState(), decoded).Len())
		assert.Equal(t, 2, Diff(&State{}, decoded).Len())
		assert.Zero(t, Diff(decoded, &State{}).Len())
	})
}

func TestDiff_SharedSubtreesAreSkipped(t *testing.T) {
	s := newCheckedStore()
	for source := Ref(1); source <= 100; source++ {
		mustPut(t, s, source, 1, source+1000)
	}
	s.Commit()
	mustPut(t, s, 50, 1, 2000)
	u := s.Commit()

	oldRels, _ := u.OldState().idx.sources.Get(7)
	newRels, _ := u.NewState().idx.sources.Get(7)
	assert.Same(t, oldRels, newRels, "untouched sources are shared")

	oldRels, _ = u.OldState().idx.sources.Get(50)
	newRels, _ = u.NewState().idx.sources.Get(50)
	assert.NotSame(t, oldRels, newRels, "the touched source was copied")

	assert.Equal(t, []Edge{{50, 1, 2000}}, u.PutState().EdgeList())
	assert.Zero(t, u.PopState().Len())
}
