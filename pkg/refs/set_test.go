package refs

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSet(t *testing.T) {
	s := NewSet()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 2, s.Cap())
	assert.False(t, s.Contains(1))
	assert.Equal(t, int32(0), s.Any())
	assert.Equal(t, "[]", s.String())
}

func TestSet_PutPop(t *testing.T) {
	t.Run("put_returns_existing_slot", func(t *testing.T) {
		s := NewSet()
		slot, err := s.Put(5)
		require.NoError(t, err)
		require.NotZero(t, slot)

		again, err := s.Put(5)
		require.NoError(t, err)
		assert.Equal(t, slot, again)
		assert.Equal(t, 1, s.Len())
		assert.Equal(t, int32(5), s.RefAt(slot))
	})

	t.Run("zero_is_ignored", func(t *testing.T) {
		s := NewSet()
		slot, err := s.Put(0)
		require.NoError(t, err)
		assert.Zero(t, slot)
		assert.Zero(t, s.Len())
		assert.False(t, s.Contains(0))
		assert.Zero(t, s.Pop(0))
	})

	t.Run("pop_absent_returns_zero", func(t *testing.T) {
		s := SetOf(1, 2)
		assert.Zero(t, s.Pop(3))
		assert.Equal(t, 2, s.Len())
	})

	t.Run("pop_from_chain_middle", func(t *testing.T) {
		// with 4 slots, 2 and 6 share bucket 2
		s := SetOf(2, 4, 6)
		require.Equal(t, 4, s.Cap())

		assert.NotZero(t, s.Pop(4))
		assert.True(t, s.Contains(2))
		assert.False(t, s.Contains(4))
		assert.True(t, s.Contains(6))

		assert.NotZero(t, s.Pop(2))
		assert.NotZero(t, s.Pop(6))
		assert.Zero(t, s.Len())

		// freed slots are reused before growing again
		for _, ref := range []int32{8, 10, 12, 14} {
			_, err := s.Put(ref)
			require.NoError(t, err)
		}
		assert.Equal(t, 4, s.Cap())
	})

	t.Run("negative_refs", func(t *testing.T) {
		s := SetOf(-1, -7, 3)
		assert.True(t, s.Contains(-1))
		assert.True(t, s.Contains(-7))
		assert.Equal(t, "[-7 -1 3]", s.String())
	})
}

func TestSet_GrowShrink(t *testing.T) {
	t.Run("grows_when_full", func(t *testing.T) {
		s := NewSet()
		for i := int32(1); i <= 3; i++ {
			_, err := s.Put(i)
			require.NoError(t, err)
		}
		assert.Equal(t, 4, s.Cap())
		_, err := s.Put(4)
		require.NoError(t, err)
		assert.Equal(t, 4, s.Cap())
		_, err = s.Put(5)
		require.NoError(t, err)
		assert.Equal(t, 8, s.Cap())
	})

	t.Run("grow_is_noop_with_free_slot", func(t *testing.T) {
		s := SetOf(1)
		require.NoError(t, s.Grow())
		assert.Equal(t, 2, s.Cap())
	})

	t.Run("shrink_keeps_one_free_slot", func(t *testing.T) {
		s := NewSet()
		for i := int32(1); i <= 8; i++ {
			_, err := s.Put(i)
			require.NoError(t, err)
		}
		require.Equal(t, 8, s.Cap())

		assert.False(t, s.Shrink(), "8 entries do not fit into 4 slots")
		for i := int32(1); i <= 5; i++ {
			s.Pop(i)
		}
		assert.True(t, s.Shrink())
		assert.Equal(t, 4, s.Cap())
		assert.False(t, s.Shrink(), "3 entries need 4 slots")
		assert.Equal(t, "[6 7 8]", s.String())
	})

	t.Run("never_below_two", func(t *testing.T) {
		s := NewSet()
		assert.False(t, s.Shrink())
		assert.Equal(t, 2, s.Cap())
	})

	t.Run("capacity_changes_are_transparent", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		s := NewSet()
		want := map[int32]bool{}
		for i := 0; i < 2000; i++ {
			ref := rng.Int31n(500) + 1
			if rng.Intn(3) == 0 {
				s.Pop(ref)
				s.Shrink()
				delete(want, ref)
			} else {
				_, err := s.Put(ref)
				require.NoError(t, err)
				want[ref] = true
			}
			require.Equal(t, len(want), s.Len())
		}
		for ref := int32(1); ref <= 500; ref++ {
			assert.Equal(t, want[ref], s.Contains(ref), "ref %d", ref)
		}
	})
}

func TestSet_CapacityExhausted(t *testing.T) {
	restore := LimitCapacity(4)
	defer restore()

	s := SetOf(1, 2, 3, 4)
	require.Equal(t, 4, s.Cap())

	_, err := s.Put(5)
	assert.ErrorIs(t, err, ErrCapacityExhausted)
	assert.Equal(t, 4, s.Len())
	assert.False(t, s.Contains(5))
	assert.ErrorIs(t, s.Reserve(), ErrCapacityExhausted)

	// existing refs can still be put
	_, err = s.Put(3)
	assert.NoError(t, err)
}

func TestSet_CloneEqual(t *testing.T) {
	a := SetOf(1, 2, 3)
	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.Pop(2)
	assert.False(t, a.Equal(b))
	assert.True(t, a.Contains(2), "clone must not share storage")

	c := SetOf(3, 2, 1, 9)
	c.Pop(9)
	c.Shrink()
	assert.True(t, a.Equal(c), "equality ignores layout")
}

func TestSet_Iteration(t *testing.T) {
	s := SetOf(4, 8, 15, 16, 23, 42)

	seen := map[int32]int{}
	for ref := range s.All() {
		seen[ref]++
	}
	assert.Len(t, seen, 6)
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}

	// a fresh cursor restarts
	for round := 0; round < 2; round++ {
		count := 0
		for c := s.Cursor(); c.Next(); {
			assert.Equal(t, c.Ref(), s.RefAt(c.Slot()))
			count++
		}
		assert.Equal(t, 6, count)
	}

	assert.ElementsMatch(t, []int32{4, 8, 15, 16, 23, 42}, s.ToArray())
	assert.True(t, s.Contains(s.Any()))
}
