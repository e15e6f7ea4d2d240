package storage

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func openTestJournal(t *testing.T, opts JournalOptions) *Journal {
	t.Helper()
	j, err := OpenJournal(opts)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

// recordEpochs commits three epochs on s and records them.
func recordEpochs(t *testing.T, j *Journal, s *Store) []*State {
	t.Helper()
	var states []*State

	mustPut(t, s, 1, 2, 3)
	mustPut(t, s, 1, 2, 4)
	s.SetNextRef(5)
	seq, err := j.Record(s.Commit())
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
	states = append(states, s.Snapshot())

	s.Pop(1, 2, 3)
	mustPut(t, s, 4, 2, 1)
	seq, err = j.Record(s.Commit())
	require.NoError(t, err)
	require.Equal(t, uint64(2), seq)
	states = append(states, s.Snapshot())

	s.SetRootRef(4)
	seq, err = j.Record(s.Commit())
	require.NoError(t, err)
	require.Equal(t, uint64(3), seq)
	states = append(states, s.Snapshot())

	return states
}

func TestJournal_Record(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	j := openTestJournal(t, JournalOptions{Clock: clock})
	s := NewStore()

	t.Run("empty_updates_are_skipped", func(t *testing.T) {
		seq, err := j.Record(s.Commit())
		require.NoError(t, err)
		assert.Zero(t, seq)
		assert.Zero(t, j.Sequence())
	})

	recordEpochs(t, j, s)
	assert.Equal(t, uint64(3), j.Sequence())
	assert.Equal(t, 3, j.Len())
	assert.NotEmpty(t, j.ID())

	entries, err := j.Entries(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, uint64(i+1), entry.Sequence)
		assert.True(t, entry.Timestamp.Equal(clock.Now()))
	}

	puts, err := entries[1].PutState()
	require.NoError(t, err)
	pops, err := entries[1].PopState()
	require.NoError(t, err)
	assert.Equal(t, []Edge{{4, 2, 1}}, puts.EdgeList())
	assert.Equal(t, []Edge{{1, 2, 3}}, pops.EdgeList())
	assert.Equal(t, Ref(5), entries[1].NextRef)
	assert.Equal(t, Ref(4), entries[2].RootRef)

	later, err := j.Entries(2)
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, uint64(3), later[0].Sequence)
}

func TestJournal_ReplayAndStateAt(t *testing.T) {
	j := openTestJournal(t, JournalOptions{})
	leader := NewStore()
	states := recordEpochs(t, j, leader)

	t.Run("replay_from_start", func(t *testing.T) {
		follower := NewStore()
		last, err := j.Replay(follower, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), last)
		assert.Equal(t, leader.EdgeList(), follower.EdgeList())
		assert.Equal(t, leader.NextRef(), follower.NextRef())
		assert.Equal(t, leader.RootRef(), follower.RootRef())
	})

	t.Run("replay_catch_up", func(t *testing.T) {
		follower := NewStoreFrom(states[0])
		last, err := j.Replay(follower, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), last)
		assert.Equal(t, leader.EdgeList(), follower.EdgeList())

		last, err = j.Replay(follower, 3)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), last, "nothing new")
	})

	t.Run("state_at", func(t *testing.T) {
		empty, err := j.StateAt(0)
		require.NoError(t, err)
		assert.Zero(t, empty.Len())

		for i, want := range states {
			got, err := j.StateAt(uint64(i + 1))
			require.NoError(t, err)
			assert.Equal(t, want.EdgeList(), got.EdgeList())
			assert.Equal(t, want.NextRef(), got.NextRef())
			assert.Equal(t, want.RootRef(), got.RootRef())
		}

		_, err = j.StateAt(4)
		assert.Error(t, err)
	})
}

func TestJournal_Compact(t *testing.T) {
	j := openTestJournal(t, JournalOptions{})
	s := NewStore()
	states := recordEpochs(t, j, s)

	require.NoError(t, j.Compact(1))
	assert.Equal(t, 1, j.Len())
	assert.Equal(t, uint64(2), j.BaseSequence())
	assert.Equal(t, uint64(3), j.Sequence())

	_, err := j.Entries(1)
	assert.ErrorIs(t, err, ErrJournalGap)
	_, err = j.StateAt(1)
	assert.ErrorIs(t, err, ErrJournalGap)

	base, err := j.StateAt(2)
	require.NoError(t, err)
	assert.Equal(t, states[1].EdgeList(), base.EdgeList())
	assert.Equal(t, states[1].NextRef(), base.NextRef())

	latest, err := j.StateAt(3)
	require.NoError(t, err)
	assert.Equal(t, states[2].EdgeList(), latest.EdgeList())
	assert.Equal(t, Ref(4), latest.RootRef())

	require.NoError(t, j.Compact(5), "nothing to fold")
	assert.Error(t, j.Compact(-1))

	t.Run("automatic", func(t *testing.T) {
		j := openTestJournal(t, JournalOptions{MaxEntries: 2})
		recordEpochs(t, j, NewStore())
		assert.Equal(t, 2, j.Len())
		assert.Equal(t, uint64(1), j.BaseSequence())
	})
}

func TestJournal_Corruption(t *testing.T) {
	j := openTestJournal(t, JournalOptions{})
	recordEpochs(t, j, NewStore())

	entries, err := j.Entries(0)
	require.NoError(t, err)
	tampered := entries[1]
	tampered.NextRef = 99
	data, err := msgpack.Marshal(&tampered)
	require.NoError(t, err)
	require.NoError(t, j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(tampered.Sequence), data)
	}))

	_, err = j.Entries(0)
	assert.ErrorIs(t, err, ErrJournalCorrupted)
	_, err = j.Replay(NewStore(), 0)
	assert.ErrorIs(t, err, ErrJournalCorrupted)

	// entries before the damage are still readable
	_, err = j.StateAt(1)
	assert.NoError(t, err)
}

func TestJournal_Closed(t *testing.T) {
	j, err := OpenJournal(JournalOptions{})
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "close is idempotent")

	s := NewStore()
	mustPut(t, s, 1, 2, 3)
	_, err = j.Record(s.Commit())
	assert.ErrorIs(t, err, ErrJournalClosed)
	_, err = j.Entries(0)
	assert.ErrorIs(t, err, ErrJournalClosed)
	_, err = j.StateAt(0)
	assert.ErrorIs(t, err, ErrJournalClosed)
	assert.ErrorIs(t, j.Compact(0), ErrJournalClosed)
}

func TestOpenJournal_InvalidOptions(t *testing.T) {
	_, err := OpenJournal(JournalOptions{MaxEntries: -1})
	assert.Error(t, err)
}
