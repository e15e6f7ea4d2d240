package storage

import (
	"fmt"
	"sync"
)

// Update describes the transition between two states, as returned by
// Store.Commit and Store.Rollback. The put and pop states are computed on
// first use. An Update is safe for concurrent use.
type Update struct {
	oldState *State
	newState *State

	putOnce  sync.Once
	putState *State
	popOnce  sync.Once
	popState *State
}

func newUpdate(oldState, newState *State) *Update {
	return &Update{oldState: oldState, newState: newState}
}

// NewUpdate returns the update from oldState to newState.
func NewUpdate(oldState, newState *State) *Update {
	return newUpdate(oldState, newState)
}

// OldState returns the state before the update.
func (u *Update) OldState() *State { return u.oldState }

// NewState returns the state after the update.
func (u *Update) NewState() *State { return u.newState }

// PutState returns the edges added by the update. Its counters are the
// counter deltas.
func (u *Update) PutState() *State {
	u.putOnce.Do(func() { u.putState = Diff(u.oldState, u.newState) })
	return u.putState
}

// PopState returns the edges removed by the update.
func (u *Update) PopState() *State {
	u.popOnce.Do(func() { u.popState = Diff(u.newState, u.oldState) })
	return u.popState
}

// Empty reports whether the update changes neither edges nor counters.
func (u *Update) Empty() bool {
	return u.oldState.nextRef == u.newState.nextRef &&
		u.oldState.rootRef == u.newState.rootRef &&
		u.PutState().Len() == 0 &&
		u.PopState().Len() == 0
}

// Apply replays the update on store: the removed edges are popped, the added
// edges are put and the counters are set to those of the new state. On error
// the removed edges stay removed; roll the store back to undo them.
func (u *Update) Apply(store *Store) error {
	return applyChanges(store, u.PutState(), u.PopState(), u.newState.nextRef, u.newState.rootRef)
}

func applyChanges(store *Store, puts, pops *State, nextRef, rootRef Ref) error {
	store.PopState(pops)
	if _, err := store.PutState(puts); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}
	store.SetNextRef(nextRef)
	store.SetRootRef(rootRef)
	return nil
}

// String summarizes the update, e.g. "Update{+3 -1 next=4 root=1}".
func (u *Update) String() string {
	return fmt.Sprintf("Update{+%d -%d next=%d root=%d}",
		u.PutState().Len(), u.PopState().Len(), u.newState.nextRef, u.newState.rootRef)
}
