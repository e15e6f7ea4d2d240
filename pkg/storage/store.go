package storage

import (
	"fmt"
	"io"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// StoreOptions configures a Store.
type StoreOptions struct {
	// Initial is the state the store starts with. It is shared, not copied,
	// and is never modified by the store. Defaults to the empty state.
	Initial *State

	// Logger receives commit, rollback and failure events. Defaults to a
	// logger that discards everything.
	Logger logrus.FieldLogger

	// Registerer receives the store metrics. nil disables metrics.
	Registerer prometheus.Registerer

	// CheckInvariants verifies the index after every mutation and panics on
	// a violation. Meant for tests and development builds.
	CheckInvariants bool
}

// Store is the mutable front door of a State.
//
// A store is Clean after creation and after every Commit or Rollback. The
// first effective mutation makes it Dirty: the current state is kept as a
// backup and every nested container reachable from that backup is cloned
// the first time it is modified. Commit and Rollback hand out the backup and
// the live state as frozen snapshots inside an Update.
//
// Read methods are promoted from the embedded live State. A Store is owned
// by a single goroutine; other goroutines should read snapshots returned by
// Snapshot, Commit or Rollback.
//
// Example:
//
//	store := storage.NewStoreWithOptions(storage.StoreOptions{
//		Logger:     logger,
//		Registerer: prometheus.DefaultRegisterer,
//	})
//
//	person := store.NewNextRef()
//	store.Put(person, knows, other)
//
//	update := store.Commit()
//	update.PutState().EdgeList() // [(person knows other)]
type Store struct {
	*State

	backup *State
	frozen index

	logger          logrus.FieldLogger
	metrics         *storeMetrics
	checkInvariants bool
}

// NewStore creates an empty store without logging or metrics.
func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{})
}

// NewStoreFrom creates a store holding the edges and counters of state.
func NewStoreFrom(state *State) *Store {
	return NewStoreWithOptions(StoreOptions{Initial: state})
}

// NewStoreWithOptions creates a store with custom options.
func NewStoreWithOptions(opts StoreOptions) *Store {
	if opts.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		opts.Logger = logger
	}
	live := NewState()
	if opts.Initial != nil {
		live = opts.Initial.snapshot()
	}
	s := &Store{
		State:           live,
		logger:          opts.Logger,
		metrics:         newStoreMetrics(opts.Registerer),
		checkInvariants: opts.CheckInvariants,
	}
	s.metrics.setEdges(s.idx.edges)
	return s
}

// Dirty reports whether the store was modified since the last Commit or
// Rollback.
func (s *Store) Dirty() bool {
	return s.backup != nil
}

// Snapshot returns a frozen copy of the live state. It shares structure with
// the store and stays valid while the store keeps changing.
func (s *Store) Snapshot() *State {
	snap := s.State.snapshot()
	if s.backup != nil {
		// Every container of the epoch is now reachable from snap, so copying
		// on write against snap also protects the backup.
		s.frozen = snap.idx
		s.privatize()
	}
	return snap
}

// begin switches to Dirty on the first mutation of an epoch and reports
// whether it did.
func (s *Store) begin() bool {
	if s.backup != nil {
		return false
	}
	s.backup = s.State.snapshot()
	s.frozen = s.backup.idx
	s.privatize()
	return true
}

// abandon closes an epoch opened by a mutation that was fully undone. The
// live index holds the same edges as the backup at this point.
func (s *Store) abandon() {
	s.idx = s.backup.idx
	s.backup, s.frozen = nil, index{}
}

// privatize gives the live state its own top-level maps.
func (s *Store) privatize() {
	s.idx.sources = s.idx.sources.Clone()
	s.idx.targets = s.idx.targets.Clone()
}

// shadow returns the index that must not be modified.
func (s *Store) shadow() *index {
	return &s.frozen
}

func (s *Store) mutated(op string, n int) {
	s.metrics.mutated(op, n)
	if s.checkInvariants {
		s.verify()
	}
}

func (s *Store) verify() {
	if err := s.State.CheckConsistency(); err != nil {
		s.logger.WithError(err).Error("live state failed consistency check")
		panic(err)
	}
	if s.backup != nil {
		if err := s.backup.CheckConsistency(); err != nil {
			s.logger.WithError(err).Error("backup state failed consistency check")
			panic(err)
		}
	}
}

// Put inserts the edge and reports whether it was new. Zero references are
// ignored. On ErrCapacityExhausted the store is unchanged.
func (s *Store) Put(source, relation, target Ref) (bool, error) {
	if source == 0 || relation == 0 || target == 0 || s.Contains(source, relation, target) {
		return false, nil
	}
	opened := s.begin()
	if _, err := s.idx.insert(s.shadow(), source, relation, target); err != nil {
		if opened {
			s.abandon()
		}
		s.logger.WithError(err).WithFields(logrus.Fields{
			"source":   source,
			"relation": relation,
			"target":   target,
		}).Warn("edge insert failed")
		return false, err
	}
	s.mutated("put", 1)
	return true, nil
}

// PutAll inserts the edges as one batch and reports whether any was new.
// If an insert fails, the edges added by this call are removed again and
// the error is returned.
func (s *Store) PutAll(edges ...Edge) (bool, error) {
	var added []Edge
	opened := false
	for _, e := range edges {
		if !e.Valid() || s.ContainsEdge(e) {
			continue
		}
		opened = s.begin() || opened
		if _, err := s.idx.insert(s.shadow(), e.Source, e.Relation, e.Target); err != nil {
			for _, done := range slices.Backward(added) {
				s.idx.delete(s.shadow(), done.Source, done.Relation, done.Target)
			}
			if opened {
				s.abandon()
			}
			s.logger.WithError(err).WithFields(logrus.Fields{
				"batch":  len(edges),
				"undone": len(added),
				"edge":   e.String(),
			}).Warn("batch insert aborted")
			return false, fmt.Errorf("insert %v: %w", e, err)
		}
		added = append(added, e)
	}
	s.mutated("put", len(added))
	return len(added) > 0, nil
}

// PutState inserts every edge of state as one batch. The counters of state
// are not applied; Update.Apply sets them after the edges.
func (s *Store) PutState(state *State) (bool, error) {
	return s.PutAll(slices.Collect(state.Edges())...)
}

// Pop removes the edge and reports whether it was present.
func (s *Store) Pop(source, relation, target Ref) bool {
	if !s.Contains(source, relation, target) {
		return false
	}
	s.begin()
	s.idx.delete(s.shadow(), source, relation, target)
	s.mutated("pop", 1)
	return true
}

// PopAll removes the edges and reports whether any was present.
func (s *Store) PopAll(edges ...Edge) bool {
	n := 0
	for _, e := range edges {
		if !s.ContainsEdge(e) {
			continue
		}
		s.begin()
		s.idx.delete(s.shadow(), e.Source, e.Relation, e.Target)
		n++
	}
	s.mutated("pop", n)
	return n > 0
}

// PopState removes every edge of state. Like PutState it leaves the
// counters of the store alone.
func (s *Store) PopState(state *State) bool {
	return s.PopAll(slices.Collect(state.Edges())...)
}

// Clear removes all edges. The counters are kept.
func (s *Store) Clear() {
	n := s.Len()
	if n == 0 {
		return
	}
	s.begin()
	s.idx = newIndex()
	s.mutated("pop", n)
}

// Replace sets the edges and counters of the store to those of state. The
// store does not share any container with state afterwards. On error the
// store is unchanged.
func (s *Store) Replace(state *State) error {
	fresh := newIndex()
	for e := range state.Edges() {
		if _, err := fresh.insert(nil, e.Source, e.Relation, e.Target); err != nil {
			return fmt.Errorf("replace: %w", err)
		}
	}
	n := s.Len()
	s.begin()
	s.idx = fresh
	s.nextRef, s.rootRef = state.nextRef, state.rootRef
	s.mutated("pop", n)
	s.mutated("put", fresh.edges)
	return nil
}

// SetNextRef sets the next-reference counter.
func (s *Store) SetNextRef(ref Ref) {
	if s.nextRef == ref {
		return
	}
	s.begin()
	s.nextRef = ref
}

// SetRootRef sets the root-reference counter.
func (s *Store) SetRootRef(ref Ref) {
	if s.rootRef == ref {
		return
	}
	s.begin()
	s.rootRef = ref
}

// NewNextRef returns the first reference at or after NextRef that is neither
// 0 nor used as a source or target, and advances NextRef past it.
func (s *Store) NewNextRef() Ref {
	ref := s.nextRef
	for ref == 0 || s.ContainsSource(ref) || s.ContainsTarget(ref) {
		ref++
	}
	s.SetNextRef(ref + 1)
	return ref
}

// Commit ends the epoch and returns an Update from the state before the
// first mutation to the current state. Without mutations both states of the
// update are the same snapshot.
func (s *Store) Commit() *Update {
	current := s.State.snapshot()
	old := current
	if s.backup != nil {
		old = s.backup
	}
	s.backup, s.frozen = nil, index{}
	s.metrics.finished("commit", s.idx.edges)
	s.logger.WithFields(logrus.Fields{
		"edges":    current.idx.edges,
		"previous": old.idx.edges,
		"next_ref": current.nextRef,
		"root_ref": current.rootRef,
	}).Debug("store committed")
	return newUpdate(old, current)
}

// Rollback ends the epoch, restores the state before the first mutation and
// returns an Update from the discarded state to the restored one.
func (s *Store) Rollback() *Update {
	current := s.State.snapshot()
	if s.backup == nil {
		s.metrics.finished("rollback", s.idx.edges)
		return newUpdate(current, current)
	}
	restored := s.backup
	s.nextRef, s.rootRef, s.idx = restored.nextRef, restored.rootRef, restored.idx
	s.backup, s.frozen = nil, index{}
	s.metrics.finished("rollback", s.idx.edges)
	s.logger.WithFields(logrus.Fields{
		"edges":     restored.idx.edges,
		"discarded": current.idx.edges,
	}).Debug("store rolled back")
	return newUpdate(current, restored)
}
