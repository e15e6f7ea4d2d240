// Package storage - Core types and errors.
package storage

import (
	"cmp"
	"errors"
	"fmt"

	"github.com/orneryd/refstore/pkg/refs"
)

// Ref identifies an entity. The value 0 is reserved for "absent" and is never
// a valid endpoint or relation.
type Ref = int32

// Common errors
var (
	// ErrCapacityExhausted is returned when an index would need more than
	// refs.MaxCapacity slots. The failed operation leaves no partial changes.
	ErrCapacityExhausted = refs.ErrCapacityExhausted

	// ErrMalformedState is wrapped by every decoding error.
	ErrMalformedState = errors.New("malformed state encoding")

	// ErrInconsistent reports a violation of the bidirectional index invariant.
	// It indicates a bug, never a user error.
	ErrInconsistent = errors.New("inconsistent index")
)

// Edge is a typed connection (source, relation, target).
type Edge struct {
	Source   Ref
	Relation Ref
	Target   Ref
}

// Valid reports whether all three references are non-zero.
func (e Edge) Valid() bool {
	return e.Source != 0 && e.Relation != 0 && e.Target != 0
}

// String returns "(source relation target)".
func (e Edge) String() string {
	return fmt.Sprintf("(%d %d %d)", e.Source, e.Relation, e.Target)
}

// CompareEdges orders edges by source, relation and then target.
func CompareEdges(a, b Edge) int {
	if c := cmp.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Relation, b.Relation); c != 0 {
		return c
	}
	return cmp.Compare(a.Target, b.Target)
}
