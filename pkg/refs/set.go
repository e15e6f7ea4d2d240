// Package refs provides allocation-free hash containers keyed by non-zero
// 32-bit references.
//
// Both containers use open hashing with collision chains threaded through a
// fixed number of entry slots. Slots are addressed by 1-based handles so that
// 0 can always mean "absent". Unused slots form an intrusive free list; a
// container only reallocates when that list is exhausted (Grow) or when the
// caller asks to release memory (Shrink).
//
// Example Usage:
//
//	set := refs.NewSet()
//	set.Put(7)
//	set.Put(9)
//	set.Contains(7) // true
//	set.Pop(7)
//	set.Len() // 1
//
// The containers are not safe for concurrent mutation. A container that is
// no longer mutated may be read from any number of goroutines.
package refs

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
)

// MaxCapacity is the largest number of slots a Set or Map can have.
const MaxCapacity = 1 << 29

var maxMask int32 = MaxCapacity - 1

// LimitCapacity lowers the maximum number of slots to limit, which must be a
// power of two between 2 and MaxCapacity, and returns a function restoring the
// previous limit. It exists so that capacity exhaustion can be exercised in
// tests without allocating gigabytes. It is not safe for concurrent use.
func LimitCapacity(limit int) (restore func()) {
	if limit < 2 || limit > MaxCapacity || limit&(limit-1) != 0 {
		panic(fmt.Sprintf("refs: invalid capacity limit %d", limit))
	}
	prev := maxMask
	maxMask = int32(limit - 1)
	return func() { maxMask = prev }
}

// CapacityLimit returns the current maximum number of slots.
func CapacityLimit() int {
	return int(maxMask) + 1
}

// ErrCapacityExhausted is returned when a container would need to grow beyond
// MaxCapacity slots.
var ErrCapacityExhausted = errors.New("refs: capacity exhausted")

// Set is a hash set of non-zero references.
//
// Layout:
//   - heads[b]: 1-based slot of the first entry in bucket b, or 0
//   - next[i-1]: 1-based slot following slot i in its chain (or in the free list), or 0
//   - items[i-1]: the reference stored in slot i, or 0 when the slot is free
//
// The number of buckets always equals the number of slots (mask+1), which is a
// power of two between 2 and MaxCapacity.
type Set struct {
	size  int32
	mask  int32
	free  int32
	heads []int32
	next  []int32
	items []int32
}

// NewSet returns an empty set with capacity 2.
func NewSet() *Set {
	s := &Set{}
	s.reset(1)
	return s
}

// SetOf returns a set holding the given references. Zero references are skipped.
func SetOf(refs ...int32) *Set {
	s := NewSet()
	for _, ref := range refs {
		if _, err := s.Put(ref); err != nil {
			panic(err)
		}
	}
	return s
}

func (s *Set) reset(mask int32) {
	n := mask + 1
	s.size = 0
	s.mask = mask
	s.heads = make([]int32, n)
	s.next = make([]int32, n)
	s.items = make([]int32, n)
	s.free = 1
	for slot := int32(1); slot < n; slot++ {
		s.next[slot-1] = slot + 1
	}
}

// Len returns the number of references in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return int(s.size)
}

// Cap returns the number of slots.
func (s *Set) Cap() int {
	if s == nil {
		return 0
	}
	return int(s.mask) + 1
}

// Slot returns the 1-based slot holding ref, or 0 if ref is not present.
func (s *Set) Slot(ref int32) int32 {
	if s == nil || ref == 0 {
		return 0
	}
	slot := s.heads[ref&s.mask]
	for slot != 0 {
		if s.items[slot-1] == ref {
			return slot
		}
		slot = s.next[slot-1]
	}
	return 0
}

// Contains reports whether ref is in the set.
func (s *Set) Contains(ref int32) bool {
	return s.Slot(ref) != 0
}

// RefAt returns the reference stored in the given slot, or 0 for a free slot.
func (s *Set) RefAt(slot int32) int32 {
	return s.items[slot-1]
}

// Any returns one of the references of the set, or 0 if the set is empty.
func (s *Set) Any() int32 {
	if s.Len() == 0 {
		return 0
	}
	for i := len(s.items) - 1; i >= 0; i-- {
		if ref := s.items[i]; ref != 0 {
			return ref
		}
	}
	return 0
}

// Put inserts ref and returns its slot. If ref is already present its
// existing slot is returned. The set grows when no free slot is left; if that
// is impossible ErrCapacityExhausted is returned and the set is unchanged.
// Put(0) is a no-op returning (0, nil).
func (s *Set) Put(ref int32) (int32, error) {
	if ref == 0 {
		return 0, nil
	}
	if slot := s.Slot(ref); slot != 0 {
		return slot, nil
	}
	if err := s.Grow(); err != nil {
		return 0, err
	}
	return s.link(ref), nil
}

// link stores an absent ref into the first free slot. The free list must not be empty.
func (s *Set) link(ref int32) int32 {
	slot := s.free
	bucket := ref & s.mask
	s.free = s.next[slot-1]
	s.next[slot-1] = s.heads[bucket]
	s.heads[bucket] = slot
	s.items[slot-1] = ref
	s.size++
	return slot
}

// Pop removes ref and returns the slot it occupied, or 0 if it was not present.
// The vacated slot is pushed onto the free list. Pop never shrinks the set.
func (s *Set) Pop(ref int32) int32 {
	if s.Len() == 0 || ref == 0 {
		return 0
	}
	bucket := ref & s.mask
	prev := int32(0)
	slot := s.heads[bucket]
	for slot != 0 {
		if s.items[slot-1] == ref {
			if prev == 0 {
				s.heads[bucket] = s.next[slot-1]
			} else {
				s.next[prev-1] = s.next[slot-1]
			}
			s.next[slot-1] = s.free
			s.items[slot-1] = 0
			s.free = slot
			s.size--
			return slot
		}
		prev = slot
		slot = s.next[slot-1]
	}
	return 0
}

// Reserve makes sure at least one more reference can be inserted without
// reallocation. It is the same as Grow.
func (s *Set) Reserve() error {
	return s.Grow()
}

// Grow doubles the capacity if the free list is empty. It is a no-op otherwise.
func (s *Set) Grow() error {
	_, err := s.grow(nil)
	return err
}

func (s *Set) grow(move func(from, to int32)) (bool, error) {
	if s.free != 0 {
		return false, nil
	}
	if s.mask >= maxMask {
		return false, ErrCapacityExhausted
	}
	s.rehash(s.mask<<1|1, move)
	return true, nil
}

// Shrink halves the capacity if the live references fit into the smaller
// table with at least one free slot to spare. It returns whether the table was
// reallocated. The capacity never drops below 2.
func (s *Set) Shrink() bool {
	return s.shrink(nil)
}

func (s *Set) shrink(move func(from, to int32)) bool {
	mask := s.mask >> 1
	if mask == 0 || s.size > mask {
		return false
	}
	s.rehash(mask, move)
	return true
}

// rehash copies every live reference into a fresh table with the given mask.
// Live entries occupy slots 1..size, the remaining slots form the free list in
// ascending order. move is called for every relocated entry.
func (s *Set) rehash(mask int32, move func(from, to int32)) {
	n := mask + 1
	heads := make([]int32, n)
	next := make([]int32, n)
	items := make([]int32, n)
	slot := int32(1)
	for i := len(s.items) - 1; i >= 0; i-- {
		ref := s.items[i]
		if ref == 0 {
			continue
		}
		bucket := ref & mask
		next[slot-1] = heads[bucket]
		heads[bucket] = slot
		items[slot-1] = ref
		if move != nil {
			move(int32(i)+1, slot)
		}
		slot++
	}
	s.free = slot
	if slot > n {
		s.free = 0
	}
	for ; slot < n; slot++ {
		next[slot-1] = slot + 1
	}
	s.mask = mask
	s.heads = heads
	s.next = next
	s.items = items
}

// Clone returns an independent copy of the set with the same slot layout.
func (s *Set) Clone() *Set {
	return &Set{
		size:  s.size,
		mask:  s.mask,
		free:  s.free,
		heads: slices.Clone(s.heads),
		next:  slices.Clone(s.next),
		items: slices.Clone(s.items),
	}
}

// Equal reports whether both sets hold the same references.
func (s *Set) Equal(other *Set) bool {
	if s == other {
		return true
	}
	if s.Len() != other.Len() {
		return false
	}
	for ref := range s.All() {
		if !other.Contains(ref) {
			return false
		}
	}
	return true
}

// All yields every reference exactly once. The order is unspecified.
func (s *Set) All() iter.Seq[int32] {
	return func(yield func(int32) bool) {
		if s == nil {
			return
		}
		for i := len(s.items) - 1; i >= 0; i-- {
			if ref := s.items[i]; ref != 0 {
				if !yield(ref) {
					return
				}
			}
		}
	}
}

// ToArray returns the references of the set.
func (s *Set) ToArray() []int32 {
	out := make([]int32, 0, s.Len())
	for ref := range s.All() {
		out = append(out, ref)
	}
	return out
}

// String returns the sorted references, e.g. "[1 5 9]".
func (s *Set) String() string {
	refs := s.ToArray()
	slices.Sort(refs)
	var b strings.Builder
	b.WriteByte('[')
	for i, ref := range refs {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d", ref)
	}
	b.WriteByte(']')
	return b.String()
}

// Cursor walks the occupied slots of a set from the highest slot to the lowest.
// A fresh cursor restarts the iteration.
//
//	for c := set.Cursor(); c.Next(); {
//		use(c.Ref(), c.Slot())
//	}
type Cursor struct {
	items []int32
	index int
}

// Cursor returns a cursor positioned before the first occupied slot.
func (s *Set) Cursor() Cursor {
	if s == nil {
		return Cursor{}
	}
	return Cursor{items: s.items, index: len(s.items)}
}

// Next advances to the next occupied slot and reports whether there is one.
func (c *Cursor) Next() bool {
	for c.index > 0 {
		c.index--
		if c.items[c.index] != 0 {
			return true
		}
	}
	return false
}

// Ref returns the reference at the current slot.
func (c *Cursor) Ref() int32 {
	return c.items[c.index]
}

// Slot returns the 1-based current slot.
func (c *Cursor) Slot() int32 {
	return int32(c.index) + 1
}
