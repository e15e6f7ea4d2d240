package refs

import (
	"iter"
	"slices"
)

// Map maps non-zero references to values of type V.
//
// Keys live in a Set; the value of the key in slot i is stored at vals[i-1].
// Whenever the key set is rehashed the values are moved along, so slot handles
// returned by Slot and Put stay valid until the next Grow, Shrink or Put that
// reallocates.
type Map[V any] struct {
	keys Set
	vals []V
}

// NewMap returns an empty map with capacity 2.
func NewMap[V any]() *Map[V] {
	m := &Map[V]{}
	m.keys.reset(1)
	m.vals = make([]V, 2)
	return m
}

// Len returns the number of entries.
func (m *Map[V]) Len() int {
	if m == nil {
		return 0
	}
	return m.keys.Len()
}

// Cap returns the number of slots.
func (m *Map[V]) Cap() int {
	if m == nil {
		return 0
	}
	return m.keys.Cap()
}

// Slot returns the 1-based slot of key, or 0 if key is absent.
func (m *Map[V]) Slot(key int32) int32 {
	if m == nil {
		return 0
	}
	return m.keys.Slot(key)
}

// Contains reports whether key is present.
func (m *Map[V]) Contains(key int32) bool {
	return m.Slot(key) != 0
}

// Get returns the value of key and whether key is present.
func (m *Map[V]) Get(key int32) (V, bool) {
	slot := m.Slot(key)
	if slot == 0 {
		var zero V
		return zero, false
	}
	return m.vals[slot-1], true
}

// KeyAt returns the key in the given slot, or 0 for a free slot.
func (m *Map[V]) KeyAt(slot int32) int32 {
	return m.keys.RefAt(slot)
}

// ValueAt returns the value in the given slot.
func (m *Map[V]) ValueAt(slot int32) V {
	return m.vals[slot-1]
}

// SetAt replaces the value in an occupied slot.
func (m *Map[V]) SetAt(slot int32, val V) {
	m.vals[slot-1] = val
}

// Put sets the value of key, inserting the key if needed, and returns its
// slot. On ErrCapacityExhausted the map is unchanged. Put(0, _) is a no-op.
func (m *Map[V]) Put(key int32, val V) (int32, error) {
	slot, err := m.PutKey(key)
	if slot != 0 {
		m.vals[slot-1] = val
	}
	return slot, err
}

// PutKey inserts key without touching its value and returns its slot. A newly
// inserted key has the zero value.
func (m *Map[V]) PutKey(key int32) (int32, error) {
	if key == 0 {
		return 0, nil
	}
	if slot := m.keys.Slot(key); slot != 0 {
		return slot, nil
	}
	if err := m.Grow(); err != nil {
		return 0, err
	}
	return m.keys.link(key), nil
}

// Pop removes key and returns its former value and whether it was present.
func (m *Map[V]) Pop(key int32) (V, bool) {
	var zero V
	if m.Len() == 0 {
		return zero, false
	}
	slot := m.keys.Pop(key)
	if slot == 0 {
		return zero, false
	}
	val := m.vals[slot-1]
	m.vals[slot-1] = zero
	return val, true
}

// Reserve makes sure one more key can be inserted without reallocation.
func (m *Map[V]) Reserve() error {
	return m.Grow()
}

// Grow doubles the capacity if no slot is free.
func (m *Map[V]) Grow() error {
	vals, size := m.vals, m.keys.Cap()*2
	var next []V
	grown, err := m.keys.grow(func(from, to int32) {
		if next == nil {
			next = make([]V, size)
		}
		next[to-1] = vals[from-1]
	})
	if grown {
		m.settle(next)
	}
	return err
}

// Shrink halves the capacity if the entries fit into the smaller table.
func (m *Map[V]) Shrink() bool {
	vals, size := m.vals, m.keys.Cap()/2
	var next []V
	shrunk := m.keys.shrink(func(from, to int32) {
		if next == nil {
			next = make([]V, size)
		}
		next[to-1] = vals[from-1]
	})
	if shrunk {
		m.settle(next)
	}
	return shrunk
}

// settle installs the value array built during a rehash.
// next is nil when the map had no entries.
func (m *Map[V]) settle(next []V) {
	if next == nil {
		next = make([]V, m.keys.Cap())
	}
	m.vals = next
}

// Clone returns a shallow copy: the key table and the value array are copied,
// the values themselves are shared.
func (m *Map[V]) Clone() *Map[V] {
	c := &Map[V]{vals: slices.Clone(m.vals)}
	c.keys = *m.keys.Clone()
	return c
}

// Keys returns the key set. It must not be modified.
func (m *Map[V]) Keys() *Set {
	if m == nil {
		return nil
	}
	return &m.keys
}

// All yields every entry exactly once in unspecified order.
func (m *Map[V]) All() iter.Seq2[int32, V] {
	return func(yield func(int32, V) bool) {
		if m == nil {
			return
		}
		for c := m.keys.Cursor(); c.Next(); {
			if !yield(c.Ref(), m.vals[c.Slot()-1]) {
				return
			}
		}
	}
}

// Cursor returns a cursor over the occupied slots; use ValueAt with
// Cursor.Slot to read the values.
func (m *Map[V]) Cursor() Cursor {
	if m == nil {
		return Cursor{}
	}
	return m.keys.Cursor()
}
