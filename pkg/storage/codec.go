package storage

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/orneryd/refstore/pkg/pool"
	"github.com/orneryd/refstore/pkg/refs"
)

// Encoded layout, all values int32:
//
//	rootRef, nextRef, sourceCount
//	sourceCount times:
//	  sourceRef
//	  singleCount, singleCount times (targetRef, relationRef)
//	  groupCount,  groupCount times  (relationRef, targetCount, targetRef...)
//
// Relations with exactly one target are written as singles, all others as
// groups.
const headerLen = 3

// ToInts returns the encoded form of the state.
func (st *State) ToInts() []Ref {
	if st.raw != nil {
		return slices.Clone(st.raw)
	}
	idx := st.index()
	out := make([]Ref, 0, headerLen+3*idx.sources.Len()+2*idx.edges)
	return st.appendInts(out)
}

func (st *State) appendInts(out []Ref) []Ref {
	if st.raw != nil {
		return append(out, st.raw...)
	}
	idx := st.index()
	out = append(out, st.rootRef, st.nextRef, Ref(idx.sources.Len()))
	for source, rels := range idx.sources.All() {
		out = append(out, source)

		at, n := len(out), Ref(0)
		out = append(out, 0)
		for relation, adj := range rels.All() {
			if adj.set == nil {
				out = append(out, adj.one, relation)
				n++
			}
		}
		out[at] = n

		at, n = len(out), 0
		out = append(out, 0)
		for relation, adj := range rels.All() {
			if adj.set != nil {
				out = append(out, relation, Ref(adj.set.Len()))
				for target := range adj.set.All() {
					out = append(out, target)
				}
				n++
			}
		}
		out[at] = n
	}
	return out
}

// ToBytes returns the encoded form in native byte order.
func (st *State) ToBytes() []byte {
	return st.ToBytesOrder(binary.NativeEndian)
}

// ToBytesOrder returns the encoded form using the given byte order.
func (st *State) ToBytesOrder(order binary.ByteOrder) []byte {
	ints := st.appendInts(pool.GetRefSlice())
	defer pool.PutRefSlice(ints)

	out := make([]byte, 4*len(ints))
	for i, v := range ints {
		order.PutUint32(out[4*i:], uint32(v))
	}
	return out
}

// FromInts decodes a state. The layout is validated immediately; the index
// is built on first read. data is copied.
func FromInts(data []Ref) (*State, error) {
	edges, err := validateInts(data)
	if err != nil {
		return nil, err
	}
	raw := slices.Clone(data)
	st := &State{rootRef: raw[0], nextRef: raw[1], raw: raw}
	if edges > refs.CapacityLimit() {
		// A container might not fit, so decode now instead of on first read.
		if err := st.decode(); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// FromBytes decodes a state written by ToBytes.
func FromBytes(data []byte) (*State, error) {
	return FromBytesOrder(data, binary.NativeEndian)
}

// FromBytesOrder decodes a state written with the given byte order.
func FromBytesOrder(data []byte, order binary.ByteOrder) (*State, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrMalformedState, len(data))
	}
	ints := pool.GetRefSlice()
	defer func() { pool.PutRefSlice(ints) }()
	for i := 0; i < len(data); i += 4 {
		ints = append(ints, Ref(order.Uint32(data[i:])))
	}
	return FromInts(ints)
}

func malformed(pos int, format string, args ...any) error {
	return fmt.Errorf("%w: at %d: %s", ErrMalformedState, pos, fmt.Sprintf(format, args...))
}

// validateInts checks the complete layout without building an index.
// It returns the number of encoded edges.
func validateInts(data []Ref) (int, error) {
	if len(data) < headerLen {
		return 0, fmt.Errorf("%w: header needs %d values, got %d", ErrMalformedState, headerLen, len(data))
	}
	sources := data[2]
	if sources < 0 {
		return 0, malformed(2, "negative source count %d", sources)
	}

	pos, edges := headerLen, 0
	need := func(n int) error {
		if len(data)-pos < n {
			return malformed(pos, "truncated: need %d more values, have %d", n, len(data)-pos)
		}
		return nil
	}
	for i := Ref(0); i < sources; i++ {
		if err := need(2); err != nil {
			return 0, err
		}
		if data[pos] == 0 {
			return 0, malformed(pos, "zero source")
		}
		singles := data[pos+1]
		if singles < 0 {
			return 0, malformed(pos+1, "negative single count %d", singles)
		}
		pos += 2
		if len(data)-pos < 2*int(singles) {
			return 0, malformed(pos, "truncated: %d singles do not fit", singles)
		}
		for j := Ref(0); j < singles; j++ {
			if data[pos] == 0 || data[pos+1] == 0 {
				return 0, malformed(pos, "zero reference in single")
			}
			pos += 2
		}
		edges += int(singles)

		if err := need(1); err != nil {
			return 0, err
		}
		groups := data[pos]
		if groups < 0 {
			return 0, malformed(pos, "negative group count %d", groups)
		}
		pos++
		for j := Ref(0); j < groups; j++ {
			if err := need(2); err != nil {
				return 0, err
			}
			relation, count := data[pos], data[pos+1]
			if relation == 0 {
				return 0, malformed(pos, "zero relation")
			}
			if count < 1 {
				return 0, malformed(pos+1, "invalid target count %d", count)
			}
			pos += 2
			if err := need(int(count)); err != nil {
				return 0, err
			}
			for _, target := range data[pos : pos+int(count)] {
				if target == 0 {
					return 0, malformed(pos, "zero target")
				}
			}
			pos += int(count)
			edges += int(count)
		}
		if edges > refs.MaxCapacity {
			return 0, malformed(pos, "more than %d edges", refs.MaxCapacity)
		}
	}
	if pos != len(data) {
		return 0, malformed(pos, "%d trailing values", len(data)-pos)
	}
	return edges, nil
}

// forEachEncoded walks the edges of validated encoded data.
func forEachEncoded(data []Ref, yield func(Edge) bool) {
	pos := headerLen
	for i := Ref(0); i < data[2]; i++ {
		source, singles := data[pos], data[pos+1]
		pos += 2
		for j := Ref(0); j < singles; j++ {
			if !yield(Edge{Source: source, Relation: data[pos+1], Target: data[pos]}) {
				return
			}
			pos += 2
		}
		groups := data[pos]
		pos++
		for j := Ref(0); j < groups; j++ {
			relation, count := data[pos], data[pos+1]
			pos += 2
			for _, target := range data[pos : pos+int(count)] {
				if !yield(Edge{Source: source, Relation: relation, Target: target}) {
					return
				}
			}
			pos += int(count)
		}
	}
}
