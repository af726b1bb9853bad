package ir

import (
	"strings"
)

// Tuple is an ordered vector of values matching a relation's schema.
// Tuples are compared lexicographically by column, a shorter tuple sorting
// before any tuple it is a prefix of; with key columns first this is also
// the key order.
type Tuple []Value

// CompareTuples returns -1, 0 or +1 comparing a and b column by column.
func CompareTuples(a, b Tuple) int {
	return compareSeq(a, b)
}

// Less reports whether a sorts strictly before b.
func (t Tuple) Less(other Tuple) bool {
	return CompareTuples(t, other) < 0
}

// Equal reports whether t and other hold equal values in every column.
func (t Tuple) Equal(other Tuple) bool {
	return len(t) == len(other) && CompareTuples(t, other) == 0
}

// HasPrefix reports whether the leading columns of t equal prefix.
func (t Tuple) HasPrefix(prefix Tuple) bool {
	if len(prefix) > len(t) {
		return false
	}
	return CompareTuples(t[:len(prefix)], prefix) == 0
}

// Clone returns a shallow copy of t that does not share its backing array.
func (t Tuple) Clone() Tuple {
	out := make(Tuple, len(t))
	copy(out, t)
	return out
}

// String renders the tuple as [v1, v2, ...].
func (t Tuple) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range t {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeValue(&sb, v)
	}
	sb.WriteByte(']')
	return sb.String()
}

// MarshalJSON renders the tuple as a JSON array.
func (t Tuple) MarshalJSON() ([]byte, error) {
	return MarshalValue(List(t))
}

// T is a shorthand for building tuples in tests and examples.
// Go scalars are converted via FromGo; it panics on unsupported values.
func T(vals ...any) Tuple {
	out := make(Tuple, len(vals))
	for i, v := range vals {
		val, err := FromGo(v)
		if err != nil {
			panic(err)
		}
		out[i] = val
	}
	return out
}
