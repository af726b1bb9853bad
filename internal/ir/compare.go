package ir

import (
	"bytes"
	"cmp"
	"math"
	"strings"
)

// Compare returns -1, 0 or +1 comparing a and b in the value order:
// kind first (Null < Bool < Int < Float < String < Bytes < List), then
// value within the kind. A nil Value is treated as Null.
//
// This is the order the key codec must preserve: for encoded keys
// bytes.Compare(enc(a), enc(b)) == Compare(a, b).
func Compare(a, b Value) int {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		return cmp.Compare(ka, kb)
	}

	switch av := a.(type) {
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	case Int:
		return cmp.Compare(av, b.(Int))
	case Float:
		return cmp.Compare(FloatOrderKey(float64(av)), FloatOrderKey(float64(b.(Float))))
	case String:
		return strings.Compare(string(av), string(b.(String)))
	case Bytes:
		return bytes.Compare(av, b.(Bytes))
	case List:
		return compareSeq(av, b.(List))
	default:
		// Null (or nil) - all nulls are equal
		return 0
	}
}

// Equal reports whether a and b are the same value under Compare.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// FloatOrderKey maps a float64 to a uint64 whose unsigned order is the IEEE
// total order: -NaN < -Inf < ... < -0 < +0 < ... < +Inf < +NaN.
// Negative numbers have every bit flipped, non-negative ones only the sign.
func FloatOrderKey(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// FloatFromOrderKey inverts FloatOrderKey.
func FloatFromOrderKey(k uint64) float64 {
	if k&(1<<63) != 0 {
		return math.Float64frombits(k &^ (1 << 63))
	}
	return math.Float64frombits(^k)
}

func kindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}

func compareSeq(a, b []Value) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}
