package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind identifies the dynamic type of a Value.
// The numeric order of kinds is the first level of the value order.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindBytes:  "bytes",
	KindList:   "list",
}

// String returns the lower-case kind name used in schemas and errors.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a sealed interface representing a single datum.
// Only Null, Bool, Int, Float, String, Bytes and List implement it.
type Value interface {
	Kind() Kind
	value() // Sealed - only these types implement it
}

// Null is the absent value. It sorts before every other value.
type Null struct{}

func (Null) Kind() Kind { return KindNull }
func (Null) value()     {}

// Bool is a boolean value; false sorts before true.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) value()     {}

// Int is a signed 64-bit integer value.
type Int int64

func (Int) Kind() Kind { return KindInt }
func (Int) value()     {}

// Float is a 64-bit IEEE-754 value ordered by its total order.
type Float float64

func (Float) Kind() Kind { return KindFloat }
func (Float) value()     {}

// String is a UTF-8 text value. Construct with NewString to get NFC
// normalisation; literal conversions are trusted to be normalised already.
type String string

func (String) Kind() Kind { return KindString }
func (String) value()     {}

// Bytes is an opaque byte string value.
type Bytes []byte

func (Bytes) Kind() Kind { return KindBytes }
func (Bytes) value()     {}

// List is an ordered sequence of values.
type List []Value

func (List) Kind() Kind { return KindList }
func (List) value()     {}

// NewString creates a String value in Unicode normalisation form C.
func NewString(s string) String {
	return String(norm.NFC.String(s))
}

// NewList creates a List from values.
func NewList(vals ...Value) List {
	return List(vals)
}

// Truthy reports whether v counts as true in a filter position.
// Only Bool(true) is truthy; everything else, including Null, is false.
func Truthy(v Value) bool {
	b, ok := v.(Bool)
	return ok && bool(b)
}

// FormatValue renders v in the literal syntax used by CLI text output and
// golden files: null, true, 42, 1.5, "text", b"00ff", [1, 2].
func FormatValue(v Value) string {
	var sb strings.Builder
	writeValue(&sb, v)
	return sb.String()
}

func writeValue(sb *strings.Builder, v Value) {
	switch val := v.(type) {
	case nil, Null:
		sb.WriteString("null")
	case Bool:
		sb.WriteString(strconv.FormatBool(bool(val)))
	case Int:
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		f := float64(val)
		switch {
		case math.IsNaN(f):
			sb.WriteString("NaN")
		case math.IsInf(f, 1):
			sb.WriteString("+Inf")
		case math.IsInf(f, -1):
			sb.WriteString("-Inf")
		default:
			s := strconv.FormatFloat(f, 'g', -1, 64)
			if !strings.ContainsAny(s, ".eEn") {
				s += ".0"
			}
			sb.WriteString(s)
		}
	case String:
		sb.WriteString(strconv.Quote(string(val)))
	case Bytes:
		fmt.Fprintf(sb, "b%q", fmt.Sprintf("%x", []byte(val)))
	case List:
		sb.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, elem)
		}
		sb.WriteByte(']')
	default:
		fmt.Fprintf(sb, "<%T>", v)
	}
}

// MarshalValue marshals a Value to JSON bytes.
// Bytes are rendered as {"bytes": "<hex>"} and non-finite floats as strings
// since JSON has no representation for them.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case Bool:
		return json.Marshal(bool(val))
	case Int:
		return json.Marshal(int64(val))
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return json.Marshal(FormatValue(val))
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return []byte(s), nil
	case String:
		return json.Marshal(string(val))
	case Bytes:
		return json.Marshal(map[string]string{"bytes": fmt.Sprintf("%x", []byte(val))})
	case List:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := MarshalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// FromGo converts a decoded YAML/JSON/CUE scalar or slice into a Value.
// Integral numbers become Int, other numbers Float, strings are NFC-normalised.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of int64 range", val)
		}
		return Int(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return Int(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return Float(f), nil
	case string:
		return NewString(val), nil
	case []byte:
		return Bytes(val), nil
	case []any:
		list := make(List, len(val))
		for i, elem := range val {
			item, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			list[i] = item
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}
