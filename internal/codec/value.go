package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/roach88/strata/internal/ir"
)

// Kind tags. Their numeric order is the kind order of ir.Compare, and every
// tag is greater than listTerm so a shorter list sorts before any list it
// is a prefix of.
const (
	listTerm byte = 0x00

	tagNull   byte = 0x02
	tagFalse  byte = 0x03
	tagTrue   byte = 0x04
	tagInt    byte = 0x05
	tagFloat  byte = 0x06
	tagString byte = 0x07
	tagBytes  byte = 0x08
	tagList   byte = 0x09
)

const (
	// <term>     -> \x00\x01
	// \x00       -> \x00\xff
	escape      byte = 0x00
	escapedTerm byte = 0x01
	escaped00   byte = 0xff
)

// Varint length tags. Negative values use intMin..intZero-1 with fewer bytes
// meaning larger magnitude; small non-negative values are folded into the
// tag byte itself.
const (
	intMin      = 0x80
	intMaxWidth = 8
	intZero     = intMin + intMaxWidth
	intMax      = 0xfd
	intSmall    = intMax - intZero - intMaxWidth
)

// EncodeValue appends the order-preserving encoding of v to b.
// For any two values, bytes.Compare of their encodings equals ir.Compare.
func EncodeValue(b []byte, v ir.Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, ir.Null:
		return append(b, tagNull), nil
	case ir.Bool:
		if val {
			return append(b, tagTrue), nil
		}
		return append(b, tagFalse), nil
	case ir.Int:
		return encodeVarint(append(b, tagInt), int64(val)), nil
	case ir.Float:
		b = append(b, tagFloat)
		return binary.BigEndian.AppendUint64(b, ir.FloatOrderKey(float64(val))), nil
	case ir.String:
		return encodeEscaped(append(b, tagString), []byte(val)), nil
	case ir.Bytes:
		return encodeEscaped(append(b, tagBytes), val), nil
	case ir.List:
		b = append(b, tagList)
		for i, elem := range val {
			var err error
			if b, err = EncodeValue(b, elem); err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
		}
		return append(b, listTerm), nil
	default:
		return nil, fmt.Errorf("codec: cannot encode %T", v)
	}
}

// DecodeValue decodes one value from the front of b and returns the rest.
func DecodeValue(b []byte) ([]byte, ir.Value, error) {
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("codec: insufficient bytes to decode value")
	}
	tag, rest := b[0], b[1:]
	switch tag {
	case tagNull:
		return rest, ir.Null{}, nil
	case tagFalse:
		return rest, ir.Bool(false), nil
	case tagTrue:
		return rest, ir.Bool(true), nil
	case tagInt:
		rest, n, err := decodeVarint(rest)
		if err != nil {
			return nil, nil, err
		}
		return rest, ir.Int(n), nil
	case tagFloat:
		if len(rest) < 8 {
			return nil, nil, fmt.Errorf("codec: insufficient bytes to decode float: %#x", rest)
		}
		f := ir.FloatFromOrderKey(binary.BigEndian.Uint64(rest))
		return rest[8:], ir.Float(f), nil
	case tagString:
		rest, raw, err := decodeEscaped(rest)
		if err != nil {
			return nil, nil, err
		}
		return rest, ir.String(raw), nil
	case tagBytes:
		rest, raw, err := decodeEscaped(rest)
		if err != nil {
			return nil, nil, err
		}
		return rest, ir.Bytes(raw), nil
	case tagList:
		list := ir.List{}
		for {
			if len(rest) == 0 {
				return nil, nil, fmt.Errorf("codec: unterminated list")
			}
			if rest[0] == listTerm {
				return rest[1:], list, nil
			}
			var elem ir.Value
			var err error
			rest, elem, err = DecodeValue(rest)
			if err != nil {
				return nil, nil, fmt.Errorf("list[%d]: %w", len(list), err)
			}
			list = append(list, elem)
		}
	default:
		return nil, nil, fmt.Errorf("codec: unknown value tag %#x", tag)
	}
}

// encodeVarint appends a length-prefixed big-endian encoding of v whose
// byte order matches numeric order.
func encodeVarint(b []byte, v int64) []byte {
	if v >= 0 {
		return encodeUvarint(b, uint64(v))
	}
	n := 8
	for n > 1 && v >= -(int64(1)<<(8*(n-1))) {
		n--
	}
	// n is the minimal width whose ones-complement holds ^v.
	b = append(b, byte(intZero-n))
	for i := n - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

func encodeUvarint(b []byte, v uint64) []byte {
	if v <= intSmall {
		return append(b, intZero+byte(v))
	}
	n := 1
	for n < 8 && v >= uint64(1)<<(8*n) {
		n++
	}
	b = append(b, byte(intMax-8+n))
	for i := n - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

func decodeVarint(b []byte) ([]byte, int64, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("codec: insufficient bytes to decode varint")
	}
	length := int(b[0]) - intZero
	if length < 0 {
		length = -length
		rem := b[1:]
		if length > 8 || len(rem) < length {
			return nil, 0, fmt.Errorf("codec: insufficient bytes to decode varint: %#x", rem)
		}
		var v int64
		// Build the ones-complement as a positive number, then flip back.
		for _, t := range rem[:length] {
			v = (v << 8) | int64(^t)
		}
		return rem[length:], ^v, nil
	}

	rem := b[1:]
	if length <= intSmall {
		return rem, int64(length), nil
	}
	length -= intSmall
	if length > 8 || len(rem) < length {
		return nil, 0, fmt.Errorf("codec: invalid varint length %d", length)
	}
	var v uint64
	for _, t := range rem[:length] {
		v = (v << 8) | uint64(t)
	}
	if v > 1<<63-1 {
		return nil, 0, fmt.Errorf("codec: varint %d overflows int64", v)
	}
	return rem[length:], int64(v), nil
}

// encodeEscaped appends data with 0x00 escaped as 0x00 0xff and the
// terminator 0x00 0x01, which cannot occur elsewhere in the output.
func encodeEscaped(b []byte, data []byte) []byte {
	for {
		i := bytes.IndexByte(data, escape)
		if i == -1 {
			break
		}
		b = append(b, data[:i]...)
		b = append(b, escape, escaped00)
		data = data[i+1:]
	}
	b = append(b, data...)
	return append(b, escape, escapedTerm)
}

func decodeEscaped(b []byte) ([]byte, []byte, error) {
	r := []byte{}
	for {
		i := bytes.IndexByte(b, escape)
		if i == -1 {
			return nil, nil, fmt.Errorf("codec: did not find terminator in buffer %#x", b)
		}
		if i+1 >= len(b) {
			return nil, nil, fmt.Errorf("codec: malformed escape in buffer %#x", b)
		}
		switch b[i+1] {
		case escapedTerm:
			return b[i+2:], append(r, b[:i]...), nil
		case escaped00:
			r = append(r, b[:i]...)
			r = append(r, 0x00)
		default:
			return nil, nil, fmt.Errorf("codec: unknown escape sequence %#x %#x", escape, b[i+1])
		}
		b = b[i+2:]
	}
}
