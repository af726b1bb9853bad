package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/strata/internal/ir"
)

// Key space markers. Catalog entries sort before every relation's data.
const (
	catalogMarker  byte = 0x01
	relationMarker byte = 0x10
)

// RelationPrefix returns the key prefix owned by a stored relation's data.
// The name is escaped and terminated, so no relation prefix is a prefix of
// another relation's.
func RelationPrefix(relation string) []byte {
	return encodeEscaped([]byte{relationMarker}, []byte(relation))
}

// KeyPrefix returns the prefix covering every tuple of relation whose
// leading key columns equal leading. It is used for bound-prefix range scans.
func KeyPrefix(relation string, leading ir.Tuple) ([]byte, error) {
	b := RelationPrefix(relation)
	for i, v := range leading {
		var err error
		if b, err = EncodeValue(b, v); err != nil {
			return nil, fmt.Errorf("%s key column %d: %w", relation, i, err)
		}
	}
	return b, nil
}

// EncodeTuple encodes t under schema s: the key is the relation prefix
// followed by the key columns, the value holds the non-key columns.
// The tuple is checked against the schema first.
func EncodeTuple(s ir.Schema, t ir.Tuple) (key, value []byte, err error) {
	if err := s.CheckTuple(t); err != nil {
		return nil, nil, err
	}
	keyArity := s.KeyArity()
	key, err = KeyPrefix(s.Relation, t[:keyArity])
	if err != nil {
		return nil, nil, err
	}
	value = []byte{}
	for i := keyArity; i < len(t); i++ {
		if value, err = EncodeValue(value, t[i]); err != nil {
			return nil, nil, fmt.Errorf("%s column %d: %w", s.Relation, i, err)
		}
	}
	return key, value, nil
}

// DecodeTuple reverses EncodeTuple.
func DecodeTuple(s ir.Schema, key, value []byte) (ir.Tuple, error) {
	prefix := RelationPrefix(s.Relation)
	if !bytes.HasPrefix(key, prefix) {
		return nil, fmt.Errorf("codec: key %#x does not belong to relation %q", key, s.Relation)
	}

	t := make(ir.Tuple, 0, s.Arity())
	rest := key[len(prefix):]
	for i := 0; i < s.KeyArity(); i++ {
		var v ir.Value
		var err error
		if rest, v, err = DecodeValue(rest); err != nil {
			return nil, fmt.Errorf("%s key column %d: %w", s.Relation, i, err)
		}
		t = append(t, v)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("codec: %d trailing bytes in %s key", len(rest), s.Relation)
	}

	rest = value
	for i := s.KeyArity(); i < s.Arity(); i++ {
		var v ir.Value
		var err error
		if rest, v, err = DecodeValue(rest); err != nil {
			return nil, fmt.Errorf("%s column %d: %w", s.Relation, i, err)
		}
		t = append(t, v)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("codec: %d trailing bytes in %s value", len(rest), s.Relation)
	}
	return t, nil
}

// CatalogPrefix returns the prefix shared by every catalog entry.
func CatalogPrefix() []byte {
	return []byte{catalogMarker}
}

// CatalogKey returns the key holding relation's stored schema.
func CatalogKey(relation string) []byte {
	return encodeEscaped([]byte{catalogMarker}, []byte(relation))
}

// CatalogRelation extracts the relation name from a catalog key.
func CatalogRelation(key []byte) (string, error) {
	if len(key) == 0 || key[0] != catalogMarker {
		return "", fmt.Errorf("codec: %#x is not a catalog key", key)
	}
	rest, name, err := decodeEscaped(key[1:])
	if err != nil {
		return "", err
	}
	if len(rest) != 0 {
		return "", fmt.Errorf("codec: trailing bytes in catalog key %#x", key)
	}
	return string(name), nil
}

// EncodeSchema renders a schema as the JSON document stored in the catalog.
func EncodeSchema(s ir.Schema) ([]byte, error) {
	if err := s.CheckLayout(); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// DecodeSchema parses a catalog document and checks its layout.
func DecodeSchema(data []byte) (ir.Schema, error) {
	var s ir.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return ir.Schema{}, fmt.Errorf("codec: invalid catalog entry: %w", err)
	}
	if err := s.CheckLayout(); err != nil {
		return ir.Schema{}, fmt.Errorf("codec: invalid catalog entry: %w", err)
	}
	return s, nil
}
