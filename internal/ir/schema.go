package ir

import (
	"fmt"
)

// ColumnType is the declared type of a relation column.
type ColumnType string

const (
	TypeAny    ColumnType = "any"
	TypeBool   ColumnType = "bool"
	TypeInt    ColumnType = "int"
	TypeFloat  ColumnType = "float"
	TypeString ColumnType = "string"
	TypeBytes  ColumnType = "bytes"
	TypeList   ColumnType = "list"
)

// ValidColumnTypes defines allowed column types.
var ValidColumnTypes = map[ColumnType]bool{
	TypeAny:    true,
	TypeBool:   true,
	TypeInt:    true,
	TypeFloat:  true,
	TypeString: true,
	TypeBytes:  true,
	TypeList:   true,
}

// Accepts reports whether a value of kind k may be stored in a column of
// type ct. Null is handled by the column's Nullable flag, not here.
func (ct ColumnType) Accepts(k Kind) bool {
	switch ct {
	case TypeAny, "":
		return true
	case TypeBool:
		return k == KindBool
	case TypeInt:
		return k == KindInt
	case TypeFloat:
		return k == KindFloat
	case TypeString:
		return k == KindString
	case TypeBytes:
		return k == KindBytes
	case TypeList:
		return k == KindList
	default:
		return false
	}
}

// Column describes one position of a relation.
type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Key      bool       `json:"key"`
	Nullable bool       `json:"nullable,omitempty"`
}

// Schema is the ordered column list of a relation. Key columns come first;
// together they form the tuple's unique identity.
type Schema struct {
	Relation string   `json:"relation"`
	Columns  []Column `json:"columns"`
}

// Arity returns the number of columns.
func (s Schema) Arity() int {
	return len(s.Columns)
}

// KeyArity returns the number of leading key columns.
func (s Schema) KeyArity() int {
	n := 0
	for _, c := range s.Columns {
		if !c.Key {
			break
		}
		n++
	}
	return n
}

// CheckLayout verifies the structural invariants of the schema itself:
// at least one column, at least one key column, keys before values,
// unique column names and known types.
func (s Schema) CheckLayout() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("relation %q: schema has no columns", s.Relation)
	}
	seen := make(map[string]bool, len(s.Columns))
	inValues := false
	for i, c := range s.Columns {
		if c.Name != "" {
			if seen[c.Name] {
				return fmt.Errorf("relation %q: duplicate column name %q", s.Relation, c.Name)
			}
			seen[c.Name] = true
		}
		if !ValidColumnTypes[c.Type] && c.Type != "" {
			return fmt.Errorf("relation %q: column %d has unknown type %q", s.Relation, i, c.Type)
		}
		if c.Key && inValues {
			return fmt.Errorf("relation %q: key column %d follows a non-key column", s.Relation, i)
		}
		if !c.Key {
			inValues = true
		}
	}
	if s.KeyArity() == 0 {
		return fmt.Errorf("relation %q: schema has no key columns", s.Relation)
	}
	return nil
}

// CheckTuple verifies that t matches the schema: arity, column types and
// nullability. The returned error names the offending column.
func (s Schema) CheckTuple(t Tuple) error {
	if len(t) != len(s.Columns) {
		return fmt.Errorf("relation %q expects %d columns, tuple %s has %d",
			s.Relation, len(s.Columns), t, len(t))
	}
	for i, c := range s.Columns {
		v := t[i]
		if v == nil || v.Kind() == KindNull {
			if !c.Nullable && c.Type != TypeAny && c.Type != "" {
				return fmt.Errorf("relation %q column %s: null in non-nullable %s column",
					s.Relation, c.label(i), c.Type)
			}
			continue
		}
		if !c.Type.Accepts(v.Kind()) {
			return fmt.Errorf("relation %q column %s: %s value %s in %s column",
				s.Relation, c.label(i), v.Kind(), FormatValue(v), c.Type)
		}
	}
	return nil
}

// SameShape reports whether other has the same arity, key arity and column
// types as s. Column names are not compared.
func (s Schema) SameShape(other Schema) bool {
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for i := range s.Columns {
		a, b := s.Columns[i], other.Columns[i]
		if a.Key != b.Key || a.Type != b.Type || a.Nullable != b.Nullable {
			return false
		}
	}
	return true
}

// KeyOf returns the key-column prefix of t.
func (s Schema) KeyOf(t Tuple) Tuple {
	return t[:s.KeyArity()]
}

func (c Column) label(i int) string {
	if c.Name != "" {
		return fmt.Sprintf("%q", c.Name)
	}
	return fmt.Sprintf("#%d", i)
}

// DerivedSchema builds the schema of a relation that has no declaration:
// every column is typed any, keyArity leading columns are keys and names
// default to c0, c1, ... when not supplied.
func DerivedSchema(relation string, names []string, arity, keyArity int) Schema {
	cols := make([]Column, arity)
	seen := make(map[string]bool, arity)
	for i := range cols {
		name := fmt.Sprintf("c%d", i)
		if i < len(names) && names[i] != "" && !seen[names[i]] {
			name = names[i]
		}
		seen[name] = true
		cols[i] = Column{Name: name, Type: TypeAny, Key: i < keyArity, Nullable: true}
	}
	return Schema{Relation: relation, Columns: cols}
}
