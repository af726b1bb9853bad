package codec

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ir"
)

func sampleValues() []ir.Value {
	return []ir.Value{
		ir.Null{},
		ir.Bool(false),
		ir.Bool(true),
		ir.Int(math.MinInt64),
		ir.Int(-1 << 40),
		ir.Int(-65536),
		ir.Int(-257),
		ir.Int(-256),
		ir.Int(-255),
		ir.Int(-1),
		ir.Int(0),
		ir.Int(1),
		ir.Int(109),
		ir.Int(110),
		ir.Int(255),
		ir.Int(256),
		ir.Int(1 << 40),
		ir.Int(math.MaxInt64),
		ir.Float(math.Inf(-1)),
		ir.Float(-1e10),
		ir.Float(-0.5),
		ir.Float(math.Copysign(0, -1)),
		ir.Float(0),
		ir.Float(0.5),
		ir.Float(1e10),
		ir.Float(math.Inf(1)),
		ir.String(""),
		ir.String("\x00"),
		ir.String("\x00\x00"),
		ir.String("\x00a"),
		ir.String("a"),
		ir.String("a\x00"),
		ir.String("a\x00b"),
		ir.String("ab"),
		ir.String("b"),
		ir.Bytes{},
		ir.Bytes{0x00},
		ir.Bytes{0x00, 0x01},
		ir.Bytes{0x01},
		ir.Bytes{0xff},
		ir.List{},
		ir.List{ir.Null{}},
		ir.List{ir.Int(1)},
		ir.List{ir.Int(1), ir.List{}},
		ir.List{ir.Int(1), ir.String("x")},
		ir.List{ir.Int(2)},
		ir.List{ir.String("a")},
	}
}

func TestEncodeValue_RoundTrip(t *testing.T) {
	for _, v := range sampleValues() {
		enc, err := EncodeValue(nil, v)
		require.NoError(t, err)

		rest, got, err := DecodeValue(enc)
		require.NoError(t, err, "decode %s", ir.FormatValue(v))
		assert.Empty(t, rest)
		assert.True(t, ir.Equal(v, got), "round trip %s -> %s", ir.FormatValue(v), ir.FormatValue(got))
		assert.Equal(t, v.Kind(), got.Kind())
	}
}

func TestEncodeValue_NaNRoundTrip(t *testing.T) {
	enc, err := EncodeValue(nil, ir.Float(math.NaN()))
	require.NoError(t, err)
	_, got, err := DecodeValue(enc)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(got.(ir.Float))))
}

func TestEncodeValue_OrderPreserving(t *testing.T) {
	vals := sampleValues()
	for _, a := range vals {
		for _, b := range vals {
			ea, err := EncodeValue(nil, a)
			require.NoError(t, err)
			eb, err := EncodeValue(nil, b)
			require.NoError(t, err)
			assert.Equal(t, ir.Compare(a, b), bytes.Compare(ea, eb),
				"%s vs %s", ir.FormatValue(a), ir.FormatValue(b))
		}
	}
}

func TestEncodeValue_IntOrderRandom(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		a := ir.Int(r.Int64() >> r.IntN(63))
		b := ir.Int(-(r.Int64() >> r.IntN(63)))
		ea, _ := EncodeValue(nil, a)
		eb, _ := EncodeValue(nil, b)
		require.Equal(t, ir.Compare(a, b), bytes.Compare(ea, eb), "%d vs %d", a, b)

		_, da, err := DecodeValue(ea)
		require.NoError(t, err)
		require.Equal(t, a, da)
		_, db, err := DecodeValue(eb)
		require.NoError(t, err)
		require.Equal(t, b, db)
	}
}

func TestDecodeValue_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":          {},
		"unknown tag":    {0x7f},
		"short float":    {tagFloat, 0x01},
		"unterminated":   {tagString, 'a', 'b'},
		"bad escape":     {tagString, 0x00, 0x05},
		"open list":      {tagList, tagNull},
		"short varint":   {tagInt, intMax},
		"short negative": {tagInt, intZero - 3, 0x01},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeValue(data)
			assert.Error(t, err)
		})
	}
}

func pathSchema() ir.Schema {
	return ir.Schema{
		Relation: "path",
		Columns: []ir.Column{
			{Name: "src", Type: ir.TypeAny, Key: true, Nullable: true},
			{Name: "dst", Type: ir.TypeAny, Key: true, Nullable: true},
			{Name: "cost", Type: ir.TypeAny, Nullable: true},
		},
	}
}

func TestEncodeTuple_RoundTrip(t *testing.T) {
	s := pathSchema()
	vals := sampleValues()
	for i := range vals {
		tup := ir.Tuple{vals[i], vals[(i*7)%len(vals)], vals[(i*3)%len(vals)]}
		key, value, err := EncodeTuple(s, tup)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(key, RelationPrefix("path")))

		got, err := DecodeTuple(s, key, value)
		require.NoError(t, err)
		assert.True(t, tup.Equal(got), "round trip %s -> %s", tup, got)
	}
}

func TestEncodeTuple_KeyOrderMatchesTupleOrder(t *testing.T) {
	s := pathSchema()
	vals := sampleValues()
	r := rand.New(rand.NewPCG(3, 4))

	var tuples []ir.Tuple
	for i := 0; i < 300; i++ {
		tuples = append(tuples, ir.Tuple{
			vals[r.IntN(len(vals))],
			vals[r.IntN(len(vals))],
			ir.Null{},
		})
	}
	for i := 1; i < len(tuples); i++ {
		a, b := tuples[i-1], tuples[i]
		ka, _, err := EncodeTuple(s, a)
		require.NoError(t, err)
		kb, _, err := EncodeTuple(s, b)
		require.NoError(t, err)
		want := ir.CompareTuples(s.KeyOf(a), s.KeyOf(b))
		assert.Equal(t, want, bytes.Compare(ka, kb), "%s vs %s", a, b)
	}
}

func TestEncodeTuple_SchemaViolation(t *testing.T) {
	s := ir.Schema{
		Relation: "edge",
		Columns: []ir.Column{
			{Name: "src", Type: ir.TypeInt, Key: true},
			{Name: "dst", Type: ir.TypeInt, Key: true},
		},
	}
	_, _, err := EncodeTuple(s, ir.T(1, "x"))
	assert.Error(t, err)

	_, _, err = EncodeTuple(s, ir.T(1))
	assert.Error(t, err)
}

func TestDecodeTuple_WrongRelation(t *testing.T) {
	key, value, err := EncodeTuple(pathSchema(), ir.T(1, 2, 3))
	require.NoError(t, err)

	other := pathSchema()
	other.Relation = "pat"
	_, err = DecodeTuple(other, key, value)
	assert.Error(t, err)
}

func TestRelationPrefix_NotPrefixOfOther(t *testing.T) {
	names := []string{"a", "ab", "a\x00", "b", "path", "path2"}
	for _, x := range names {
		for _, y := range names {
			if x == y {
				continue
			}
			assert.False(t, bytes.HasPrefix(RelationPrefix(y), RelationPrefix(x)), "%q is prefix of %q", x, y)
		}
	}
}

func TestKeyPrefix_CoversBoundTuples(t *testing.T) {
	s := pathSchema()
	prefix, err := KeyPrefix("path", ir.T(1))
	require.NoError(t, err)

	inside, _, err := EncodeTuple(s, ir.T(1, 99, nil))
	require.NoError(t, err)
	outside, _, err := EncodeTuple(s, ir.T(10, 1, nil))
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(inside, prefix))
	assert.False(t, bytes.HasPrefix(outside, prefix))
}

func TestCatalog(t *testing.T) {
	s := pathSchema()
	doc, err := EncodeSchema(s)
	require.NoError(t, err)

	got, err := DecodeSchema(doc)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	key := CatalogKey("path")
	assert.True(t, bytes.HasPrefix(key, CatalogPrefix()))
	assert.Negative(t, bytes.Compare(key, RelationPrefix("")), "catalog sorts before data")

	name, err := CatalogRelation(key)
	require.NoError(t, err)
	assert.Equal(t, "path", name)

	_, err = CatalogRelation(RelationPrefix("path"))
	assert.Error(t, err)

	_, err = DecodeSchema([]byte(`{"relation":"x","columns":[]}`))
	assert.Error(t, err)
}
