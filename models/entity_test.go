// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityRoundTripAllVariants(t *testing.T) {
	e := NewEntity("doc-1")
	e.SetField("title", String("hello"))
	e.SetField("count", Int(-42))
	e.SetField("score", Double(3.141592653589793))
	e.SetField("active", Bool(true))
	e.SetField("raw", Bytes([]byte{0x00, 0xFF, 0x10}))
	e.SetField("embedding", Vector([]float32{0.25, -1.5, 3}))
	e.SetField("note", Null())

	blob, err := e.Serialize()
	require.NoError(t, err)

	got, err := Deserialize("doc-1", blob)
	require.NoError(t, err)

	require.Equal(t, e.FieldNames(), got.FieldNames())

	s, ok := mustField(t, got, "title").AsString()
	require.True(t, ok)
	assert.Equal(t, "hello", s)

	i, ok := mustField(t, got, "count").AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(-42), i)

	f, ok := mustField(t, got, "score").AsDouble()
	require.True(t, ok)
	assert.Equal(t, 3.141592653589793, f)

	b, ok := mustField(t, got, "active").AsBool()
	require.True(t, ok)
	assert.True(t, b)

	raw, ok := mustField(t, got, "raw").AsBytes()
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0xFF, 0x10}, raw)

	vec, ok := mustField(t, got, "embedding").AsVector()
	require.True(t, ok)
	assert.Equal(t, []float32{0.25, -1.5, 3}, vec)

	assert.True(t, mustField(t, got, "note").IsNull())
}

func mustField(t *testing.T, e *Entity, name string) Value {
	t.Helper()
	v, ok := e.GetField(name)
	require.True(t, ok, "field %s missing", name)
	return v
}

func TestEntityFieldOrderPreservedOnReplace(t *testing.T) {
	e := NewEntity("pk")
	e.SetField("a", String("1"))
	e.SetField("b", String("2"))
	e.SetField("c", String("3"))
	e.SetField("b", String("updated"))

	assert.Equal(t, []string{"a", "b", "c"}, e.FieldNames())
	v, _ := e.GetField("b")
	s, _ := v.AsString()
	assert.Equal(t, "updated", s)
}

func TestExtractFieldCanonicalForms(t *testing.T) {
	e := NewEntity("pk")
	e.SetField("s", String("text"))
	e.SetField("i", Int(1234567890123456789))
	e.SetField("d", Double(0.1))
	e.SetField("b", Bool(false))
	e.SetField("v", Vector([]float32{1}))
	e.SetField("n", Null())

	cases := map[string]string{
		"s": "text",
		"i": "1234567890123456789",
		"d": "0.1",
		"b": "false",
		"n": "null",
	}
	for name, want := range cases {
		got, ok := e.ExtractField(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := e.ExtractField("v")
	assert.False(t, ok, "vectors have no canonical string form")
	_, ok = e.ExtractField("absent")
	assert.False(t, ok)
}

func TestDoubleRoundTripExact(t *testing.T) {
	for _, f := range []float64{0.1, math.MaxFloat64, math.SmallestNonzeroFloat64, -0.0, 1e-300} {
		e := NewEntity("pk")
		e.SetField("d", Double(f))
		blob, err := e.Serialize()
		require.NoError(t, err)
		got, err := Deserialize("pk", blob)
		require.NoError(t, err)
		v, _ := got.GetField("d")
		d, _ := v.AsDouble()
		assert.Equal(t, math.Float64bits(f), math.Float64bits(d))
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize("pk", []byte("not json"))
	assert.Error(t, err)
}

func TestTopologyFields(t *testing.T) {
	assert.True(t, IsTopologyField("_from"))
	assert.True(t, IsTopologyField("_to"))
	assert.True(t, IsTopologyField("label"))
	assert.True(t, IsTopologyField("_weight"))
	assert.False(t, IsTopologyField("email"))
}

func TestRemoveField(t *testing.T) {
	e := NewEntity("pk")
	e.SetField("a", String("1"))
	e.SetField("b", String("2"))
	e.RemoveField("a")
	assert.Equal(t, []string{"b"}, e.FieldNames())
	_, ok := e.GetField("a")
	assert.False(t, ok)
}
