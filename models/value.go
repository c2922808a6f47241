// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package models

import (
	"encoding/base64"
	"strconv"
)

// Kind enumerates the typed variants a field value can hold.
type Kind int

const (
	// KindNull marks an explicitly null field.
	KindNull Kind = iota
	// KindString holds UTF-8 text.
	KindString
	// KindInt holds a signed 64-bit integer.
	KindInt
	// KindDouble holds an IEEE-754 double.
	KindDouble
	// KindBool holds a boolean.
	KindBool
	// KindBytes holds an opaque byte string.
	KindBytes
	// KindVector holds a float32 embedding vector.
	KindVector
)

// String returns the stable name of the kind as used in the serialized form.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindVector:
		return "vector"
	default:
		return "null"
	}
}

// kindFromString is the inverse of Kind.String. Unknown names map to KindNull.
func kindFromString(s string) Kind {
	switch s {
	case "string":
		return KindString
	case "int":
		return KindInt
	case "double":
		return KindDouble
	case "bool":
		return KindBool
	case "bytes":
		return KindBytes
	case "vector":
		return KindVector
	default:
		return KindNull
	}
}

// Value is a typed field value. The zero value is the null marker.
type Value struct {
	kind  Kind
	str   string
	num   int64
	dbl   float64
	b     bool
	bytes []byte
	vec   []float32
}

// Null returns the null marker value.
func Null() Value { return Value{} }

// String wraps s as a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int wraps i as a signed 64-bit integer value.
func Int(i int64) Value { return Value{kind: KindInt, num: i} }

// Double wraps f as a double value.
func Double(f float64) Value { return Value{kind: KindDouble, dbl: f} }

// Bool wraps b as a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Bytes wraps raw as an opaque byte-string value. The slice is not copied.
func Bytes(raw []byte) Value { return Value{kind: KindBytes, bytes: raw} }

// Vector wraps vec as an embedding-vector value. The slice is not copied.
func Vector(vec []float32) Value { return Value{kind: KindVector, vec: vec} }

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null marker.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload; ok is false for any other kind.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsInt returns the integer payload; ok is false for any other kind.
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInt }

// AsDouble returns the double payload; ok is false for any other kind.
func (v Value) AsDouble() (float64, bool) { return v.dbl, v.kind == KindDouble }

// AsBool returns the boolean payload; ok is false for any other kind.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsBytes returns the byte payload; ok is false for any other kind.
func (v Value) AsBytes() ([]byte, bool) { return v.bytes, v.kind == KindBytes }

// AsVector returns the vector payload; ok is false for any other kind.
func (v Value) AsVector() ([]float32, bool) { return v.vec, v.kind == KindVector }

// Canonical returns the canonical string form of the value, used as the
// source for index-key components. Vectors have no canonical string form and
// return ok == false; nulls canonicalize to the literal "null" so that sparse
// indexes can recognize and skip them.
func (v Value) Canonical() (string, bool) {
	switch v.kind {
	case KindString:
		return v.str, true
	case KindInt:
		return strconv.FormatInt(v.num, 10), true
	case KindDouble:
		return strconv.FormatFloat(v.dbl, 'g', -1, 64), true
	case KindBool:
		return strconv.FormatBool(v.b), true
	case KindBytes:
		return base64.StdEncoding.EncodeToString(v.bytes), true
	case KindNull:
		return "null", true
	default:
		return "", false
	}
}
