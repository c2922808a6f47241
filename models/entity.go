// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

// Package models defines the entity model shared by the storage core: a
// primary key plus an ordered mapping of field names to typed values.
//
// Field names beginning with an underscore carry topology metadata for graph
// edges (_from, _to) and are never encrypted. Serialization is a stable JSON
// array of tagged fields so that the round-trip of Serialize/Deserialize is
// the identity on all supported variants, including field order.
package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Entity is an ordered collection of typed fields addressed by a primary key.
// The zero value is not usable; construct with NewEntity.
type Entity struct {
	pk     string
	names  []string
	fields map[string]Value
}

// NewEntity creates an empty entity with the given primary key.
func NewEntity(pk string) *Entity {
	return &Entity{pk: pk, fields: make(map[string]Value)}
}

// PrimaryKey returns the entity's primary key.
func (e *Entity) PrimaryKey() string { return e.pk }

// SetField inserts or replaces the named field. A replacement keeps the
// field's original position in the ordering.
func (e *Entity) SetField(name string, v Value) {
	if _, ok := e.fields[name]; !ok {
		e.names = append(e.names, name)
	}
	e.fields[name] = v
}

// GetField returns the named field value; ok is false if the field is absent.
func (e *Entity) GetField(name string) (Value, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// RemoveField deletes the named field, preserving the order of the rest.
func (e *Entity) RemoveField(name string) {
	if _, ok := e.fields[name]; !ok {
		return
	}
	delete(e.fields, name)
	for i, n := range e.names {
		if n == name {
			e.names = append(e.names[:i], e.names[i+1:]...)
			break
		}
	}
}

// Clone returns a deep-enough copy: the field ordering and value mapping are
// independent of the receiver. Byte and vector payloads are shared (values
// are treated as immutable).
func (e *Entity) Clone() *Entity {
	out := NewEntity(e.pk)
	out.names = append([]string(nil), e.names...)
	for k, v := range e.fields {
		out.fields[k] = v
	}
	return out
}

// FieldNames returns the field names in insertion order. The returned slice
// must not be modified by the caller.
func (e *Entity) FieldNames() []string { return e.names }

// Len returns the number of fields.
func (e *Entity) Len() int { return len(e.names) }

// ExtractField returns the canonical string form of the named field, used as
// the value source for index maintenance. ok is false when the field is
// absent or has no canonical form (vectors).
func (e *Entity) ExtractField(name string) (string, bool) {
	v, ok := e.fields[name]
	if !ok {
		return "", false
	}
	return v.Canonical()
}

// serializedField is the on-disk shape of one field. Scalar payloads are
// carried as canonical strings so that int64 and double survive the trip
// through JSON without precision loss.
type serializedField struct {
	Name   string    `json:"n"`
	Type   string    `json:"t"`
	Value  string    `json:"v,omitempty"`
	Vector []float32 `json:"vec,omitempty"`
}

// Serialize encodes the entity's fields as a stable JSON array in insertion
// order. The primary key is not part of the payload; it lives in the byte
// store key.
func (e *Entity) Serialize() ([]byte, error) {
	out := make([]serializedField, 0, len(e.names))
	for _, name := range e.names {
		v := e.fields[name]
		sf := serializedField{Name: name, Type: v.Kind().String()}
		switch v.Kind() {
		case KindVector:
			sf.Vector = v.vec
		case KindNull:
			// type tag alone is sufficient
		default:
			s, _ := v.Canonical()
			sf.Value = s
		}
		out = append(out, sf)
	}
	return json.Marshal(out)
}

// Deserialize reconstructs an entity from the payload produced by Serialize.
// Returns an error if the payload is not valid JSON or a scalar payload does
// not parse under its type tag.
func Deserialize(pk string, data []byte) (*Entity, error) {
	var raw []serializedField
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("deserialize entity %q: %w", pk, err)
	}

	e := NewEntity(pk)
	for _, sf := range raw {
		v, err := decodeField(sf)
		if err != nil {
			return nil, fmt.Errorf("deserialize entity %q field %q: %w", pk, sf.Name, err)
		}
		e.SetField(sf.Name, v)
	}
	return e, nil
}

func decodeField(sf serializedField) (Value, error) {
	switch kindFromString(sf.Type) {
	case KindString:
		return String(sf.Value), nil
	case KindInt:
		i, err := strconv.ParseInt(sf.Value, 10, 64)
		if err != nil {
			return Value{}, err
		}
		return Int(i), nil
	case KindDouble:
		f, err := strconv.ParseFloat(sf.Value, 64)
		if err != nil {
			return Value{}, err
		}
		return Double(f), nil
	case KindBool:
		b, err := strconv.ParseBool(sf.Value)
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case KindBytes:
		raw, err := base64.StdEncoding.DecodeString(sf.Value)
		if err != nil {
			return Value{}, err
		}
		return Bytes(raw), nil
	case KindVector:
		return Vector(sf.Vector), nil
	default:
		return Null(), nil
	}
}

// IsTopologyField reports whether the field name carries graph topology
// metadata. Topology fields stay plaintext so edges remain traversable.
func IsTopologyField(name string) bool {
	return name == "_from" || name == "_to" || name == "label" ||
		(len(name) > 0 && name[0] == '_')
}
