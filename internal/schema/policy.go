// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

// Package schema interprets the metadata-encryption policy: a schema
// document naming which fields on which entity types are encrypted and
// under which key context (per-user or per-group).
//
// Hard rules, regardless of what a policy document says:
//   - vector embeddings are never encrypted, only scalar metadata may be;
//   - graph topology fields (_from, _to, label) stay plaintext;
//   - a missing schema means all fields are plaintext;
//   - a field-level encryption failure downgrades that field to plaintext
//     with a warning instead of aborting the entity write.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/makr-code/themis/models"
)

// KeyContext selects the key-derivation input for a field.
type KeyContext string

const (
	// ContextUser derives per-user field keys: the context salt is the
	// UTF-8 bytes of the user identifier.
	ContextUser KeyContext = "user"
	// ContextGroup derives per-group keys: the context salt is empty and
	// the group DEK is the derivation base.
	ContextGroup KeyContext = "group"
)

// FieldRule is the policy for one field of one entity type.
type FieldRule struct {
	// Encrypted marks the field confidential.
	Encrypted bool `json:"encrypted"`
	// Context chooses per-user vs. per-group derivation. Defaults to user.
	Context KeyContext `json:"context,omitempty"`
	// Group names the group DEK for ContextGroup fields.
	Group string `json:"group,omitempty"`
}

// EntityPolicy is the set of field rules for one entity type.
type EntityPolicy struct {
	Fields map[string]FieldRule `json:"fields"`
}

// Policy is the full schema document.
type Policy struct {
	Entities map[string]EntityPolicy `json:"entities"`
}

// ParsePolicy decodes a schema document.
func ParsePolicy(doc []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("parse schema policy: %w", err)
	}
	for typ, ep := range p.Entities {
		for name, rule := range ep.Fields {
			if rule.Context == "" {
				rule.Context = ContextUser
				ep.Fields[name] = rule
			}
			if rule.Context != ContextUser && rule.Context != ContextGroup {
				return nil, fmt.Errorf("parse schema policy: %s.%s: unknown context %q", typ, name, rule.Context)
			}
		}
	}
	return &p, nil
}

// Rule returns the field rule for (entityType, field). ok is false when the
// policy has nothing to say, meaning plaintext.
func (p *Policy) Rule(entityType, field string) (FieldRule, bool) {
	if p == nil {
		return FieldRule{}, false
	}
	ep, ok := p.Entities[entityType]
	if !ok {
		return FieldRule{}, false
	}
	rule, ok := ep.Fields[field]
	return rule, ok
}

// ShouldEncrypt applies the hard rules on top of the policy: topology fields
// and vectors are never encrypted.
func (p *Policy) ShouldEncrypt(entityType, field string, v models.Value) (FieldRule, bool) {
	if models.IsTopologyField(field) {
		return FieldRule{}, false
	}
	if v.Kind() == models.KindVector {
		return FieldRule{}, false
	}
	rule, ok := p.Rule(entityType, field)
	if !ok || !rule.Encrypted {
		return FieldRule{}, false
	}
	return rule, true
}
