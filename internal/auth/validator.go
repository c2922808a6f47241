// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the validated caller identity handed to the storage core.
// Subject feeds per-user field-key derivation.
type Identity struct {
	Subject string
	Issuer  string
	Claims  jwt.MapClaims
}

// Validator checks RS256 tokens against a JWKS key set.
type Validator struct {
	keys   *KeySet
	issuer string
}

// NewValidator builds a validator. issuer, when non-empty, is enforced
// against the iss claim.
func NewValidator(keys *KeySet, issuer string) *Validator {
	return &Validator{keys: keys, issuer: issuer}
}

// Validate parses and verifies tokenString and returns the caller identity.
// Unknown signing keys and bad signatures yield ErrSignatureInvalid.
func (v *Validator) Validate(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: token has no kid header", ErrSignatureInvalid)
		}
		return v.keys.PublicKey(kid)
	}, opts...)
	if err != nil {
		if errors.Is(err, ErrSignatureInvalid) || errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Identity{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return Identity{}, fmt.Errorf("validate token: %w", err)
	}
	if !token.Valid {
		return Identity{}, ErrSignatureInvalid
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, errors.New("token has no subject")
	}
	iss, _ := claims.GetIssuer()

	return Identity{Subject: sub, Issuer: iss, Claims: claims}, nil
}
