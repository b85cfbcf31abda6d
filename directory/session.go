// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package directory

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	sessionIssuer = "relay"

	// sessionKeyInfo separates the signing key from other keys derived
	// from the same secret.
	sessionKeyInfo = "relay session signing v1"

	sessionKeySize = 32
)

// ErrInvalidToken is returned when a session token is malformed, has a bad
// signature, or is expired. The cause is not distinguished.
var ErrInvalidToken = errors.New("session token is invalid or expired")

// SessionSigner issues and verifies HS256 session tokens whose subject is
// the owner ID. The signing key is derived from the given secret with
// HKDF-SHA256, so the secret itself never signs anything and can be shared
// with other key consumers.
type SessionSigner struct {
	key []byte
	ttl time.Duration
}

func NewSessionSigner(secret []byte, ttl time.Duration) (*SessionSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	key := make([]byte, sessionKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sessionKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}

	return &SessionSigner{
		key: key,
		ttl: ttl,
	}, nil
}

func (s *SessionSigner) Issue(ownerID string) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   ownerID,
		Issuer:    sessionIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})

	signed, err := t.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and expiry and returns the subject.
func (s *SessionSigner) Verify(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}
