// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package directory holds the account directory consumed by the proxy:
// users, applications, issued API keys and each owner's encrypted secrets.
package directory

import (
	"context"
	"errors"

	"github.com/saucelabs/relay/vault"
)

// ErrNotFound is returned by lookups when no matching entity exists.
var ErrNotFound = errors.New("not found")

// User is an account owner.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// App is an application registered by an owner.
type App struct {
	ID      string `json:"id" validate:"required"`
	Slug    string `json:"slug" validate:"slug"`
	OwnerID string `json:"owner_id" validate:"required"`
}

// Directory resolves caller credentials to owners and applications.
// All lookups return ErrNotFound when the credential does not match,
// any other error is an infrastructure failure.
type Directory interface {
	// FindUserBySessionToken verifies a signed session token and returns
	// the user it was issued to.
	FindUserBySessionToken(ctx context.Context, token string) (*User, error)

	// FindOwnerByAPIKey returns the owner ID for an issued API key,
	// matched exactly.
	FindOwnerByAPIKey(ctx context.Context, key string) (string, error)

	FindAppBySlug(ctx context.Context, slug string) (*App, error)
	FindAppByID(ctx context.Context, id string) (*App, error)

	// OwnIssuedAPIKey returns the API key issued to the owner itself,
	// used by self endpoints instead of a stored secret.
	OwnIssuedAPIKey(ctx context.Context, ownerID string) (string, error)
}

// SecretStore reads encrypted secrets scoped to an owner.
// The envelope fields (ciphertext, iv, salt) are always stored and read
// together.
type SecretStore interface {
	GetSecret(ctx context.Context, ownerID, name string) (vault.Envelope, error)
}
