// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/saucelabs/relay/directory"
)

// Inbound authentication headers, tried in the order listed.
const (
	AuthorizationHeader = "Authorization"
	APIKeyHeader        = "X-API-Key"
	AppSlugHeader       = "X-App-Slug"
	AppIDHeader         = "X-App-ID"
)

// CallerIdentity is the resolved identity of an inbound request.
// It is produced fresh per request and never persisted.
type CallerIdentity struct {
	OwnerID string
	AppID   string
}

// resolveStrategy is a single authentication scheme. It returns nil with a
// nil error to decline, leaving the request to the next strategy. A non-nil
// error is an infrastructure failure, not a bad credential.
type resolveStrategy interface {
	resolve(ctx context.Context, r *http.Request) (*CallerIdentity, error)
}

// IdentityResolver tries a fixed, ordered chain of authentication schemes
// and stops at the first one that yields an identity. A scheme that does
// not recognize its credential declines and the next scheme is tried.
type IdentityResolver struct {
	strategies []resolveStrategy
}

func NewIdentityResolver(dir directory.Directory) *IdentityResolver {
	return &IdentityResolver{
		strategies: []resolveStrategy{
			bearerStrategy{dir: dir},
			apiKeyStrategy{dir: dir},
			appSlugStrategy{dir: dir},
			appIDStrategy{dir: dir},
		},
	}
}

// Resolve returns the caller identity or an authentication error.
// The error is the same regardless of which schemes were tried or why they
// declined, so no scheme acts as an oracle for another.
func (ir *IdentityResolver) Resolve(ctx context.Context, r *http.Request) (*CallerIdentity, error) {
	for _, s := range ir.strategies {
		id, err := s.resolve(ctx, r)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}
	return nil, errAuthRequired()
}

type bearerStrategy struct {
	dir directory.Directory
}

func (s bearerStrategy) resolve(ctx context.Context, r *http.Request) (*CallerIdentity, error) {
	auth := r.Header.Get(AuthorizationHeader)
	const prefix = "Bearer "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return nil, nil
	}

	u, err := s.dir.FindUserBySessionToken(ctx, auth[len(prefix):])
	if err != nil {
		return nil, declineNotFound(err)
	}
	return &CallerIdentity{OwnerID: u.ID}, nil
}

type apiKeyStrategy struct {
	dir directory.Directory
}

func (s apiKeyStrategy) resolve(ctx context.Context, r *http.Request) (*CallerIdentity, error) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return nil, nil
	}

	ownerID, err := s.dir.FindOwnerByAPIKey(ctx, key)
	if err != nil {
		return nil, declineNotFound(err)
	}
	return &CallerIdentity{OwnerID: ownerID}, nil
}

type appSlugStrategy struct {
	dir directory.Directory
}

func (s appSlugStrategy) resolve(ctx context.Context, r *http.Request) (*CallerIdentity, error) {
	slug := r.Header.Get(AppSlugHeader)
	if slug == "" {
		return nil, nil
	}

	a, err := s.dir.FindAppBySlug(ctx, slug)
	if err != nil {
		return nil, declineNotFound(err)
	}
	return &CallerIdentity{OwnerID: a.OwnerID, AppID: a.ID}, nil
}

type appIDStrategy struct {
	dir directory.Directory
}

func (s appIDStrategy) resolve(ctx context.Context, r *http.Request) (*CallerIdentity, error) {
	id := r.Header.Get(AppIDHeader)
	if id == "" {
		return nil, nil
	}

	a, err := s.dir.FindAppByID(ctx, id)
	if err != nil {
		return nil, declineNotFound(err)
	}
	return &CallerIdentity{OwnerID: a.OwnerID, AppID: a.ID}, nil
}

func declineNotFound(err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return nil
	}
	return err
}
