// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"sync"

	"github.com/saucelabs/relay/directory"
	"github.com/saucelabs/relay/quota"
	"github.com/saucelabs/relay/usage"
	"github.com/saucelabs/relay/vault"
)

// fakeDirectory is an in-memory Directory and SecretStore for tests.
type fakeDirectory struct {
	usersByToken map[string]*directory.User
	ownersByKey  map[string]string
	appsBySlug   map[string]*directory.App
	appsByID     map[string]*directory.App
	issuedKeys   map[string]string
	secrets      map[string]vault.Envelope
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		usersByToken: map[string]*directory.User{},
		ownersByKey:  map[string]string{},
		appsBySlug:   map[string]*directory.App{},
		appsByID:     map[string]*directory.App{},
		issuedKeys:   map[string]string{},
		secrets:      map[string]vault.Envelope{},
	}
}

func (d *fakeDirectory) FindUserBySessionToken(_ context.Context, token string) (*directory.User, error) {
	if u, ok := d.usersByToken[token]; ok {
		return u, nil
	}
	return nil, directory.ErrNotFound
}

func (d *fakeDirectory) FindOwnerByAPIKey(_ context.Context, key string) (string, error) {
	if o, ok := d.ownersByKey[key]; ok {
		return o, nil
	}
	return "", directory.ErrNotFound
}

func (d *fakeDirectory) FindAppBySlug(_ context.Context, slug string) (*directory.App, error) {
	if a, ok := d.appsBySlug[slug]; ok {
		return a, nil
	}
	return nil, directory.ErrNotFound
}

func (d *fakeDirectory) FindAppByID(_ context.Context, id string) (*directory.App, error) {
	if a, ok := d.appsByID[id]; ok {
		return a, nil
	}
	return nil, directory.ErrNotFound
}

func (d *fakeDirectory) OwnIssuedAPIKey(_ context.Context, ownerID string) (string, error) {
	if k, ok := d.issuedKeys[ownerID]; ok {
		return k, nil
	}
	return "", directory.ErrNotFound
}

func (d *fakeDirectory) GetSecret(_ context.Context, ownerID, name string) (vault.Envelope, error) {
	if e, ok := d.secrets[ownerID+"/"+name]; ok {
		return e, nil
	}
	return vault.Envelope{}, directory.ErrNotFound
}

func (d *fakeDirectory) addApp(id, slug, ownerID string) {
	a := &directory.App{ID: id, Slug: slug, OwnerID: ownerID}
	d.appsBySlug[slug] = a
	d.appsByID[id] = a
}

func (d *fakeDirectory) putSecret(v *vault.Vault, ownerID, name, value string) {
	e, err := v.Encrypt(value)
	if err != nil {
		panic(err)
	}
	d.secrets[ownerID+"/"+name] = e
}

// denyAll rejects every request.
type denyAll struct{}

func (denyAll) CheckAndConsume(context.Context, string, string) (quota.Decision, error) {
	return quota.Decision{Allowed: false}, nil
}

// captureRecorder collects usage records for assertions.
type captureRecorder struct {
	mu      sync.Mutex
	records []usage.Record
}

func (c *captureRecorder) Record(r usage.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

func (c *captureRecorder) all() []usage.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]usage.Record(nil), c.records...)
}
