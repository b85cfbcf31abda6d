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
	"net/http/httptest"
	"testing"

	"github.com/saucelabs/relay/directory"
)

func testDirectory() *fakeDirectory {
	d := newFakeDirectory()
	d.usersByToken["tok-1"] = &directory.User{ID: "owner-1", Name: "alice"}
	d.ownersByKey["rk_abc"] = "owner-2"
	d.addApp("app-1", "mobile", "owner-3")
	return d
}

func TestResolveStrategies(t *testing.T) {
	ir := NewIdentityResolver(testDirectory())

	tests := []struct {
		name    string
		headers map[string]string
		want    CallerIdentity
	}{
		{
			name:    "bearer token",
			headers: map[string]string{AuthorizationHeader: "Bearer tok-1"},
			want:    CallerIdentity{OwnerID: "owner-1"},
		},
		{
			name:    "api key",
			headers: map[string]string{APIKeyHeader: "rk_abc"},
			want:    CallerIdentity{OwnerID: "owner-2"},
		},
		{
			name:    "app slug",
			headers: map[string]string{AppSlugHeader: "mobile"},
			want:    CallerIdentity{OwnerID: "owner-3", AppID: "app-1"},
		},
		{
			name:    "app id",
			headers: map[string]string{AppIDHeader: "app-1"},
			want:    CallerIdentity{OwnerID: "owner-3", AppID: "app-1"},
		},
		{
			name: "bearer wins over api key",
			headers: map[string]string{
				AuthorizationHeader: "Bearer tok-1",
				APIKeyHeader:        "rk_abc",
			},
			want: CallerIdentity{OwnerID: "owner-1"},
		},
		{
			name: "invalid bearer falls through to api key",
			headers: map[string]string{
				AuthorizationHeader: "Bearer bogus",
				APIKeyHeader:        "rk_abc",
			},
			want: CallerIdentity{OwnerID: "owner-2"},
		},
		{
			name: "invalid api key falls through to slug",
			headers: map[string]string{
				APIKeyHeader:  "rk_bogus",
				AppSlugHeader: "mobile",
			},
			want: CallerIdentity{OwnerID: "owner-3", AppID: "app-1"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}

			id, err := ir.Resolve(context.Background(), r)
			if err != nil {
				t.Fatal(err)
			}
			if *id != tc.want {
				t.Errorf("got %+v, want %+v", *id, tc.want)
			}
		})
	}
}

// A failed resolution must look the same regardless of which credentials
// were present, so one scheme cannot be used to probe another.
func TestResolveUniformDecline(t *testing.T) {
	ir := NewIdentityResolver(testDirectory())

	headerSets := []map[string]string{
		{},
		{AuthorizationHeader: "Bearer bogus"},
		{APIKeyHeader: "rk_bogus"},
		{AppSlugHeader: "nope"},
		{AppIDHeader: "nope"},
		{AuthorizationHeader: "Bearer bogus", APIKeyHeader: "rk_bogus", AppSlugHeader: "nope"},
		{AuthorizationHeader: "Basic dXNlcjpwYXNz"},
	}

	var msgs []string
	for _, hs := range headerSets {
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		for k, v := range hs {
			r.Header.Set(k, v)
		}

		_, err := ir.Resolve(context.Background(), r)
		if err == nil {
			t.Fatalf("expected error for headers %v", hs)
		}
		var e *Error
		if !errors.As(err, &e) {
			t.Fatalf("unexpected error type %T", err)
		}
		if e.Status != http.StatusUnauthorized {
			t.Errorf("status: got %d, want 401", e.Status)
		}
		msgs = append(msgs, e.Message)
	}

	for i := 1; i < len(msgs); i++ {
		if msgs[i] != msgs[0] {
			t.Errorf("message %d differs: %q vs %q", i, msgs[i], msgs[0])
		}
	}
}

type failingDirectory struct {
	*fakeDirectory
	err error
}

func (d failingDirectory) FindOwnerByAPIKey(context.Context, string) (string, error) {
	return "", d.err
}

func TestResolveInfrastructureError(t *testing.T) {
	infraErr := errors.New("db is down")
	ir := NewIdentityResolver(failingDirectory{fakeDirectory: testDirectory(), err: infraErr})

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.Header.Set(APIKeyHeader, "rk_abc")

	_, err := ir.Resolve(context.Background(), r)
	if !errors.Is(err, infraErr) {
		t.Fatalf("got %v, want wrapped infrastructure error", err)
	}
}
