// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// AuthScheme builds the outbound authorization header for a provider.
// It is the only place that sees the decrypted secret.
type AuthScheme interface {
	Apply(h http.Header, secret string)
	String() string
}

// BearerAuth sets "Authorization: Bearer <secret>".
type BearerAuth struct{}

func (BearerAuth) Apply(h http.Header, secret string) {
	h.Set(AuthorizationHeader, "Bearer "+secret)
}

func (BearerAuth) String() string { return "bearer" }

// HeaderAuth sets the secret verbatim in a provider-specific header,
// e.g. "x-api-key: <secret>".
type HeaderAuth struct {
	Name string
}

func (a HeaderAuth) Apply(h http.Header, secret string) {
	h.Set(a.Name, secret)
}

func (a HeaderAuth) String() string { return "header=" + a.Name }

// NoAuth sends no authorization header.
type NoAuth struct{}

func (NoAuth) Apply(http.Header, string) {}

func (NoAuth) String() string { return "none" }

// Endpoint maps a path segment to a target provider.
// Immutable after registration.
type Endpoint struct {
	// Name is the path segment after the proxy base path.
	Name string

	// TargetBaseURL is the provider base; the path suffix and query of the
	// inbound request are appended verbatim.
	TargetBaseURL *url.URL

	// SecretName is the stored secret injected for this provider.
	// Empty iff Self is set.
	SecretName string

	// Self marks the endpoint as targeting the proxy's own service API:
	// the caller's own issued key is injected instead of a stored secret.
	Self bool

	Auth AuthScheme
}

var endpointNameRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

func (e Endpoint) Validate() error {
	if !endpointNameRegex.MatchString(e.Name) {
		return fmt.Errorf("invalid endpoint name %q", e.Name)
	}
	if e.TargetBaseURL == nil {
		return fmt.Errorf("endpoint %q: target base URL is required", e.Name)
	}
	if e.TargetBaseURL.Scheme != "http" && e.TargetBaseURL.Scheme != "https" {
		return fmt.Errorf("endpoint %q: invalid target scheme %q", e.Name, e.TargetBaseURL.Scheme)
	}
	if e.Self && e.SecretName != "" {
		return fmt.Errorf("endpoint %q: self endpoints take no secret name", e.Name)
	}
	if !e.Self && e.SecretName == "" {
		return fmt.Errorf("endpoint %q: secret name is required", e.Name)
	}
	if e.Auth == nil {
		return fmt.Errorf("endpoint %q: auth scheme is required", e.Name)
	}

	return nil
}

// ParseEndpoint supports the following syntax:
//
//	<name>:<base URL>[,secret=<NAME>][,header=<header name>][,self][,noauth]
//
// The default auth scheme is bearer; header= switches to a custom header.
func ParseEndpoint(val string) (Endpoint, error) {
	name, rest, ok := strings.Cut(val, ":")
	if !ok {
		return Endpoint{}, fmt.Errorf("expected <name>:<base URL>")
	}

	e := Endpoint{Name: name, Auth: BearerAuth{}}

	parts := strings.Split(rest, ",")
	u, err := url.Parse(parts[0])
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", name, err)
	}
	e.TargetBaseURL = u

	for _, p := range parts[1:] {
		switch {
		case strings.HasPrefix(p, "secret="):
			e.SecretName = strings.TrimPrefix(p, "secret=")
		case strings.HasPrefix(p, "header="):
			e.Auth = HeaderAuth{Name: strings.TrimPrefix(p, "header=")}
		case p == "self":
			e.Self = true
		case p == "noauth":
			e.Auth = NoAuth{}
		default:
			return Endpoint{}, fmt.Errorf("endpoint %q: unknown option %q", name, p)
		}
	}

	if err := e.Validate(); err != nil {
		return Endpoint{}, err
	}

	return e, nil
}

func (e Endpoint) String() string {
	var sb strings.Builder
	sb.WriteString(e.Name)
	sb.WriteByte(':')
	sb.WriteString(e.TargetBaseURL.String())
	if e.SecretName != "" {
		sb.WriteString(",secret=")
		sb.WriteString(e.SecretName)
	}
	if e.Self {
		sb.WriteString(",self")
	}
	if _, ok := e.Auth.(BearerAuth); !ok {
		sb.WriteByte(',')
		sb.WriteString(e.Auth.String())
	}
	return sb.String()
}

// Registry is a read-only lookup table from endpoint name to endpoint.
// It is immutable at request time; a reload builds a new Registry.
type Registry struct {
	endpoints map[string]Endpoint
}

func NewRegistry(endpoints ...Endpoint) (*Registry, error) {
	m := make(map[string]Endpoint, len(endpoints))
	for _, e := range endpoints {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, ok := m[e.Name]; ok {
			return nil, fmt.Errorf("duplicate endpoint %q", e.Name)
		}
		m[e.Name] = e
	}

	return &Registry{endpoints: m}, nil
}

func (r *Registry) Lookup(name string) (Endpoint, bool) {
	e, ok := r.endpoints[name]
	return e, ok
}

// Names returns the registered endpoint names sorted, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.endpoints))
	for n := range r.endpoints {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
