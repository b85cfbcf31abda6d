// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saucelabs/relay/directory"
	"github.com/saucelabs/relay/fakeapi"
	"github.com/saucelabs/relay/featureflag"
	"github.com/saucelabs/relay/quota"
	"github.com/saucelabs/relay/vault"
)

var testMasterKey = []byte("0123456789abcdef0123456789abcdef")

type proxyFixture struct {
	dir   *fakeDirectory
	vault *vault.Vault
	rec   *captureRecorder

	config *ProxyConfig
	quota  quota.Checker
	flags  featureflag.Store

	endpoints []Endpoint
}

func newProxyFixture(t *testing.T) *proxyFixture {
	t.Helper()

	v, err := vault.New(testMasterKey)
	if err != nil {
		t.Fatal(err)
	}

	d := newFakeDirectory()
	d.addApp("app-1", "mobile", "owner-1")
	d.ownersByKey["rk_abc"] = "owner-1"
	d.usersByToken["tok-1"] = &directory.User{ID: "owner-1", Name: "alice"}
	d.issuedKeys["owner-1"] = "rk_abc"

	return &proxyFixture{
		dir:    d,
		vault:  v,
		rec:    &captureRecorder{},
		config: DefaultProxyConfig(),
	}
}

func (fx *proxyFixture) addEndpoint(t *testing.T, def string) {
	t.Helper()
	e, err := ParseEndpoint(def)
	if err != nil {
		t.Fatal(err)
	}
	fx.endpoints = append(fx.endpoints, e)
}

func (fx *proxyFixture) server(t *testing.T) *httptest.Server {
	t.Helper()

	reg, err := NewRegistry(fx.endpoints...)
	if err != nil {
		t.Fatal(err)
	}

	p, err := NewProxy(fx.config, reg, Services{
		Directory: fx.dir,
		Secrets:   fx.dir,
		Vault:     fx.vault,
		Quota:     fx.quota,
		Flags:     fx.flags,
		Usage:     fx.rec,
	}, nil, NopLogger)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	return srv
}

type echoResponse struct {
	Method  string      `json:"method"`
	Path    string      `json:"path"`
	Query   string      `json:"query"`
	Headers http.Header `json:"headers"`
	Body    string      `json:"body"`
}

func decodeEcho(t *testing.T, res *http.Response) (e echoResponse) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	return
}

func TestProxyBearerInjection(t *testing.T) {
	upstream := httptest.NewServer(fakeapi.Handler())
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.dir.putSecret(fx.vault, "owner-1", "PROVIDERX_KEY", "secret-token-9000")
	fx.addEndpoint(t, "providerx:"+upstream.URL+",secret=PROVIDERX_KEY")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/proxy/providerx/echo?q=1", strings.NewReader(`{"in":true}`))
	req.Header.Set(AppSlugHeader, "mobile")
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", res.StatusCode)
	}

	e := decodeEcho(t, res)
	if got := e.Headers.Get("Authorization"); got != "Bearer secret-token-9000" {
		t.Errorf("authorization: got %q", got)
	}
	if e.Path != "/echo" || e.Query != "q=1" {
		t.Errorf("path: got %q query %q", e.Path, e.Query)
	}
	if e.Body != `{"in":true}` {
		t.Errorf("body: got %q", e.Body)
	}
	if got := e.Headers.Get("Content-Type"); got != "application/json" {
		t.Errorf("content type: got %q", got)
	}

	// Caller credentials must not reach the upstream.
	if got := e.Headers.Get(AppSlugHeader); got != "" {
		t.Errorf("app slug leaked upstream: %q", got)
	}
}

func TestProxyCustomHeaderInjection(t *testing.T) {
	upstream := httptest.NewServer(fakeapi.Handler())
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.dir.putSecret(fx.vault, "owner-1", "LEGACY_KEY", "secret_123")
	fx.addEndpoint(t, "legacy:"+upstream.URL+",secret=LEGACY_KEY,header=x-api-key")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/legacy/echo", http.NoBody)
	req.Header.Set(APIKeyHeader, "rk_abc")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	e := decodeEcho(t, res)
	if got := e.Headers.Get("x-api-key"); got != "secret_123" {
		t.Errorf("x-api-key: got %q", got)
	}
	if got := e.Headers.Get("Authorization"); got != "" {
		t.Errorf("unexpected authorization header %q", got)
	}
}

func TestProxyMissingSecretNamesIt(t *testing.T) {
	var upstreamHits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits.Add(1)
	}))
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.addEndpoint(t, "providerx:"+upstream.URL+",secret=PROVIDERX_KEY")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/providerx/v1/data", http.NoBody)
	req.Header.Set(AppSlugHeader, "mobile")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", res.StatusCode)
	}
	if got := res.Header.Get(ErrorHeader); got != "No PROVIDERX_KEY configured" {
		t.Errorf("error header: got %q", got)
	}
	if n := upstreamHits.Load(); n != 0 {
		t.Errorf("upstream was contacted %d times", n)
	}

	recs := fx.rec.all()
	if len(recs) != 1 || recs[0].Status != http.StatusUnauthorized {
		t.Errorf("usage records: %+v", recs)
	}
}

// An unregistered endpoint name is 404 no matter what credentials the
// request carries.
func TestProxyUnknownEndpoint(t *testing.T) {
	fx := newProxyFixture(t)
	fx.addEndpoint(t, "providerx:https://api.providerx.com,secret=PROVIDERX_KEY")
	srv := fx.server(t)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "valid auth", headers: map[string]string{AppSlugHeader: "mobile"}},
		{name: "no auth", headers: nil},
		{name: "invalid auth", headers: map[string]string{APIKeyHeader: "bogus"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/doesnotexist/x", http.NoBody)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}

			res, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer res.Body.Close()

			if res.StatusCode != http.StatusNotFound {
				t.Errorf("status: got %d, want 404", res.StatusCode)
			}
		})
	}
}

func TestProxyUnauthenticated(t *testing.T) {
	fx := newProxyFixture(t)
	fx.addEndpoint(t, "providerx:https://api.providerx.com,secret=PROVIDERX_KEY")
	srv := fx.server(t)

	res, err := http.Get(srv.URL + "/proxy/providerx/v1")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", res.StatusCode)
	}
	if len(fx.rec.all()) != 0 {
		t.Errorf("unattributed request must not be recorded: %+v", fx.rec.all())
	}
}

func TestProxyStatusPassthrough(t *testing.T) {
	upstream := httptest.NewServer(fakeapi.Handler())
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.dir.putSecret(fx.vault, "owner-1", "K", "v")
	fx.addEndpoint(t, "providerx:"+upstream.URL+",secret=K")
	srv := fx.server(t)

	for _, code := range []int{201, 204, 404, 503} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/providerx/status/"+strconv.Itoa(code), http.NoBody)
		req.Header.Set(AppSlugHeader, "mobile")

		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()

		if res.StatusCode != code {
			t.Errorf("status: got %d, want %d", res.StatusCode, code)
		}
	}
}

func TestProxyRateLimited(t *testing.T) {
	fx := newProxyFixture(t)
	fx.quota = denyAll{}
	fx.addEndpoint(t, "providerx:https://api.providerx.com,secret=K")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/providerx/v1", http.NoBody)
	req.Header.Set(AppSlugHeader, "mobile")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status: got %d, want 429", res.StatusCode)
	}
}

func TestProxySelfEndpoint(t *testing.T) {
	upstream := httptest.NewServer(fakeapi.Handler())
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.flags = featureflag.Static{"owner-1/self-api": true}
	fx.addEndpoint(t, "self-api:"+upstream.URL+",self")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/self-api/echo", http.NoBody)
	req.Header.Set(AppSlugHeader, "mobile")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	e := decodeEcho(t, res)
	if got := e.Headers.Get("Authorization"); got != "Bearer rk_abc" {
		t.Errorf("authorization: got %q, want caller's issued key", got)
	}
}

func TestProxySelfEndpointFeatureDisabled(t *testing.T) {
	fx := newProxyFixture(t)
	fx.addEndpoint(t, "self-api:https://api.local,self")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/self-api/echo", http.NoBody)
	req.Header.Set(AppSlugHeader, "mobile")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusForbidden {
		t.Errorf("status: got %d, want 403", res.StatusCode)
	}
}

func TestProxyRequestBodyLimitPreDial(t *testing.T) {
	var upstreamHits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits.Add(1)
	}))
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.config.RequestBodyLimit = 1 * KiByte
	fx.dir.putSecret(fx.vault, "owner-1", "K", "v")
	fx.addEndpoint(t, "providerx:"+upstream.URL+",secret=K")
	srv := fx.server(t)

	body := strings.Repeat("x", 2048)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/proxy/providerx/v1", strings.NewReader(body))
	req.Header.Set(AppSlugHeader, "mobile")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", res.StatusCode)
	}
	if n := upstreamHits.Load(); n != 0 {
		t.Errorf("upstream was contacted %d times", n)
	}
}

func TestProxyResponseBodyLimit(t *testing.T) {
	upstream := httptest.NewServer(fakeapi.Handler())
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.config.ResponseBodyLimit = 1 * KiByte
	fx.dir.putSecret(fx.vault, "owner-1", "K", "v")
	fx.addEndpoint(t, "providerx:"+upstream.URL+",secret=K")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/providerx/stream-bytes/2048", http.NoBody)
	req.Header.Set(AppSlugHeader, "mobile")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", res.StatusCode)
	}
}

func TestProxyUpstreamTimeout(t *testing.T) {
	upstream := httptest.NewServer(fakeapi.Handler())
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.config.UpstreamTimeout = 100 * time.Millisecond
	fx.dir.putSecret(fx.vault, "owner-1", "K", "v")
	fx.addEndpoint(t, "providerx:"+upstream.URL+",secret=K")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/providerx/delay/5000", http.NoBody)
	req.Header.Set(AppSlugHeader, "mobile")

	start := time.Now()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	elapsed := time.Since(start)

	if res.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status: got %d, want 504", res.StatusCode)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timeout took %s, want around 100ms", elapsed)
	}
}

func TestProxyUpstreamTimeoutCancelsUpstream(t *testing.T) {
	done := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(done)
	}))
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.config.UpstreamTimeout = 50 * time.Millisecond
	fx.dir.putSecret(fx.vault, "owner-1", "K", "v")
	fx.addEndpoint(t, "providerx:"+upstream.URL+",secret=K")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/providerx/v1", http.NoBody)
	req.Header.Set(AppSlugHeader, "mobile")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status: got %d, want 504", res.StatusCode)
	}

	// The timeout must propagate to the upstream request context so the
	// connection is not left hanging.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request context not cancelled after timeout")
	}
}

func TestProxyClientDisconnectCancelsUpstream(t *testing.T) {
	done := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: first\n\n"))
		f.Flush()

		<-r.Context().Done()
		close(done)
	}))
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.dir.putSecret(fx.vault, "owner-1", "K", "v")
	fx.addEndpoint(t, "providerx:"+upstream.URL+",secret=K")
	srv := fx.server(t)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/proxy/providerx/events", http.NoBody)
	req.Header.Set(AppSlugHeader, "mobile")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	defer res.Body.Close()

	r := bufio.NewReader(res.Body)
	if _, err := r.ReadString('\n'); err != nil {
		cancel()
		t.Fatal(err)
	}

	// Dropping the client must tear down the upstream request as well.
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request context not cancelled after client disconnect")
	}
}

func TestProxyUpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	upstream.Close() // get a dead address

	fx := newProxyFixture(t)
	fx.dir.putSecret(fx.vault, "owner-1", "K", "v")
	fx.addEndpoint(t, "providerx:"+upstream.URL+",secret=K")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/providerx/v1", http.NoBody)
	req.Header.Set(AppSlugHeader, "mobile")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadGateway {
		t.Errorf("status: got %d, want 502", res.StatusCode)
	}
}

// An event stream must reach the client incrementally, before the
// upstream response completes.
func TestProxyEventStreamIncremental(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		w.Write([]byte("data: first\n\n"))
		f.Flush()

		<-release
		w.Write([]byte("data: second\n\n"))
	}))
	defer upstream.Close()
	defer close(release)

	fx := newProxyFixture(t)
	fx.dir.putSecret(fx.vault, "owner-1", "K", "v")
	fx.addEndpoint(t, "providerx:"+upstream.URL+",secret=K")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/providerx/events", http.NoBody)
	req.Header.Set(AppSlugHeader, "mobile")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: got %q", ct)
	}

	// The first event must arrive while the upstream handler is still
	// blocked on the release channel.
	r := bufio.NewReader(res.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "data: first\n" {
		t.Errorf("first line: got %q", line)
	}
}

func TestCopyResponseHeaders(t *testing.T) {
	src := http.Header{
		"Content-Type":      {"application/json"},
		"X-Request-Id":      {"abc"},
		"Connection":        {"keep-alive, X-Conn-Token"},
		"Keep-Alive":        {"timeout=5"},
		"Transfer-Encoding": {"chunked"},
		"X-Conn-Token":      {"opaque"},
	}

	dst := http.Header{}
	copyResponseHeaders(dst, src)

	for _, h := range []string{"Content-Type", "X-Request-Id"} {
		if dst.Get(h) == "" {
			t.Errorf("%s: missing", h)
		}
	}
	// Hop-by-hop headers and headers nominated by Connection must not
	// cross the proxy.
	for _, h := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "X-Conn-Token"} {
		if v := dst.Get(h); v != "" {
			t.Errorf("%s: got %q, want stripped", h, v)
		}
	}
}

func TestProxyReload(t *testing.T) {
	upstream := httptest.NewServer(fakeapi.Handler())
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.dir.putSecret(fx.vault, "owner-1", "K", "v")
	fx.addEndpoint(t, "old:"+upstream.URL+",secret=K")

	reg, err := NewRegistry(fx.endpoints...)
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewProxy(fx.config, reg, Services{
		Directory: fx.dir,
		Secrets:   fx.dir,
		Vault:     fx.vault,
	}, nil, NopLogger)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	get := func(path string) int {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, http.NoBody)
		req.Header.Set(AppSlugHeader, "mobile")
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		return res.StatusCode
	}

	if got := get("/proxy/new/echo"); got != http.StatusNotFound {
		t.Fatalf("before reload: got %d, want 404", got)
	}

	reg2, err := NewRegistry(mustParseEndpoint(t, "new:"+upstream.URL+",secret=K"))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Reload(reg2); err != nil {
		t.Fatal(err)
	}

	if got := get("/proxy/new/echo"); got != http.StatusOK {
		t.Errorf("after reload: got %d, want 200", got)
	}
	if got := get("/proxy/old/echo"); got != http.StatusNotFound {
		t.Errorf("after reload: got %d, want 404 for removed endpoint", got)
	}
}

func TestProxyPathMapping(t *testing.T) {
	upstream := httptest.NewServer(fakeapi.Handler())
	defer upstream.Close()

	fx := newProxyFixture(t)
	fx.dir.putSecret(fx.vault, "owner-1", "K", "v")
	// Trailing slash on the base URL must not double up in the joined path.
	fx.addEndpoint(t, "versioned:"+upstream.URL+"/,secret=K")
	srv := fx.server(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proxy/versioned/echo", http.NoBody)
	req.Header.Set(AppSlugHeader, "mobile")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	e2 := decodeEcho(t, res)
	if e2.Path != "/echo" {
		t.Errorf("path: got %q, want /echo", e2.Path)
	}
}
