// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/saucelabs/relay/directory"
	"github.com/saucelabs/relay/featureflag"
	"github.com/saucelabs/relay/log"
	"github.com/saucelabs/relay/quota"
	"github.com/saucelabs/relay/usage"
	"github.com/saucelabs/relay/vault"
)

type ProxyConfig struct {
	// BasePath is the URL prefix under which endpoints are exposed.
	BasePath string
	// UpstreamTimeout bounds the whole upstream exchange, from dialing
	// until the last response byte is relayed.
	UpstreamTimeout time.Duration
	// RequestBodyLimit is the maximum accepted request body size.
	RequestBodyLimit SizeSuffix
	// ResponseBodyLimit is the maximum relayed response body size.
	// It does not apply to event streams.
	ResponseBodyLimit SizeSuffix
	// SelfFeatureFlag gates access to self endpoints per owner.
	SelfFeatureFlag string

	PromNamespace string
	PromRegistry  *prometheus.Registry
}

func DefaultProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		BasePath:          "/proxy",
		UpstreamTimeout:   30 * time.Second,
		RequestBodyLimit:  4 * MiByte,
		ResponseBodyLimit: 16 * MiByte,
		SelfFeatureFlag:   "self-api",
	}
}

func (c *ProxyConfig) Validate() error {
	if !strings.HasPrefix(c.BasePath, "/") || strings.HasSuffix(c.BasePath, "/") {
		return fmt.Errorf("base path must start and must not end with a slash")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}
	if c.RequestBodyLimit <= 0 || c.ResponseBodyLimit <= 0 {
		return fmt.Errorf("body limits must be positive")
	}
	return nil
}

// Services are the collaborators the proxy consults per request.
// Directory and Secrets are required, the rest default to no-op
// implementations.
type Services struct {
	Directory directory.Directory
	Secrets   directory.SecretStore
	Vault     *vault.Vault
	Quota     quota.Checker
	Flags     featureflag.Store
	Usage     usage.Recorder
}

// Proxy forwards authenticated requests to registered upstream endpoints,
// injecting the owner's decrypted secret on the way out. Secret values
// never appear in errors, logs or usage records.
type Proxy struct {
	config   ProxyConfig
	registry atomic.Pointer[Registry]
	resolver *IdentityResolver
	svc      Services
	rt       http.RoundTripper
	log      log.Logger
	handler  http.Handler
}

func NewProxy(cfg *ProxyConfig, reg *Registry, svc Services, rt http.RoundTripper, log log.Logger) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if svc.Directory == nil || svc.Secrets == nil || svc.Vault == nil {
		return nil, fmt.Errorf("directory, secrets and vault services are required")
	}
	if svc.Quota == nil {
		svc.Quota = quota.AllowAll{}
	}
	if svc.Flags == nil {
		svc.Flags = featureflag.Disabled{}
	}
	if svc.Usage == nil {
		svc.Usage = usage.NopRecorder{}
	}
	if rt == nil {
		rt = http.DefaultTransport
	}

	p := &Proxy{
		config:   *cfg,
		resolver: NewIdentityResolver(svc.Directory),
		svc:      svc,
		rt:       rt,
		log:      log,
	}
	p.registry.Store(reg)
	p.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodHead,
		},
		AllowedHeaders: []string{
			AuthorizationHeader, APIKeyHeader, AppSlugHeader, AppIDHeader,
			"Content-Type", "Accept",
		},
	}).Handler(http.HandlerFunc(p.serve))

	return p, nil
}

// Handler returns the proxy HTTP handler. It serves all methods under
// <base path>/<endpoint>/<upstream path>.
func (p *Proxy) Handler() http.Handler {
	return p.handler
}

// Reload replaces the endpoint registry. In-flight requests keep the
// registry they started with.
func (p *Proxy) Reload(reg *Registry) error {
	if reg == nil {
		return fmt.Errorf("registry is required")
	}
	p.registry.Store(reg)
	return nil
}

func (p *Proxy) serve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	endpointName, rest, ok := p.splitPath(r.URL.Path)
	if !ok {
		writeError(w, errUnknownEndpoint(strings.TrimPrefix(r.URL.Path, p.config.BasePath+"/")))
		return
	}

	id, endpoint, perr := p.admit(r, endpointName)
	if perr != nil {
		p.fail(w, r, perr)
		if id != nil {
			p.record(id, endpointName, perr.Status, start)
		}
		return
	}

	status := p.forward(w, r, id, endpoint, rest)
	p.record(id, endpointName, status, start)
}

// admit looks up the endpoint, resolves the caller and runs the
// per-endpoint admission checks. The endpoint existence check comes
// first: an unregistered name is 404 no matter what credentials the
// request carries. On admission failure after the caller was resolved
// the identity is still returned, so usage can be attributed.
func (p *Proxy) admit(r *http.Request, endpointName string) (*CallerIdentity, Endpoint, *Error) {
	endpoint, ok := p.registry.Load().Lookup(endpointName)
	if !ok {
		return nil, Endpoint{}, errUnknownEndpoint(endpointName)
	}

	id, err := p.resolver.Resolve(r.Context(), r)
	if err != nil {
		return nil, Endpoint{}, asError(err)
	}

	if endpoint.Self {
		if !p.svc.Flags.IsEnabled(r.Context(), id.OwnerID, p.config.SelfFeatureFlag) {
			return id, Endpoint{}, errFeatureDisabled(p.config.SelfFeatureFlag)
		}
		return id, endpoint, nil
	}

	d, err := p.svc.Quota.CheckAndConsume(r.Context(), id.OwnerID, endpoint.Name)
	if err != nil {
		return id, Endpoint{}, errInternal(err)
	}
	if !d.Allowed {
		return id, Endpoint{}, errRateLimited()
	}

	return id, endpoint, nil
}

// credential returns the plaintext credential to inject for the endpoint.
// For self endpoints it is the caller's own issued API key, otherwise the
// owner's stored secret decrypted with the vault.
func (p *Proxy) credential(ctx context.Context, id *CallerIdentity, endpoint Endpoint) (string, *Error) {
	if endpoint.Self {
		key, err := p.svc.Directory.OwnIssuedAPIKey(ctx, id.OwnerID)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return "", errNoIssuedKey()
			}
			return "", errInternal(err)
		}
		return key, nil
	}

	if endpoint.SecretName == "" {
		return "", nil
	}

	env, err := p.svc.Secrets.GetSecret(ctx, id.OwnerID, endpoint.SecretName)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return "", errNoSecret(endpoint.SecretName)
		}
		return "", errInternal(err)
	}

	secret, err := p.svc.Vault.Decrypt(env)
	if err != nil {
		return "", errInternal(err)
	}
	return secret, nil
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, id *CallerIdentity, endpoint Endpoint, rest string) int {
	secret, perr := p.credential(r.Context(), id, endpoint)
	if perr != nil {
		p.fail(w, r, perr)
		return perr.Status
	}

	body, perr := p.readBody(r)
	if perr != nil {
		p.fail(w, r, perr)
		return perr.Status
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.config.UpstreamTimeout)
	defer cancel()

	req, err := p.outboundRequest(ctx, r, endpoint, rest, secret, body)
	if err != nil {
		p.fail(w, r, errInternal(err))
		return http.StatusInternalServerError
	}

	res, err := p.rt.RoundTrip(req)
	if err != nil {
		perr := upstreamError(ctx, err)
		p.fail(w, r, perr)
		return perr.Status
	}
	defer res.Body.Close()

	return p.relay(w, r, res)
}

// outboundRequest builds the upstream request. Caller identification
// headers never cross the proxy, only an allowlist of content headers is
// forwarded before the endpoint's auth scheme is applied.
func (p *Proxy) outboundRequest(ctx context.Context, r *http.Request, endpoint Endpoint, rest, secret string, body []byte) (*http.Request, error) {
	u := *endpoint.TargetBaseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + rest
	u.RawQuery = r.URL.RawQuery

	var br io.Reader
	if body != nil {
		br = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), br)
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(body))

	for _, h := range forwardedHeaders {
		if v := r.Header.Values(h); len(v) > 0 {
			req.Header[h] = v
		}
	}
	// Upstream compression would have to be relayed verbatim, ask for
	// identity so body limits and event streams see plain bytes.
	req.Header.Set("Accept-Encoding", "identity")
	endpoint.Auth.Apply(req.Header, secret)

	return req, nil
}

var forwardedHeaders = []string{
	"Content-Type",
	"Accept",
	"Accept-Language",
}

// readBody buffers the request body up to the configured ceiling.
// Oversized bodies are rejected before any upstream connection is made.
func (p *Proxy) readBody(r *http.Request) ([]byte, *Error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	limit := int64(p.config.RequestBodyLimit)
	if r.ContentLength > limit {
		return nil, errRequestTooLarge(p.config.RequestBodyLimit)
	}

	b, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, errInternal(err)
	}
	if int64(len(b)) > limit {
		return nil, errRequestTooLarge(p.config.RequestBodyLimit)
	}
	return b, nil
}

// relay copies the upstream response to the client. The upstream status
// is passed through verbatim. Event streams are relayed incrementally
// with a flush per chunk, everything else is bounded by the response
// body limit.
func (p *Proxy) relay(w http.ResponseWriter, r *http.Request, res *http.Response) int {
	if isEventStream(res) {
		return p.relayStream(w, res)
	}

	limit := int64(p.config.ResponseBodyLimit)
	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		p.log.Debugf("read upstream response: %s", err)
		perr := upstreamError(r.Context(), err)
		p.fail(w, r, perr)
		return perr.Status
	}
	if int64(len(body)) > limit {
		p.fail(w, r, errResponseTooLarge(p.config.ResponseBodyLimit))
		return http.StatusRequestEntityTooLarge
	}

	copyResponseHeaders(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if _, err := w.Write(body); err != nil {
		p.log.Debugf("write response: %s", err)
	}
	return res.StatusCode
}

const streamChunkSize = 4 * 1024

func (p *Proxy) relayStream(w http.ResponseWriter, res *http.Response) int {
	copyResponseHeaders(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)

	f, _ := w.(http.Flusher)
	buf := make([]byte, streamChunkSize)
	for {
		n, err := res.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				p.log.Debugf("write event stream: %s", werr)
				break
			}
			if f != nil {
				f.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				p.log.Debugf("read event stream: %s", err)
			}
			break
		}
	}
	return res.StatusCode
}

func isEventStream(res *http.Response) bool {
	ct := res.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct) == "text/event-stream"
}

// copyResponseHeaders forwards upstream response headers except
// hop-by-hop ones, including headers nominated by the upstream's
// Connection header per RFC 9110 section 7.6.1.
func copyResponseHeaders(dst, src http.Header) {
	nominated := connectionHeaders(src)
	for k, v := range src {
		if isHopByHop(k) || nominated[http.CanonicalHeaderKey(k)] {
			continue
		}
		dst[k] = v
	}
}

func connectionHeaders(h http.Header) map[string]bool {
	var m map[string]bool
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if m == nil {
				m = make(map[string]bool)
			}
			m[http.CanonicalHeaderKey(name)] = true
		}
	}
	return m
}

var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if http.CanonicalHeaderKey(name) == h {
			return true
		}
	}
	return false
}

// splitPath extracts the endpoint name and the upstream path from the
// request path. The upstream path always starts with a slash.
func (p *Proxy) splitPath(path string) (endpoint, rest string, ok bool) {
	return splitEndpointPath(p.config.BasePath, path)
}

func splitEndpointPath(basePath, path string) (endpoint, rest string, ok bool) {
	prefix := basePath + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	tail := strings.TrimPrefix(path, prefix)
	if tail == "" {
		return "", "", false
	}
	if i := strings.IndexByte(tail, '/'); i >= 0 {
		return tail[:i], tail[i:], tail[:i] != ""
	}
	return tail, "/", true
}

// EndpointLabeler returns a metrics labeler extracting the endpoint name
// from the request path. Paths that do not resolve to a registered
// endpoint are labeled "unknown" to keep the label cardinality bounded.
func EndpointLabeler(basePath string, reg *Registry) func(r *http.Request) string {
	return func(r *http.Request) string {
		if name, _, ok := splitEndpointPath(basePath, r.URL.Path); ok {
			if _, found := reg.Lookup(name); found {
				return name
			}
		}
		return "unknown"
	}
}

func upstreamError(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errGatewayTimeout(err)
	}
	return errUpstream(err)
}

func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return errInternal(err)
}

func (p *Proxy) fail(w http.ResponseWriter, r *http.Request, e *Error) {
	if e.Status >= http.StatusInternalServerError {
		p.log.Errorf("%s %s: %s", r.Method, r.URL.Path, e)
	} else {
		p.log.Debugf("%s %s: %s", r.Method, r.URL.Path, e)
	}
	writeError(w, e)
}

func (p *Proxy) record(id *CallerIdentity, endpoint string, status int, start time.Time) {
	p.svc.Usage.Record(usage.Record{
		OwnerID:   id.OwnerID,
		AppID:     id.AppID,
		Endpoint:  endpoint,
		Status:    status,
		Duration:  time.Since(start),
		Timestamp: start,
	})
}
