// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/saucelabs/relay/internal/version"
)

type readiness interface {
	Addr() string
}

// APIHandler serves the management API.
// It provides health and readiness endpoints, prometheus metrics, the
// endpoint listing, and pprof debug endpoints.
type APIHandler struct {
	mux      *http.ServeMux
	server   readiness
	registry *Registry
	config   string
}

func NewAPIHandler(r prometheus.Gatherer, s readiness, reg *Registry, config string) *APIHandler {
	m := http.NewServeMux()
	a := &APIHandler{
		mux:      m,
		server:   s,
		registry: reg,
		config:   config,
	}
	m.HandleFunc("/metrics", promhttp.HandlerFor(r, promhttp.HandlerOpts{}).ServeHTTP)
	m.HandleFunc("/healthz", a.healthz)
	m.HandleFunc("/readyz", a.readyz)
	m.HandleFunc("/configz", a.configz)
	m.HandleFunc("/endpointz", a.endpointz)
	m.HandleFunc("/version", a.version)

	m.HandleFunc("/debug/pprof/", pprof.Index)
	m.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return a
}

func (h *APIHandler) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *APIHandler) readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if h.server == nil || h.server.Addr() == "" {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Service Unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *APIHandler) configz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(h.config))
}

// endpointz lists registered endpoints. Secret values are never stored in
// the registry, only secret names appear here.
func (h *APIHandler) endpointz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	type endpoint struct {
		Name   string `json:"name"`
		Target string `json:"target"`
		Secret string `json:"secret,omitempty"`
		Self   bool   `json:"self,omitempty"`
		Auth   string `json:"auth"`
	}

	var list []endpoint
	for _, name := range h.registry.Names() {
		e, _ := h.registry.Lookup(name)
		list = append(list, endpoint{
			Name:   e.Name,
			Target: e.TargetBaseURL.String(),
			Secret: e.SecretName,
			Self:   e.Self,
			Auth:   e.Auth.String(),
		})
	}
	json.NewEncoder(w).Encode(list) //nolint // ignore error
}

func (h *APIHandler) version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	v := struct {
		Version string `json:"version"`
		Time    string `json:"time"`
		Commit  string `json:"commit"`

		GoArch    string `json:"go_arch"`
		GOOS      string `json:"go_os"`
		GoVersion string `json:"go_version"`
	}{
		Version: version.Version,
		Time:    version.Time,
		Commit:  version.Commit,

		GoArch:    runtime.GOARCH,
		GOOS:      runtime.GOOS,
		GoVersion: runtime.Version(),
	}
	json.NewEncoder(w).Encode(v) //nolint // ignore error
}

func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}
