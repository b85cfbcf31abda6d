// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fakeapi implements a fake upstream API for testing and demos.
// It echoes requests back, produces arbitrary statuses, delays, byte
// streams and server-sent event streams.
package fakeapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Handler returns an http.Handler with the following endpoints:
// `/echo`, `/status/{code}`, `/delay/{ms}`, `/stream-bytes/{bytes}`,
// `/events/{count}`.
func Handler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/echo", echoHandler)
	m.HandleFunc("/status/", statusHandler)
	m.HandleFunc("/delay/", delayHandler)
	m.HandleFunc("/stream-bytes/", streamBytesHandler)
	m.HandleFunc("/events/", eventsHandler)
	return m
}

// echoHandler returns the received request line, headers and body as
// JSON. Proxied credential injection is asserted against this endpoint.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type echo struct {
		Method  string      `json:"method"`
		Path    string      `json:"path"`
		Query   string      `json:"query,omitempty"`
		Headers http.Header `json:"headers"`
		Body    string      `json:"body,omitempty"`
	}

	writeJSON(w, echo{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: r.Header,
		Body:    string(body),
	})
}

// statusHandler implements the /status/{code} endpoint.
func statusHandler(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path[len("/status/"):]

	c, ok := atoi(w, p)
	if !ok {
		return
	}
	w.WriteHeader(c)

	q := r.URL.Query()
	if b := q.Get("body"); b == "true" {
		w.Write([]byte(http.StatusText(c)))
	}
}

// delayHandler implements the /delay/{ms} endpoint.
func delayHandler(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path[len("/delay/"):]

	ms, ok := atoi(w, p)
	if !ok {
		return
	}

	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	select {
	case <-r.Context().Done():
		t.Stop()
	case <-t.C:
		w.WriteHeader(http.StatusOK)
	}
}

// streamPattern fills /stream-bytes responses. The content only matters
// in that it is non-zero and repeats, so truncation is visible.
var streamPattern = []byte("0123456789abcdef")

// streamBytesHandler implements the /stream-bytes/{bytes} endpoint.
// The body is written in chunk_size pieces, flushed after each, so a
// client can observe partial delivery.
func streamBytesHandler(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path[len("/stream-bytes/"):]

	n, ok := atoi(w, p)
	if !ok {
		return
	}

	q := r.URL.Query()
	chunkSize := 10 * 1024
	if cs := q.Get("chunk_size"); cs != "" {
		chunkSize, ok = atoi(w, cs)
		if !ok {
			return
		}
		if chunkSize <= 0 {
			http.Error(w, "chunk_size must be positive", http.StatusBadRequest)
			return
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)

	buf := bytes.Repeat(streamPattern, chunkSize/len(streamPattern)+1)[:chunkSize]
	f, _ := w.(http.Flusher)
	for n > 0 {
		c := buf
		if n < len(c) {
			c = c[:n]
		}
		if _, err := w.Write(c); err != nil {
			return
		}
		if f != nil {
			f.Flush()
		}
		n -= len(c)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint // ignore error
}

func atoi(w http.ResponseWriter, s string) (int, bool) {
	v, err := strconv.Atoi(s)
	if err != nil {
		msg := fmt.Sprintf("invalid argument %q: %s", s, err)
		http.Error(w, msg, http.StatusBadRequest)
	}
	return v, err == nil
}
