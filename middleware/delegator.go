// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package middleware provides HTTP handler wrappers for metrics and
// request logging.
package middleware

import (
	"net/http"
)

// delegator wraps http.ResponseWriter to capture status and bytes
// written. Flush is forwarded so event streams keep working through
// wrapped handlers.
type delegator struct {
	http.ResponseWriter

	status  int
	written int64
}

func newDelegator(w http.ResponseWriter) *delegator {
	return &delegator{ResponseWriter: w}
}

func (d *delegator) WriteHeader(code int) {
	if d.status == 0 {
		d.status = code
	}
	d.ResponseWriter.WriteHeader(code)
}

func (d *delegator) Write(b []byte) (int, error) {
	if d.status == 0 {
		d.status = http.StatusOK
	}
	n, err := d.ResponseWriter.Write(b)
	d.written += int64(n)
	return n, err
}

func (d *delegator) Flush() {
	if f, ok := d.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (d *delegator) Status() int {
	if d.status == 0 {
		return http.StatusOK
	}
	return d.status
}

func (d *delegator) Written() int64 {
	return d.written
}
