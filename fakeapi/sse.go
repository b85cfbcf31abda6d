// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package fakeapi

import (
	"fmt"
	"net/http"
	"time"
)

// eventsHandler implements the /events/{count} endpoint.
// It emits count server-sent events and closes the stream. The interval
// between events is controlled with the interval_ms query parameter.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path[len("/events/"):]

	count, ok := atoi(w, p)
	if !ok {
		return
	}

	interval := 100 * time.Millisecond
	if ms := r.URL.Query().Get("interval_ms"); ms != "" {
		v, ok := atoi(w, ms)
		if !ok {
			return
		}
		interval = time.Duration(v) * time.Millisecond
	}

	// Make sure that the writer supports flushing.
	f, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	for i := 1; i <= count; i++ {
		if err := r.Context().Err(); err != nil {
			return
		}

		fmt.Fprintf(w, "data: Message: %d\n\n", i)
		f.Flush()

		if i < count {
			time.Sleep(interval)
		}
	}
}
