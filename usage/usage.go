// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package usage records per-request usage of proxy endpoints.
// Recording is fire-and-forget: it must never block or fail the response
// that triggered it.
package usage

import "time"

// Record is a single proxied request. Append-only, write-once.
type Record struct {
	OwnerID   string
	AppID     string
	Endpoint  string
	Status    int
	Duration  time.Duration
	Timestamp time.Time
}

// Recorder accepts usage records. Implementations must not block.
type Recorder interface {
	Record(r Record)
}

// NopRecorder discards all records.
type NopRecorder struct{}

func (NopRecorder) Record(Record) {}

// Sink is the synchronous backend an AsyncRecorder drains into.
type Sink interface {
	Write(r Record)
}

// MultiSink fans a record out to several sinks.
type MultiSink []Sink

func (m MultiSink) Write(r Record) {
	for _, s := range m {
		s.Write(r)
	}
}
