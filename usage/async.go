// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package usage

import (
	"sync"
	"time"
)

const defaultQueueSize = 1024

// AsyncRecorder queues records on a bounded channel drained by a single
// goroutine. When the queue is full the record is dropped rather than
// blocking the caller; drops are counted and reported via Dropped.
type AsyncRecorder struct {
	sink Sink
	ch   chan Record

	mu      sync.Mutex
	dropped uint64
	closed  bool

	done chan struct{}
}

func NewAsyncRecorder(sink Sink, queueSize int) *AsyncRecorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	r := &AsyncRecorder{
		sink: sink,
		ch:   make(chan Record, queueSize),
		done: make(chan struct{}),
	}
	go r.drain()

	return r
}

func (r *AsyncRecorder) Record(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	select {
	case r.ch <- rec:
	default:
		r.dropped++
	}
	r.mu.Unlock()
}

// Dropped returns the number of records dropped due to a full queue.
func (r *AsyncRecorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting records, drains the queue and waits for the drain
// goroutine to finish.
func (r *AsyncRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	<-r.done
	return nil
}

func (r *AsyncRecorder) drain() {
	defer close(r.done)
	for rec := range r.ch {
		r.sink.Write(rec)
	}
}
