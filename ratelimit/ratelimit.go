// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ratelimit caps the aggregate read and write bandwidth of a
// listener. All connections accepted from a limited listener share the
// same token buckets.
package ratelimit

import (
	"context"
	"net"

	"golang.org/x/time/rate"
)

// Must be bigger than the biggest request.
const defaultMaxBurstSize = 4 * 1024 * 1024

func newBandwidthLimiter(bandwidth int64) *rate.Limiter {
	// Scale the burst with the limit above 256MiB/s, see
	// https://github.com/rclone/rclone/issues/5507.
	maxBurstSize := bandwidth / 64
	if maxBurstSize < defaultMaxBurstSize {
		maxBurstSize = defaultMaxBurstSize
	}
	return rate.NewLimiter(rate.Limit(bandwidth), int(maxBurstSize))
}

// Listener wraps a net.Listener and throttles all accepted connections
// with shared read and write limiters. A zero bandwidth disables the
// corresponding direction.
type Listener struct {
	net.Listener
	rxLimiter *rate.Limiter
	txLimiter *rate.Limiter
}

func NewListener(l net.Listener, rxBandwidth, txBandwidth int64) *Listener {
	var rx, tx *rate.Limiter
	if rxBandwidth > 0 {
		rx = newBandwidthLimiter(rxBandwidth)
	}
	if txBandwidth > 0 {
		tx = newBandwidthLimiter(txBandwidth)
	}

	return &Listener{
		Listener:  l,
		rxLimiter: rx,
		txLimiter: tx,
	}
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	return &Conn{
		Conn:      c,
		rxLimiter: l.rxLimiter,
		txLimiter: l.txLimiter,
	}, nil
}

// Conn throttles reads and writes against the listener-wide limiters.
type Conn struct {
	net.Conn
	rxLimiter *rate.Limiter
	txLimiter *rate.Limiter
}

var waitContext = context.Background()

func (c *Conn) Read(b []byte) (n int, err error) {
	n, err = c.Conn.Read(b)
	if n > 0 && c.rxLimiter != nil {
		c.rxLimiter.WaitN(waitContext, n) //nolint:errcheck // background context
	}
	return
}

func (c *Conn) Write(b []byte) (n int, err error) {
	n, err = c.Conn.Write(b)
	if n > 0 && c.txLimiter != nil {
		c.txLimiter.WaitN(waitContext, n) //nolint:errcheck // background context
	}
	return
}
