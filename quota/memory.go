// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package quota

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// MemoryChecker is a single-instance, in-memory token bucket per
// (owner, endpoint). It does not survive restarts and does not coordinate
// across instances.
type MemoryChecker struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMemoryChecker creates a checker admitting r requests per second with
// the given burst per (owner, endpoint) pair.
func NewMemoryChecker(r rate.Limit, burst int) *MemoryChecker {
	return &MemoryChecker{
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (c *MemoryChecker) CheckAndConsume(_ context.Context, ownerID, endpoint string) (Decision, error) {
	l := c.limiter(ownerID + "\x00" + endpoint)

	if !l.Allow() {
		return Decision{Allowed: false, Remaining: 0}, nil
	}
	return Decision{Allowed: true, Remaining: int(l.Tokens())}, nil
}

func (c *MemoryChecker) limiter(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(c.rate, c.burst)
		c.limiters[key] = l
	}
	return l
}
