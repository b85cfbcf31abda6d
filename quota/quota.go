// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package quota decides whether a request is admitted for an owner and
// endpoint. The storage and consistency model is up to the implementation,
// the proxy only consumes decisions.
package quota

import "context"

// Decision is the per-request admission result.
// Remaining is a hint and may be negative when unknown.
type Decision struct {
	Allowed   bool
	Remaining int
}

// Checker atomically checks and consumes quota for (owner, endpoint).
// Implementations must be safe for concurrent callers.
type Checker interface {
	CheckAndConsume(ctx context.Context, ownerID, endpoint string) (Decision, error)
}

// AllowAll admits every request. Used when no quota backend is configured.
type AllowAll struct{}

func (AllowAll) CheckAndConsume(context.Context, string, string) (Decision, error) {
	return Decision{Allowed: true, Remaining: -1}, nil
}
