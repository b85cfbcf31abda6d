// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package featureflag exposes per-owner feature flags consumed by the proxy.
package featureflag

import "context"

// Store reports whether a feature is enabled for an owner.
type Store interface {
	IsEnabled(ctx context.Context, ownerID, flag string) bool
}

// Static is a fixed in-memory flag set keyed by "<owner>/<flag>".
type Static map[string]bool

func (s Static) IsEnabled(_ context.Context, ownerID, flag string) bool {
	return s[ownerID+"/"+flag]
}

// Disabled is a store with every flag off.
type Disabled struct{}

func (Disabled) IsEnabled(context.Context, string, string) bool { return false }
