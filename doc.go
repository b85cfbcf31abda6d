// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relay implements a credential-injecting reverse proxy.
//
// A caller invokes a third-party HTTP API through /proxy/<endpoint>/...
// without ever holding that API's secret key. The proxy resolves the
// caller's identity from one of several authentication schemes, decrypts a
// stored secret belonging to that identity, builds the target provider's
// authorization header and relays the request, streaming server-sent-event
// responses incrementally.
package relay
