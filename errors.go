// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorHeader is set on error responses with the caller-visible message.
const ErrorHeader = "X-Relay-Error"

// Error is a request failure surfaced to the caller. Message is the only
// detail sent downstream; cause is kept for internal logging and must never
// contain secret values or key material destined for the caller.
type Error struct {
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}
func errAuthRequired() *Error {
	return &Error{Status: http.StatusUnauthorized, Message: "authentication required"}
}

// errNoSecret names the missing secret so the caller knows what to
// configure. The secret value is never part of any error.
func errNoSecret(name string) *Error {
	return &Error{Status: http.StatusUnauthorized, Message: fmt.Sprintf("No %s configured", name)}
}

func errNoIssuedKey() *Error {
	return &Error{Status: http.StatusUnauthorized, Message: "No API key issued"}
}

func errUnknownEndpoint(name string) *Error {
	return &Error{Status: http.StatusNotFound, Message: fmt.Sprintf("unknown endpoint %q", name)}
}

func errFeatureDisabled(flag string) *Error {
	return &Error{Status: http.StatusForbidden, Message: fmt.Sprintf("feature %q is disabled", flag)}
}

func errRateLimited() *Error {
	return &Error{Status: http.StatusTooManyRequests, Message: "rate limit exceeded"}
}

func errRequestTooLarge(limit SizeSuffix) *Error {
	return &Error{Status: http.StatusRequestEntityTooLarge, Message: fmt.Sprintf("request body exceeds %s", limit)}
}

func errResponseTooLarge(limit SizeSuffix) *Error {
	return &Error{Status: http.StatusRequestEntityTooLarge, Message: fmt.Sprintf("response body exceeds %s", limit)}
}

func errGatewayTimeout(cause error) *Error {
	return &Error{Status: http.StatusGatewayTimeout, Message: "upstream timeout", cause: cause}
}

func errUpstream(cause error) *Error {
	return &Error{Status: http.StatusBadGateway, Message: "upstream request failed", cause: cause}
}

// errInternal is fully opaque to the caller. Decryption and integrity
// failures map here so that nothing about key material leaks.
func errInternal(cause error) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: "internal error", cause: cause}
}

func writeError(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(ErrorHeader, e.Message)
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(map[string]string{"error": e.Message}) //nolint:errcheck // best effort
}
