// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bind

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/saucelabs/relay"
)

func TestFileValue(t *testing.T) {
	var f *os.File
	v := newFileValue(&f, relay.OpenFileParser(os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600, 0o700))

	if got := v.String(); got != "" {
		t.Errorf("unset value: got %q, want empty", got)
	}

	path := filepath.Join(t.TempDir(), "relay.log")
	if err := v.Set(path); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })

	if f == nil || f.Name() != path {
		t.Fatalf("file not opened at %q", path)
	}
	if got := v.String(); got != path {
		t.Errorf("String: got %q, want %q", got, path)
	}
}

func TestFileValueOpenError(t *testing.T) {
	var f *os.File
	v := newFileValue(&f, relay.OpenFileParser(os.O_WRONLY, 0o600, 0o700))

	if err := v.Set(filepath.Join(t.TempDir(), "missing", "sub", "relay.log")); err == nil {
		t.Fatal("expected open error")
	}
	if f != nil {
		t.Errorf("file set on error: %v", f.Name())
	}
}
