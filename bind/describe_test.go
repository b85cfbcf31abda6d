// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bind

import (
	"strings"
	"testing"

	"github.com/saucelabs/relay"
	"github.com/spf13/pflag"
)

func TestDescribeFlagsRedactsMasterKey(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)

	var key, keyFile string
	MasterKey(fs, &key, &keyFile)

	if err := fs.Set("master-key", "deadbeefdeadbeefdeadbeefdeadbeef"); err != nil {
		t.Fatal(err)
	}

	s := DescribeFlags(fs)
	if strings.Contains(s, "deadbeef") {
		t.Errorf("master key leaked into flag description:\n%s", s)
	}
	if !strings.Contains(s, "master-key=xxxxx") {
		t.Errorf("expected redacted master key, got:\n%s", s)
	}
}

func TestDescribeFlagsEndpoints(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)

	var endpoints []relay.Endpoint
	Endpoints(fs, &endpoints)

	for _, v := range []string{
		"providerx:https://api.providerx.com,secret=PROVIDERX_KEY",
		"internal:https://api.local,self",
	} {
		if err := fs.Set("endpoint", v); err != nil {
			t.Fatal(err)
		}
	}

	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(endpoints))
	}

	s := DescribeFlags(fs)
	if !strings.Contains(s, "providerx:https://api.providerx.com") {
		t.Errorf("endpoint missing from flag description:\n%s", s)
	}
}
