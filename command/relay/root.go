// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relay assembles the root command of the relay CLI.
package relay

import (
	"github.com/saucelabs/relay/bind"
	"github.com/saucelabs/relay/command/account"
	"github.com/saucelabs/relay/command/ready"
	"github.com/saucelabs/relay/command/run"
	"github.com/saucelabs/relay/command/secret"
	testfakeapi "github.com/saucelabs/relay/command/test/fakeapi"
	"github.com/saucelabs/relay/command/token"
	"github.com/saucelabs/relay/command/version"
	"github.com/saucelabs/relay/utils/cobrautil"
	"github.com/spf13/cobra"
)

const (
	EnvPrefix          = "RELAY"
	ConfigFileFlagName = "config-file"
)

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Credential injecting reverse proxy for third-party APIs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cobrautil.BindAll(cmd, EnvPrefix, ConfigFileFlagName)
		},
	}
	bind.ConfigFile(cmd.PersistentFlags(), new(string))

	cmd.AddCommand(
		run.Command(),
		secret.Command(),
		account.Command(),
		token.Command(),
		ready.Command(),
	)

	// Add test commands.
	test := &cobra.Command{
		Use:    "test",
		Short:  "Run test servers",
		Hidden: true,
	}
	test.AddCommand(testfakeapi.Command())
	cmd.AddCommand(test)

	// Add version command.
	cmd.AddCommand(version.Command())

	for _, sub := range cmd.Commands() {
		cobrautil.DefaultLong(sub)
		cobrautil.AppendEnvToUsage(sub, EnvPrefix)
	}
	cobrautil.NoHelpSubcommand(cmd)

	return cmd
}
