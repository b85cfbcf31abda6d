// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cobrautil provides cobra command helpers shared by all relay
// commands.
package cobrautil

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// DefaultLong sets the long description to the short description if the long description is empty.
func DefaultLong(cmd *cobra.Command) {
	if cmd.Short == "" {
		return
	}

	if cmd.Long == "" {
		cmd.Long = cmd.Short + "."
	} else {
		cmd.Long = cmd.Short + ".\n\n" + cmd.Long
	}
}

func NoHelpSubcommand(cmd *cobra.Command) {
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
}

// AppendEnvToUsage appends the environment variable name to the usage string of each Cobra flag.
func AppendEnvToUsage(cmd *cobra.Command, envPrefix string) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Usage += fmt.Sprintf(" env: %s", EnvName(envPrefix, f.Name))
	})
}

func EnvName(envPrefix, flagName string) string {
	name := flagName
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ToUpper(name)
	return fmt.Sprintf("%s_%s", envPrefix, name)
}

// FullCommandName returns the full name of the command from the root command.
func FullCommandName(cmd *cobra.Command) string {
	if cmd.Parent() == nil {
		return cmd.Name()
	}
	return FullCommandName(cmd.Parent()) + " " + cmd.Name()
}
