// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package account implements commands managing users, applications and
// issued API keys in the account directory.
package account

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/saucelabs/relay/bind"
	"github.com/saucelabs/relay/directory"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

type command struct {
	dbPath string
}

func (c *command) open() (*directory.BoltDirectory, error) {
	dir, err := directory.OpenBolt(c.dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("open directory %s: %w", c.dbPath, err)
	}
	return dir, nil
}

func (c *command) userAddE(cmd *cobra.Command, args []string) (cmdErr error) {
	dir, err := c.open()
	if err != nil {
		return err
	}
	defer func() {
		cmdErr = multierr.Append(cmdErr, dir.Close())
	}()

	u := directory.User{
		ID:   newID(),
		Name: args[0],
	}
	if err := dir.CreateUser(u); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), u.ID)
	return nil
}

func (c *command) appAddE(cmd *cobra.Command, args []string) (cmdErr error) {
	dir, err := c.open()
	if err != nil {
		return err
	}
	defer func() {
		cmdErr = multierr.Append(cmdErr, dir.Close())
	}()

	a := directory.App{
		ID:      newID(),
		OwnerID: args[0],
		Slug:    args[1],
	}
	if err := dir.CreateApp(a); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), a.ID)
	return nil
}

// apikeyE issues a fresh API key for the owner. Any previously issued
// key is revoked.
func (c *command) apikeyE(cmd *cobra.Command, args []string) (cmdErr error) {
	dir, err := c.open()
	if err != nil {
		return err
	}
	defer func() {
		cmdErr = multierr.Append(cmdErr, dir.Close())
	}()

	key, err := dir.IssueAPIKey(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}

func (c *command) flagE(cmd *cobra.Command, args []string) (cmdErr error) {
	dir, err := c.open()
	if err != nil {
		return err
	}
	defer func() {
		cmdErr = multierr.Append(cmdErr, dir.Close())
	}()

	var enabled bool
	switch args[2] {
	case "on":
		enabled = true
	case "off":
	default:
		return fmt.Errorf("invalid state %q, expected on or off", args[2])
	}

	if err := dir.SetFlag(args[0], args[1], enabled); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "flag %s %s for owner %s\n", args[1], args[2], args[0])
	return nil
}

func newID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func Command() *cobra.Command {
	c := command{
		dbPath: "relay.db",
	}

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage users, applications and API keys in the account directory",
	}
	bind.DatabaseConfig(cmd.PersistentFlags(), &c.dbPath)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "user <name>",
			Short: "Create a user, prints the new owner ID",
			Args:  cobra.ExactArgs(1),
			RunE:  c.userAddE,
		},
		&cobra.Command{
			Use:   "app <owner-id> <slug>",
			Short: "Register an application for an owner, prints the new app ID",
			Args:  cobra.ExactArgs(2),
			RunE:  c.appAddE,
		},
		&cobra.Command{
			Use:   "apikey <owner-id>",
			Short: "Issue a fresh API key for an owner, revoking the previous one",
			Args:  cobra.ExactArgs(1),
			RunE:  c.apikeyE,
		},
		&cobra.Command{
			Use:   "flag <owner-id> <flag> <on|off>",
			Short: "Enable or disable a feature flag for an owner",
			Args:  cobra.ExactArgs(3),
			RunE:  c.flagE,
		},
	)

	return cmd
}
