// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package token implements the command minting signed session tokens.
package token

import (
	"fmt"
	"time"

	"github.com/saucelabs/relay"
	"github.com/saucelabs/relay/bind"
	"github.com/saucelabs/relay/directory"
	"github.com/spf13/cobra"
)

type command struct {
	masterKey     string
	masterKeyFile string
	ttl           time.Duration
}

func (c *command) runE(cmd *cobra.Command, args []string) error {
	key, err := c.readMasterKey()
	if err != nil {
		return err
	}

	signer, err := directory.NewSessionSigner(key, c.ttl)
	if err != nil {
		return err
	}

	t, err := signer.Issue(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), t)
	return nil
}

func (c *command) readMasterKey() ([]byte, error) {
	if c.masterKeyFile != "" {
		return relay.ReadMasterKeyFile(c.masterKeyFile)
	}
	key, err := relay.ParseMasterKey(c.masterKey)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("master key is required, set the master-key or master-key-file flag")
	}
	return key, nil
}

func Command() *cobra.Command {
	c := command{
		ttl: 24 * time.Hour,
	}

	cmd := &cobra.Command{
		Use:   "token <owner-id>",
		Short: "Mint a signed session token for an owner",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runE,
	}

	fs := cmd.Flags()
	bind.MasterKey(fs, &c.masterKey, &c.masterKeyFile)
	fs.DurationVar(&c.ttl, "ttl", c.ttl, "Lifetime of the issued token. ")
	cmd.MarkFlagsMutuallyExclusive("master-key", "master-key-file")

	return cmd
}
