// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package secret implements commands managing encrypted secrets in the
// account directory.
package secret

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/saucelabs/relay"
	"github.com/saucelabs/relay/bind"
	"github.com/saucelabs/relay/directory"
	"github.com/saucelabs/relay/vault"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

type command struct {
	masterKey     string
	masterKeyFile string
	dbPath        string

	owner string
}

func (c *command) open() (*directory.BoltDirectory, *vault.Vault, error) {
	key, err := c.readMasterKey()
	if err != nil {
		return nil, nil, err
	}
	v, err := vault.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: %w", err)
	}
	dir, err := directory.OpenBolt(c.dbPath, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open directory %s: %w", c.dbPath, err)
	}
	return dir, v, nil
}

func (c *command) requireOwner() error {
	if c.owner == "" {
		return fmt.Errorf("owner is required, set the owner flag")
	}
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

// setE encrypts a secret value and stores it for the owner.
// The value is read from stdin so that it never appears in the process
// arguments or shell history.
func (c *command) setE(cmd *cobra.Command, args []string) (cmdErr error) {
	if err := c.requireOwner(); err != nil {
		return err
	}
	dir, v, err := c.open()
	if err != nil {
		return err
	}
	defer func() {
		cmdErr = multierr.Append(cmdErr, dir.Close())
	}()

	name := args[0]

	fmt.Fprintf(cmd.ErrOrStderr(), "Enter secret value for %s: ", name)
	value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && value == "" {
		return fmt.Errorf("read secret value: %w", err)
	}
	value = strings.TrimRight(value, "\r\n")
	if value == "" {
		return fmt.Errorf("empty secret value")
	}

	env, err := v.Encrypt(value)
	if err != nil {
		return err
	}
	if err := dir.PutSecret(c.owner, name, env); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "secret %s set for owner %s\n", name, c.owner)
	return nil
}

func (c *command) rmE(cmd *cobra.Command, args []string) (cmdErr error) {
	if err := c.requireOwner(); err != nil {
		return err
	}
	dir, err := directory.OpenBolt(c.dbPath, nil)
	if err != nil {
		return fmt.Errorf("open directory %s: %w", c.dbPath, err)
	}
	defer func() {
		cmdErr = multierr.Append(cmdErr, dir.Close())
	}()

	if err := dir.DeleteSecret(c.owner, args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "secret %s removed for owner %s\n", args[0], c.owner)
	return nil
}

// lsE lists secret names for the owner, values are never printed.
func (c *command) lsE(cmd *cobra.Command, _ []string) (cmdErr error) {
	if err := c.requireOwner(); err != nil {
		return err
	}
	dir, err := directory.OpenBolt(c.dbPath, nil)
	if err != nil {
		return fmt.Errorf("open directory %s: %w", c.dbPath, err)
	}
	defer func() {
		cmdErr = multierr.Append(cmdErr, dir.Close())
	}()

	names, err := dir.ListSecrets(c.owner)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}

func Command() *cobra.Command {
	c := command{
		dbPath: "relay.db",
	}

	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage encrypted secrets in the account directory",
	}

	pfs := cmd.PersistentFlags()
	bind.MasterKey(pfs, &c.masterKey, &c.masterKeyFile)
	bind.DatabaseConfig(pfs, &c.dbPath)
	pfs.StringVar(&c.owner, "owner", "", "<id>"+
		"Owner the secret belongs to. ")

	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Encrypt and store a secret, the value is read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE:  c.setE,
	}
	rm := &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE:  c.rmE,
	}
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE:  c.lsE,
	}

	cmd.AddCommand(set, rm, ls, rotateCommand(&c))

	return cmd
}
