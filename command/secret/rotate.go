// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package secret

import (
	"fmt"

	"github.com/saucelabs/relay"
	"github.com/saucelabs/relay/directory"
	"github.com/saucelabs/relay/vault"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

type rotate struct {
	parent *command

	newKey     string
	newKeyFile string
}

// runE re-encrypts all stored secrets under a new master key.
// The rotation runs in a single transaction, a failure on any secret
// leaves the store unchanged.
func (r *rotate) runE(cmd *cobra.Command, _ []string) (cmdErr error) {
	oldKey, err := r.parent.readMasterKey()
	if err != nil {
		return fmt.Errorf("old master key: %w", err)
	}

	newKey, err := r.readNewKey()
	if err != nil {
		return fmt.Errorf("new master key: %w", err)
	}

	oldVault, err := vault.New(oldKey)
	if err != nil {
		return err
	}
	newVault, err := vault.New(newKey)
	if err != nil {
		return err
	}

	dir, err := directory.OpenBolt(r.parent.dbPath, nil)
	if err != nil {
		return fmt.Errorf("open directory %s: %w", r.parent.dbPath, err)
	}
	defer func() {
		cmdErr = multierr.Append(cmdErr, dir.Close())
	}()

	n, err := dir.RotateSecrets(oldVault, newVault)
	if err != nil {
		return fmt.Errorf("rotate secrets: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "rotated %d secrets\n", n)
	return nil
}

func (r *rotate) readNewKey() ([]byte, error) {
	if r.newKeyFile != "" {
		return relay.ReadMasterKeyFile(r.newKeyFile)
	}
	key, err := relay.ParseMasterKey(r.newKey)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("set the new-master-key or new-master-key-file flag")
	}
	return key, nil
}

func rotateCommand(parent *command) *cobra.Command {
	r := rotate{parent: parent}

	cmd := &cobra.Command{
		Use:   "rotate --new-master-key <hex>",
		Short: "Re-encrypt all stored secrets under a new master key",
		Args:  cobra.NoArgs,
		RunE:  r.runE,
	}

	fs := cmd.Flags()
	fs.StringVar(&r.newKey, "new-master-key", "", "<hex>"+
		"Hex encoded master key to re-encrypt the secrets with. ")
	fs.StringVar(&r.newKeyFile, "new-master-key-file", "", "<path>"+
		"Path to a file containing the hex encoded new master key. ")
	cmd.MarkFlagsMutuallyExclusive("new-master-key", "new-master-key-file")

	return cmd
}
