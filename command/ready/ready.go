// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ready implements the readiness probe command.
package ready

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/spf13/cobra"
)

type command struct {
	apiAddr string
	timeout time.Duration
}

func (c *command) runE(cmd *cobra.Command, _ []string) error {
	host, port, err := net.SplitHostPort(c.apiAddr)
	if err != nil {
		return err
	}
	if host == "" {
		host = "localhost"
	}
	addr := net.JoinHostPort(host, port)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx,
		http.MethodGet, fmt.Sprintf("http://%s/readyz", addr), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, err := httputil.DumpResponse(resp, true)
		if err != nil {
			return err
		}
		if _, err := cmd.ErrOrStderr().Write(b); err != nil {
			return err
		}

		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func Command() *cobra.Command {
	c := command{
		apiAddr: "localhost:10000",
		timeout: 2 * time.Second,
	}

	cmd := &cobra.Command{
		Use:   "ready [--api-address <host:port>] [flags]",
		Short: "Readiness probe for the relay",
		Long: `Readiness probe for the relay.
This is equivalent to calling /readyz endpoint on the relay API server.`,
		RunE: c.runE,
	}

	fs := cmd.Flags()
	fs.StringVar(&c.apiAddr, "api-address", c.apiAddr, "<host:port>"+
		"The address of the relay API server. ")
	fs.DurationVar(&c.timeout, "timeout", c.timeout, "Probe timeout. ")

	return cmd
}
