// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fakeapi implements the command serving the fake provider API.
package fakeapi

import (
	"github.com/saucelabs/relay"
	"github.com/saucelabs/relay/bind"
	"github.com/saucelabs/relay/fakeapi"
	"github.com/saucelabs/relay/log"
	"github.com/saucelabs/relay/log/stdlog"
	"github.com/saucelabs/relay/runctx"
	"github.com/spf13/cobra"
)

type command struct {
	httpServerConfig *relay.HTTPServerConfig
	logConfig        *log.Config
}

func (c *command) runE(*cobra.Command, []string) error {
	logger := stdlog.New(c.logConfig)

	srv, err := relay.NewHTTPServer(c.httpServerConfig, fakeapi.Handler(), logger.Named("server"))
	if err != nil {
		return err
	}

	return runctx.NewGroup(srv.Run).Run()
}

func Command() *cobra.Command {
	c := command{
		httpServerConfig: relay.DefaultHTTPServerConfig(),
		logConfig:        log.DefaultConfig(),
	}
	c.httpServerConfig.Addr = "localhost:8090"

	cmd := &cobra.Command{
		Use:   "api",
		Short: "Start a fake provider API server with echo, status, delay and event stream endpoints",
		RunE:  c.runE,
	}

	fs := cmd.Flags()
	bind.HTTPServerConfig(fs, c.httpServerConfig, "")
	bind.LogConfig(fs, c.logConfig)

	return cmd
}
