// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package run implements the command starting the proxy and API servers.
package run

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/saucelabs/relay"
	"github.com/saucelabs/relay/bind"
	"github.com/saucelabs/relay/directory"
	"github.com/saucelabs/relay/internal/version"
	"github.com/saucelabs/relay/log"
	"github.com/saucelabs/relay/log/stdlog"
	"github.com/saucelabs/relay/middleware"
	"github.com/saucelabs/relay/quota"
	"github.com/saucelabs/relay/runctx"
	"github.com/saucelabs/relay/usage"
	"github.com/saucelabs/relay/vault"
	"github.com/spf13/cobra"
	"go.uber.org/goleak"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

type command struct {
	promReg *prometheus.Registry

	endpoints []relay.Endpoint

	masterKey     string
	masterKeyFile string
	dbPath        string
	sessionTTL    time.Duration

	quotaRPS   float64
	quotaBurst int

	usageQueueSize int

	proxyConfig         *relay.ProxyConfig
	httpServerConfig    *relay.HTTPServerConfig
	apiServerConfig     *relay.HTTPServerConfig
	httpTransportConfig *relay.HTTPTransportConfig
	logConfig           *log.Config

	goleak bool
}

func (c *command) runE(cmd *cobra.Command, _ []string) (cmdErr error) {
	if f := c.logConfig.File; f != nil {
		defer f.Close()
	}
	onError, err := c.registerErrorsMetric()
	if err != nil {
		return fmt.Errorf("register errors metric: %w", err)
	}
	logger := stdlog.New(c.logConfig, stdlog.WithOnError(onError))

	defer func() {
		if cmdErr != nil {
			logger.Errorf("fatal error exiting: %s", cmdErr)
			cmd.SilenceErrors = true
		}
	}()

	logger.Infof("Relay %s (%s)", version.Version, version.Commit)
	logger.Debugf("resource limits: GOMAXPROCS=%d GOMEMLIMIT=%s", runtime.GOMAXPROCS(0), os.Getenv("GOMEMLIMIT"))

	cfg := bind.DescribeFlags(cmd.Flags())
	logger.Debugf("configuration\n%s", cfg)

	key, err := c.readMasterKey()
	if err != nil {
		return err
	}
	v, err := vault.New(key)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	signer, err := directory.NewSessionSigner(key, c.sessionTTL)
	if err != nil {
		return fmt.Errorf("session signer: %w", err)
	}
	dir, err := directory.OpenBolt(c.dbPath, signer)
	if err != nil {
		return fmt.Errorf("open directory %s: %w", c.dbPath, err)
	}
	defer func() {
		cmdErr = multierr.Append(cmdErr, dir.Close())
	}()

	reg, err := relay.NewRegistry(c.endpoints...)
	if err != nil {
		return fmt.Errorf("endpoints: %w", err)
	}
	for _, name := range reg.Names() {
		e, _ := reg.Lookup(name)
		logger.Infof("endpoint %s", e)
	}

	var checker quota.Checker = quota.AllowAll{}
	if c.quotaRPS > 0 {
		checker = quota.NewMemoryChecker(rate.Limit(c.quotaRPS), c.quotaBurst)
	}

	rec := usage.NewAsyncRecorder(usage.MultiSink{
		&usage.LogSink{Log: logger.Named("usage")},
		usage.NewPromSink(c.promReg, "relay"),
	}, c.usageQueueSize)
	defer rec.Close()

	proxy, err := relay.NewProxy(c.proxyConfig, reg, relay.Services{
		Directory: dir,
		Secrets:   dir,
		Vault:     v,
		Quota:     checker,
		Flags:     dir,
		Usage:     rec,
	}, relay.NewHTTPTransport(c.httpTransportConfig), logger.Named("proxy"))
	if err != nil {
		return err
	}

	prom := middleware.NewPrometheus(c.promReg, "relay",
		middleware.WithCustomLabeler("endpoint", relay.EndpointLabeler(c.proxyConfig.BasePath, reg)))

	srv, err := relay.NewHTTPServer(c.httpServerConfig, prom.Wrap(proxy.Handler()), logger.Named("server"))
	if err != nil {
		return err
	}

	api, err := relay.NewHTTPServer(c.apiServerConfig,
		relay.NewAPIHandler(c.promReg, srv, reg, cfg), logger.Named("api"))
	if err != nil {
		return err
	}

	g := runctx.NewGroup(srv.Run, api.Run)

	if c.goleak {
		defer func() {
			if cmdErr == nil {
				cmdErr = goleak.Find()
			}
		}()
	}

	return g.Run()
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

func (c *command) registerErrorsMetric() (func(name string), error) {
	m := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "errors_total",
		Help:      "Number of errors logged",
	}, []string{"name"})

	if err := c.promReg.Register(m); err != nil {
		return nil, err
	}

	return func(name string) {
		m.WithLabelValues(name).Inc()
	}, nil
}

func Command() *cobra.Command {
	c := command{
		promReg:             prometheus.NewRegistry(),
		sessionTTL:          24 * time.Hour,
		quotaBurst:          10,
		usageQueueSize:      1024,
		dbPath:              "relay.db",
		proxyConfig:         relay.DefaultProxyConfig(),
		httpServerConfig:    relay.DefaultHTTPServerConfig(),
		apiServerConfig:     relay.DefaultHTTPServerConfig(),
		httpTransportConfig: relay.DefaultHTTPTransportConfig(),
		logConfig:           log.DefaultConfig(),
	}
	c.apiServerConfig.Addr = "localhost:10000"

	c.promReg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		versionCollector(),
	)

	cmd := &cobra.Command{
		Use:   "run [--endpoint <endpoint>...] [flags]",
		Short: "Start the credential injecting proxy and its API server",
		RunE:  c.runE,
	}

	fs := cmd.Flags()
	bind.Endpoints(fs, &c.endpoints)
	bind.ProxyConfig(fs, c.proxyConfig)
	bind.MasterKey(fs, &c.masterKey, &c.masterKeyFile)
	bind.DatabaseConfig(fs, &c.dbPath)
	bind.QuotaConfig(fs, &c.quotaRPS, &c.quotaBurst)
	bind.HTTPServerConfig(fs, c.httpServerConfig, "")
	bind.HTTPServerConfig(fs, c.apiServerConfig, "api")
	bind.HTTPTransportConfig(fs, c.httpTransportConfig)
	bind.LogConfig(fs, c.logConfig)

	fs.DurationVar(&c.sessionTTL, "session-ttl", c.sessionTTL,
		"Lifetime of issued session tokens. ")
	fs.IntVar(&c.usageQueueSize, "usage-queue-size", c.usageQueueSize,
		"Size of the usage recording queue, records are dropped when the queue is full. ")
	fs.BoolVar(&c.goleak, "goleak", false, "Test for goroutine leaks on exit.")
	bind.MarkFlagHidden(cmd, "goleak")

	bind.AutoMarkFlagFilename(cmd)
	cmd.MarkFlagsMutuallyExclusive("master-key", "master-key-file")

	return cmd
}

func versionCollector() prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "version",
		Help:      "Version information",
		ConstLabels: prometheus.Labels{
			"version": version.Version,
			"commit":  version.Commit,
		},
	}, func() float64 { return 1 })
}
