// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/saucelabs/relay/ratelimit"
)

type Scheme string

const (
	HTTPScheme  Scheme = "http"
	HTTPSScheme Scheme = "https"
)

func (s Scheme) String() string {
	return string(s)
}

type HTTPServerConfig struct {
	Protocol    Scheme        `json:"protocol"`
	Addr        string        `json:"addr"`
	CertFile    string        `json:"cert_file"`
	KeyFile     string        `json:"key_file"`
	ReadTimeout time.Duration `json:"read_timeout"`

	// ReadLimit and WriteLimit cap the aggregate listener bandwidth in
	// bytes per second, zero disables the limit.
	ReadLimit  SizeSuffix `json:"read_limit"`
	WriteLimit SizeSuffix `json:"write_limit"`
}

func DefaultHTTPServerConfig() *HTTPServerConfig {
	return &HTTPServerConfig{
		Protocol:    HTTPScheme,
		Addr:        "0.0.0.0:8080",
		ReadTimeout: 5 * time.Second,
	}
}

func (c *HTTPServerConfig) Validate() error {
	switch c.Protocol {
	case HTTPScheme:
	case HTTPSScheme:
		if c.CertFile == "" || c.KeyFile == "" {
			return fmt.Errorf("cert_file and key_file cannot be empty when using HTTPS")
		}
		for _, f := range []string{c.CertFile, c.KeyFile} {
			if _, err := os.Stat(f); os.IsNotExist(err) {
				return fmt.Errorf("cannot find TLS file at %q", f)
			}
		}
	default:
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}

	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	return nil
}

type HTTPServer struct {
	config *HTTPServerConfig
	log    Logger
	srv    *http.Server

	// Listener overrides the listen address, used in tests.
	Listener net.Listener

	addr chan string
}

func NewHTTPServer(cfg *HTTPServerConfig, h http.Handler, log Logger) (*HTTPServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hs := &HTTPServer{
		config: cfg,
		log:    log,
		srv: &http.Server{
			Addr:        cfg.Addr,
			Handler:     h,
			ReadTimeout: cfg.ReadTimeout,
		},
		addr: make(chan string, 1),
	}

	if cfg.Protocol == HTTPSScheme {
		hs.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		hs.srv.TLSNextProto = make(map[string]func(*http.Server, *tls.Conn, http.Handler))
	}

	return hs, nil
}

func (hs *HTTPServer) Run(ctx context.Context) error {
	listener, err := hs.listen()
	if err != nil {
		return err
	}
	hs.addr <- listener.Addr().String()

	hs.log.Infof("HTTP server listen address=%s protocol=%s", listener.Addr(), hs.config.Protocol)

	go func() {
		<-ctx.Done()
		if err := hs.srv.Shutdown(context.Background()); err != nil {
			hs.log.Errorf("Failed to shutdown server error=%s", err)
		}
	}()

	switch hs.config.Protocol {
	case HTTPScheme:
		err = hs.srv.Serve(listener)
	case HTTPSScheme:
		err = hs.srv.ServeTLS(listener, hs.config.CertFile, hs.config.KeyFile)
	}
	if errors.Is(err, http.ErrServerClosed) {
		hs.log.Debugf("server was shutdown gracefully")
		return nil
	}
	return err
}

// Addr blocks until the server is listening and returns its address.
func (hs *HTTPServer) Addr() string {
	a := <-hs.addr
	hs.addr <- a
	return a
}

func (hs *HTTPServer) listen() (net.Listener, error) {
	if hs.Listener != nil {
		return hs.Listener, nil
	}

	listener, err := net.Listen("tcp", hs.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open listener on address %s: %w", hs.srv.Addr, err)
	}
	if hs.config.ReadLimit > 0 || hs.config.WriteLimit > 0 {
		return ratelimit.NewListener(listener, int64(hs.config.ReadLimit), int64(hs.config.WriteLimit)), nil
	}
	return listener, nil
}
