// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bind attaches relay configuration structs to pflag flag sets.
package bind

import (
	"fmt"
	"os"
	"strings"

	"github.com/mmatczuk/anyflag"
	"github.com/saucelabs/relay"
	"github.com/saucelabs/relay/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func ConfigFile(fs *pflag.FlagSet, configFile *string) {
	fs.StringVarP(configFile,
		"config-file", "c", *configFile, "<path>"+
			"Configuration file to load options from. "+
			"The supported formats are: JSON, YAML, TOML, HCL, and Java properties. "+
			"The file format is determined by the file extension, if not specified the default format is YAML. "+
			"The following precedence order of configuration sources is used: command flags, environment variables, config file, default values. ")
}

func Endpoints(fs *pflag.FlagSet, endpoints *[]relay.Endpoint) {
	fs.VarP(anyflag.NewSliceValue[relay.Endpoint](*endpoints, endpoints, relay.ParseEndpoint),
		"endpoint", "e", "<name>:<base-url>[,secret=<name>][,header=<name>][,self][,noauth]"+
			"Register an upstream endpoint. "+
			"By default the secret is injected as a bearer token, "+
			"use header=<name> to inject it in a custom header instead. "+
			"Use self to proxy to the service's own API with the caller's issued key. "+
			"The flag can be specified multiple times. "+
			"Example: -e providerx:https://api.providerx.com,secret=PROVIDERX_KEY. ")
}

func ProxyConfig(fs *pflag.FlagSet, cfg *relay.ProxyConfig) {
	fs.StringVar(&cfg.BasePath,
		"base-path", cfg.BasePath, "<path>"+
			"URL prefix under which the endpoints are exposed. ")

	fs.DurationVar(&cfg.UpstreamTimeout,
		"upstream-timeout", cfg.UpstreamTimeout,
		"The maximum duration of a whole upstream exchange, "+
			"from establishing the connection until the last response byte is relayed. ")

	fs.Var(&cfg.RequestBodyLimit,
		"request-body-limit",
		"The maximum accepted request body size. "+
			"Requests with a larger body are rejected before contacting the upstream. ")

	fs.Var(&cfg.ResponseBodyLimit,
		"response-body-limit",
		"The maximum relayed response body size. "+
			"It does not apply to event streams. ")

	fs.StringVar(&cfg.SelfFeatureFlag,
		"self-feature-flag", cfg.SelfFeatureFlag,
		"Name of the feature flag that gates self endpoints per owner. ")
}

func MasterKey(fs *pflag.FlagSet, key, keyFile *string) {
	fs.VarP(anyflag.NewValueWithRedact[string](*key, key,
		func(val string) (string, error) { return val, nil }, RedactSecret),
		"master-key", "k", "<hex>"+
			"Hex encoded master key used to decrypt stored secrets. ")

	fs.StringVar(keyFile,
		"master-key-file", *keyFile, "<path>"+
			"Path to a file containing the hex encoded master key. "+
			"Takes precedence over the master-key flag. ")
}

func DatabaseConfig(fs *pflag.FlagSet, path *string) {
	fs.StringVar(path,
		"db-file", *path, "<path>"+
			"Path to the account directory database file. ")
}

func QuotaConfig(fs *pflag.FlagSet, rps *float64, burst *int) {
	fs.Float64Var(rps,
		"quota-rps", *rps,
		"Sustained requests per second allowed per owner and endpoint. "+
			"Zero disables quota enforcement. ")

	fs.IntVar(burst,
		"quota-burst", *burst,
		"Number of requests an owner may burst above the sustained rate. ")
}

func HTTPServerConfig(fs *pflag.FlagSet, cfg *relay.HTTPServerConfig, prefix string) {
	namePrefix := prefix
	if namePrefix != "" {
		namePrefix += "-"
	}

	fs.StringVarP(&cfg.Addr,
		namePrefix+"address", "", cfg.Addr, "<host:port>"+
			"The server address to listen on. "+
			"If the host is empty, the server will listen on all available interfaces. ")

	schemes := []relay.Scheme{relay.HTTPScheme, relay.HTTPSScheme}
	fs.VarP(anyflag.NewValue[relay.Scheme](cfg.Protocol, &cfg.Protocol,
		anyflag.EnumParser[relay.Scheme](schemes...)),
		namePrefix+"protocol", "", "<http|https>"+
			"The server protocol. ")

	fs.StringVar(&cfg.CertFile,
		namePrefix+"tls-cert-file", cfg.CertFile, "<path>"+
			"TLS certificate to use if the server protocol is https. ")

	fs.StringVar(&cfg.KeyFile,
		namePrefix+"tls-key-file", cfg.KeyFile, "<path>"+
			"TLS private key to use if the server protocol is https. ")

	fs.DurationVar(&cfg.ReadTimeout,
		namePrefix+"read-timeout", cfg.ReadTimeout,
		"The maximum duration for reading the entire request, including the body. ")

	fs.Var(&cfg.ReadLimit,
		namePrefix+"read-limit",
		"<bandwidth>"+
			"Global read rate limit in bytes per second i.e. how many bytes per second you can receive from all clients combined. "+
			"The value is accepted with a suffix k, M, or G. ")

	fs.Var(&cfg.WriteLimit,
		namePrefix+"write-limit",
		"<bandwidth>"+
			"Global write rate limit in bytes per second i.e. how many bytes per second you can send to all clients combined. "+
			"The value is accepted with a suffix k, M, or G. ")
}

func HTTPTransportConfig(fs *pflag.FlagSet, cfg *relay.HTTPTransportConfig) {
	fs.DurationVar(&cfg.DialTimeout,
		"http-dial-timeout", cfg.DialTimeout,
		"The maximum amount of time a dial will wait for a connect to complete. "+
			"With or without a timeout, the operating system may impose its own earlier timeout. ")

	fs.DurationVar(&cfg.TLSHandshakeTimeout,
		"http-tls-handshake-timeout", cfg.TLSHandshakeTimeout,
		"The maximum amount of time waiting to wait for a TLS handshake. Zero means no limit.")

	fs.DurationVar(&cfg.IdleConnTimeout,
		"http-idle-conn-timeout", cfg.IdleConnTimeout,
		"The maximum amount of time an idle (keep-alive) connection will remain idle before closing itself. "+
			"Zero means no limit. ")

	fs.DurationVar(&cfg.ResponseHeaderTimeout,
		"http-response-header-timeout", cfg.ResponseHeaderTimeout,
		"The amount of time to wait for a server's response headers after fully writing the request. "+
			"This time does not include the time to read the response body. "+
			"Zero means no limit. ")

	fs.BoolVar(&cfg.InsecureSkipVerify, "insecure", cfg.InsecureSkipVerify,
		"Don't verify the upstream certificate chain and host name. "+
			"Enable to work with self-signed certificates. ")
}

// fileValue is a pflag.Value holding an open *os.File. String reports
// the file name rather than a pointer, so config dumps stay readable.
type fileValue struct {
	f    **os.File
	open func(val string) (*os.File, error)
}

func newFileValue(f **os.File, open func(val string) (*os.File, error)) pflag.Value {
	if f == nil {
		panic("nil file pointer")
	}
	return &fileValue{f: f, open: open}
}

func (v *fileValue) Set(val string) error {
	file, err := v.open(val)
	if err != nil {
		return err
	}
	*v.f = file
	return nil
}

func (v *fileValue) Type() string {
	return "file"
}

func (v *fileValue) String() string {
	if *v.f == nil {
		return ""
	}
	return (*v.f).Name()
}

func LogConfig(fs *pflag.FlagSet, cfg *log.Config) {
	fs.Var(newFileValue(&cfg.File,
		relay.OpenFileParser(os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600, 0o700)),
		"log-file", "<path>"+
			"Path to the log file, if empty, logs to stdout. ")

	logLevel := []log.Level{
		log.ErrorLevel,
		log.InfoLevel,
		log.DebugLevel,
	}
	fs.Var(anyflag.NewValue[log.Level](cfg.Level, &cfg.Level, anyflag.EnumParser[log.Level](logLevel...)),
		"log-level", "<error|info|debug>"+
			"Log level. ")
}

// RedactSecret hides secret flag values from help and config dumps.
func RedactSecret(string) string {
	return "xxxxx"
}

func MarkFlagHidden(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.Flags().MarkHidden(name); err != nil {
			panic(err)
		}
	}
}

func MarkFlagRequired(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
}

func AutoMarkFlagFilename(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if strings.HasPrefix(f.Usage, "<path") ||
			strings.HasSuffix(f.Name, "-file") ||
			strings.HasSuffix(f.Name, "-dir") {
			MarkFlagFilename(cmd, f.Name)
		}
	})
}

func MarkFlagFilename(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.MarkFlagFilename(name); err != nil {
			panic(err)
		}
	}
}

func DescribeFlags(fs *pflag.FlagSet) string {
	var b strings.Builder
	fs.VisitAll(func(flag *pflag.Flag) {
		if flag.Hidden || flag.Name == "help" {
			return
		}
		b.WriteString(fmt.Sprintf("%s=%s\n", flag.Name, strings.Trim(flag.Value.String(), "[]")))
	})
	return b.String()
}
