/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package cliutil holds the flag/config/logger/metrics wiring shared by the
// wtlog-server, wtlog-lander and wtlog-client commands, so each main package
// stays a thin composition of cobra commands over this plumbing.
package cliutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/fatih/color"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wentanlee/wtlog/duration"
	liberr "github.com/wentanlee/wtlog/errors"
	"github.com/wentanlee/wtlog/logger"
	"github.com/wentanlee/wtlog/metrics"
)

const (
	ErrorReadConfig liberr.CodeError = liberr.MinPkgCLI + iota
	ErrorUnmarshalConfig
	ErrorApplyLogOptions
	ErrorListenMetrics
)

// MetricsConfig configures the Prometheus scrape endpoint every command
// optionally exposes.
type MetricsConfig struct {
	Enable    bool   `json:"enable,omitempty" yaml:"enable,omitempty" toml:"enable,omitempty" mapstructure:"enable,omitempty"`
	Listen    string `json:"listen,omitempty" yaml:"listen,omitempty" toml:"listen,omitempty" mapstructure:"listen,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty" toml:"namespace,omitempty" mapstructure:"namespace,omitempty"`
}

// BaseConfig is the portion of configuration every command shares: logging
// and metrics. Each command embeds this in its own config struct alongside
// its role-specific fields.
type BaseConfig struct {
	LogLevel string         `json:"logLevel,omitempty" yaml:"logLevel,omitempty" toml:"logLevel,omitempty" mapstructure:"logLevel,omitempty"`
	Log      logger.Options `json:"log,omitempty" yaml:"log,omitempty" toml:"log,omitempty" mapstructure:"log,omitempty"`
	Metrics  MetricsConfig  `json:"metrics,omitempty" yaml:"metrics,omitempty" toml:"metrics,omitempty" mapstructure:"metrics,omitempty"`
}

// BindPersistentFlags registers the --config and --verbose flags every
// command shares, mirroring the persistent/non-persistent split the cobra
// idiom this module follows offers for each flag.
func BindPersistentFlags(cmd *cobra.Command, cfgFile *string, verbose *int) {
	cmd.PersistentFlags().StringVarP(cfgFile, "config", "c", "", "path to a yaml/json/toml config file")
	cmd.PersistentFlags().CountVarP(verbose, "verbose", "v", "increase log verbosity (v, vv, vvv)")
}

// LoadConfig reads cfgFile (if non-empty) through v and unmarshals the
// result into dst. A missing cfgFile is not an error: every field simply
// keeps its zero value, to be overridden by flags the caller binds
// separately.
//
// Grace periods and poll intervals in every command's config struct are
// typed as duration.Duration rather than time.Duration, so config files get
// duration.Duration's richer encoding support (JSON/YAML/TOML/text) instead
// of viper's bare numeric-nanosecond fallback; durationHook teaches viper's
// mapstructure decoder how to turn a config string into one.
func LoadConfig(v *viper.Viper, cfgFile string, dst interface{}) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return ErrorReadConfig.Error(err)
		}
	}

	if err := v.Unmarshal(dst, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		durationHook,
	))); err != nil {
		return ErrorUnmarshalConfig.Error(err)
	}

	return nil
}

func durationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(duration.Duration(0)) {
		return data, nil
	}

	s, ok := data.(string)
	if !ok {
		return data, nil
	}

	return duration.Parse(s)
}

// verboseLevel maps a repeated -v count onto the broker's Level scale, with
// zero leaving whatever LogLevel the config already named untouched.
func verboseLevel(base logger.Level, count int) logger.Level {
	lvl := base
	for i := 0; i < count && lvl < logger.DebugLevel; i++ {
		lvl++
	}
	return lvl
}

// BuildLogger constructs a Logger bound to ctx, applies logOpts, and raises
// the level by one step per repeated -v flag above whatever logLevel names.
func BuildLogger(ctx context.Context, logLevel string, logOpts logger.Options, verbose int) (logger.Logger, error) {
	log := logger.New(ctx)

	if err := log.SetOptions(logOpts); err != nil {
		return nil, ErrorApplyLogOptions.Error(err)
	}

	base := logger.InfoLevel
	if logLevel != "" {
		base = logger.GetLevelString(logLevel)
	}
	log.SetLevel(verboseLevel(base, verbose))

	return log, nil
}

// ServeMetrics starts an HTTP listener exposing reg's scrape endpoint when
// cfg.Enable is set, returning a shutdown func the caller runs during its
// own graceful-stop sequence. A disabled or nil cfg returns a no-op
// shutdown.
func ServeMetrics(cfg MetricsConfig, reg *metrics.Registry, log logger.Logger) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if !cfg.Enable || reg == nil {
		return noop, nil
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return noop, ErrorListenMetrics.Error(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Handler: mux}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Warning(fmt.Sprintf("metrics listener on %s stopped: %v", cfg.Listen, err), nil)
			}
		}
	}()

	if log != nil {
		log.Info(fmt.Sprintf("metrics exposed on http://%s/metrics", ln.Addr()), nil)
	}

	return srv.Shutdown, nil
}

// NotifyContext returns a context cancelled the first time the process
// receives SIGINT or SIGTERM, the same pair the daemon-mode command
// handling this idiom is grounded on watches for.
func NotifyContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

// PrintBanner prints a colored one-line startup banner naming the command
// and its listening address, in the console package's prompt-color idiom.
func PrintBanner(command, version, addr string) {
	banner := color.New(color.FgCyan, color.Bold)
	banner.Printf("%s", command)
	fmt.Printf(" %s — listening on %s\n", version, addr)
}

// FirstNonEmpty returns the first non-empty string in values, or "" if all
// are empty. Used to fall back a config-file value to a command's built-in
// default.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
