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

// Command wtlog-server runs the broker's routing hub: it accepts both
// Client and Lander connections and forwards frames between them.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wentanlee/wtlog/duration"
	"github.com/wentanlee/wtlog/fingerprint"
	"github.com/wentanlee/wtlog/internal/cliutil"
	"github.com/wentanlee/wtlog/internal/console"
	"github.com/wentanlee/wtlog/metrics"
	"github.com/wentanlee/wtlog/protocol"
	"github.com/wentanlee/wtlog/server"
)

// version is overwritten at build time with -ldflags "-X main.version=...".
var version = "dev"

type config struct {
	cliutil.BaseConfig `mapstructure:",squash"`

	Listen             string            `mapstructure:"listen"`
	CloseGrace         duration.Duration `mapstructure:"closeGrace"`
	LanderPollInterval duration.Duration `mapstructure:"landerPollInterval"`
	QueueCapacity      int               `mapstructure:"queueCapacity"`
}

func main() {
	var (
		cfgFile string
		verbose int
		listen  string
	)

	root := &cobra.Command{
		Use:     "wtlog-server",
		Short:   "Run the wtlog routing broker",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgFile, verbose, listen)
		},
	}

	cliutil.BindPersistentFlags(root, &cfgFile, &verbose)
	root.Flags().StringVar(&listen, "listen", ":9000", "address to accept Client and Lander connections on")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgFile string, verbose int, listen string) error {
	v := viper.New()
	v.SetDefault("metrics.listen", ":9100")

	var cfg config
	if err := cliutil.LoadConfig(v, cfgFile, &cfg); err != nil {
		return err
	}
	if cfg.Listen == "" {
		cfg.Listen = listen
	}

	ctx, cancel := cliutil.NotifyContext()
	defer cancel()

	log, err := cliutil.BuildLogger(ctx, cfg.LogLevel, cfg.Log, verbose)
	if err != nil {
		return err
	}

	reg := metrics.New(cliutil.FirstNonEmpty(cfg.Metrics.Namespace, "wtlog_server"))
	shutdownMetrics, err := cliutil.ServeMetrics(cfg.Metrics, reg, log)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		CloseGrace:           cfg.CloseGrace.Time(),
		LanderPollInterval:   cfg.LanderPollInterval.Time(),
		QueueInitialCapacity: cfg.QueueCapacity,
		Log:                  log,
		Metrics:              reg,
	})

	if err := srv.Start(ctx, cfg.Listen); err != nil {
		return err
	}

	cliutil.PrintBanner("wtlog-server", version, srv.Addr().String())

	con := console.New(os.Stdin, os.Stdout, "wtlog-server> ")
	con.Register(console.Command{
		Name: "stat",
		Help: "print connected client/lander counts",
		Run: func(args []string) bool {
			clients, landers := srv.Stats()
			fmt.Fprintf(os.Stdout, "clients=%d landers=%d\n", clients, landers)
			return true
		},
	})
	con.Register(console.Command{
		Name: "search",
		Help: "search <level> <startUnix> <endUnix> [query...] — ask a connected Lander",
		Run: func(args []string) bool {
			runSearch(ctx, srv, args)
			return true
		},
	})
	con.Register(console.Command{
		Name: "stop",
		Help: "gracefully stop the server and exit",
		Run: func(args []string) bool {
			cancel()
			return false
		},
	})

	go con.Run()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	srv.Stop(stopCtx, false)
	_ = shutdownMetrics(stopCtx)

	return nil
}

func runSearch(ctx context.Context, srv *server.Server, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stdout, "usage: search <level> <startUnix> <endUnix> [query...]")
		return
	}

	level, ok := protocol.ParseLevel(args[0])
	if !ok {
		fmt.Fprintf(os.Stdout, "unknown level %q\n", args[0])
		return
	}

	start, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stdout, "bad start timestamp: %v\n", err)
		return
	}
	end, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stdout, "bad end timestamp: %v\n", err)
		return
	}

	query := []byte(strings.Join(args[3:], " "))

	req := protocol.SearchRequest{
		Level:       level,
		Fingerprint: fingerprint.New(query),
		Start:       uint32(start),
		End:         uint32(end),
		Query:       query,
	}

	searchCtx, cancel := context.WithTimeout(ctx, server.DefaultSearchTimeout)
	defer cancel()

	fin, err := srv.Search(searchCtx, req, nil)
	if err != nil {
		fmt.Fprintf(os.Stdout, "search failed: %v\n", err)
		return
	}

	fmt.Fprintf(os.Stdout, "%d result(s)\n", len(fin.Results))
	for _, r := range fin.Results {
		fmt.Fprintf(os.Stdout, "  %s\n", r)
	}
}
