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

// Command wtlog-lander runs a storage agent: it connects to a wtlog-server,
// persists every log it receives to dated files under its data directory,
// and answers search requests against its index.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/wentanlee/wtlog/duration"
	"github.com/wentanlee/wtlog/internal/cliutil"
	"github.com/wentanlee/wtlog/internal/console"
	"github.com/wentanlee/wtlog/internal/reindex"
	"github.com/wentanlee/wtlog/lander"
	"github.com/wentanlee/wtlog/metrics"
	"github.com/wentanlee/wtlog/searchindex"
)

var version = "dev"

// indexFileName mirrors the Lander package's own on-disk layout: the search
// index always lives at "index.db" inside the data directory, alongside
// the dated log files.
const indexFileName = "index.db"

type config struct {
	cliutil.BaseConfig `mapstructure:",squash"`

	ServerIP        string            `mapstructure:"serverIp"`
	ServerPort      int               `mapstructure:"serverPort"`
	DataDir         string            `mapstructure:"dataDir"`
	DisconnectGrace duration.Duration `mapstructure:"disconnectGrace"`
	QueueCapacity   int               `mapstructure:"queueCapacity"`
}

func main() {
	var (
		cfgFile    string
		verbose    int
		serverIP   string
		serverPort int
		dataDir    string
	)

	root := &cobra.Command{
		Use:     "wtlog-lander",
		Short:   "Run a wtlog storage agent",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgFile, verbose, serverIP, serverPort, dataDir)
		},
	}

	cliutil.BindPersistentFlags(root, &cfgFile, &verbose)
	root.Flags().StringVar(&serverIP, "server-ip", "127.0.0.1", "wtlog-server address to connect to")
	root.Flags().IntVar(&serverPort, "server-port", 9000, "wtlog-server port to connect to")
	root.Flags().StringVar(&dataDir, "data-dir", "./data", "directory to persist dated log files and the search index under")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgFile string, verbose int, serverIP string, serverPort int, dataDir string) error {
	v := viper.New()
	v.SetDefault("metrics.listen", ":9101")

	var cfg config
	if err := cliutil.LoadConfig(v, cfgFile, &cfg); err != nil {
		return err
	}
	cfg.ServerIP = cliutil.FirstNonEmpty(cfg.ServerIP, serverIP)
	cfg.DataDir = cliutil.FirstNonEmpty(cfg.DataDir, dataDir)
	if cfg.ServerPort == 0 {
		cfg.ServerPort = serverPort
	}

	ctx, cancel := cliutil.NotifyContext()
	defer cancel()

	log, err := cliutil.BuildLogger(ctx, cfg.LogLevel, cfg.Log, verbose)
	if err != nil {
		return err
	}

	reg := metrics.New(cliutil.FirstNonEmpty(cfg.Metrics.Namespace, "wtlog_lander"))
	shutdownMetrics, err := cliutil.ServeMetrics(cfg.Metrics, reg, log)
	if err != nil {
		return err
	}

	ld := lander.New(cfg.DataDir, lander.Options{
		DisconnectGrace:      cfg.DisconnectGrace.Time(),
		QueueInitialCapacity: cfg.QueueCapacity,
		Log:                  log,
		Metrics:              reg,
	})

	if err := ld.Connect(ctx, cfg.ServerIP, cfg.ServerPort); err != nil {
		return err
	}

	cliutil.PrintBanner("wtlog-lander", version, fmt.Sprintf("%s:%d", cfg.ServerIP, cfg.ServerPort))

	con := console.New(os.Stdin, os.Stdout, "wtlog-lander> ")
	con.Register(console.Command{
		Name: "stat",
		Help: "print queue depths, pending acks and host load",
		Run: func(args []string) bool {
			printStat(ld)
			return true
		},
	})
	con.Register(console.Command{
		Name: "reindex",
		Help: "rebuild the search index from the dated files on disk",
		Run: func(args []string) bool {
			runReindex(cfg.DataDir)
			return true
		},
	})
	con.Register(console.Command{
		Name: "stop",
		Help: "gracefully disconnect and exit",
		Run: func(args []string) bool {
			cancel()
			return false
		},
	})

	go con.Run()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	_ = ld.Disconnect(stopCtx)
	_ = shutdownMetrics(stopCtx)

	return nil
}

func printStat(ld *lander.Lander) {
	printDepth, searchDepth, sendDepth, pendingAcks := ld.Stats()
	fmt.Fprintf(os.Stdout, "print=%d search=%d send=%d pendingAcks=%d\n", printDepth, searchDepth, sendDepth, pendingAcks)

	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		fmt.Fprintf(os.Stdout, "cpu=%.1f%%\n", pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(os.Stdout, "mem=%.1f%%\n", vm.UsedPercent)
	}
}

func runReindex(dataDir string) {
	idx, err := searchindex.Open(filepath.Join(dataDir, indexFileName))
	if err != nil {
		fmt.Fprintf(os.Stdout, "reindex: open index failed: %v\n", err)
		return
	}
	defer idx.Close()

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stdout, "reindex: read directory failed: %v\n", err)
		return
	}

	p := mpb.New(mpb.WithOutput(os.Stdout))
	bar := p.AddBar(int64(len(entries)),
		mpb.PrependDecorators(decor.Name("reindex ")),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d files")),
	)

	total, err := reindex.Run(dataDir, idx, func(file string, records int) {
		bar.Increment()
	})
	p.Wait()

	if err != nil {
		fmt.Fprintf(os.Stdout, "reindex: %v (indexed %d records before failing)\n", err, total)
		return
	}

	fmt.Fprintf(os.Stdout, "reindex complete: %d records\n", total)
}
