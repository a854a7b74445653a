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

// Command wtlog-client is a minimal emitter: it connects to a wtlog-server
// and offers an interactive console to send ad hoc log lines, mainly useful
// for exercising a broker deployment by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wentanlee/wtlog/client"
	"github.com/wentanlee/wtlog/duration"
	"github.com/wentanlee/wtlog/internal/cliutil"
	"github.com/wentanlee/wtlog/internal/console"
	"github.com/wentanlee/wtlog/metrics"
	"github.com/wentanlee/wtlog/protocol"
)

var version = "dev"

type config struct {
	cliutil.BaseConfig `mapstructure:",squash"`

	ServerIP        string            `mapstructure:"serverIp"`
	ServerPort      int               `mapstructure:"serverPort"`
	DisconnectGrace duration.Duration `mapstructure:"disconnectGrace"`
	QueueCapacity   int               `mapstructure:"queueCapacity"`
}

func main() {
	var (
		cfgFile    string
		verbose    int
		serverIP   string
		serverPort int
	)

	root := &cobra.Command{
		Use:     "wtlog-client",
		Short:   "Send ad hoc logs to a wtlog-server",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgFile, verbose, serverIP, serverPort)
		},
	}

	cliutil.BindPersistentFlags(root, &cfgFile, &verbose)
	root.Flags().StringVar(&serverIP, "server-ip", "127.0.0.1", "wtlog-server address to connect to")
	root.Flags().IntVar(&serverPort, "server-port", 9000, "wtlog-server port to connect to")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgFile string, verbose int, serverIP string, serverPort int) error {
	v := viper.New()
	v.SetDefault("metrics.listen", ":9102")

	var cfg config
	if err := cliutil.LoadConfig(v, cfgFile, &cfg); err != nil {
		return err
	}
	cfg.ServerIP = cliutil.FirstNonEmpty(cfg.ServerIP, serverIP)
	if cfg.ServerPort == 0 {
		cfg.ServerPort = serverPort
	}

	ctx, cancel := cliutil.NotifyContext()
	defer cancel()

	log, err := cliutil.BuildLogger(ctx, cfg.LogLevel, cfg.Log, verbose)
	if err != nil {
		return err
	}

	reg := metrics.New(cliutil.FirstNonEmpty(cfg.Metrics.Namespace, "wtlog_client"))
	shutdownMetrics, err := cliutil.ServeMetrics(cfg.Metrics, reg, log)
	if err != nil {
		return err
	}

	cl := client.New(client.Options{
		DisconnectGrace:      cfg.DisconnectGrace.Time(),
		QueueInitialCapacity: cfg.QueueCapacity,
		Log:                  log,
		Metrics:              reg,
	})

	if err := cl.Connect(ctx, cfg.ServerIP, cfg.ServerPort); err != nil {
		return err
	}

	cliutil.PrintBanner("wtlog-client", version, fmt.Sprintf("%s:%d", cfg.ServerIP, cfg.ServerPort))

	con := console.New(os.Stdin, os.Stdout, "wtlog-client> ")
	con.Register(console.Command{
		Name: "send",
		Help: "send <level> <message...> — fire-and-forget, no reply requested",
		Run: func(args []string) bool {
			sendLog(cl, args, false)
			return true
		},
	})
	con.Register(console.Command{
		Name: "ask",
		Help: "ask <level> <message...> — requests a reply and prints it",
		Run: func(args []string) bool {
			sendLog(cl, args, true)
			return true
		},
	})
	con.Register(console.Command{
		Name: "stat",
		Help: "print send-queue depth and pending callback count",
		Run: func(args []string) bool {
			depth, pending := cl.Stats()
			fmt.Fprintf(os.Stdout, "send=%d pendingCallbacks=%d\n", depth, pending)
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

	_ = cl.Disconnect(stopCtx)
	_ = shutdownMetrics(stopCtx)

	return nil
}

func sendLog(cl *client.Client, args []string, needReply bool) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stdout, "usage: send|ask <level> <message...>")
		return
	}

	level, ok := protocol.ParseLevel(args[0])
	if !ok {
		fmt.Fprintf(os.Stdout, "unknown level %q\n", args[0])
		return
	}

	content := []byte(strings.Join(args[1:], " "))

	var callback client.Callback
	if needReply {
		callback = func(status protocol.CallBackStat, message []byte) {
			fmt.Fprintf(os.Stdout, "\nreply status=%s message=%q\n", status, message)
		}
	}

	cl.ToLog(content, level, callback)
}
