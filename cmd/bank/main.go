// Command bank is the bank client. It reads commands from a script file or
// standard input and sends each of them to every replica.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/config"
	"github.com/boneybank/boneybank/http"
	"github.com/boneybank/boneybank/kit/cli"
	"github.com/boneybank/boneybank/logger"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	ConfigPath string
	ID         int64
	Script     string
	Wait       time.Duration
	Timeout    time.Duration
	LogLevel   zapcore.Level
}

func main() {
	o := new(options)
	cmd, err := cli.NewCommand(viper.New(), &cli.Program{
		Name:  "bank",
		Short: "Send deposits, withdrawals and balance reads to every bank replica",
		Opts: []cli.Opt{
			{
				DestP:   &o.ConfigPath,
				Flag:    "config",
				Default: "cluster.toml",
				Desc:    "path to the cluster file",
			},
			{
				DestP: &o.ID,
				Flag:  "id",
				Desc:  "client id used in the credentials of every request",
			},
			{
				DestP: &o.Script,
				Flag:  "script",
				Desc:  "file of commands to run; standard input when empty",
			},
			{
				DestP:   &o.Wait,
				Flag:    "wait",
				Default: 500 * time.Millisecond,
				Desc:    "how long each command waits for replies before the next one is sent",
			},
			{
				DestP:   &o.LogLevel,
				Flag:    "log-level",
				Default: zapcore.WarnLevel,
				Desc:    "supported log levels are debug, info, warn and error",
			},
			{
				DestP:   &o.Timeout,
				Flag:    "timeout",
				Default: time.Minute,
				Desc:    "how long a single request may take, including retries",
			},
		},
		Run: func() error { return run(o) },
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(o *options) error {
	if o.ID <= 0 {
		return fmt.Errorf("--id is required")
	}
	c, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	replicas := make(map[boneybank.NodeID]boneybank.BankService)
	for _, n := range c.Replicas {
		replicas[n.ID] = &http.ReplicaClient{Client: http.NewClient(n.URL, c.RetryPolicy())}
	}
	log := logger.New(os.Stderr, o.LogLevel)
	defer func() { _ = log.Sync() }()

	client := NewClient(o.ID, replicas, os.Stdout)
	client.Wait = o.Wait
	client.Timeout = o.Timeout
	client.Logger = log

	var in io.Reader = os.Stdin
	if o.Script != "" {
		f, err := os.Open(o.Script)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	start, err := c.Start(client.Clock.Now())
	if err != nil {
		return err
	}
	if d := start.Sub(client.Clock.Now()); d > 0 {
		log.Info("Waiting for the servers to start", zap.Time("start", start), zap.Duration("in", d))
		select {
		case <-ctx.Done():
			return nil
		case <-client.Clock.After(d):
		}
	}

	err = client.Run(ctx, in)
	client.Close()
	if err != nil {
		log.Error("Client stopped", zap.Error(err))
	}
	return err
}
