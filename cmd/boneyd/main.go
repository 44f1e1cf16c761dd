// Command boneyd runs an election node.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/cmd/internal/launcher"
	"github.com/boneybank/boneybank/election"
	"github.com/boneybank/boneybank/http"
	"github.com/boneybank/boneybank/kit/cli"
	"github.com/spf13/viper"
)

func main() {
	o := new(launcher.Options)
	cmd, err := cli.NewCommand(viper.New(), &cli.Program{
		Name:  "boneyd",
		Short: "Run an election node that decides the primary replica of every slot",
		Opts:  o.Opts(),
		Run:   func() error { return run(o) },
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(o *launcher.Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := launcher.New(*o, launcher.ElectionGroup)
	if err != nil {
		return err
	}
	defer func() { _ = l.Logger.Sync() }()

	e := election.NewEngine(l.ID, l.Config.ElectionIDs(), l.Clock)
	e.Logger = l.Logger

	policy := l.Config.RetryPolicy()
	peers := make(map[boneybank.NodeID]boneybank.Acceptor)
	for _, n := range l.Config.Elections {
		peers[n.ID] = &http.ElectionClient{Client: http.NewClient(n.URL, policy)}
	}
	e.Connect(peers)
	l.Registry.MustRegister(e.PrometheusCollectors()...)

	handler := http.NewRouter(l.Logger, "election", l.Registry, http.NewElectionHandler(l.Logger, e))
	return l.Run(ctx, handler, e.Run)
}
