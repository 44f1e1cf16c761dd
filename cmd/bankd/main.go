// Command bankd runs a bank replica.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/cmd/internal/launcher"
	"github.com/boneybank/boneybank/http"
	"github.com/boneybank/boneybank/kit/cli"
	"github.com/boneybank/boneybank/replication"
	"github.com/boneybank/boneybank/resolver"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	o := new(launcher.Options)
	cmd, err := cli.NewCommand(viper.New(), &cli.Program{
		Name:  "bankd",
		Short: "Run a bank replica",
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

	l, err := launcher.New(*o, launcher.ReplicaGroup)
	if err != nil {
		return err
	}
	defer func() { _ = l.Logger.Sync() }()

	policy := l.Config.RetryPolicy()

	var elections []boneybank.ElectionService
	for _, n := range l.Config.Elections {
		elections = append(elections, &http.ElectionClient{Client: http.NewClient(n.URL, policy)})
	}
	res := resolver.New(l.ID, l.Config.ReplicaIDs(), l.Clock, elections)
	res.Logger = l.Logger.With(zap.String("component", "resolver"))

	e := replication.NewEngine(l.ID, l.Config.ReplicaIDs(), l.Clock, res)
	e.Logger = l.Logger

	peers := make(map[boneybank.NodeID]boneybank.ReplicaService)
	for _, n := range l.Config.Replicas {
		peers[n.ID] = &http.ReplicaClient{Client: http.NewClient(n.URL, policy)}
	}
	e.Connect(peers)
	l.Registry.MustRegister(e.PrometheusCollectors()...)

	handler := http.NewRouter(l.Logger, "replica", l.Registry,
		http.NewReplicaHandler(l.Logger, e),
		http.NewBankHandler(l.Logger, e),
	)
	return l.Run(ctx, handler, func(ctx context.Context) error {
		res.Context = ctx
		return e.Run(ctx)
	})
}
