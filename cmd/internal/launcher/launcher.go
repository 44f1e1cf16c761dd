// Package launcher holds the setup shared by the boneyd and bankd daemons:
// loading the cluster file, logging, the slot clock and the HTTP server.
package launcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/config"
	bhttp "github.com/boneybank/boneybank/http"
	"github.com/boneybank/boneybank/kit/cli"
	"github.com/boneybank/boneybank/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// Group names the group a daemon belongs to.
type Group string

const (
	ElectionGroup Group = "election"
	ReplicaGroup  Group = "replica"
)

// Options are the command line options shared by the daemons.
type Options struct {
	ConfigPath      string
	ID              int
	HTTPBindAddress string
	LogLevel        string
}

// Opts returns the cli options that fill o.
func (o *Options) Opts() []cli.Opt {
	return []cli.Opt{
		{
			DestP:   &o.ConfigPath,
			Flag:    "config",
			Default: "cluster.toml",
			Desc:    "path to the cluster file; files ending in .yaml or .yml are read as YAML",
		},
		{
			DestP: &o.ID,
			Flag:  "id",
			Desc:  "id of this node in the cluster file",
		},
		{
			DestP: &o.HTTPBindAddress,
			Flag:  "http-bind-address",
			Desc:  "bind address for the HTTP API (default: host:port of the node url)",
		},
		{
			DestP: &o.LogLevel,
			Flag:  "log-level",
			Desc:  "overrides the level of the cluster file; supported levels are debug, info, warn and error",
		},
	}
}

// Launcher is a configured daemon that has not started yet.
type Launcher struct {
	ID          boneybank.NodeID
	Group       Group
	Config      *config.Config
	BindAddress string

	Clock    *schedule.Clock
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// New loads the cluster file named by o and prepares node o.ID of group.
func New(o Options, group Group) (*Launcher, error) {
	if o.ID <= 0 {
		return nil, fmt.Errorf("--id is required")
	}
	c, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	id := boneybank.NodeID(o.ID)
	var (
		node config.Node
		ok   bool
	)
	switch group {
	case ElectionGroup:
		node, ok = c.Election(id)
	case ReplicaGroup:
		node, ok = c.Replica(id)
	}
	if !ok {
		return nil, fmt.Errorf("%s: no %s node with id %d", o.ConfigPath, group, id)
	}

	bind := o.HTTPBindAddress
	if bind == "" {
		u, err := url.Parse(node.URL)
		if err != nil {
			return nil, fmt.Errorf("url of node %d: %w", id, err)
		}
		bind = u.Host
	}

	if o.LogLevel != "" {
		var level zapcore.Level
		if err := level.Set(o.LogLevel); err != nil {
			return nil, fmt.Errorf("unknown log level %q", o.LogLevel)
		}
		c.Logging.Level = level
	}
	log, err := c.Logging.New(os.Stdout)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("service", string(group)), zap.Stringer("node", id))

	clock := schedule.NewClock(c.Schedule(), time.Duration(c.SlotDuration))
	clock.Logger = log.With(zap.String("component", "clock"))

	return &Launcher{
		ID:          id,
		Group:       group,
		Config:      c,
		BindAddress: bind,
		Clock:       clock,
		Registry:    prometheus.NewRegistry(),
		Logger:      log,
	}, nil
}

// Run serves handler and runs the slot clock and every service. It
// returns nil once the last slot has elapsed or ctx is done, and the
// combined errors of every part that failed otherwise.
func (l *Launcher) Run(ctx context.Context, handler http.Handler, services ...func(context.Context) error) error {
	start, err := l.Config.Start(l.Clock.Clock.Now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var (
		mu   sync.Mutex
		errs error
	)
	run := func(fn func(context.Context) error) {
		g.Go(func() error {
			// The first part to stop, even cleanly, stops the others.
			defer cancel()
			err := fn(ctx)
			if err == nil || stderrors.Is(err, context.Canceled) {
				return nil
			}
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
			return err
		})
	}

	run(func(ctx context.Context) error {
		return bhttp.Serve(ctx, l.Logger, l.BindAddress, handler)
	})
	for _, svc := range services {
		run(svc)
	}
	run(func(ctx context.Context) error {
		err := l.Clock.Run(ctx, start)
		if stderrors.Is(err, schedule.ErrScheduleExhausted) {
			l.Logger.Info("Schedule exhausted, shutting down")
			return nil
		}
		return err
	})

	_ = g.Wait()
	return errs
}
