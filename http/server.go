package http

import (
	"context"
	"net"
	"net/http"
	"time"

	kithttp "github.com/boneybank/boneybank/kit/transport/http"
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsPath is where every node exposes its prometheus metrics.
const MetricsPath = "/metrics"

// ShutdownTimeout bounds a graceful shutdown of the server.
const ShutdownTimeout = 2 * time.Second

// ResourceHandler is an http.Handler mounted under its own prefix.
type ResourceHandler interface {
	http.Handler
	Prefix() string
}

// NewRouter mounts handlers under their prefixes together with /metrics
// and /health. Request metrics are registered with reg under the name of
// the node.
func NewRouter(log *zap.Logger, name string, reg *prometheus.Registry, handlers ...ResourceHandler) http.Handler {
	reqs, dur := kithttp.NewRequestMetrics("boneybank")
	reg.MustRegister(reqs, dur)

	r := chi.NewRouter()
	r.Use(
		kithttp.Logging(log),
		kithttp.Metrics(name, reqs, dur),
	)
	r.Method(http.MethodGet, MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for _, h := range handlers {
		r.Mount(h.Prefix(), h)
	}
	return r
}

// Serve serves handler on addr until ctx is done, then shuts the server
// down gracefully.
func Serve(ctx context.Context, log *zap.Logger, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, log, ln, handler)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, log *zap.Logger, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("Listening", zap.String("transport", "http"), zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	cctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(cctx); err != nil {
		return err
	}
	if err := <-errc; err != http.ErrServerClosed {
		return err
	}
	return nil
}
