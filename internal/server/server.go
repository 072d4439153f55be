// Package server exposes an executor factory over a JSON HTTP interface:
// remote callers create executors for a cardinality map, run federated
// computations against them, and release them when done.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vk/fedgridgo/internal/config"
	"github.com/vk/fedgridgo/internal/ctxlog"
	"github.com/vk/fedgridgo/internal/factory"
	"golang.org/x/sync/semaphore"
)

// Options configure the front-end.
type Options struct {
	Port         int
	MaxWorkers   int
	Backpressure config.Backpressure
	GracePeriod  time.Duration

	// TLSCert and TLSKey enable TLS when both are set. Empty means an
	// insecure listener, the deployment snapshot's default.
	TLSCert string
	TLSKey  string
}

// Server binds a factory behind a bounded-concurrency HTTP endpoint.
type Server struct {
	opts    Options
	factory factory.Factory
	slots   *semaphore.Weighted
	metrics *metrics

	mu      sync.Mutex
	handles map[string]*factory.Handle

	// addr is set once the listener is bound; tests bind port 0.
	addrMu sync.Mutex
	addr   net.Addr
}

// New builds a server around the given factory.
func New(f factory.Factory, opts Options) (*Server, error) {
	if f == nil {
		return nil, errors.New("server requires a factory")
	}
	if opts.MaxWorkers < 1 {
		return nil, fmt.Errorf("max workers must be >= 1, got %d", opts.MaxWorkers)
	}
	switch opts.Backpressure {
	case config.BackpressureBlock, config.BackpressureReject:
	case "":
		opts.Backpressure = config.BackpressureBlock
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", opts.Backpressure)
	}

	reporter, _ := f.(cacheReporter)
	return &Server{
		opts:    opts,
		factory: f,
		slots:   semaphore.NewWeighted(int64(opts.MaxWorkers)),
		metrics: newMetrics(reporter),
		handles: make(map[string]*factory.Handle),
	}, nil
}

// Handler returns the routed HTTP handler; split out so tests can drive
// the API without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	mux.Handle("POST /v1/executors", s.withWorkerSlot("create", s.handleCreate))
	mux.Handle("POST /v1/executors/{id}/computations", s.withWorkerSlot("compute", s.handleCompute))
	mux.Handle("DELETE /v1/executors/{id}", s.withWorkerSlot("release", s.handleRelease))
	return mux
}

// Run binds the listener and serves until ctx is cancelled, then shuts
// down: the listener stops accepting, in-flight requests get the grace
// period to finish, and every cached executor is released through the
// factory's teardown path.
func (s *Server) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("binding port %d: %w", s.opts.Port, err)
	}
	s.addrMu.Lock()
	s.addr = listener.Addr()
	s.addrMu.Unlock()

	httpServer := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctxlog.WithLogger(context.Background(), logger)
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		if s.opts.TLSCert != "" {
			serveErr <- httpServer.ServeTLS(listener, s.opts.TLSCert, s.opts.TLSKey)
			return
		}
		serveErr <- httpServer.Serve(listener)
	}()
	logger.Info("🛰️ Executor service listening.", "addr", listener.Addr().String(), "max_workers", s.opts.MaxWorkers, "backpressure", s.opts.Backpressure)

	select {
	case err := <-serveErr:
		// Listener failed before shutdown was requested; still release
		// whatever the factory cached.
		closeErr := s.factory.Close(ctx)
		return errors.Join(err, closeErr)
	case <-ctx.Done():
	}

	logger.Info("Shutting down executor service.", "grace_period", s.opts.GracePeriod)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.GracePeriod)
	defer cancel()
	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		logger.Warn("Grace period expired, closing remaining connections.", "error", shutdownErr)
		_ = httpServer.Close()
	}

	closeCtx := ctxlog.WithLogger(context.Background(), logger)
	if err := s.factory.Close(closeCtx); err != nil {
		// Teardown failures are reported, never swallowed.
		logger.Error("Executor teardown failed during shutdown.", "error", err)
		return errors.Join(shutdownErr, err)
	}
	logger.Info("🏁 Executor service stopped.")
	return shutdownErr
}

// Addr returns the bound listener address, or nil before Run binds it.
func (s *Server) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// withWorkerSlot bounds handler concurrency by the worker slots and
// applies the configured backpressure policy when none are free.
func (s *Server) withWorkerSlot(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch s.opts.Backpressure {
		case config.BackpressureReject:
			if !s.slots.TryAcquire(1) {
				s.metrics.requestsRejected.Inc()
				s.metrics.requestsTotal.WithLabelValues(route, "503").Inc()
				writeError(w, http.StatusServiceUnavailable, errorBody{Kind: "overloaded", Message: "all worker slots are busy"})
				return
			}
		default:
			if err := s.slots.Acquire(r.Context(), 1); err != nil {
				s.metrics.requestsTotal.WithLabelValues(route, "499").Inc()
				writeError(w, http.StatusServiceUnavailable, errorBody{Kind: "cancelled", Message: "request cancelled while waiting for a worker slot"})
				return
			}
		}
		defer s.slots.Release(1)

		s.metrics.requestsInFlight.Inc()
		defer s.metrics.requestsInFlight.Dec()

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		s.metrics.requestsTotal.WithLabelValues(route, fmt.Sprintf("%d", recorder.status)).Inc()
	})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
