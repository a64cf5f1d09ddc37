package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-facesync/internal/bus"
	"github.com/loqalabs/loqa-facesync/internal/config"
	"github.com/loqalabs/loqa-facesync/internal/eventstore"
	"github.com/loqalabs/loqa-facesync/internal/natsserver"
	"github.com/loqalabs/loqa-facesync/internal/registry"
	"github.com/loqalabs/loqa-facesync/internal/sequence"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *eventstore.Store
	registry  *registry.Registry
	generator *sequence.Generator
	service   *sequence.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startComponents(ctx); err != nil {
		r.stopComponents()
		r.shutdownTelemetry()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	newAPI(r.registry, r.generator, r.store, r.logger).register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.stopComponents()
	r.shutdownTelemetry()
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) startComponents(ctx context.Context) error {
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats")))
	if err != nil {
		return err
	}
	r.nats = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	r.registry, err = registry.New(r.cfg.Fixtures, r.logger)
	if err != nil {
		return fmt.Errorf("load fixtures: %w", err)
	}

	r.generator, err = sequence.NewGenerator(r.cfg, r.registry, r.store, r.logger)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}

	r.service = sequence.NewService(ctx, r.cfg.Generator, r.bus, r.generator, r.registry, r.logger)
	if err := r.service.Start(); err != nil {
		return fmt.Errorf("start sequence service: %w", err)
	}
	return nil
}

func (r *Runtime) stopComponents() {
	if r.service != nil {
		r.service.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	r.nats.Shutdown()
}

func (r *Runtime) shutdownTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && r.service.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
