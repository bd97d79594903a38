package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"alertmanager/internal/clock"
	"alertmanager/internal/config"
	"alertmanager/internal/domain"
	"alertmanager/internal/engine"
	"alertmanager/internal/ingest"
	"alertmanager/internal/logging"
	"alertmanager/internal/msgformat"
	"alertmanager/internal/notify"
	"alertmanager/internal/repo"
	"alertmanager/internal/slavesync"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable alert manager service.
type Service struct {
	source     config.ConfigSource
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	repository *repo.MemoryRepository
	pipeline   *Pipeline
	replicator *slavesync.Replicator
	httpSrv    *http.Server
	natsSub    interface{ Close() error }
	readyFlag  atomic.Bool
	clock      clock.Clock
}

// NewService builds a service instance from a config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	history, err := buildHistory(cfg, clk)
	if err != nil {
		closeLog()
		return nil, err
	}
	repository, err := repo.NewMemoryRepository(cfg, history)
	if err != nil {
		_ = history.Close()
		closeLog()
		return nil, err
	}

	providerTimeout := time.Duration(cfg.Service.ProviderTimeoutSec) * time.Second
	registry := notify.NewRegistry(providerTimeout, clk)
	formatter := msgformat.NewFormatter(clk)
	dispatcher := notify.NewDispatcher(repository, registry, formatter, clk, logger)
	replicator := slavesync.NewReplicator(cfg.SlaveSync, logger)
	pipeline := NewPipeline(repository, engine.NewResolver(), dispatcher, replicator, clk, logger)

	service := &Service{
		source:     source,
		cfg:        cfg,
		logger:     logger,
		closeLog:   closeLog,
		repository: repository,
		pipeline:   pipeline,
		replicator: replicator,
		clock:      clk,
	}

	service.buildHTTPServer()
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	return service, nil
}

// buildHistory selects the dedupe-history backend.
// Params: config snapshot and clock.
// Returns: history store or setup error.
func buildHistory(cfg config.Config, clk clock.Clock) (repo.HistoryStore, error) {
	switch cfg.History.Mode {
	case "nats":
		return repo.NewNATSHistory(cfg.History.NATS)
	default:
		return repo.NewMemoryHistory(clk), nil
	}
}

// Run starts the service lifecycle and blocks until a shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.cfg.Service.ReloadEnabled {
		reloadTicker := time.NewTicker(time.Duration(s.cfg.Service.ReloadIntervalSec) * time.Second)
		defer reloadTicker.Stop()
		go func() {
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-reloadTicker.C:
					if err := s.reloadConfig(); err != nil {
						s.logger.Error("reload failed", "error", err.Error())
					}
				}
			}
		}()
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if err := s.replicator.Close(ctx); err != nil {
		s.logger.Error("replicator close failed", "error", err.Error())
		markErr(fmt.Errorf("replicator close: %w", err))
	}
	if err := s.repository.Close(); err != nil {
		s.logger.Error("repository close failed", "error", err.Error())
		markErr(fmt.Errorf("repository close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	_ = s.replicator.Close(context.Background())
	if s.repository != nil {
		_ = s.repository.Close()
		s.repository = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the router with push and health endpoints.
// Params: none.
// Returns: nothing; the server struct is stored for Run.
func (s *Service) buildHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Ingest.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.Ingest.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})

	if s.cfg.Ingest.HTTP.Enabled {
		normalizer := ingest.NewNormalizer(s.clock, s.cfg.Service.FallbackProject)
		handler := ingest.NewHTTPHandler(normalizer, s.timedSink(), s.cfg.Ingest.HTTP.MaxBodyBytes, s.logger)
		mux.HandleFunc(s.cfg.Ingest.HTTP.PipePath, handler.HandlePipe)
		mux.HandleFunc(s.cfg.Ingest.HTTP.JSONPath, handler.HandleJSON)
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	normalizer := ingest.NewNormalizer(s.clock, s.cfg.Service.FallbackProject)
	subscriber, err := ingest.NewNATSSubscriber(
		s.cfg.Ingest.NATS, normalizer, s.timedSink(), config.PipelineTimeout(s.cfg), s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// timedSink bounds every pipeline run with the configured timeout.
// Params: none.
// Returns: alert sink wrapping the pipeline.
func (s *Service) timedSink() ingest.AlertSink {
	return timeoutSink{pipeline: s.pipeline, timeout: config.PipelineTimeout(s.cfg)}
}

// timeoutSink applies the per-alert deadline before entering the pipeline.
type timeoutSink struct {
	pipeline *Pipeline
	timeout  time.Duration
}

// Process runs the pipeline under the configured deadline.
// Params: caller context, alert, and directives.
// Returns: pipeline result.
func (t timeoutSink) Process(ctx context.Context, alert domain.Alert, opts domain.QueryOptions) (domain.PipelineResult, error) {
	boundCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.pipeline.Process(boundCtx, alert, opts)
}

// reloadConfig reloads policy seed data into the repository.
// Params: none.
// Returns: load or apply error; the running snapshot stays on failure.
func (s *Service) reloadConfig() error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return err
	}
	if err := s.repository.Reload(nextCfg); err != nil {
		return err
	}
	s.logger.Info("policy configuration reloaded",
		"rules", len(nextCfg.Rules), "channels", len(nextCfg.Channels),
		"providers", len(nextCfg.Providers), "forbids", len(nextCfg.Forbids))
	return nil
}
