// Package runtime assembles the analysis service from configuration and
// manages its lifecycle. Service can be embedded in larger applications or
// run standalone from cmd/insightd.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/accordly/case-insight/internal/config"
	"github.com/accordly/case-insight/internal/ledger"
	"github.com/accordly/case-insight/internal/pipeline"
	"github.com/accordly/case-insight/internal/reasoning"
	"github.com/accordly/case-insight/internal/server"
	"github.com/accordly/case-insight/internal/tokens"
)

// Service owns every long-lived component of the analysis daemon: the run
// ledger, the reasoning client, the pipeline, and the HTTP server. Per-stage
// model overrides reload when the config file changes; everything else is
// fixed until restart.
type Service struct {
	// Dependencies (injected via options)
	watcher *config.Watcher
	cfg     *config.Config
	store   ledger.Store
	client  pipeline.CompletionClient
	logger  *slog.Logger

	// Hot-reloadable model routing
	modelMu     sync.RWMutex
	model       string
	stageModels map[string]string

	// Internal state
	srv    *server.Server
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a new Service with the given options.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.cfg == nil && s.watcher == nil {
		return nil, fmt.Errorf("configuration required (use WithFileConfig or WithConfig)")
	}

	return s, nil
}

// Start loads configuration, opens the ledger, wires the pipeline, and starts
// the HTTP server in the background. It returns once the server is listening
// or the assembly failed.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	cfg := s.cfg
	if s.watcher != nil {
		loaded, err := s.watcher.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	s.cfg = cfg
	s.applyModelConfig(cfg)

	if s.store == nil {
		store, err := ledger.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		s.store = store
	}

	if s.client == nil {
		s.client = clientFromConfig(cfg.Reasoning)
	}

	recorder := reasoning.NewRecorder(s.store, s.logger, cfg.Recording.Enabled)
	executor := pipeline.NewExecutor(pipeline.ExecutorConfig{
		Client:      s.client,
		ModelFor:    s.modelFor,
		MaxTokens:   cfg.Reasoning.MaxTokens,
		CallTimeout: cfg.Reasoning.Timeout(),
		Recorder:    recorder,
		Logger:      s.logger,
	})
	orchestrator := pipeline.NewOrchestrator(s.store, executor, s.logger)

	authenticator := authenticatorFromConfig(cfg.Auth, s.logger)
	s.srv = server.New(cfg.Server.Port, s.logger, authenticator)

	counter := tokens.NewRegistry()
	counter.Register(tokens.NewTiktokenCounter())

	handler := server.NewRunsHandler(server.RunsConfig{
		Orchestrator:   orchestrator,
		Ledger:         s.store,
		Counter:        counter,
		DefaultModel:   s.defaultModel,
		RequestTimeout: cfg.Server.Timeout(),
		RunsPerMinute:  cfg.Server.RunRateLimit,
	})
	handler.Routes(s.srv.Router)

	go func() {
		if err := s.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	if s.watcher != nil {
		go s.watchConfig()
	}

	s.logger.Info("service started",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Storage.Driver),
		slog.Int("stages", pipeline.TotalStages()),
		slog.Bool("auth", authenticator != nil),
	)
	return nil
}

// Shutdown gracefully stops the service: the config watcher, the HTTP server
// (draining open event streams until ctx expires), then the ledger.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("shutting down service")

	if s.cancel != nil {
		s.cancel()
	}

	var firstErr error
	if s.srv != nil {
		if err := s.srv.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			firstErr = err
		}
	}

	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Error("failed to close config watcher", slog.String("error", err.Error()))
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close ledger", slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.logger.Info("service shutdown complete")
	return firstErr
}

// watchConfig applies per-stage model overrides when the config file changes.
func (s *Service) watchConfig() {
	onChange := func(cfg *config.Config) {
		s.logger.Info("config changed, applying model overrides",
			slog.String("model", cfg.Reasoning.Model),
			slog.Int("stage_overrides", len(cfg.Reasoning.StageModels)),
		)
		s.applyModelConfig(cfg)
	}

	if err := s.watcher.Watch(s.ctx, onChange); err != nil {
		s.logger.Error("config watch failed", slog.String("error", err.Error()))
	}
}

// applyModelConfig swaps the model routing table. Stage executors resolve
// their model per call, so the change reaches the next stage immediately.
func (s *Service) applyModelConfig(cfg *config.Config) {
	overrides := make(map[string]string, len(cfg.Reasoning.StageModels))
	for id, m := range cfg.Reasoning.StageModels {
		overrides[id] = m
	}

	s.modelMu.Lock()
	s.model = cfg.Reasoning.Model
	s.stageModels = overrides
	s.modelMu.Unlock()
}

// modelFor resolves the model for a stage, honoring live per-stage overrides.
func (s *Service) modelFor(stageID string) string {
	s.modelMu.RLock()
	defer s.modelMu.RUnlock()
	if m, ok := s.stageModels[stageID]; ok && m != "" {
		return m
	}
	return s.model
}

func (s *Service) defaultModel() string {
	s.modelMu.RLock()
	defer s.modelMu.RUnlock()
	return s.model
}
