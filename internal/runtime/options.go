package runtime

import (
	"fmt"
	"log/slog"

	"github.com/accordly/case-insight/internal/config"
	"github.com/accordly/case-insight/internal/ledger"
	"github.com/accordly/case-insight/internal/pipeline"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithFileConfig uses file-based configuration with hot-reload of the
// per-stage model overrides (default for the daemon). The path should point
// to a config.yaml that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(s *Service) error {
		watcher, err := config.NewWatcher(path, s.logger)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		s.watcher = watcher
		return nil
	}
}

// WithConfig uses an already-loaded configuration. No file watching; model
// overrides stay fixed. Intended for tests and embedders that manage config
// themselves.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) error {
		s.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger. Options that need a logger (WithFileConfig)
// should come after it.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// WithLedger sets a custom run ledger instead of opening one from the storage
// config. The service still closes it on Shutdown.
func WithLedger(store ledger.Store) Option {
	return func(s *Service) error {
		s.store = store
		return nil
	}
}

// WithCompletionClient sets a custom reasoning client. For tests and
// embedders that bring their own transport.
func WithCompletionClient(client pipeline.CompletionClient) Option {
	return func(s *Service) error {
		s.client = client
		return nil
	}
}
