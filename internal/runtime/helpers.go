package runtime

import (
	"log/slog"

	"github.com/accordly/case-insight/internal/auth"
	"github.com/accordly/case-insight/internal/config"
	"github.com/accordly/case-insight/internal/reasoning"
)

// authenticatorFromConfig builds the API-key authenticator, or nil when auth
// is disabled. Enabled auth with zero keys would lock every caller out, so it
// is treated as disabled with a warning.
func authenticatorFromConfig(cfg config.AuthConfig, logger *slog.Logger) *auth.Authenticator {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.APIKeys) == 0 {
		logger.Warn("auth enabled but no api_keys configured, running without auth")
		return nil
	}

	keys := make([]auth.Key, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, auth.Key{Hash: k.KeyHash, Description: k.Description})
	}
	return auth.NewAuthenticator(keys)
}

// clientFromConfig builds the reasoning client from configuration.
func clientFromConfig(cfg config.ReasoningConfig) *reasoning.Client {
	opts := []reasoning.ClientOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, reasoning.WithBaseURL(cfg.BaseURL))
	}
	return reasoning.NewClient(cfg.APIKey, opts...)
}
