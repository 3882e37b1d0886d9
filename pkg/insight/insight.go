// Package insight provides the public API for embedding the analysis
// service. This is the stable API for external consumers; the HTTP client
// lives in pkg/client.
package insight

import (
	"github.com/accordly/case-insight/internal/runtime"
)

// Service is the main entry point for running the analysis service.
// See internal/runtime.Service for full documentation.
type Service = runtime.Service

// Option is a functional option for configuring a Service.
type Option = runtime.Option

// New creates a new Service with the given options.
// Example:
//
//	svc, err := insight.New(
//	    insight.WithLogger(logger),
//	    insight.WithFileConfig("config.yaml"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig

	// Advanced options
	WithLogger           = runtime.WithLogger
	WithLedger           = runtime.WithLedger
	WithCompletionClient = runtime.WithCompletionClient
)
