// Package ledger selects and opens the persistence backend for analysis runs.
package ledger

import (
	"fmt"

	"github.com/accordly/case-insight/internal/domain"
	"github.com/accordly/case-insight/internal/ledger/memory"
	"github.com/accordly/case-insight/internal/ledger/sqldb"
)

// Store is the full persistence surface: the run ledger the orchestrator
// writes through plus the reasoning-call audit sink.
type Store interface {
	domain.RunLedger
	domain.CallRecorder
	Close() error
}

// Open returns the store for the configured driver. The memory driver holds
// no state across restarts and exists for tests and ephemeral deployments.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return memory.New(), nil
	case "sqlite", "postgres":
		return sqldb.New(sqldb.Config{Driver: driver, DSN: dsn})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
