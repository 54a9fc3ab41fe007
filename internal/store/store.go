// Package store provides storage backends for ReplyPipe.
//
// It persists conversation turns, delivery receipts, inbound message
// deduplication records and the reply outbox. An in-memory store serves tests and
// single-process runs; SQLite and PostgreSQL back persistent deployments.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// ErrDSNNotSet is returned when a SQL store is created without a DSN.
var ErrDSNNotSet = errors.New("database DSN not set")

// Driver names understood by DetectDSNType and Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ReceiptRepo stores delivery receipts.
type ReceiptRepo interface {
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
}

// TurnRepo stores conversation turns.
type TurnRepo interface {
	AddTurn(t models.Turn) error
	// RecentTurns returns up to limit of the user's latest turns, oldest first.
	RecentTurns(userID string, limit int) ([]models.Turn, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	ReceiptRepo
	TurnRepo
	DedupRepo
	OutboxRepo
	Close() error
}

// Opts holds configuration options for SQL stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for SQL stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the driver name for a DSN. URLs and key=value strings
// are PostgreSQL; anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user="):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

// Open returns a store for dsn. An empty DSN yields an in-memory store.
func Open(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case DriverPostgres:
		s, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	}
}
