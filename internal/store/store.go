// Package store implements the Media Store (C1) and Claim Store (C12): a
// single SQLite database, opened once and shared by every pipeline stage,
// holding sources, segments, stage statuses, claims, evidence spans,
// entities, jobs, job runs, and LLM I/O logs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite-backed [Store].
type Config struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections. SQLite is
	// single-writer, so this mainly bounds concurrent readers.
	// Default: 10.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections. Default: 5.
	MaxIdleConns int

	// WALMode enables write-ahead logging, required by spec §6.1. Default: true.
	WALMode bool

	// BusyTimeout is how long a connection waits on a lock before failing.
	// Default: 5s.
	BusyTimeout time.Duration
}

// DefaultConfig returns sensible defaults for [Config].
func DefaultConfig() *Config {
	return &Config{
		Path:         "data/knowledgeminer.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// Store is the single-writer, multi-reader SQLite handle shared by every
// pipeline stage. Per spec §9 ("Singletons are owned by the orchestrator"),
// exactly one Store is constructed at startup and injected into every
// processor; processors must never construct their own.
type Store struct {
	db     *sql.DB
	config *Config
	mu     sync.RWMutex
	logger *slog.Logger
}

// New opens (creating if necessary) the SQLite database at config.Path,
// enables WAL mode when config.WALMode is set, and creates the schema if absent.
func New(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	logger := slog.Default().With("component", "store")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &Store{db: db, config: config, logger: logger}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

func (s *Store) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStorageError("sqlite", "enable_wal", err)
		}
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if busyTimeoutMs <= 0 {
		busyTimeoutMs = 5000
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(insertSchemaVersionIfEmpty, SchemaVersion); err != nil {
		return NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(getSchemaVersion).Scan(&version); err != nil {
		return NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("store closed")
	return nil
}

// Ping reports whether the database is reachable. Used by internal/health.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// nowRFC3339 is the canonical timestamp format written to every *_at column.
func nowRFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
