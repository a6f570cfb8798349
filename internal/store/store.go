// Package store holds the compiled navdata database, a SQLite file
// reached through database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wegman-software/navcompile-go/internal/logger"
)

// Options configures the compiled database
type Options struct {
	// BatchSize is the number of records per write transaction
	BatchSize int
	// JournalMode is passed to PRAGMA journal_mode
	JournalMode string
}

// DefaultOptions returns the default store options
func DefaultOptions() Options {
	return Options{BatchSize: 1000, JournalMode: "WAL"}
}

// State is the lifecycle state of a compiled database
type State string

const (
	StateEmpty         State = "empty"
	StateSchemaCreated State = "schema-created"
	StatePopulated     State = "populated"
	StateGraphResolved State = "graph-resolved"
	StateValidated     State = "validated"
	StateIndexed       State = "indexed"
	StateIncomplete    State = "incomplete"
)

// Metadata keys
const (
	MetaState       = "state"
	MetaAiracCycle  = "airac_cycle"
	MetaCompiledAt  = "compiled_at"
	MetaSourceCount = "source_count"
	MetaVersion     = "navcompile_version"
)

// Store wraps the compiled database connection
type Store struct {
	db   *sql.DB
	path string
	opts Options
}

// Open opens or creates the compiled database at path
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps transactions and pragmas on the same session
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	if opts.JournalMode != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode="+opts.JournalMode)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := New(db, opts)
	s.path = path
	return s, nil
}

// New wraps an existing connection
func New(db *sql.DB, opts Options) *Store {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	return &Store{db: db, opts: opts}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for read-only reporting queries
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path
func (s *Store) Path() string { return s.path }

// Options returns the store options
func (s *Store) Options() Options { return s.opts }

// SetMetadata stores a key/value pair in the metadata table
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

// Metadata reads a metadata value. Missing keys return "" without error.
func (s *Store) Metadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata %s: %w", key, err)
	}
	return value, nil
}

// State reads the lifecycle state. A database without schema is empty.
func (s *Store) State(ctx context.Context) (State, error) {
	value, err := s.Metadata(ctx, MetaState)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return StateEmpty, nil
		}
		return "", err
	}
	if value == "" {
		return StateEmpty, nil
	}
	return State(value), nil
}

// SetState records the lifecycle state
func (s *Store) SetState(ctx context.Context, state State) error {
	if err := s.SetMetadata(ctx, MetaState, string(state)); err != nil {
		return err
	}
	logger.Get().Debug("Database state", zap.String("state", string(state)))
	return nil
}

// Analyze updates the query planner statistics
func (s *Store) Analyze(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return nil
}

// Vacuum rebuilds the database file
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// Counts returns the row count of each data table
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(DataTables))
	for _, t := range DataTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t, err)
		}
		counts[t] = n
	}
	return counts, nil
}

// withTx runs fn in a transaction, rolling back on error
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
