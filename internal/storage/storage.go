package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/A-ryanVAT-S/Provify/internal/storage/bolt"
	"github.com/A-ryanVAT-S/Provify/internal/storage/jsonfile"
	"github.com/A-ryanVAT-S/Provify/internal/storage/sqlite"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

var (
	// ErrNotFound is returned for an id-addressed operation on an unknown bug
	ErrNotFound = errors.New("bug not found")
	// ErrPersistence wraps a failed durable write; the mutation was rolled back
	ErrPersistence = errors.New("persistence failure")
	// ErrEmptyBatch is returned when a bulk intake carries no records
	ErrEmptyBatch = errors.New("no bugs provided")
)

// Backend is the durable representation behind a Store.
//
// SaveBugs always receives the full collection, newest first, and must
// replace whatever was stored before in one step. LoadBugs returns the
// collection in the same order.
type Backend interface {
	// Bugs - the authoritative collection
	LoadBugs(ctx context.Context) ([]*types.Bug, error)
	SaveBugs(ctx context.Context, bugs []*types.Bug) error

	// Intake - raw reports as submitted
	LoadIntake(ctx context.Context) ([]types.BugInput, error)
	SaveIntake(ctx context.Context, inputs []types.BugInput) error

	// Lifecycle
	Close() error
}

var (
	_ Backend = (*jsonfile.Storage)(nil)
	_ Backend = (*sqlite.Storage)(nil)
	_ Backend = (*bolt.Storage)(nil)
)

// Backend names
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Config selects and locates a backend
type Config struct {
	// Backend is one of json, sqlite, bolt (default json)
	Backend string
	// Dir holds every file the backend writes (default ".")
	Dir string
}

// File names inside Config.Dir
const (
	SQLiteFile = "provify.db"
	BoltFile   = "provify.bolt"
)

// NewBackend opens the configured backend
func NewBackend(ctx context.Context, cfg Config) (Backend, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}

	switch cfg.Backend {
	case "", BackendJSON:
		return jsonfile.New(dir)
	case BackendSQLite:
		return sqlite.New(ctx, filepath.Join(dir, SQLiteFile))
	case BackendBolt:
		return bolt.New(filepath.Join(dir, BoltFile))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
