// Package sqlite stores bugs in a SQLite database through the pure-Go
// ncruces driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// Storage implements the bug backend using SQLite
type Storage struct {
	db *sql.DB
}

// New opens or creates the database at path
func New(ctx context.Context, path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) LoadBugs(ctx context.Context) ([]*types.Bug, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_name, app_package, description, status, severity,
		       created_at, last_verified, notes, latest_verification
		FROM bugs
		ORDER BY created_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bugs: %w", err)
	}
	defer rows.Close()

	var bugs []*types.Bug
	for rows.Next() {
		var (
			bug          types.Bug
			status       string
			severity     sql.NullInt64
			createdAt    string
			lastVerified sql.NullString
			summary      sql.NullString
		)
		if err := rows.Scan(&bug.ID, &bug.AppName, &bug.AppPackage, &bug.Description, &status,
			&severity, &createdAt, &lastVerified, &bug.Notes, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan bug: %w", err)
		}

		bug.Status = types.Status(status)
		if severity.Valid {
			sev := int(severity.Int64)
			bug.Severity = &sev
		}
		if bug.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("bug %s: invalid created_at %q: %w", bug.ID, createdAt, err)
		}
		if bug.LastVerifiedAt, err = parseNullableTime(lastVerified); err != nil {
			return nil, fmt.Errorf("bug %s: invalid last_verified: %w", bug.ID, err)
		}
		if summary.Valid && summary.String != "" {
			var vs types.VerificationSummary
			if err := json.Unmarshal([]byte(summary.String), &vs); err != nil {
				return nil, fmt.Errorf("bug %s: invalid latest_verification: %w", bug.ID, err)
			}
			bug.LatestVerification = &vs
		}
		bugs = append(bugs, &bug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bugs: %w", err)
	}
	// RFC3339Nano trims trailing zeros, so text order is only approximate
	types.SortNewestFirst(bugs)
	return bugs, nil
}

// SaveBugs replaces the table contents inside one IMMEDIATE transaction.
func (s *Storage) SaveBugs(ctx context.Context, bugs []*types.Bug) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM bugs`); err != nil {
			return fmt.Errorf("failed to clear bugs: %w", err)
		}
		for _, bug := range bugs {
			var summary sql.NullString
			if bug.LatestVerification != nil {
				data, err := json.Marshal(bug.LatestVerification)
				if err != nil {
					return fmt.Errorf("failed to encode summary for %s: %w", bug.ID, err)
				}
				summary = sql.NullString{String: string(data), Valid: true}
			}
			var severity sql.NullInt64
			if bug.Severity != nil {
				severity = sql.NullInt64{Int64: int64(*bug.Severity), Valid: true}
			}
			var lastVerified sql.NullString
			if bug.LastVerifiedAt != nil {
				lastVerified = sql.NullString{String: bug.LastVerifiedAt.UTC().Format(time.RFC3339Nano), Valid: true}
			}

			_, err := conn.ExecContext(ctx, `
				INSERT INTO bugs (id, app_name, app_package, description, status, severity,
				                  created_at, last_verified, notes, latest_verification)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, bug.ID, bug.AppName, bug.AppPackage, bug.Description, string(bug.Status), severity,
				bug.CreatedAt.UTC().Format(time.RFC3339Nano), lastVerified, bug.Notes, summary)
			if err != nil {
				return fmt.Errorf("failed to insert bug %s: %w", bug.ID, err)
			}
		}
		return nil
	})
}

func (s *Storage) LoadIntake(ctx context.Context) ([]types.BugInput, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT app_name, app_package, bug FROM intake ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query intake: %w", err)
	}
	defer rows.Close()

	var inputs []types.BugInput
	for rows.Next() {
		var in types.BugInput
		if err := rows.Scan(&in.AppName, &in.AppPackage, &in.Description); err != nil {
			return nil, fmt.Errorf("failed to scan intake record: %w", err)
		}
		inputs = append(inputs, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intake: %w", err)
	}
	return inputs, nil
}

func (s *Storage) SaveIntake(ctx context.Context, inputs []types.BugInput) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM intake`); err != nil {
			return fmt.Errorf("failed to clear intake: %w", err)
		}
		for i, in := range inputs {
			_, err := conn.ExecContext(ctx,
				`INSERT INTO intake (seq, app_name, app_package, bug) VALUES (?, ?, ?, ?)`,
				i, in.AppName, in.AppPackage, in.Description)
			if err != nil {
				return fmt.Errorf("failed to insert intake record %d: %w", i, err)
			}
		}
		return nil
	})
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// withImmediateTx runs fn inside BEGIN IMMEDIATE on a dedicated connection.
// database/sql's BeginTx cannot request IMMEDIATE mode, and the raw
// statements must share one connection from the pool.
func (s *Storage) withImmediateTx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin immediate transaction: %w", err)
	}

	// ROLLBACK uses a fresh context so cleanup happens even if ctx is canceled
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// parseNullableTime parses a nullable RFC3339 TEXT column. Timestamps are
// stored as TEXT so the driver never converts them behind our back.
func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
