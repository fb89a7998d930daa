// Package bolt stores bugs in a bbolt key/value file.
//
// Bucket "bugs" maps bug id to the JSON-encoded bug. Bucket "intake" maps a
// big-endian sequence number to a JSON-encoded intake record.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/A-ryanVAT-S/Provify/internal/types"
)

const (
	bugsBucket   = "bugs"
	intakeBucket = "intake"
)

// Storage wraps a bbolt database
type Storage struct {
	db *bbolt.DB
}

// New opens or creates the database file
func New(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bugsBucket, intakeBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Storage{db: db}, nil
}

func (s *Storage) LoadBugs(_ context.Context) ([]*types.Bug, error) {
	var bugs []*types.Bug
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bugsBucket)).ForEach(func(k, v []byte) error {
			var bug types.Bug
			if err := json.Unmarshal(v, &bug); err != nil {
				return fmt.Errorf("failed to decode bug %s: %w", k, err)
			}
			bugs = append(bugs, &bug)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	types.SortNewestFirst(bugs)
	return bugs, nil
}

// SaveBugs replaces the bucket contents in a single transaction.
func (s *Storage) SaveBugs(_ context.Context, bugs []*types.Bug) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := recreateBucket(tx, bugsBucket)
		if err != nil {
			return err
		}
		for _, bug := range bugs {
			data, err := json.Marshal(bug)
			if err != nil {
				return fmt.Errorf("failed to encode bug %s: %w", bug.ID, err)
			}
			if err := b.Put([]byte(bug.ID), data); err != nil {
				return fmt.Errorf("failed to put bug %s: %w", bug.ID, err)
			}
		}
		return nil
	})
}

func (s *Storage) LoadIntake(_ context.Context) ([]types.BugInput, error) {
	var inputs []types.BugInput
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(intakeBucket)).ForEach(func(_, v []byte) error {
			var in types.BugInput
			if err := json.Unmarshal(v, &in); err != nil {
				return fmt.Errorf("failed to decode intake record: %w", err)
			}
			inputs = append(inputs, in)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return inputs, nil
}

func (s *Storage) SaveIntake(_ context.Context, inputs []types.BugInput) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := recreateBucket(tx, intakeBucket)
		if err != nil {
			return err
		}
		for i, in := range inputs {
			data, err := json.Marshal(in)
			if err != nil {
				return fmt.Errorf("failed to encode intake record %d: %w", i, err)
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, uint64(i))
			if err := b.Put(key, data); err != nil {
				return fmt.Errorf("failed to put intake record %d: %w", i, err)
			}
		}
		return nil
	})
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func recreateBucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to clear bucket %s: %w", name, err)
	}
	b, err := tx.CreateBucket([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	return b, nil
}
