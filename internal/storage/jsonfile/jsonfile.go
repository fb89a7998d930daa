// Package jsonfile stores bugs as indented JSON documents in a directory:
// developer.json holds the bug collection and bugs.json the raw intake.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/A-ryanVAT-S/Provify/internal/types"
)

const (
	// BugsFile holds the authoritative collection, newest first
	BugsFile = "developer.json"
	// IntakeFile holds raw reports as submitted
	IntakeFile = "bugs.json"
)

// Storage is a directory of JSON files
type Storage struct {
	dir string
}

// New creates the directory if needed
func New(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// Dir returns the storage directory
func (s *Storage) Dir() string {
	return s.dir
}

func (s *Storage) LoadBugs(_ context.Context) ([]*types.Bug, error) {
	var bugs []*types.Bug
	if err := readJSON(filepath.Join(s.dir, BugsFile), &bugs); err != nil {
		return nil, err
	}
	return bugs, nil
}

func (s *Storage) SaveBugs(_ context.Context, bugs []*types.Bug) error {
	if bugs == nil {
		bugs = []*types.Bug{}
	}
	return writeJSON(filepath.Join(s.dir, BugsFile), bugs)
}

func (s *Storage) LoadIntake(_ context.Context) ([]types.BugInput, error) {
	var inputs []types.BugInput
	if err := readJSON(filepath.Join(s.dir, IntakeFile), &inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}

func (s *Storage) SaveIntake(_ context.Context, inputs []types.BugInput) error {
	if inputs == nil {
		inputs = []types.BugInput{}
	}
	return writeJSON(filepath.Join(s.dir, IntakeFile), inputs)
}

func (s *Storage) Close() error {
	return nil
}

// readJSON leaves v untouched when the file does not exist yet.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing %s: %w", filepath.Base(path), err)
	}

	// Write atomically using temp file + rename
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("committing %s: %w", path, err)
	}
	return nil
}
