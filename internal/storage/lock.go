package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// LockFile is created inside the storage directory while a process owns it
const LockFile = ".provify.lock"

// ErrLocked is returned when another live process holds the storage lock
var ErrLocked = errors.New("storage directory is locked by another process")

// ExclusiveLock is the lock file format. Every mutation rewrites the whole
// collection, so two processes sharing a directory would overwrite each other.
type ExclusiveLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// AcquireExclusiveLock claims dir for this process. A lock left by a dead
// process on this host is treated as stale and replaced.
// Returns the lock file path for ReleaseExclusiveLock.
func AcquireExclusiveLock(dir, holder, version string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}
	lockPath := filepath.Join(dir, LockFile)

	if data, err := os.ReadFile(lockPath); err == nil {
		var existing ExclusiveLock
		if json.Unmarshal(data, &existing) == nil && existing.PID != os.Getpid() &&
			isProcessAlive(existing.PID, existing.Hostname) {
			return "", fmt.Errorf("%w: %s (PID %d on %s, started %s)", ErrLocked,
				existing.Holder, existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	lock := ExclusiveLock{
		Holder:    holder,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		Version:   version,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}
	if err := os.WriteFile(lockPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to create exclusive lock: %w", err)
	}
	return lockPath, nil
}

// ReleaseExclusiveLock removes the lock file. Safe to call with an empty path.
func ReleaseExclusiveLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove exclusive lock: %w", err)
	}
	return nil
}

// isProcessAlive reports whether pid exists. Remote hosts and permission
// errors count as alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
