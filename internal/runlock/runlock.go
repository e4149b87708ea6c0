// Package runlock keeps two processes from sharing one data directory.
package runlock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	errs "harvester/pkg/errors"
	"harvester/pkg/ledger"
)

const (
	lockDirName   = ".harvester.lock"
	lockOwnerFile = "owner.json"
)

// Lock is a held data directory lock
type Lock struct {
	lockDir string
}

// Owner describes the process holding a lock
type Owner struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// Acquire creates the lock directory inside dataDir. It fails with
// errors.ErrLocked when another run holds it.
func Acquire(dataDir, runID string) (*Lock, error) {
	target := strings.TrimSpace(dataDir)
	if target == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", target, err)
	}

	lockDir := filepath.Join(target, lockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			if owner, readErr := ReadOwner(target); readErr == nil && owner.PID > 0 {
				return nil, fmt.Errorf("%w: %s (pid=%d run_id=%s created_at=%s host=%s)",
					errs.ErrLocked, target, owner.PID, owner.RunID, owner.CreatedAt, owner.Hostname)
			}
			return nil, fmt.Errorf("%w: %s", errs.ErrLocked, target)
		}
		return nil, fmt.Errorf("acquire run lock for %s: %w", target, err)
	}

	owner := Owner{
		PID:       os.Getpid(),
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := ledger.WriteJSON(filepath.Join(lockDir, lockOwnerFile), owner); err != nil {
		_ = os.Remove(lockDir)
		return nil, fmt.Errorf("write run lock owner for %s: %w", target, err)
	}

	return &Lock{lockDir: lockDir}, nil
}

// ReadOwner returns the owner recorded in dataDir's lock
func ReadOwner(dataDir string) (Owner, error) {
	var owner Owner
	err := ledger.ReadJSON(filepath.Join(dataDir, lockDirName, lockOwnerFile), &owner)
	return owner, err
}

// Release removes the lock. It is safe to call on a nil lock.
func (l *Lock) Release() error {
	if l == nil || l.lockDir == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, lockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release run lock %s: %w", l.lockDir, err)
	}
	l.lockDir = ""
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
