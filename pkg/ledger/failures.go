package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Failure is one failed-units entry
type Failure struct {
	Unit   string
	Reason string
	At     time.Time
}

// FailureLog records units that finished with soft failures, one tab separated line each:
// unit, reason, RFC3339 timestamp.
type FailureLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFailureLog returns the failure log stored at path
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path, now: time.Now}
}

// Path returns the backing file
func (f *FailureLog) Path() string {
	return f.path
}

// Record appends an entry
func (f *FailureLog) Record(unit, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create failure log directory: %w", err)
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open failure log: %w", err)
	}
	defer file.Close()

	line := formatFailure(Failure{Unit: unit, Reason: reason, At: f.now()})
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("failed to append failure: %w", err)
	}
	return file.Sync()
}

// Entries returns all well-formed entries in file order
func (f *FailureLog) Entries() ([]Failure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entriesLocked()
}

// Remove drops every entry for the given units
func (f *FailureLog) Remove(units []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.entriesLocked()
	if err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(units))
	for _, u := range units {
		drop[u] = struct{}{}
	}

	var b strings.Builder
	for _, entry := range entries {
		if _, ok := drop[entry.Unit]; ok {
			continue
		}
		b.WriteString(formatFailure(entry))
	}
	return WriteFileAtomic(f.path, []byte(b.String()), 0644)
}

func (f *FailureLog) entriesLocked() ([]Failure, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open failure log: %w", err)
	}
	defer file.Close()

	lines, _, err := readLines(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read failure log: %w", err)
	}

	entries := make([]Failure, 0, len(lines))
	for _, line := range lines {
		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			continue
		}
		at, err := time.Parse(time.RFC3339, parts[2])
		if err != nil {
			continue
		}
		entries = append(entries, Failure{Unit: parts[0], Reason: parts[1], At: at})
	}
	return entries, nil
}

func formatFailure(entry Failure) string {
	clean := func(s string) string {
		return strings.ReplaceAll(sanitize(s), "\t", " ")
	}
	return fmt.Sprintf("%s\t%s\t%s\n", clean(entry.Unit), clean(entry.Reason), entry.At.UTC().Format(time.RFC3339))
}
