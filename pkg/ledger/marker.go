package ledger

import (
	"fmt"
	"os"
	"strings"
)

// Marker is a single-value file that external tools can watch
type Marker struct {
	path string
}

// NewMarker returns the marker stored at path
func NewMarker(path string) *Marker {
	return &Marker{path: path}
}

// Set replaces the marker value
func (m *Marker) Set(value string) error {
	return WriteFileAtomic(m.path, []byte(sanitize(value)+"\n"), 0644)
}

// Get returns the current value, empty when unset
func (m *Marker) Get() (string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read marker %s: %w", m.path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Clear removes the marker
func (m *Marker) Clear() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove marker %s: %w", m.path, err)
	}
	return nil
}
