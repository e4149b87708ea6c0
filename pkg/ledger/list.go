package ledger

import (
	"fmt"
	"os"
)

// List is an ordered ledger rewritten as a whole on every change
type List struct {
	path string
}

// NewList returns the list stored at path
func NewList(path string) *List {
	return &List{path: path}
}

// Path returns the backing file
func (l *List) Path() string {
	return l.path
}

// Load returns the items in file order without duplicates.
// exists is false when the file has never been written.
func (l *List) Load() (items []string, exists bool, err error) {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to open list %s: %w", l.path, err)
	}
	defer file.Close()

	lines, _, err := readLines(file)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read list %s: %w", l.path, err)
	}

	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		items = append(items, line)
	}
	return items, true, nil
}

// Rewrite atomically replaces the list contents
func (l *List) Rewrite(items []string) error {
	clean := make([]string, 0, len(items))
	for _, item := range items {
		if item = sanitize(item); item != "" {
			clean = append(clean, item)
		}
	}
	return WriteFileAtomic(l.path, joinLines(clean), 0644)
}
