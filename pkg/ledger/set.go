package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Set is an append-only persisted set of strings, one per line.
// Membership is answered from memory; every Add is appended and synced before it returns.
type Set struct {
	mu    sync.RWMutex
	path  string
	file  *os.File
	items map[string]struct{}
	order []string
	// needsNewline is set when the file ends without a trailing newline
	needsNewline bool
}

// Open loads the set stored at path, creating the file if needed
func Open(path string) (*Set, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}

	lines, partial, err := readLines(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}

	s := &Set{
		path:         path,
		file:         file,
		items:        make(map[string]struct{}, len(lines)),
		needsNewline: partial,
	}
	for _, line := range lines {
		if _, ok := s.items[line]; ok {
			continue
		}
		s.items[line] = struct{}{}
		s.order = append(s.order, line)
	}
	return s, nil
}

// Path returns the backing file
func (s *Set) Path() string {
	return s.path
}

// Contains reports whether item is in the set
func (s *Set) Contains(item string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[item]
	return ok
}

// Add appends item durably. It returns false when the item was already present.
func (s *Set) Add(item string) (bool, error) {
	added, err := s.AddMany([]string{item})
	return added == 1, err
}

// AddMany appends every new item in one write and returns how many were new
func (s *Set) AddMany(items []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []string
	pending := make(map[string]struct{})
	for _, item := range items {
		item = sanitize(item)
		if item == "" {
			continue
		}
		if _, ok := s.items[item]; ok {
			continue
		}
		if _, ok := pending[item]; ok {
			continue
		}
		pending[item] = struct{}{}
		fresh = append(fresh, item)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	data := joinLines(fresh)
	if s.needsNewline {
		data = append([]byte{'\n'}, data...)
	}
	if _, err := s.file.Write(data); err != nil {
		return 0, fmt.Errorf("failed to append to ledger %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync ledger %s: %w", s.path, err)
	}
	s.needsNewline = false

	for _, item := range fresh {
		s.items[item] = struct{}{}
		s.order = append(s.order, item)
	}
	return len(fresh), nil
}

// Items returns the members in insertion order
func (s *Set) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Len returns the number of members
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Remove drops items and rewrites the file
func (s *Set) Remove(items ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(items))
	for _, item := range items {
		drop[item] = struct{}{}
	}
	kept := s.order[:0:0]
	for _, item := range s.order {
		if _, ok := drop[item]; ok {
			delete(s.items, item)
			continue
		}
		kept = append(kept, item)
	}
	s.order = kept
	return s.rewriteLocked()
}

// Compact rewrites the file with one line per member, dropping duplicate lines
func (s *Set) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rewriteLocked()
}

func (s *Set) rewriteLocked() error {
	if err := WriteFileAtomic(s.path, joinLines(s.order), 0644); err != nil {
		return err
	}
	// the old handle points at the replaced inode
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen ledger %s: %w", s.path, err)
	}
	s.file.Close()
	s.file = file
	s.needsNewline = false
	return nil
}

// Close releases the file handle
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
