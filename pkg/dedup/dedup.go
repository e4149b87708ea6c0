// Package dedup derives stable record IDs and guards the at-most-once write of each ID.
package dedup

import (
	"fmt"
	"sync"

	"harvester/pkg/ledger"
	"harvester/pkg/models"
)

// Deduplicator answers whether a RecordID is new, backed by a persisted seen-ID set.
//
// Reserve, Commit and Release make check-then-mark atomic across workers: an ID
// reserved by one worker is reported as not new to every other worker until it
// is committed (written to the seen set) or released.
type Deduplicator struct {
	mu         sync.Mutex
	seen       *ledger.Set
	reserved   map[string]struct{}
	strategies []Strategy
}

// New creates a deduplicator over the seen-ID ledger
func New(seen *ledger.Set, strategies ...Strategy) *Deduplicator {
	return &Deduplicator{
		seen:       seen,
		reserved:   make(map[string]struct{}),
		strategies: strategies,
	}
}

// DeriveID runs the strategies in order; the first that applies wins
func (d *Deduplicator) DeriveID(rec *models.Record) (string, error) {
	return DeriveID(rec, d.strategies)
}

// DeriveID runs strategies in order and returns the first derived ID
func DeriveID(rec *models.Record, strategies []Strategy) (string, error) {
	for _, s := range strategies {
		if id, ok := s.Derive(rec); ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("no id strategy applies to record %q", recordName(rec))
}

// IsNew reports whether id has been neither stored nor reserved
func (d *Deduplicator) IsNew(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isNewLocked(id)
}

// MarkSeen durably records id as stored
func (d *Deduplicator) MarkSeen(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.markLocked(id)
}

// Reserve claims id for the caller. It returns false when id is already stored or reserved.
func (d *Deduplicator) Reserve(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isNewLocked(id) {
		return false
	}
	d.reserved[id] = struct{}{}
	return true
}

// Commit marks a reserved id as stored
func (d *Deduplicator) Commit(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.markLocked(id)
}

// Release gives up a reservation without storing
func (d *Deduplicator) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.reserved, id)
}

// Seed adds IDs already present in storage, e.g. found by scanning the sink at start
func (d *Deduplicator) Seed(ids []string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.AddMany(ids)
}

// Len returns the number of stored IDs
func (d *Deduplicator) Len() int {
	return d.seen.Len()
}

func (d *Deduplicator) isNewLocked(id string) bool {
	if _, ok := d.reserved[id]; ok {
		return false
	}
	return !d.seen.Contains(id)
}

func (d *Deduplicator) markLocked(id string) error {
	if _, err := d.seen.Add(id); err != nil {
		return fmt.Errorf("failed to mark %s as seen: %w", id, err)
	}
	delete(d.reserved, id)
	return nil
}

func recordName(rec *models.Record) string {
	if rec == nil {
		return ""
	}
	return rec.Name
}
