package unitsource

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"harvester/pkg/config"
	"harvester/pkg/ledger"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// RangeOptions configures a RangeExplorer
type RangeOptions struct {
	Start int64
	End   int64
	// MissingPath persists the shuffled order
	MissingPath string
	// ResumePath persists the offset into the shuffled order
	ResumePath string
	// OffsetEvery saves the offset after this many completed units
	OffsetEvery int
	// Limit caps the units handed out in one run; 0 means no cap
	Limit int
	// Reuse continues from a persisted order when it covers the same range
	Reuse bool
	Rand  *rand.Rand
}

type resumeState struct {
	Start     int64     `json:"start"`
	End       int64     `json:"end"`
	Offset    int       `json:"offset"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RangeExplorer yields identifiers of a numeric range that are neither processed nor
// known invalid, in a random order fixed for the lifetime of the persisted list.
type RangeExplorer struct {
	mu        sync.Mutex
	opts      RangeOptions
	processed Membership
	invalid   Membership
	missing   *ledger.List
	order     []int64
	cursor    int
	handed    int
	leased    map[int64]int
	released  []int
	completed int
	logger    logger.Logger
}

// Missing returns every identifier in [start, end] for which known is false, ascending
func Missing(start, end int64, known func(int64) bool) []int64 {
	if end < start {
		return nil
	}
	var ids []int64
	if span := end - start; span >= 0 && span < config.MaxRangeSpan {
		ids = make([]int64, 0, span+1)
	}
	for id := start; ; id++ {
		if known == nil || !known(id) {
			ids = append(ids, id)
		}
		if id == end {
			return ids
		}
	}
}

// Shuffle returns a uniformly random permutation of ids; the input is left untouched
func Shuffle(ids []int64, rng *rand.Rand) []int64 {
	out := append([]int64(nil), ids...)
	swap := func(i, j int) { out[i], out[j] = out[j], out[i] }
	if rng != nil {
		rng.Shuffle(len(out), swap)
	} else {
		rand.Shuffle(len(out), swap)
	}
	return out
}

// OpenRangeExplorer computes or reloads the shuffled list of missing identifiers
func OpenRangeExplorer(processed, invalid Membership, opts RangeOptions, log logger.Logger) (*RangeExplorer, error) {
	if opts.End < opts.Start {
		return nil, fmt.Errorf("invalid range: end %d is before start %d", opts.End, opts.Start)
	}
	if span := opts.End - opts.Start; span < 0 || span >= config.MaxRangeSpan {
		return nil, fmt.Errorf("invalid range: %d..%d spans more than %d identifiers", opts.Start, opts.End, config.MaxRangeSpan)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	e := &RangeExplorer{
		opts:      opts,
		processed: processed,
		invalid:   invalid,
		missing:   ledger.NewList(opts.MissingPath),
		leased:    make(map[int64]int),
		logger:    log.WithField("component", "range_explorer"),
	}

	if opts.Reuse {
		resumed, err := e.reload()
		if err != nil {
			e.logger.WithError(err).Warn("Persisted order unusable, recomputing")
		}
		if resumed {
			return e, nil
		}
	}

	known := func(id int64) bool {
		s := strconv.FormatInt(id, 10)
		return processed.Contains(s) || invalid.Contains(s)
	}
	e.order = Shuffle(Missing(opts.Start, opts.End, known), opts.Rand)

	lines := make([]string, len(e.order))
	for i, id := range e.order {
		lines[i] = strconv.FormatInt(id, 10)
	}
	if err := e.missing.Rewrite(lines); err != nil {
		return nil, err
	}
	if err := e.SaveOffset(); err != nil {
		return nil, err
	}

	e.logger.InfoWithFields("Computed missing identifiers", map[string]interface{}{
		"start":   opts.Start,
		"end":     opts.End,
		"missing": len(e.order),
	})
	return e, nil
}

// reload restores the persisted order and offset when both match the configured range
// and the previous pass stopped before the end of the order
func (e *RangeExplorer) reload() (bool, error) {
	var state resumeState
	if err := ledger.ReadJSON(e.opts.ResumePath, &state); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if state.Start != e.opts.Start || state.End != e.opts.End {
		return false, nil
	}

	lines, exists, err := e.missing.Load()
	if err != nil || !exists {
		return false, err
	}
	order := make([]int64, 0, len(lines))
	for _, line := range lines {
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			continue
		}
		order = append(order, id)
	}
	if state.Offset >= len(order) {
		e.logger.InfoWithFields("Previous pass finished, recomputing", map[string]interface{}{
			"offset": state.Offset,
			"total":  len(order),
		})
		return false, nil
	}

	e.order = order
	e.cursor = min(max(state.Offset, 0), len(order))
	e.logger.InfoWithFields("Resuming shuffled order", map[string]interface{}{
		"offset": e.cursor,
		"total":  len(order),
	})
	return true, nil
}

// Next leases the next identifier that is still neither processed nor invalid
func (e *RangeExplorer) Next() (models.Unit, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.opts.Limit > 0 && e.handed >= e.opts.Limit {
		return models.Unit{}, false
	}

	for len(e.released) > 0 {
		idx := e.released[0]
		e.released = e.released[1:]
		if unit, ok := e.leaseLocked(idx); ok {
			return unit, true
		}
	}

	for e.cursor < len(e.order) {
		idx := e.cursor
		e.cursor++
		if unit, ok := e.leaseLocked(idx); ok {
			return unit, true
		}
	}
	return models.Unit{}, false
}

func (e *RangeExplorer) leaseLocked(idx int) (models.Unit, bool) {
	id := e.order[idx]
	s := strconv.FormatInt(id, 10)
	if e.processed.Contains(s) || e.invalid.Contains(s) {
		return models.Unit{}, false
	}
	e.leased[id] = idx
	e.handed++
	return models.IDUnit(id), true
}

// Complete finishes a leased identifier and periodically saves the offset.
// A failed offset save is logged; the identifier still counts as finished.
func (e *RangeExplorer) Complete(u models.Unit) error {
	id, ok := u.ID()
	if !ok {
		return fmt.Errorf("range explorer cannot complete %s unit %q", u.Kind, u.Value)
	}

	e.mu.Lock()
	delete(e.leased, id)
	e.completed++
	save := e.opts.OffsetEvery > 0 && e.completed%e.opts.OffsetEvery == 0
	e.mu.Unlock()

	if save {
		if err := e.SaveOffset(); err != nil {
			e.logger.WithError(err).Warn("Failed to save range offset")
		}
	}
	return nil
}

// Release puts a leased identifier back; it is handed out again before new ones
func (e *RangeExplorer) Release(u models.Unit) {
	id, ok := u.ID()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx, ok := e.leased[id]; ok {
		delete(e.leased, id)
		e.released = append(e.released, idx)
		e.handed--
	}
}

// Remaining returns how many identifiers Next may still hand out
func (e *RangeExplorer) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.order) - e.cursor + len(e.released)
	if e.opts.Limit > 0 {
		n = min(n, e.opts.Limit-e.handed)
	}
	return max(n, 0)
}

// Total returns the size of the shuffled order
func (e *RangeExplorer) Total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}

// Offset returns the earliest position that is not known to be finished.
// Resuming from it may revisit a few finished identifiers, which Next skips.
func (e *RangeExplorer) Offset() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offsetLocked()
}

func (e *RangeExplorer) offsetLocked() int {
	offset := e.cursor
	for _, idx := range e.leased {
		offset = min(offset, idx)
	}
	for _, idx := range e.released {
		offset = min(offset, idx)
	}
	return offset
}

// SaveOffset persists the current offset
func (e *RangeExplorer) SaveOffset() error {
	e.mu.Lock()
	state := resumeState{
		Start:     e.opts.Start,
		End:       e.opts.End,
		Offset:    e.offsetLocked(),
		Total:     len(e.order),
		UpdatedAt: time.Now(),
	}
	e.mu.Unlock()

	if err := ledger.WriteJSON(e.opts.ResumePath, state); err != nil {
		return fmt.Errorf("failed to save range offset: %w", err)
	}
	return nil
}
