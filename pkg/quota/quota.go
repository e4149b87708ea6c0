// Package quota tracks the daily request allowance of the search API in a small
// date-keyed file, so the count survives restarts and resets at day rollover.
package quota

import (
	"fmt"
	"os"
	"sync"
	"time"

	errs "harvester/pkg/errors"
	"harvester/pkg/ledger"
	"harvester/pkg/logger"
)

const dateLayout = "2006-01-02"

// state is the persisted form
type state struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Status is a point-in-time view of the counter
type Status struct {
	Date      string `json:"date"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// Counter is a persisted daily request counter. It is safe for concurrent use.
type Counter struct {
	mu     sync.Mutex
	path   string
	limit  int
	state  state
	now    func() time.Time
	logger logger.Logger
}

// NewCounter loads the counter stored at path. An unreadable file is logged and
// treated as a fresh day rather than failing the run.
func NewCounter(path string, limit int, log logger.Logger) *Counter {
	if log == nil {
		log = logger.GetLogger()
	}
	c := &Counter{
		path:   path,
		limit:  limit,
		now:    time.Now,
		logger: log.WithField("component", "quota"),
	}

	if err := ledger.ReadJSON(path, &c.state); err != nil && !os.IsNotExist(err) {
		c.logger.WithError(errs.StorageCorruption(path, err)).Warn("Quota file unreadable, starting from zero")
		c.state = state{}
	}
	return c
}

// Acquire reserves one request. It refuses with a QuotaExceeded error, before
// anything is sent, once the day's count has reached the limit.
func (c *Counter) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollover()
	if c.limit > 0 && c.state.Count >= c.limit {
		return errs.QuotaExceeded(c.state.Count, c.limit)
	}

	c.state.Count++
	if err := ledger.WriteJSON(c.path, c.state); err != nil {
		c.state.Count--
		return fmt.Errorf("failed to persist request count: %w", err)
	}

	if c.limit > 0 && c.state.Count == c.limit {
		c.logger.WarnWithFields("Daily quota reached", map[string]interface{}{
			"count": c.state.Count,
			"limit": c.limit,
		})
	}
	return nil
}

// Status returns the current count for today
func (c *Counter) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollover()
	remaining := c.limit - c.state.Count
	if remaining < 0 || c.limit <= 0 {
		remaining = 0
	}
	return Status{
		Date:      c.state.Date,
		Count:     c.state.Count,
		Limit:     c.limit,
		Remaining: remaining,
	}
}

// rollover resets the count when the stored date is not today
func (c *Counter) rollover() {
	today := c.now().Format(dateLayout)
	if c.state.Date != today {
		if c.state.Date != "" {
			c.logger.InfoWithFields("Quota day rolled over", map[string]interface{}{
				"previous_date":  c.state.Date,
				"previous_count": c.state.Count,
			})
		}
		c.state = state{Date: today}
	}
}
