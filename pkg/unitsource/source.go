// Package unitsource yields crawl units to the orchestrator.
//
// Two sources are provided: a KeywordQueue backed by durable todo/done ledgers,
// and a RangeExplorer that walks a shuffled list of numeric identifiers that
// have not been processed yet. Both hand out units on demand; nothing is
// materialized as pending work beyond what the caller pulls.
package unitsource

import (
	"harvester/pkg/models"
)

// Source is the pull contract shared by every unit source
type Source interface {
	// Next leases the next available unit. It returns false when the source is exhausted.
	Next() (models.Unit, bool)
	// Complete marks a leased unit as finished for good
	Complete(u models.Unit) error
	// Release returns a leased unit without completing it
	Release(u models.Unit)
	// Remaining estimates how many units Next can still hand out
	Remaining() int
}

// Membership answers whether a unit value is already known
type Membership interface {
	Contains(item string) bool
}
