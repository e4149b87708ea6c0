package orchestrator

import (
	"context"
	"time"

	"harvester/pkg/dedup"
	"harvester/pkg/logger"
	"harvester/pkg/metrics"
	"harvester/pkg/models"
	"harvester/pkg/storage"
)

type storeOutcome int

const (
	storeSaved storeOutcome = iota
	storeDuplicate
	storeUnidentified
	storeFailed
)

// recordStore writes each RecordID at most once
type recordStore struct {
	dedup  *dedup.Deduplicator
	sink   storage.Sink
	now    func() time.Time
	logger logger.Logger
}

func (s *recordStore) save(ctx context.Context, unit models.Unit, rec *models.Record) storeOutcome {
	id, err := s.dedup.DeriveID(rec)
	if err != nil {
		s.logger.WithError(err).DebugWithFields("Record has no usable id", map[string]interface{}{
			"unit": unit.Value,
		})
		return storeUnidentified
	}
	rec.ID = id
	if rec.Unit == "" {
		rec.Unit = unit.Value
	}
	if rec.ExtractedAt.IsZero() {
		rec.ExtractedAt = s.now()
	}

	if !s.dedup.Reserve(id) {
		return storeDuplicate
	}

	if err := s.sink.Put(ctx, rec); err != nil {
		s.dedup.Release(id)
		s.logger.WithError(err).ErrorWithFields("Failed to store record", map[string]interface{}{
			"unit":      unit.Value,
			"record_id": id,
		})
		return storeFailed
	}

	// The record is stored; a lost mark costs at most one overwrite later
	if err := s.dedup.Commit(id); err != nil {
		s.logger.WithError(err).WarnWithFields("Failed to mark record as seen", map[string]interface{}{
			"record_id": id,
		})
	}
	metrics.ObserveRecordSaved()
	return storeSaved
}
