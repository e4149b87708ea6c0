package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	errs "harvester/pkg/errors"
	"harvester/pkg/ledger"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

const recordExt = ".json"

// FileSink writes each record to <dir>/<RecordID>.json
type FileSink struct {
	outputDir string
	stored    map[string]bool
	mu        sync.RWMutex
	logger    logger.Logger
}

// NewFileSink creates the output directory and indexes the records already in it
func NewFileSink(outputDir string, log logger.Logger) (*FileSink, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	sink := &FileSink{
		outputDir: outputDir,
		stored:    make(map[string]bool),
		logger:    log.WithField("component", "file_sink"),
	}

	if err := sink.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}

	return sink, nil
}

func (s *FileSink) Name() string {
	return "file"
}

// scanExistingFiles indexes record files already present in the output directory
func (s *FileSink) scanExistingFiles() error {
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != recordExt {
			continue
		}
		s.stored[strings.TrimSuffix(name, recordExt)] = true
	}

	return nil
}

// Put writes the record atomically, replacing any record with the same ID
func (s *FileSink) Put(ctx context.Context, rec *models.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record %q has no id", rec.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}

	if err := ledger.WriteFileAtomic(s.pathFor(rec.ID), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.ID, err)
	}

	s.mu.Lock()
	s.stored[fileName(rec.ID)] = true
	s.mu.Unlock()

	return nil
}

// Has reports whether a record with the given ID is stored
func (s *FileSink) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stored[fileName(id)]
}

// Count returns the number of stored records
func (s *FileSink) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stored)
}

// Dir returns the output directory path
func (s *FileSink) Dir() string {
	return s.outputDir
}

// ScanIDs returns the IDs of all stored records, sorted
func (s *FileSink) ScanIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.stored))
	for id := range s.stored {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids, nil
}

// Records decodes every stored record in ID order.
// Unreadable files are logged and skipped.
func (s *FileSink) Records(ctx context.Context, fn func(*models.Record) error) error {
	ids, _ := s.ScanIDs(ctx)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := s.pathFor(id)
		var rec models.Record
		if err := ledger.ReadJSON(path, &rec); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			s.logger.WithError(errs.StorageCorruption(path, err)).Warn("Skipping unreadable record")
			continue
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSink) Close(ctx context.Context) error {
	s.logger.InfoWithFields("File sink closing", map[string]interface{}{
		"records": s.Count(),
	})
	return nil
}

func (s *FileSink) pathFor(id string) string {
	return filepath.Join(s.outputDir, fileName(id)+recordExt)
}

// fileName keeps an ID usable as a single path element
func fileName(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}
