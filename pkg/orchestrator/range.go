package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"harvester/pkg/dedup"
	"harvester/pkg/extract"
	"harvester/pkg/fetch"
	"harvester/pkg/ledger"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/storage"
)

// ModeRange names the numeric ID crawl
const ModeRange = "range"

// idPlaceholder is replaced by the unit identifier in URL templates
const idPlaceholder = "{id}"

// RangeOptions configures a RangeProcessor
type RangeOptions struct {
	URLTemplate string
	Extractor   extract.Extractor
	Dedup       *dedup.Deduplicator
	Sink        storage.Sink
	// Processed holds identifiers that produced a record
	Processed *ledger.Set
	// Invalid holds identifiers confirmed to produce none
	Invalid *ledger.Set
	Logger  logger.Logger
}

// RangeProcessor fetches one document per identifier.
// Unlike keyword mode, the unit is the record key, so dead identifiers are
// remembered in the invalid set and skipped by later runs.
type RangeProcessor struct {
	opts   RangeOptions
	store  *recordStore
	logger logger.Logger
}

// NewRangeProcessor validates opts and creates the processor
func NewRangeProcessor(opts RangeOptions) (*RangeProcessor, error) {
	if !strings.Contains(opts.URLTemplate, idPlaceholder) {
		return nil, fmt.Errorf("url template %q has no %s placeholder", opts.URLTemplate, idPlaceholder)
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if opts.Dedup == nil || opts.Sink == nil {
		return nil, fmt.Errorf("deduplicator and sink are required")
	}
	if opts.Processed == nil || opts.Invalid == nil {
		return nil, fmt.Errorf("processed and invalid ledgers are required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	log := opts.Logger.WithField("component", "range_processor")

	return &RangeProcessor{
		opts:   opts,
		store:  &recordStore{dedup: opts.Dedup, sink: opts.Sink, now: time.Now, logger: log},
		logger: log,
	}, nil
}

func (p *RangeProcessor) Mode() string { return ModeRange }

// URL returns the document address of an identifier
func (p *RangeProcessor) URL(id string) string {
	return strings.ReplaceAll(p.opts.URLTemplate, idPlaceholder, id)
}

// Process implements Processor
func (p *RangeProcessor) Process(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
	if w.Fetcher == nil {
		return Result{}, fmt.Errorf("worker %d has no fetcher", w.ID)
	}

	out := w.Fetcher.Fetch(ctx, p.URL(unit.Value))
	if out.Kind == fetch.KindCanceled {
		return Result{Disposition: DispositionAbandoned, Reason: "canceled"}, nil
	}
	w.Report(unit, models.Counters{Searched: 1}, 0)

	switch out.Kind {
	case fetch.KindSuccess:
	case fetch.KindInvalid:
		return Result{Disposition: DispositionInvalid, Reason: out.Reason}, nil
	case fetch.KindClientError:
		if out.StatusCode == http.StatusNotFound || out.StatusCode == http.StatusBadRequest || out.StatusCode == http.StatusGone {
			return Result{Disposition: DispositionInvalid, Reason: fmt.Sprintf("http %d", out.StatusCode)}, nil
		}
		w.Report(unit, models.Counters{Failed: 1}, 1)
		return Result{Disposition: DispositionSoftFailed, Reason: fmt.Sprintf("http %d", out.StatusCode)}, nil
	default:
		w.Report(unit, models.Counters{Failed: 1}, 1)
		return Result{
			Disposition: DispositionSoftFailed,
			Reason:      fmt.Sprintf("%s after %d attempts (last %s)", out.Kind, out.Attempts, out.Last),
		}, nil
	}

	rec, err := extract.Safe(p.opts.Extractor, extract.Page{Unit: unit, URL: out.FinalURL, Content: out.Content})
	if err != nil {
		if extract.IsRejected(err) {
			w.Report(unit, models.Counters{}, 1)
			return Result{Disposition: DispositionInvalid, Reason: "rejected: " + err.Error()}, nil
		}
		w.Report(unit, models.Counters{Failed: 1}, 1)
		return Result{Disposition: DispositionSoftFailed, Reason: err.Error()}, nil
	}
	if rec.SourceID == "" {
		rec.SourceID = unit.Value
	}

	switch p.store.save(ctx, unit, rec) {
	case storeSaved:
		w.Report(unit, models.Counters{Found: 1, Saved: 1}, 1)
		return Result{Disposition: DispositionDone, Records: 1}, nil
	case storeDuplicate:
		w.Report(unit, models.Counters{Found: 1}, 1)
		return Result{Disposition: DispositionDone}, nil
	case storeUnidentified:
		w.Report(unit, models.Counters{}, 1)
		return Result{Disposition: DispositionInvalid, Reason: "record without id"}, nil
	default:
		w.Report(unit, models.Counters{Found: 1, Failed: 1}, 1)
		return Result{Disposition: DispositionSoftFailed, Reason: "store failed"}, nil
	}
}

// Record implements Recorder
func (p *RangeProcessor) Record(unit models.Unit, res Result) error {
	switch res.Disposition {
	case DispositionDone:
		_, err := p.opts.Processed.Add(unit.Value)
		return err
	case DispositionInvalid:
		_, err := p.opts.Invalid.Add(unit.Value)
		return err
	}
	return nil
}
