package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"harvester/pkg/config"
	"harvester/pkg/dedup"
	errs "harvester/pkg/errors"
	"harvester/pkg/extract"
	"harvester/pkg/fetch"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/search"
	"harvester/pkg/storage"
)

// ModeKeywords names the keyword crawl
const ModeKeywords = "keywords"

// Searcher runs every page of a keyword search
type Searcher interface {
	SearchAll(ctx context.Context, keyword string) ([]search.Item, int, error)
}

// KeywordOptions configures a KeywordProcessor
type KeywordOptions struct {
	// NewSearcher builds the search client of one worker; each worker keeps its own
	NewSearcher func(workerID int) Searcher
	// Filter keeps the relevant search results
	Filter config.SearchConfig
	// FetchPages fetches every result link and runs PageExtractor on it;
	// otherwise ItemExtractor builds records from the search results alone
	FetchPages    bool
	PageExtractor extract.Extractor
	ItemExtractor extract.Extractor
	Dedup         *dedup.Deduplicator
	Sink          storage.Sink
	Logger        logger.Logger
}

// KeywordProcessor searches a keyword and stores a record per relevant result
type KeywordProcessor struct {
	opts   KeywordOptions
	store  *recordStore
	logger logger.Logger

	mu        sync.Mutex
	searchers map[int]Searcher
}

type itemOutcome int

const (
	itemSaved itemOutcome = iota
	itemEmpty
	itemFailed
	itemCanceled
)

// NewKeywordProcessor validates opts and creates the processor
func NewKeywordProcessor(opts KeywordOptions) (*KeywordProcessor, error) {
	if opts.NewSearcher == nil {
		return nil, fmt.Errorf("searcher factory is required")
	}
	if opts.Dedup == nil || opts.Sink == nil {
		return nil, fmt.Errorf("deduplicator and sink are required")
	}
	if opts.FetchPages && opts.PageExtractor == nil {
		return nil, fmt.Errorf("page extractor is required when fetching pages")
	}
	if !opts.FetchPages && opts.ItemExtractor == nil {
		return nil, fmt.Errorf("item extractor is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	log := opts.Logger.WithField("component", "keyword_processor")

	return &KeywordProcessor{
		opts:      opts,
		store:     &recordStore{dedup: opts.Dedup, sink: opts.Sink, now: time.Now, logger: log},
		logger:    log,
		searchers: make(map[int]Searcher),
	}, nil
}

func (p *KeywordProcessor) Mode() string { return ModeKeywords }

// searcher returns the search client of w, building it on first use
func (p *KeywordProcessor) searcher(w *Worker) Searcher {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.searchers[w.ID]
	if !ok {
		s = p.opts.NewSearcher(w.ID)
		p.searchers[w.ID] = s
	}
	return s
}

// Process implements Processor. An exhausted quota is the only error returned.
func (p *KeywordProcessor) Process(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
	items, calls, err := p.searcher(w).SearchAll(ctx, unit.Value)
	matches := search.Filter(items, p.opts.Filter)
	w.Report(unit, models.Counters{Searched: calls, Found: len(matches)}, 0)

	if err != nil {
		switch {
		case errs.TypeOf(err) == errs.ErrorTypeQuotaExceeded:
			return Result{Disposition: DispositionAbandoned, Reason: "quota exceeded"}, err
		case ctx.Err() != nil:
			return Result{Disposition: DispositionAbandoned, Reason: "canceled"}, nil
		}
		// Results gathered before a failing page are still processed
		p.logger.WithError(err).WarnWithFields("Search failed", map[string]interface{}{
			"keyword": unit.Value,
			"items":   len(items),
		})
		if len(items) == 0 {
			w.Report(unit, models.Counters{Failed: 1}, 0)
			return Result{Disposition: DispositionSoftFailed, Reason: "search: " + err.Error()}, nil
		}
	}

	var saved, failed int
	for i, item := range matches {
		if ctx.Err() != nil {
			return Result{Disposition: DispositionAbandoned, Reason: "canceled", Records: saved}, nil
		}
		if w.BudgetReached() {
			return Result{Disposition: DispositionAbandoned, Reason: "budget reached", Records: saved}, nil
		}

		switch p.processItem(ctx, w, unit, item) {
		case itemSaved:
			saved++
			w.Report(unit, models.Counters{Saved: 1}, 1)
		case itemFailed:
			failed++
			w.Report(unit, models.Counters{Failed: 1}, 1)
		case itemCanceled:
			return Result{Disposition: DispositionAbandoned, Reason: "canceled", Records: saved}, nil
		default:
			w.Report(unit, models.Counters{}, 1)
		}

		p.logger.DebugWithFields("Item processed", map[string]interface{}{
			"keyword": unit.Value,
			"index":   i + 1,
			"of":      len(matches),
		})
	}

	if failed > 0 {
		return Result{
			Disposition: DispositionSoftFailed,
			Reason:      fmt.Sprintf("soft-failures=%d/%d", failed, len(matches)),
			Records:     saved,
		}, nil
	}
	return Result{Disposition: DispositionDone, Records: saved}, nil
}

// processItem fetches, extracts and stores one search result
func (p *KeywordProcessor) processItem(ctx context.Context, w *Worker, unit models.Unit, item search.Item) itemOutcome {
	page := extract.Page{Unit: unit, URL: item.Link, Hints: item.Hints()}
	extractor := p.opts.ItemExtractor
	log := p.logger.WithFields(map[string]interface{}{"keyword": unit.Value, "link": item.Link})

	if p.opts.FetchPages {
		if w.Fetcher == nil {
			log.Error("Worker has no fetcher")
			return itemFailed
		}
		out := w.Fetcher.Fetch(ctx, item.Link)
		switch out.Kind {
		case fetch.KindSuccess:
			page.URL = out.FinalURL
			page.Content = out.Content
			extractor = p.opts.PageExtractor
		case fetch.KindCanceled:
			return itemCanceled
		case fetch.KindInvalid, fetch.KindClientError:
			// A rejected fetch is zero records in keyword mode
			log.DebugWithFields("Result page not usable", map[string]interface{}{
				"outcome": out.Kind.String(),
				"status":  out.StatusCode,
				"reason":  out.Reason,
			})
			return itemEmpty
		default:
			log.WarnWithFields("Result page fetch failed", map[string]interface{}{
				"outcome":  out.Kind.String(),
				"last":     out.Last.String(),
				"attempts": out.Attempts,
			})
			return itemFailed
		}
	}

	rec, err := extract.Safe(extractor, page)
	if err != nil {
		if extract.IsRejected(err) {
			return itemEmpty
		}
		log.WithError(err).Warn("Extraction failed")
		return itemFailed
	}

	switch p.store.save(ctx, unit, rec) {
	case storeSaved:
		return itemSaved
	case storeFailed:
		return itemFailed
	default:
		return itemEmpty
	}
}
