package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"harvester/internal/admin"
	"harvester/internal/runlock"
	"harvester/internal/shutdown"
	"harvester/pkg/checkpoint"
	"harvester/pkg/config"
	"harvester/pkg/dedup"
	errs "harvester/pkg/errors"
	"harvester/pkg/fetch"
	"harvester/pkg/ledger"
	"harvester/pkg/logger"
	"harvester/pkg/metrics"
	"harvester/pkg/orchestrator"
	"harvester/pkg/quota"
	"harvester/pkg/ratelimit"
	"harvester/pkg/retry"
	"harvester/pkg/storage"
	"harvester/pkg/ui"
	"harvester/pkg/unitsource"
)

// Crawl flags shared by the keywords and range commands
var (
	workers      int
	maxItems     int
	forceRestart bool
	storageFlag  string
	metricsAddr  string
	minInterval  time.Duration
)

func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "maximum concurrent workers")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "stop after saving this many records (0 = no limit)")
	cmd.Flags().BoolVar(&forceRestart, "force-restart", false, "ignore the existing checkpoint and persisted order")
	cmd.Flags().StringVar(&storageFlag, "storage", "", "record sink: file, mongo or postgres")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics, /healthz and /status on this address")
	cmd.Flags().DurationVar(&minInterval, "min-interval", 0, "minimum spacing between requests")
}

func crawlFlags() map[string]interface{} {
	flags := map[string]interface{}{
		"workers":       workers,
		"max-items":     maxItems,
		"force-restart": forceRestart,
		"storage":       storageFlag,
		"metrics-addr":  metricsAddr,
		"min-interval":  minInterval,
	}
	// The progress line owns the terminal unless logs were asked for
	if !verbose && !quiet && logLevel == "" {
		flags["log-level"] = "warn"
	}
	return flags
}

// crawlEnv holds what every crawl mode shares
type crawlEnv struct {
	ctx     context.Context
	cfg     *config.Config
	log     logger.Logger
	runID   string
	limiter ratelimit.Chain
	sink    storage.Sink
	dedup   *dedup.Deduplicator
	// storedIDs lists the record IDs the sink held at start
	storedIDs []string
	closers   []func() error
}

// newFetcher builds one fetch client; every client shares the run's limiter
func (e *crawlEnv) newFetcher() *fetch.Client {
	f := e.cfg.Fetch
	headers := map[string]string{}
	if f.Referer != "" {
		headers["Referer"] = f.Referer
	}
	return fetch.NewClient(e.limiter, fetch.Options{
		MaxAttempts:   f.MaxAttempts,
		Backoff:       retry.NewErrorTypeBackoff(f.BaseDelay, f.MaxDelay, f.BackoffMultiplier, f.NetworkMultiplier),
		MaxRetryAfter: f.MaxRetryAfter,
		Timeout:       f.Timeout,
		UserAgents:    f.UserAgents,
		Headers:       headers,
		Scope: fetch.Scope{
			AllowedHosts:    f.AllowedHosts,
			RequiredMarkers: f.RequiredMarkers,
			IDParam:         e.cfg.Range.IDParam,
		},
		Observer: metrics.FetchObserver{},
	}, e.log)
}

func (e *crawlEnv) onClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

func (e *crawlEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.WithError(err).Warn("Cleanup failed")
		}
	}
}

// modeSetup builds the source and processor of one crawl mode
type modeSetup func(env *crawlEnv) (unitsource.Source, orchestrator.Processor, error)

// runCrawl wires the shared stack around a mode and runs it to completion
func runCrawl(mode string, extraFlags map[string]interface{}, setup modeSetup) error {
	flags := crawlFlags()
	for k, v := range extraFlags {
		flags[k] = v
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	runID := uuid.NewString()
	log := logger.GetLogger().WithFields(map[string]interface{}{
		"run_id": runID,
		"mode":   mode,
	})
	log.WithField("version", version).Info("Harvester starting")

	lock, err := runlock.Acquire(cfg.Output.BaseDirectory, runID)
	if err != nil {
		if errors.Is(err, errs.ErrLocked) {
			return fmt.Errorf("%w; wait for the other run or remove the stale lock", err)
		}
		return err
	}
	defer lock.Release()

	metrics.Init()
	ctx, stop := shutdown.Notify(context.Background(), log)
	defer stop()

	env := &crawlEnv{ctx: ctx, cfg: cfg, log: log, runID: runID}
	defer env.close()

	if err := env.openStorage(); err != nil {
		return err
	}

	spacing := ratelimit.NewSpacing(cfg.Fetch.MinInterval, cfg.Fetch.Jitter)
	spacing.OnWait(metrics.ObserveRateLimitWait)
	env.limiter = ratelimit.Chain{spacing}
	if cfg.Fetch.RequestsPerMinute > 0 {
		env.limiter = append(env.limiter, ratelimit.NewBudget(cfg.Fetch.RequestsPerMinute, 1))
	}

	checkpoints := checkpoint.NewManager(cfg.Output.Path(checkpointFile(mode)), log)
	if cfg.Crawl.ForceRestart {
		if err := checkpoints.Delete(); err != nil {
			return fmt.Errorf("failed to remove checkpoint: %w", err)
		}
	}

	source, processor, err := setup(env)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Options{
		RunID:     runID,
		Mode:      mode,
		Source:    source,
		Processor: processor,
		NewFetcher: func(int) orchestrator.Fetcher {
			return env.newFetcher()
		},
		Checkpoints:     checkpoints,
		Marker:          ledger.NewMarker(cfg.Output.Path("current_unit.txt")),
		Failures:        ledger.NewFailureLog(cfg.Output.Path("failed_units.txt")),
		MaxWorkers:      cfg.Crawl.MaxWorkers,
		MaxInFlight:     cfg.Crawl.MaxInFlight,
		MaxItems:        cfg.Crawl.MaxItems,
		CheckpointEvery: cfg.Crawl.CheckpointEvery,
		GraceTimeout:    cfg.Crawl.GraceTimeout,
		Logger:          log,
	})
	if err != nil {
		return err
	}

	ui.PrintBanner()
	ui.PrintInfo("Mode", mode)
	ui.PrintInfo("Data directory", cfg.Output.BaseDirectory)
	ui.PrintInfo("Units remaining", fmt.Sprintf("%d", source.Remaining()))

	summary, runErr := runWithServices(ctx, cfg, orch, log)
	ui.PrintSummary(summary)
	logThroughput(summary)

	if runErr != nil && errs.TypeOf(runErr) == errs.ErrorTypeQuotaExceeded {
		ui.PrintWarning("Daily search quota exhausted; the run resumes tomorrow")
		return nil
	}
	return runErr
}

// runWithServices runs the orchestrator next to the admin server and the progress line
func runWithServices(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, log logger.Logger) (*orchestrator.Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	auxCtx, stopAux := context.WithCancel(gctx)
	defer stopAux()

	var summary *orchestrator.Summary
	g.Go(func() error {
		defer stopAux()
		var err error
		summary, err = orch.Run(gctx)
		return err
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			if err := admin.New(orch.Snapshot, log).Serve(auxCtx, cfg.Metrics.Addr); err != nil {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	if !verbose && !ui.IsQuiet() {
		g.Go(func() error {
			ui.NewProgress(orch.Snapshot, time.Second).Run(auxCtx)
			return nil
		})
	}

	err := g.Wait()
	return summary, err
}

// openStorage opens the record sink and seeds the deduplicator from it
func (e *crawlEnv) openStorage() error {
	sink, err := storage.Open(e.ctx, e.cfg.Storage, e.cfg.Output.Path("records"), e.log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	e.sink = sink
	e.onClose(func() error { return sink.Close(context.Background()) })

	seen, err := ledger.Open(e.cfg.Output.Path("seen_ids.txt"))
	if err != nil {
		return err
	}
	e.onClose(seen.Close)
	e.dedup = dedup.New(seen, dedup.DefaultStrategies(e.cfg.Range.IDParam)...)

	if catalog, ok := sink.(storage.Catalog); ok {
		ids, err := catalog.ScanIDs(e.ctx)
		if err != nil {
			e.log.WithError(err).Warn("Failed to scan stored records")
		}
		e.storedIDs = ids
		added, err := e.dedup.Seed(ids)
		if err != nil {
			return fmt.Errorf("failed to seed seen ids: %w", err)
		}
		e.log.InfoWithFields("Seen set ready", map[string]interface{}{
			"stored": len(ids),
			"added":  added,
			"seen":   e.dedup.Len(),
		})
	}
	return nil
}

func logThroughput(summary *orchestrator.Summary) {
	if summary == nil || summary.Duration <= 0 {
		return
	}
	minutes := summary.Duration.Minutes()
	logger.LogMetrics("crawl", map[string]interface{}{
		"mode":               summary.Mode,
		"units_per_minute":   float64(summary.Done+summary.Invalid+summary.SoftFailed) / minutes,
		"records_per_minute": float64(summary.Counters.Saved) / minutes,
		"workers":            summary.Workers,
	})
}

// meteredQuota publishes the daily count after every acquisition
type meteredQuota struct {
	*quota.Counter
}

func (q meteredQuota) Acquire() error {
	err := q.Counter.Acquire()
	metrics.SetQuotaUsed(q.Counter.Status().Count)
	return err
}

func checkpointFile(mode string) string {
	return "checkpoint_" + mode + ".json"
}

var sourceIDPattern = regexp.MustCompile(`^M(\d+)$`)

// sourceIDs maps record IDs derived from a source document back to the document ID
func sourceIDs(recordIDs []string) []string {
	var ids []string
	for _, id := range recordIDs {
		if m := sourceIDPattern.FindStringSubmatch(strings.TrimSpace(id)); m != nil {
			ids = append(ids, m[1])
		}
	}
	return ids
}
