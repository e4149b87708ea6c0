package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"harvester/internal/pool"
	"harvester/pkg/checkpoint"
	errs "harvester/pkg/errors"
	"harvester/pkg/fetch"
	"harvester/pkg/ledger"
	"harvester/pkg/logger"
	"harvester/pkg/metrics"
	"harvester/pkg/models"
	"harvester/pkg/retry"
	"harvester/pkg/unitsource"
)

// Fetcher retrieves a page and classifies the result
type Fetcher interface {
	Fetch(ctx context.Context, target string) fetch.Outcome
}

// Result is a processor's verdict on a unit
type Result struct {
	Disposition Disposition
	// Reason explains invalid and soft-failed units
	Reason string
	// Records counts records newly stored for the unit
	Records int
}

// Processor handles one unit on a worker.
// A non-nil error is fatal for the run; per-unit problems belong in the Result.
type Processor interface {
	Mode() string
	Process(ctx context.Context, w *Worker, unit models.Unit) (Result, error)
}

// Recorder is implemented by processors that persist unit dispositions.
// The coordinator calls it for every finished unit, never concurrently.
type Recorder interface {
	Record(unit models.Unit, res Result) error
}

// offsetSource is implemented by sources with a resumable position
type offsetSource interface {
	Offset() int
	SaveOffset() error
}

// Options configures an Orchestrator
type Options struct {
	// RunID identifies the run in logs and checkpoints, generated when empty
	RunID string
	// Mode defaults to Processor.Mode()
	Mode      string
	Source    unitsource.Source
	Processor Processor
	// NewFetcher builds the client owned by one worker
	NewFetcher  func(workerID int) Fetcher
	Checkpoints *checkpoint.Manager
	// Marker receives the most recently started unit
	Marker *ledger.Marker
	// Failures receives soft-failed units
	Failures    *ledger.FailureLog
	MaxWorkers  int
	MaxInFlight int
	// MaxItems drains the run once this many records were saved; 0 means no limit
	MaxItems        int
	CheckpointEvery int
	GraceTimeout    time.Duration
	// HostCeiling caps the worker count, runtime.NumCPU when zero
	HostCeiling int
	Logger      logger.Logger
}

// Summary reports the final state of a run
type Summary struct {
	RunID      string          `json:"run_id"`
	Mode       string          `json:"mode"`
	StopReason string          `json:"stop_reason"`
	Counters   models.Counters `json:"counters"`
	// Processed counts completed units, including those of resumed runs
	Processed  int           `json:"processed"`
	Done       int           `json:"done"`
	Invalid    int           `json:"invalid"`
	SoftFailed int           `json:"soft_failed"`
	Abandoned  int           `json:"abandoned"`
	Workers    int           `json:"workers"`
	Resumed    bool          `json:"resumed"`
	Duration   time.Duration `json:"duration"`
	// CheckpointPath is set when a resumable checkpoint was left behind
	CheckpointPath string `json:"checkpoint_path,omitempty"`
}

// Snapshot is a point-in-time view of a run
type Snapshot struct {
	RunID         string          `json:"run_id"`
	Mode          string          `json:"mode"`
	State         string          `json:"state"`
	CurrentUnit   string          `json:"current_unit,omitempty"`
	InFlight      []string        `json:"in_flight"`
	Counters      models.Counters `json:"counters"`
	Processed     int             `json:"processed"`
	Remaining     int             `json:"remaining"`
	Workers       int             `json:"workers"`
	ActiveWorkers int             `json:"active_workers"`
	StartedAt     time.Time       `json:"started_at"`
}

// Orchestrator runs units from a source through a processor
type Orchestrator struct {
	opts   Options
	state  atomic.Int32
	logger logger.Logger

	mu             sync.Mutex
	counters       models.Counters
	savedThisRun   int
	processed      int
	tally          map[Disposition]int
	current        string
	itemIndex      int
	itemsSinceSave int
	inFlight       map[string]struct{}
	createdAt      time.Time
	resumed        bool
	stopReason     string
	fatalErr       error
	startedAt      time.Time
	pool           *pool.Pool
	workers        []*Worker

	drainOnce sync.Once
	drainCh   chan struct{}
}

// New validates opts and creates an idle orchestrator
func New(opts Options) (*Orchestrator, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("unit source is required")
	}
	if opts.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if opts.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint manager is required")
	}
	if opts.Mode == "" {
		opts.Mode = opts.Processor.Mode()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.MaxInFlight < opts.MaxWorkers {
		opts.MaxInFlight = opts.MaxWorkers
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 10
	}
	if opts.GraceTimeout <= 0 {
		opts.GraceTimeout = 30 * time.Second
	}
	if opts.HostCeiling <= 0 {
		opts.HostCeiling = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	return &Orchestrator{
		opts: opts,
		logger: opts.Logger.WithFields(map[string]interface{}{
			"component": "orchestrator",
			"run_id":    opts.RunID,
			"mode":      opts.Mode,
		}),
		tally:    make(map[Disposition]int),
		inFlight: make(map[string]struct{}),
		drainCh:  make(chan struct{}),
	}, nil
}

// RunID returns the run identifier
func (o *Orchestrator) RunID() string {
	return o.opts.RunID
}

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	metrics.SetState(s.String(), stateNames())
}

// Run processes units until the source is exhausted or the run drains.
// The returned summary is non-nil once the run has started; the error is
// non-nil when a fatal condition stopped it.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, fmt.Errorf("orchestrator already started")
	}
	o.setState(StateRunning)

	if err := o.resume(); err != nil {
		o.setState(StateStopped)
		return nil, err
	}

	workers := o.workerCount()
	p := pool.New(workers, o.opts.MaxInFlight, o.opts.Source.Next, o.handle, o.abandon, o.logger)

	o.mu.Lock()
	o.startedAt = time.Now()
	o.pool = p
	o.workers = make([]*Worker, workers)
	for i := range o.workers {
		w := &Worker{ID: i, orch: o}
		if o.opts.NewFetcher != nil {
			w.Fetcher = o.opts.NewFetcher(i)
		}
		o.workers[i] = w
	}
	o.mu.Unlock()

	o.logger.InfoWithFields("Run started", map[string]interface{}{
		"workers":       workers,
		"max_in_flight": o.opts.MaxInFlight,
		"max_items":     o.opts.MaxItems,
		"remaining":     o.opts.Source.Remaining(),
		"resumed":       o.resumed,
	})

	// In-flight units outlive ctx until the grace timeout
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	p.Start(workCtx)

	select {
	case <-p.Done():
	case <-ctx.Done():
		o.drain(StopCanceled)
	case <-o.drainCh:
	}

	if o.State() == StateDraining {
		o.awaitWorkers(p, cancelWork)
	}

	return o.stop(p)
}

// resume restores counters from a checkpoint of the same mode
func (o *Orchestrator) resume() error {
	cp, err := o.opts.Checkpoints.Load()
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		return nil
	}
	if cp.Mode != "" && cp.Mode != o.opts.Mode {
		o.logger.WarnWithFields("Ignoring checkpoint of another mode", map[string]interface{}{
			"checkpoint_mode": cp.Mode,
		})
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters = cp.Counters
	o.processed = cp.ProcessedCount
	o.current = cp.CurrentUnit
	o.createdAt = cp.CreatedAt
	o.resumed = true

	o.logger.InfoWithFields("Resuming from checkpoint", map[string]interface{}{
		"previous_run_id": cp.RunID,
		"current_unit":    cp.CurrentUnit,
		"item_index":      cp.ItemIndex,
		"processed_count": cp.ProcessedCount,
		"total_saved":     cp.Counters.Saved,
	})
	return nil
}

// workerCount is min(configured max, remaining units, host ceiling), at least 1
func (o *Orchestrator) workerCount() int {
	n := o.opts.MaxWorkers
	if remaining := o.opts.Source.Remaining(); remaining < n {
		n = remaining
	}
	if o.opts.HostCeiling < n {
		n = o.opts.HostCeiling
	}
	if n < 1 {
		n = 1
	}
	return n
}

// drain stops unit acquisition. The first reason wins.
func (o *Orchestrator) drain(reason string) {
	o.drainOnce.Do(func() {
		o.mu.Lock()
		o.stopReason = reason
		p := o.pool
		o.mu.Unlock()

		o.setState(StateDraining)
		o.logger.InfoWithFields("Draining", map[string]interface{}{
			"reason": reason,
		})
		if p != nil {
			p.Stop()
		}
		close(o.drainCh)
	})
}

// fail records a fatal error and drains the run
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	if o.fatalErr == nil {
		o.fatalErr = err
	}
	o.mu.Unlock()

	reason := StopFatal
	if errs.TypeOf(err) == errs.ErrorTypeQuotaExceeded {
		reason = StopQuotaExceeded
		o.logger.WithError(err).Warn("Daily quota exhausted")
	} else {
		o.logger.WithError(err).Error("Fatal error, stopping run")
	}
	o.drain(reason)
}

// awaitWorkers waits for in-flight units, abandoning them after the grace timeout
func (o *Orchestrator) awaitWorkers(p *pool.Pool, cancelWork context.CancelFunc) {
	timer := time.NewTimer(o.opts.GraceTimeout)
	defer timer.Stop()

	select {
	case <-p.Done():
	case <-timer.C:
		o.logger.WarnWithFields("Grace timeout elapsed, abandoning in-flight units", map[string]interface{}{
			"in_flight": p.InFlight(),
			"grace":     o.opts.GraceTimeout.String(),
		})
		cancelWork()
		<-p.Done()
	}
}

// stop finalizes the run: the checkpoint is deleted only after a full,
// uninterrupted pass and saved otherwise
func (o *Orchestrator) stop(p *pool.Pool) (*Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	drained := o.stopReason != ""
	exhausted := p.Exhausted() && o.opts.Source.Remaining() == 0
	reason := o.stopReason
	if !drained {
		reason = StopLimit
		if exhausted {
			reason = StopExhausted
		}
	}
	o.setState(StateStopped)

	if src, ok := o.opts.Source.(offsetSource); ok {
		if err := src.SaveOffset(); err != nil {
			o.logger.WithError(err).Warn("Failed to save resume offset")
		}
	}

	runErr := o.fatalErr
	checkpointPath := ""
	if !drained && exhausted {
		if err := o.opts.Checkpoints.Delete(); err != nil {
			o.logger.WithError(err).Warn("Failed to delete checkpoint")
		}
		if o.opts.Marker != nil {
			if err := o.opts.Marker.Clear(); err != nil {
				o.logger.WithError(err).Warn("Failed to clear current unit marker")
			}
		}
	} else {
		o.itemIndex = 0
		if err := o.saveCheckpointLocked(); err != nil {
			if runErr == nil {
				runErr = err
			}
		} else {
			checkpointPath = o.opts.Checkpoints.Path()
		}
	}

	summary := &Summary{
		RunID:          o.opts.RunID,
		Mode:           o.opts.Mode,
		StopReason:     reason,
		Counters:       o.counters,
		Processed:      o.processed,
		Done:           o.tally[DispositionDone],
		Invalid:        o.tally[DispositionInvalid],
		SoftFailed:     o.tally[DispositionSoftFailed],
		Abandoned:      o.tally[DispositionAbandoned],
		Workers:        p.Workers(),
		Resumed:        o.resumed,
		Duration:       time.Since(o.startedAt),
		CheckpointPath: checkpointPath,
	}

	logger.LogRunSummary(o.opts.Mode, map[string]interface{}{
		"run_id":          summary.RunID,
		"stop_reason":     summary.StopReason,
		"total_searches":  summary.Counters.Searched,
		"total_found":     summary.Counters.Found,
		"total_saved":     summary.Counters.Saved,
		"failed_items":    summary.Counters.Failed,
		"processed":       summary.Processed,
		"checkpoint_path": summary.CheckpointPath,
		"duration":        summary.Duration.Round(time.Millisecond).String(),
	})

	return summary, runErr
}

// handle runs on a pool worker
func (o *Orchestrator) handle(ctx context.Context, workerID int, unit models.Unit) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	o.mu.Lock()
	w := o.workers[workerID]
	o.mu.Unlock()

	if err := o.unitStarted(unit); err != nil {
		o.mu.Lock()
		delete(o.inFlight, unit.Value)
		o.mu.Unlock()
		o.opts.Source.Release(unit)
		o.fail(err)
		return
	}
	logger.LogUnitStart(o.opts.Mode, unit.Value, workerID)

	res, err := o.process(ctx, w, unit)
	o.unitFinished(unit, res, err)
}

// process turns a processor panic into a soft failure
func (o *Orchestrator) process(ctx context.Context, w *Worker, unit models.Unit) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorWithFields("Processor panic", map[string]interface{}{
				"unit":  unit.Value,
				"panic": fmt.Sprint(r),
			})
			res = Result{Disposition: DispositionSoftFailed, Reason: fmt.Sprintf("panic: %v", r)}
			err = nil
		}
	}()
	return o.opts.Processor.Process(ctx, w, unit)
}

// abandon returns a unit the pool pulled but never started
func (o *Orchestrator) abandon(unit models.Unit) {
	o.opts.Source.Release(unit)
}

func (o *Orchestrator) unitStarted(unit models.Unit) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.inFlight[unit.Value] = struct{}{}
	o.current = unit.Value
	o.itemIndex = 0

	if o.opts.Marker != nil {
		if err := o.opts.Marker.Set(unit.Value); err != nil {
			o.logger.WithError(err).Warn("Failed to update current unit marker")
		}
	}
	return o.saveCheckpointLocked()
}

// report adds progress from a worker and checkpoints every CheckpointEvery items
func (o *Orchestrator) report(unit models.Unit, delta models.Counters, items int) {
	o.mu.Lock()
	o.counters.Add(delta)
	o.savedThisRun += delta.Saved
	if unit.Value == o.current {
		o.itemIndex += items
	}
	o.itemsSinceSave += items

	var err error
	if items > 0 && o.itemsSinceSave >= o.opts.CheckpointEvery {
		o.itemsSinceSave = 0
		err = o.saveCheckpointLocked()
	}
	budget := o.budgetReachedLocked()
	o.mu.Unlock()

	if err != nil {
		o.fail(err)
	}
	if budget {
		o.drain(StopBudget)
	}
}

func (o *Orchestrator) unitFinished(unit models.Unit, res Result, procErr error) {
	o.mu.Lock()
	delete(o.inFlight, unit.Value)

	switch {
	case procErr != nil:
		res.Disposition = DispositionAbandoned
		o.opts.Source.Release(unit)
	case res.Disposition == DispositionAbandoned:
		o.opts.Source.Release(unit)
	default:
		o.completeLocked(unit, res)
	}
	o.tally[res.Disposition]++
	budget := o.budgetReachedLocked()
	o.mu.Unlock()

	metrics.ObserveUnit(res.Disposition.String())
	logger.LogUnitFinish(o.opts.Mode, unit.Value, res.Disposition.String(), map[string]interface{}{
		"records": res.Records,
		"reason":  res.Reason,
	})

	if procErr != nil {
		o.fail(procErr)
	}
	if budget {
		o.drain(StopBudget)
	}
}

// completeLocked persists a finished unit. Ledger failures are logged and the
// unit stays leased, so it is picked up again by the next run.
func (o *Orchestrator) completeLocked(unit models.Unit, res Result) {
	log := o.logger.WithField("unit", unit.Value)

	if rec, ok := o.opts.Processor.(Recorder); ok {
		if err := rec.Record(unit, res); err != nil {
			log.WithError(err).Error("Failed to record unit disposition")
		}
	}

	if res.Disposition == DispositionSoftFailed && o.opts.Failures != nil {
		if err := o.opts.Failures.Record(unit.Value, res.Reason); err != nil {
			log.WithError(err).Warn("Failed to append to failure log")
		}
	}

	if err := o.opts.Source.Complete(unit); err != nil {
		log.WithError(err).Error("Failed to complete unit")
		return
	}
	o.processed++
}

func (o *Orchestrator) budgetReachedLocked() bool {
	return o.opts.MaxItems > 0 && o.savedThisRun >= o.opts.MaxItems
}

// saveCheckpointLocked writes the checkpoint, retrying briefly.
// A persistent failure is fatal for the run.
func (o *Orchestrator) saveCheckpointLocked() error {
	inFlight := make([]string, 0, len(o.inFlight))
	for unit := range o.inFlight {
		inFlight = append(inFlight, unit)
	}
	sort.Strings(inFlight)

	cp := &checkpoint.Checkpoint{
		RunID:          o.opts.RunID,
		Mode:           o.opts.Mode,
		CurrentUnit:    o.current,
		ItemIndex:      o.itemIndex,
		InFlight:       inFlight,
		ProcessedCount: o.processed,
		Counters:       o.counters,
		CreatedAt:      o.createdAt,
	}
	if src, ok := o.opts.Source.(offsetSource); ok {
		cp.Offset = src.Offset()
	}

	err := retry.Do(func() error {
		return o.opts.Checkpoints.Save(cp)
	}, &retry.Config{
		MaxAttempts: 3,
		Backoff:     &retry.ConstantBackoff{Delay: 100 * time.Millisecond},
		Logger:      o.logger,
	})
	if err != nil {
		return errs.CheckpointWrite(err)
	}
	o.createdAt = cp.CreatedAt
	return nil
}

// Snapshot returns the live state of the run
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	inFlight := make([]string, 0, len(o.inFlight))
	for unit := range o.inFlight {
		inFlight = append(inFlight, unit)
	}
	sort.Strings(inFlight)

	snap := Snapshot{
		RunID:       o.opts.RunID,
		Mode:        o.opts.Mode,
		State:       o.State().String(),
		CurrentUnit: o.current,
		InFlight:    inFlight,
		Counters:    o.counters,
		Processed:   o.processed,
		Remaining:   o.opts.Source.Remaining(),
		StartedAt:   o.startedAt,
	}
	if o.pool != nil {
		snap.Workers = o.pool.Workers()
		snap.ActiveWorkers = o.pool.Active()
	}
	return snap
}

// Worker is the per-worker environment handed to a processor
type Worker struct {
	ID int
	// Fetcher is owned by this worker alone
	Fetcher Fetcher

	orch     *Orchestrator
	mu       sync.Mutex
	reported models.Counters
}

// NewWorker creates a detached worker, used to drive a processor directly
func NewWorker(id int, fetcher Fetcher) *Worker {
	return &Worker{ID: id, Fetcher: fetcher}
}

// Report adds progress for unit; items counts the sub-items it covers
func (w *Worker) Report(unit models.Unit, delta models.Counters, items int) {
	w.mu.Lock()
	w.reported.Add(delta)
	w.mu.Unlock()

	if w.orch != nil {
		w.orch.report(unit, delta, items)
	}
}

// Reported returns everything this worker has reported
func (w *Worker) Reported() models.Counters {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reported
}

// BudgetReached reports whether the run has saved enough records
func (w *Worker) BudgetReached() bool {
	if w.orch == nil {
		return false
	}
	w.orch.mu.Lock()
	defer w.orch.mu.Unlock()
	return w.orch.budgetReachedLocked()
}
