package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/checkpoint"
	errs "harvester/pkg/errors"
	"harvester/pkg/ledger"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/unitsource"
)

// scriptedProcessor runs fn for every unit and remembers the order
type scriptedProcessor struct {
	fn func(ctx context.Context, w *Worker, unit models.Unit) (Result, error)

	mu   sync.Mutex
	seen []string
}

func (p *scriptedProcessor) Mode() string { return ModeKeywords }

func (p *scriptedProcessor) Process(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
	p.mu.Lock()
	p.seen = append(p.seen, unit.Value)
	p.mu.Unlock()
	return p.fn(ctx, w, unit)
}

func (p *scriptedProcessor) Seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

// saveOne reports one saved record per unit
func saveOne(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
	w.Report(unit, models.Counters{Searched: 1, Found: 1, Saved: 1}, 1)
	return Result{Disposition: DispositionDone, Records: 1}, nil
}

type harness struct {
	dir      string
	queue    *unitsource.KeywordQueue
	cps      *checkpoint.Manager
	marker   *ledger.Marker
	failures *ledger.FailureLog
}

func newHarness(t *testing.T, seeds ...string) *harness {
	t.Helper()
	dir := t.TempDir()
	queue, err := unitsource.OpenKeywordQueue(
		filepath.Join(dir, "keywords_todo.txt"),
		filepath.Join(dir, "keywords_done.txt"),
		unitsource.QueueOptions{Seeds: seeds},
		logger.NewNopLogger(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	return &harness{
		dir:      dir,
		queue:    queue,
		cps:      checkpoint.NewManager(filepath.Join(dir, "checkpoint.json"), logger.NewNopLogger()),
		marker:   ledger.NewMarker(filepath.Join(dir, "current_unit.txt")),
		failures: ledger.NewFailureLog(filepath.Join(dir, "failed_units.txt")),
	}
}

func (h *harness) options(p Processor) Options {
	return Options{
		Source:          h.queue,
		Processor:       p,
		Checkpoints:     h.cps,
		Marker:          h.marker,
		Failures:        h.failures,
		MaxWorkers:      1,
		MaxInFlight:     1,
		CheckpointEvery: 10,
		GraceTimeout:    time.Second,
		HostCeiling:     8,
		Logger:          logger.NewNopLogger(),
	}
}

func run(t *testing.T, ctx context.Context, opts Options) (*Orchestrator, *Summary, error) {
	t.Helper()
	orch, err := New(opts)
	require.NoError(t, err)
	summary, err := orch.Run(ctx)
	return orch, summary, err
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "soft_failed", DispositionSoftFailed.String())
}

func TestNewValidatesOptions(t *testing.T) {
	h := newHarness(t, "a")
	p := &scriptedProcessor{fn: saveOne}

	_, err := New(Options{Processor: p, Checkpoints: h.cps})
	assert.Error(t, err)
	_, err = New(Options{Source: h.queue, Checkpoints: h.cps})
	assert.Error(t, err)
	_, err = New(Options{Source: h.queue, Processor: p})
	assert.Error(t, err)

	orch, err := New(Options{Source: h.queue, Processor: p, Checkpoints: h.cps})
	require.NoError(t, err)
	assert.NotEmpty(t, orch.RunID())
	assert.Equal(t, StateIdle, orch.State())
}

func TestRunCompletesSourceAndDeletesCheckpoint(t *testing.T) {
	h := newHarness(t, "타이레놀", "아스피린", "게보린", "판콜에이", "이부프로펜")
	p := &scriptedProcessor{fn: saveOne}

	opts := h.options(p)
	opts.MaxWorkers = 3
	opts.MaxInFlight = 4
	orch, summary, err := run(t, context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, StateStopped, orch.State())
	assert.Equal(t, StopExhausted, summary.StopReason)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 5, summary.Done)
	assert.Equal(t, models.Counters{Searched: 5, Found: 5, Saved: 5}, summary.Counters)
	assert.Equal(t, 3, summary.Workers)
	assert.Empty(t, summary.CheckpointPath)

	assert.False(t, h.cps.Exists(), "a full pass deletes the checkpoint")
	assert.Empty(t, h.queue.Todo())
	assert.Len(t, h.queue.Done(), 5)
	assert.ElementsMatch(t, h.queue.Done(), p.Seen())

	value, err := h.marker.Get()
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestRunDrainsWhenBudgetReached(t *testing.T) {
	h := newHarness(t, "a", "b", "c", "d", "e", "f")
	p := &scriptedProcessor{fn: saveOne}

	opts := h.options(p)
	opts.MaxItems = 2
	_, summary, err := run(t, context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, StopBudget, summary.StopReason)
	assert.Equal(t, 2, summary.Counters.Saved)
	assert.Equal(t, h.cps.Path(), summary.CheckpointPath)
	assert.Equal(t, []string{"c", "d", "e", "f"}, h.queue.Todo())

	cp, err := h.cps.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.ProcessedCount)
	assert.Equal(t, 2, cp.Counters.Saved)
	assert.Equal(t, ModeKeywords, cp.Mode)
}

func TestRunStopsOnQuotaExceeded(t *testing.T) {
	h := newHarness(t, "a", "b", "c", "d")
	p := &scriptedProcessor{fn: func(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
		if unit.Value == "c" {
			return Result{Disposition: DispositionAbandoned}, errs.QuotaExceeded(25000, 25000)
		}
		return saveOne(ctx, w, unit)
	}}

	_, summary, err := run(t, context.Background(), h.options(p))
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeQuotaExceeded, errs.TypeOf(err))
	require.NotNil(t, summary)

	assert.Equal(t, StopQuotaExceeded, summary.StopReason)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, []string{"c", "d"}, h.queue.Todo(), "the refused keyword is not completed")
	assert.True(t, h.cps.Exists())
	assert.NotContains(t, p.Seen(), "d")
}

func TestRunFinishesInFlightUnitOnCancel(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	started := make(chan struct{})
	release := make(chan struct{})

	p := &scriptedProcessor{fn: func(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
		if unit.Value == "a" {
			close(started)
			<-release
		}
		return saveOne(ctx, w, unit)
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	_, summary, err := run(t, ctx, h.options(p))
	require.NoError(t, err)

	assert.Equal(t, StopCanceled, summary.StopReason)
	assert.Equal(t, 1, summary.Processed, "the in-flight unit finishes during the grace period")
	assert.Equal(t, []string{"a"}, h.queue.Done())
	assert.Equal(t, []string{"b", "c"}, h.queue.Todo())

	cp, err := h.cps.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "a", cp.CurrentUnit)
	assert.Empty(t, cp.InFlight)
}

func TestRunAbandonsInFlightUnitAfterGraceTimeout(t *testing.T) {
	h := newHarness(t, "a", "b")
	started := make(chan struct{})

	p := &scriptedProcessor{fn: func(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
		close(started)
		<-ctx.Done()
		return Result{Disposition: DispositionAbandoned, Reason: "canceled"}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	opts := h.options(p)
	opts.GraceTimeout = 50 * time.Millisecond
	_, summary, err := run(t, ctx, opts)
	require.NoError(t, err)

	assert.Equal(t, StopCanceled, summary.StopReason)
	assert.Equal(t, 1, summary.Abandoned)
	assert.Equal(t, 0, summary.Processed)
	assert.Empty(t, h.queue.Done())
	assert.Equal(t, []string{"a", "b"}, h.queue.Todo(), "abandoned units stay in todo")
}

func TestSoftFailedUnitIsCompletedAndLogged(t *testing.T) {
	h := newHarness(t, "a", "b")
	p := &scriptedProcessor{fn: func(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
		if unit.Value == "a" {
			w.Report(unit, models.Counters{Found: 3, Saved: 1, Failed: 2}, 3)
			return Result{Disposition: DispositionSoftFailed, Reason: "soft-failures=2/3", Records: 1}, nil
		}
		return saveOne(ctx, w, unit)
	}}

	_, summary, err := run(t, context.Background(), h.options(p))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SoftFailed)
	assert.Equal(t, 2, summary.Counters.Failed)
	assert.ElementsMatch(t, []string{"a", "b"}, h.queue.Done())

	entries, err := h.failures.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Unit)
	assert.Equal(t, "soft-failures=2/3", entries[0].Reason)
}

func TestProcessorPanicIsSoftFailure(t *testing.T) {
	h := newHarness(t, "a", "b")
	p := &scriptedProcessor{fn: func(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
		if unit.Value == "a" {
			panic("boom")
		}
		return saveOne(ctx, w, unit)
	}}

	_, summary, err := run(t, context.Background(), h.options(p))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SoftFailed)
	assert.Equal(t, 2, summary.Processed)
}

func TestRunResumesCountersFromCheckpoint(t *testing.T) {
	h := newHarness(t, "d", "e")
	require.NoError(t, h.cps.Save(&checkpoint.Checkpoint{
		RunID:          "previous",
		Mode:           ModeKeywords,
		CurrentUnit:    "c",
		ProcessedCount: 3,
		Counters:       models.Counters{Searched: 3, Found: 9, Saved: 7},
	}))

	p := &scriptedProcessor{fn: saveOne}
	_, summary, err := run(t, context.Background(), h.options(p))
	require.NoError(t, err)

	assert.True(t, summary.Resumed)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, models.Counters{Searched: 5, Found: 11, Saved: 9}, summary.Counters)
}

func TestRunIgnoresCheckpointOfAnotherMode(t *testing.T) {
	h := newHarness(t, "a")
	require.NoError(t, h.cps.Save(&checkpoint.Checkpoint{Mode: ModeRange, ProcessedCount: 50}))

	_, summary, err := run(t, context.Background(), h.options(&scriptedProcessor{fn: saveOne}))
	require.NoError(t, err)
	assert.False(t, summary.Resumed)
	assert.Equal(t, 1, summary.Processed)
}

func TestCheckpointWriteFailureIsFatal(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	cpDir := filepath.Join(h.dir, "state")
	h.cps = checkpoint.NewManager(filepath.Join(cpDir, "checkpoint.json"), logger.NewNopLogger())

	p := &scriptedProcessor{fn: func(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
		if unit.Value == "a" {
			// Replace the checkpoint directory with a file so later saves fail
			require.NoError(t, os.RemoveAll(cpDir))
			require.NoError(t, os.WriteFile(cpDir, []byte("x"), 0644))
		}
		return saveOne(ctx, w, unit)
	}}

	_, summary, err := run(t, context.Background(), h.options(p))
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeCheckpointWrite, errs.TypeOf(err))
	require.NotNil(t, summary)
	assert.Equal(t, StopFatal, summary.StopReason)
	assert.Empty(t, summary.CheckpointPath)
}

func TestFailedUnitStartLeavesNothingInFlight(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	cpDir := filepath.Join(h.dir, "state")
	h.cps = checkpoint.NewManager(filepath.Join(cpDir, "checkpoint.json"), logger.NewNopLogger())

	p := &scriptedProcessor{fn: func(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
		require.NoError(t, os.RemoveAll(cpDir))
		require.NoError(t, os.WriteFile(cpDir, []byte("x"), 0644))
		return saveOne(ctx, w, unit)
	}}

	orch, _, err := run(t, context.Background(), h.options(p))
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, p.Seen())
	assert.Empty(t, orch.Snapshot().InFlight)
}

func TestRunTwiceIsRejected(t *testing.T) {
	h := newHarness(t, "a")
	orch, err := New(h.options(&scriptedProcessor{fn: saveOne}))
	require.NoError(t, err)

	_, err = orch.Run(context.Background())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	assert.Error(t, err)
}

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		name      string
		max       int
		seeds     []string
		ceiling   int
		wantCount int
	}{
		{"limited by config", 2, []string{"a", "b", "c", "d"}, 8, 2},
		{"limited by remaining units", 8, []string{"a", "b", "c"}, 8, 3},
		{"limited by host", 8, []string{"a", "b", "c", "d"}, 2, 2},
		{"at least one", 4, nil, 8, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.seeds...)
			opts := h.options(&scriptedProcessor{fn: saveOne})
			opts.MaxWorkers = tt.max
			opts.HostCeiling = tt.ceiling

			orch, err := New(opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, orch.workerCount())
		})
	}
}

func TestSnapshotDuringRun(t *testing.T) {
	h := newHarness(t, "a", "b")
	inside := make(chan struct{})
	release := make(chan struct{})

	p := &scriptedProcessor{fn: func(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
		if unit.Value == "a" {
			w.Report(unit, models.Counters{Searched: 1}, 0)
			close(inside)
			<-release
		}
		return saveOne(ctx, w, unit)
	}}

	orch, err := New(h.options(p))
	require.NoError(t, err)

	done := make(chan *Summary)
	go func() {
		summary, _ := orch.Run(context.Background())
		done <- summary
	}()

	<-inside
	snap := orch.Snapshot()
	assert.Equal(t, "running", snap.State)
	assert.Equal(t, "a", snap.CurrentUnit)
	assert.Equal(t, []string{"a"}, snap.InFlight)
	assert.Equal(t, 1, snap.Counters.Searched)
	assert.Equal(t, 1, snap.Workers)

	value, err := h.marker.Get()
	require.NoError(t, err)
	assert.Equal(t, "a", value)

	close(release)
	summary := <-done
	require.NotNil(t, summary)
	assert.Equal(t, "stopped", orch.Snapshot().State)
}

func TestCheckpointEveryItems(t *testing.T) {
	h := newHarness(t, "a")
	var mid *checkpoint.Checkpoint

	p := &scriptedProcessor{fn: func(ctx context.Context, w *Worker, unit models.Unit) (Result, error) {
		for i := 0; i < 4; i++ {
			w.Report(unit, models.Counters{Saved: 1}, 1)
		}
		cp, err := h.cps.Load()
		require.NoError(t, err)
		mid = cp
		return Result{Disposition: DispositionDone, Records: 4}, nil
	}}

	opts := h.options(p)
	opts.CheckpointEvery = 3
	_, _, err := run(t, context.Background(), opts)
	require.NoError(t, err)

	require.NotNil(t, mid)
	assert.Equal(t, "a", mid.CurrentUnit)
	assert.Equal(t, 3, mid.ItemIndex, "saved after the third item")
	assert.Equal(t, 3, mid.Counters.Saved)
}
