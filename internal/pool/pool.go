// Package pool runs units through a fixed set of workers.
//
// Work is pulled, never pushed: a single feeder asks the source for the next
// unit only when fewer than maxInFlight units are outstanding, so the source is
// never materialized as a queue.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// PullFunc returns the next unit, or false when none is available
type PullFunc func() (models.Unit, bool)

// HandleFunc processes a unit on the given worker
type HandleFunc func(ctx context.Context, workerID int, unit models.Unit)

// AbandonFunc receives units that were pulled but never started
type AbandonFunc func(unit models.Unit)

// Pool manages concurrent unit workers
type Pool struct {
	numWorkers  int
	maxInFlight int
	pull        PullFunc
	handle      HandleFunc
	abandon     AbandonFunc

	jobs  chan models.Unit
	slots chan struct{}
	stop  chan struct{}
	done  chan struct{}

	stopOnce  sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup

	exhausted atomic.Bool
	active    atomic.Int64
	handled   atomic.Int64

	logger logger.Logger
}

// New creates a pool. maxInFlight is raised to numWorkers when smaller.
func New(numWorkers, maxInFlight int, pull PullFunc, handle HandleFunc, abandon AbandonFunc, log logger.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if maxInFlight < numWorkers {
		maxInFlight = numWorkers
	}
	if abandon == nil {
		abandon = func(models.Unit) {}
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &Pool{
		numWorkers:  numWorkers,
		maxInFlight: maxInFlight,
		pull:        pull,
		handle:      handle,
		abandon:     abandon,
		jobs:        make(chan models.Unit, maxInFlight),
		slots:       make(chan struct{}, maxInFlight),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      log.WithField("component", "pool"),
	}
}

// Start launches the feeder and all workers. ctx is handed to every handler.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
			"num_workers":   p.numWorkers,
			"max_in_flight": p.maxInFlight,
		})

		for i := 0; i < p.numWorkers; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
		go p.feed()

		go func() {
			p.wg.Wait()
			close(p.done)
			p.logger.DebugWithFields("Worker pool stopped", map[string]interface{}{
				"handled":   p.handled.Load(),
				"exhausted": p.exhausted.Load(),
			})
		}()
	})
}

// Stop ends unit acquisition. Units already started keep running.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Debug("Stopping unit acquisition")
		close(p.stop)
	})
}

// Wait blocks until every worker has returned
func (p *Pool) Wait() {
	<-p.done
}

// Done is closed once every worker has returned
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Exhausted reports whether the source ran dry before Stop was called
func (p *Pool) Exhausted() bool {
	return p.exhausted.Load()
}

// InFlight returns the number of pulled units not yet finished
func (p *Pool) InFlight() int {
	return len(p.slots)
}

// Active returns the number of workers currently inside a handler
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Workers returns the pool size
func (p *Pool) Workers() int {
	return p.numWorkers
}

func (p *Pool) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// feed pulls units while a slot is free
func (p *Pool) feed() {
	defer close(p.jobs)

	for {
		select {
		case p.slots <- struct{}{}:
		case <-p.stop:
			return
		}

		// Stop may have raced with the slot acquisition
		if p.stopped() {
			<-p.slots
			return
		}

		unit, ok := p.pull()
		if !ok {
			<-p.slots
			p.exhausted.Store(true)
			p.logger.Debug("Unit source exhausted")
			return
		}

		select {
		case p.jobs <- unit:
		case <-p.stop:
			<-p.slots
			p.abandon(unit)
			return
		}
	}
}

// worker is the main worker routine
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.DebugWithFields("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	for unit := range p.jobs {
		if p.stopped() {
			p.abandon(unit)
			<-p.slots
			continue
		}

		p.active.Add(1)
		p.handle(ctx, id, unit)
		p.active.Add(-1)
		p.handled.Add(1)
		<-p.slots
	}

	p.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}
