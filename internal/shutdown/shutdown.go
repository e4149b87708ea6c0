// Package shutdown turns interrupt signals into a graceful drain.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"harvester/pkg/logger"
)

// Watch cancels on the first signal and calls exit(1) on the second.
// It returns when ctx is done.
func Watch(ctx context.Context, signals <-chan os.Signal, cancel context.CancelFunc, exit func(code int), log logger.Logger) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	select {
	case sig := <-signals:
		log.WithField("signal", sig.String()).Warn("Interrupt received, draining; press Ctrl+C again to force exit")
		cancel()
	case <-ctx.Done():
		return
	}

	// A drained run returns on its own; only a second signal forces it
	select {
	case sig := <-signals:
		log.WithField("signal", sig.String()).Error("Second interrupt, exiting without flush")
		exit(1)
	case <-ctx.Done():
	}
}

// Notify registers for SIGINT and SIGTERM and starts Watch. The returned
// context is canceled by the first signal; call stop to unregister once the run
// has finished.
func Notify(parent context.Context, log logger.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	// finished outlives ctx so the second signal is still watched while draining
	finished, finish := context.WithCancel(context.Background())
	go Watch(finished, signals, cancel, os.Exit, log)

	return ctx, func() {
		signal.Stop(signals)
		finish()
		cancel()
	}
}
