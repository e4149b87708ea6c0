// Package orchestrator ties the unit source, fetch client, extractor,
// deduplicator, record sink and checkpoint store into a crawl run.
//
// A run moves through Idle, Running, Draining and Stopped. Workers pull units
// through a bounded pool and report to a single coordinator, which is the only
// writer of the unit ledgers, the failure log and the checkpoint.
//
// Basic usage:
//
//	orch, err := orchestrator.New(orchestrator.Options{
//		Mode:        "keywords",
//		Source:      queue,
//		Processor:   processor,
//		NewFetcher:  func(id int) orchestrator.Fetcher { return fetch.NewClient(limiter, opts, log) },
//		Checkpoints: checkpoint.NewManager(path, log),
//	})
//	summary, err := orch.Run(ctx)
//
// Draining starts when ctx is canceled, when the saved-record budget is
// reached or when a processor reports a fatal error such as an exhausted daily
// quota. In-flight units may finish until the grace timeout elapses; the run
// then stops and saves a final checkpoint, or deletes it when the whole source
// was consumed without interruption.
package orchestrator
