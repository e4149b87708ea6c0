// Package storage persists extracted records.
//
// Every sink writes a record under its RecordID and overwrites an existing
// record with the same ID, so a duplicate write after a crash between store
// and dedup mark is harmless. Three sinks are provided:
//
//   - FileSink writes one <RecordID>.json file per record using a temporary
//     file and an atomic rename.
//   - MongoSink upserts documents keyed by _id.
//   - PostgresSink upserts rows with INSERT ... ON CONFLICT (id) DO UPDATE.
//
// WithRetry wraps any sink so transient failures (network errors, timeouts)
// are retried with exponential backoff before a write is reported as failed.
//
// Usage:
//
//	sink, err := storage.Open(ctx, cfg.Storage, cfg.Output.Path("records"), log)
//	if err != nil {
//	    return err
//	}
//	defer sink.Close(ctx)
//
//	if err := sink.Put(ctx, record); err != nil {
//	    log.WithError(err).Error("Failed to store record")
//	}
package storage
