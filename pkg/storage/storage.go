package storage

import (
	"context"
	"fmt"
	"time"

	"harvester/pkg/config"
	errs "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/retry"
)

// Sink stores records, overwriting by RecordID
type Sink interface {
	Name() string
	Put(ctx context.Context, rec *models.Record) error
	Close(ctx context.Context) error
}

// Catalog lists what a sink already holds
type Catalog interface {
	ScanIDs(ctx context.Context) ([]string, error)
	Records(ctx context.Context, fn func(*models.Record) error) error
}

// Open builds the sink selected by cfg.Driver. dir is used by the file sink.
func Open(ctx context.Context, cfg config.StorageConfig, dir string, log logger.Logger) (Sink, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	var (
		sink Sink
		err  error
	)
	switch cfg.Driver {
	case "", "file":
		sink, err = NewFileSink(dir, log)
	case "mongo", "mongodb":
		sink, err = NewMongoSink(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, log)
	case "postgres", "postgresql":
		sink, err = NewPostgresSink(ctx, cfg.PostgresDSN, cfg.PostgresTable, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	log.InfoWithFields("Record sink ready", map[string]interface{}{
		"driver": sink.Name(),
	})
	return WithRetry(sink, 3, log), nil
}

// retryingSink retries transient Put failures
type retryingSink struct {
	Sink
	attempts int
	logger   logger.Logger
}

// WithRetry wraps sink so transient errors are retried up to attempts times
func WithRetry(sink Sink, attempts int, log logger.Logger) Sink {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &retryingSink{Sink: sink, attempts: attempts, logger: log}
}

func (s *retryingSink) Put(ctx context.Context, rec *models.Record) error {
	return retry.Do(func() error {
		return s.Sink.Put(ctx, rec)
	}, &retry.Config{
		MaxAttempts: s.attempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		RetryIf: isTransient,
		Context: ctx,
		Logger:  s.logger.WithFields(map[string]interface{}{"record_id": rec.ID, "sink": s.Sink.Name()}),
	})
}

// ScanIDs forwards to the wrapped sink when it is a Catalog
func (s *retryingSink) ScanIDs(ctx context.Context) ([]string, error) {
	if c, ok := s.Sink.(Catalog); ok {
		return c.ScanIDs(ctx)
	}
	return nil, nil
}

// Records forwards to the wrapped sink when it is a Catalog
func (s *retryingSink) Records(ctx context.Context, fn func(*models.Record) error) error {
	if c, ok := s.Sink.(Catalog); ok {
		return c.Records(ctx, fn)
	}
	return nil
}

func isTransient(err error) bool {
	return errs.IsRetryable(errs.TypeOf(err))
}

// RecordSource adapts a Catalog to the iteration shape used by keyword generators
type RecordSource struct {
	Catalog Catalog
	Context context.Context
}

// Records iterates every stored record
func (r RecordSource) Records(fn func(*models.Record) error) error {
	ctx := r.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return r.Catalog.Records(ctx, fn)
}
