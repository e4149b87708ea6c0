package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	errs "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink upserts records into a table keyed by id
type PostgresSink struct {
	pool    execCloser
	table   string
	written atomic.Int64
	logger  logger.Logger
}

// NewPostgresSink connects a pool and ensures the records table exists
func NewPostgresSink(ctx context.Context, dsn, table string, log logger.Logger) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("storage.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sink, err := NewPostgresSinkWithPool(pool, table, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := sink.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

// NewPostgresSinkWithPool constructs a sink from an existing pool
func NewPostgresSinkWithPool(pool execCloser, table string, log logger.Logger) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &PostgresSink{pool: pool, table: table, logger: log.WithField("component", "postgres_sink")}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

// EnsureTable creates the records table when missing
func (s *PostgresSink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	source_id    TEXT,
	name         TEXT NOT NULL,
	origin       TEXT,
	unit         TEXT,
	fields       JSONB,
	extra        JSONB,
	extracted_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Put inserts the record or replaces the row with the same id
func (s *PostgresSink) Put(ctx context.Context, rec *models.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record %q has no id", rec.Name)
	}
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	extraJSON, err := json.Marshal(rec.Extra)
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, source_id, name, origin, unit, fields, extra, extracted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	source_id = EXCLUDED.source_id,
	name = EXCLUDED.name,
	origin = EXCLUDED.origin,
	unit = EXCLUDED.unit,
	fields = EXCLUDED.fields,
	extra = EXCLUDED.extra,
	extracted_at = EXCLUDED.extracted_at`, s.table)

	if _, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.SourceID,
		rec.Name,
		rec.Origin,
		rec.Unit,
		fieldsJSON,
		extraJSON,
		rec.ExtractedAt,
	); err != nil {
		return classifyPostgres(err)
	}

	s.written.Add(1)
	return nil
}

func (s *PostgresSink) Close(ctx context.Context) error {
	s.logger.InfoWithFields("Postgres sink closing", map[string]interface{}{
		"records_written": s.written.Load(),
	})
	s.pool.Close()
	return nil
}

// classifyPostgres marks failures that happened before the server saw the statement as transient
func classifyPostgres(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("upsert record: %s (%s): %w", pgErr.Message, pgErr.Code, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "upsert record")
	}
	return fmt.Errorf("upsert record: %w", err)
}
