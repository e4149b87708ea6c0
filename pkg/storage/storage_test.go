package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"harvester/pkg/config"
	errs "harvester/pkg/errors"
	"harvester/pkg/models"
)

func sampleRecord(id string) *models.Record {
	return &models.Record{
		ID:          id,
		SourceID:    "2137441",
		Name:        "타이레놀정500밀리그람",
		Origin:      "한국존슨앤드존슨",
		Unit:        "타이레놀",
		Fields:      map[string]string{"classification": "해열진통제"},
		ExtractedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	sink, err := NewFileSink(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sink.Count())
	assert.False(t, sink.Has("M2137441"))

	require.NoError(t, sink.Put(ctx, sampleRecord("M2137441")))
	assert.True(t, sink.Has("M2137441"))

	_, err = os.Stat(filepath.Join(dir, "M2137441.json"))
	require.NoError(t, err)

	// overwrite by ID
	updated := sampleRecord("M2137441")
	updated.Name = "타이레놀정"
	require.NoError(t, sink.Put(ctx, updated))
	assert.Equal(t, 1, sink.Count())

	var names []string
	require.NoError(t, sink.Records(ctx, func(rec *models.Record) error {
		names = append(names, rec.Name)
		return nil
	}))
	assert.Equal(t, []string{"타이레놀정"}, names)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileSinkScansExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "M1.json"), []byte(`{"id":"M1","name":"a"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MC0011.json"), []byte(`{broken`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`x`), 0644))

	sink, err := NewFileSink(dir, nil)
	require.NoError(t, err)

	ids, err := sink.ScanIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"M1", "MC0011"}, ids)

	var read []string
	require.NoError(t, sink.Records(context.Background(), func(rec *models.Record) error {
		read = append(read, rec.ID)
		return nil
	}))
	assert.Equal(t, []string{"M1"}, read, "corrupt files are skipped")
}

func TestFileSinkRejectsMissingID(t *testing.T) {
	sink, err := NewFileSink(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Error(t, sink.Put(context.Background(), &models.Record{Name: "x"}))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Driver: "cassandra"}, t.TempDir(), nil)
	assert.Error(t, err)
}

func TestOpenFileSinkIsCatalog(t *testing.T) {
	sink, err := Open(context.Background(), config.StorageConfig{Driver: "file"}, t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, sink.Put(context.Background(), sampleRecord("M9")))

	catalog, ok := sink.(Catalog)
	require.True(t, ok)
	ids, err := catalog.ScanIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"M9"}, ids)

	n := 0
	require.NoError(t, RecordSource{Catalog: catalog}.Records(func(*models.Record) error {
		n++
		return nil
	}))
	assert.Equal(t, 1, n)
}

type flakySink struct {
	failures int
	err      error
	calls    int
}

func (f *flakySink) Name() string { return "flaky" }

func (f *flakySink) Put(ctx context.Context, rec *models.Record) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakySink) Close(ctx context.Context) error { return nil }

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	inner := &flakySink{failures: 1, err: errs.New(errs.ErrorTypeNetwork, "connection reset")}
	sink := WithRetry(inner, 3, nil)

	require.NoError(t, sink.Put(context.Background(), sampleRecord("M1")))
	assert.Equal(t, 2, inner.calls)
}

func TestWithRetryStopsOnPermanentErrors(t *testing.T) {
	inner := &flakySink{failures: 5, err: errors.New("disk full")}
	sink := WithRetry(inner, 3, nil)

	err := sink.Put(context.Background(), sampleRecord("M1"))
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestPostgresSinkUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewPostgresSinkWithPool(mock, "records", nil)
	require.NoError(t, err)

	rec := sampleRecord("M2137441")
	mock.ExpectExec("INSERT INTO records").
		WithArgs(
			rec.ID,
			rec.SourceID,
			rec.Name,
			rec.Origin,
			rec.Unit,
			[]byte(`{"classification":"해열진통제"}`),
			[]byte(`null`),
			rec.ExtractedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Put(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkEnsureTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewPostgresSinkWithPool(mock, "medicines", nil)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS medicines").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, sink.EnsureTable(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkRejectsBadTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresSinkWithPool(mock, "records; DROP TABLE x", nil)
	assert.Error(t, err)
	_, err = NewPostgresSinkWithPool(nil, "records", nil)
	assert.Error(t, err)
}

type fakeCollection struct {
	filters  []interface{}
	upserted []bool
	docs     []interface{}
}

func (c *fakeCollection) ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	c.filters = append(c.filters, filter)
	upsert := false
	for _, o := range opts {
		if o.Upsert != nil {
			upsert = *o.Upsert
		}
	}
	c.upserted = append(c.upserted, upsert)
	c.docs = append(c.docs, replacement)
	return &mongo.UpdateResult{UpsertedCount: 1}, nil
}

func (c *fakeCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	return mongo.NewCursorFromDocuments(c.docs, nil, nil)
}

func TestMongoSink(t *testing.T) {
	coll := &fakeCollection{}
	sink := NewMongoSinkWithCollection(coll, nil)
	ctx := context.Background()

	require.NoError(t, sink.Put(ctx, sampleRecord("M1")))
	require.NoError(t, sink.Put(ctx, sampleRecord("M2")))

	require.Len(t, coll.filters, 2)
	assert.Equal(t, bson.M{"_id": "M1"}, coll.filters[0])
	assert.True(t, coll.upserted[0], "writes are upserts")

	ids, err := sink.ScanIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"M1", "M2"}, ids)

	var names []string
	require.NoError(t, sink.Records(ctx, func(rec *models.Record) error {
		names = append(names, rec.Name)
		return nil
	}))
	assert.Len(t, names, 2)

	require.NoError(t, sink.Close(ctx))
}
