package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	errs "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// mongoCollection is the subset of *mongo.Collection the sink uses
type mongoCollection interface {
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// MongoSink upserts records into a MongoDB collection keyed by _id
type MongoSink struct {
	client     *mongo.Client
	collection mongoCollection
	mu         sync.Mutex
	count      int
	logger     logger.Logger
}

// NewMongoSink connects to MongoDB and verifies the connection
func NewMongoSink(ctx context.Context, uri, database, collection string, log logger.Logger) (*MongoSink, error) {
	if uri == "" {
		return nil, fmt.Errorf("storage.mongo_uri is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	sink := NewMongoSinkWithCollection(client.Database(database).Collection(collection), log)
	sink.client = client
	return sink, nil
}

// NewMongoSinkWithCollection builds a sink over an existing collection
func NewMongoSinkWithCollection(collection mongoCollection, log logger.Logger) *MongoSink {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &MongoSink{
		collection: collection,
		logger:     log.WithField("component", "mongo_sink"),
	}
}

func (s *MongoSink) Name() string { return "mongodb" }

// Put replaces the document with the record's ID, inserting it when absent
func (s *MongoSink) Put(ctx context.Context, rec *models.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record %q has no id", rec.Name)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.collection.ReplaceOne(writeCtx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return classifyMongo(err, "mongodb upsert")
	}

	s.mu.Lock()
	s.count++
	total := s.count
	s.mu.Unlock()

	s.logger.DebugWithFields("Record stored in mongodb", map[string]interface{}{
		"record_id": rec.ID,
		"total":     total,
	})
	return nil
}

// ScanIDs lists the IDs of stored documents
func (s *MongoSink) ScanIDs(ctx context.Context) ([]string, error) {
	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, classifyMongo(err, "mongodb find")
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongodb decode id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

// Records iterates every stored document
func (s *MongoSink) Records(ctx context.Context, fn func(*models.Record) error) error {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return classifyMongo(err, "mongodb find")
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var rec models.Record
		if err := cursor.Decode(&rec); err != nil {
			s.logger.WithError(err).Warn("Skipping undecodable document")
			continue
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return cursor.Err()
}

func (s *MongoSink) Close(ctx context.Context) error {
	s.mu.Lock()
	total := s.count
	s.mu.Unlock()
	s.logger.InfoWithFields("MongoDB sink closing", map[string]interface{}{
		"records_written": total,
	})

	if s.client == nil {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Disconnect(closeCtx)
}

// classifyMongo marks connection and timeout failures as transient
func classifyMongo(err error, op string) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return errs.Wrap(errs.ErrorTypeNetwork, err, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}
