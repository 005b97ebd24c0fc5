// Package mongo implements the MongoDB-backed run store. Event IDs are Mongo
// object IDs, which double as the List cursor: object IDs are monotonically
// ordered per run as long as a single store instance appends.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/quorumhq/agentrun/runtime/agent/runstore"
)

const (
	defaultCollection = "agent_run_events"
	defaultTimeout    = 5 * time.Second
	storeName         = "runstore-mongo"
)

type (
	// Store exposes Mongo-backed run event persistence. It satisfies
	// runstore.Store and reports liveness through health.Pinger.
	Store interface {
		health.Pinger
		runstore.Store
	}

	// Options configures the Mongo run store.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	store struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	// collection is the subset of mongo collection operations the store
	// uses. Tests substitute a fake.
	collection interface {
		InsertOne(ctx context.Context, doc any) (bson.ObjectID, error)
		Find(ctx context.Context, filter any, opts *options.FindOptionsBuilder) ([]eventDocument, error)
	}

	eventDocument struct {
		ID        bson.ObjectID `bson:"_id,omitempty"`
		RunID     string        `bson:"run_id"`
		AgentID   string        `bson:"agent_id"`
		Type      string        `bson:"type"`
		Payload   []byte        `bson:"payload"`
		Timestamp time.Time     `bson:"timestamp"`
	}
)

// New returns a Store backed by the provided MongoDB client.
func New(opts Options) (Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	mcoll := opts.Client.Database(opts.Database).Collection(coll)
	return &store{
		mongo:   opts.Client,
		coll:    mongoCollection{coll: mcoll},
		timeout: timeout,
	}, nil
}

func (s *store) Name() string {
	return storeName
}

func (s *store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Append implements runstore.Store.
func (s *store) Append(ctx context.Context, e *runstore.Event) error {
	if e == nil {
		return errors.New("event is required")
	}
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.Type == "" {
		return errors.New("event type is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	id, err := s.coll.InsertOne(ctx, eventDocument{
		RunID:     e.RunID,
		AgentID:   e.AgentID,
		Type:      string(e.Type),
		Payload:   append([]byte(nil), e.Payload...),
		Timestamp: ts.UTC(),
	})
	if err != nil {
		return err
	}
	e.ID = id.Hex()
	e.Timestamp = ts.UTC()
	return nil
}

// List implements runstore.Store.
func (s *store) List(ctx context.Context, runID string, cursor string, limit int) (runstore.Page, error) {
	if runID == "" {
		return runstore.Page{}, errors.New("run id is required")
	}
	if limit <= 0 {
		return runstore.Page{}, errors.New("limit must be > 0")
	}

	filter := bson.M{"run_id": runID}
	if cursor != "" {
		oid, err := bson.ObjectIDFromHex(cursor)
		if err != nil {
			return runstore.Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// Fetch one extra document to detect whether another page follows.
	docs, err := s.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit+1)))
	if err != nil {
		return runstore.Page{}, err
	}

	page := runstore.Page{}
	more := len(docs) > limit
	if more {
		docs = docs[:limit]
	}
	for _, doc := range docs {
		page.Events = append(page.Events, &runstore.Event{
			ID:        doc.ID.Hex(),
			RunID:     doc.RunID,
			AgentID:   doc.AgentID,
			Type:      runstore.EventType(doc.Type),
			Payload:   append([]byte(nil), doc.Payload...),
			Timestamp: doc.Timestamp,
		})
	}
	if more {
		page.NextCursor = page.Events[len(page.Events)-1].ID
	}
	return page, nil
}

func (s *store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// mongoCollection adapts a live mongo collection to the narrow interface.
type mongoCollection struct {
	coll *mongodriver.Collection
}

func (m mongoCollection) InsertOne(ctx context.Context, doc any) (bson.ObjectID, error) {
	res, err := m.coll.InsertOne(ctx, doc)
	if err != nil {
		return bson.ObjectID{}, err
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return bson.ObjectID{}, fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return oid, nil
}

func (m mongoCollection) Find(ctx context.Context, filter any, opts *options.FindOptionsBuilder) ([]eventDocument, error) {
	cur, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []eventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
