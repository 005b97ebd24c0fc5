// Package mongo implements the MongoDB-backed agent memory store.
package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/quorumhq/agentrun/runtime/agent/memory"
)

const (
	defaultCollection = "agent_memory"
	defaultTimeout    = 5 * time.Second
	storeName         = "memory-mongo"
)

// Store exposes Mongo-backed memory persistence. It satisfies memory.Store
// and reports liveness through health.Pinger.
type Store interface {
	health.Pinger
	memory.Store
}

// Options configures the Mongo memory store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type store struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
	now     func() time.Time
}

// collection is the subset of mongo collection operations the store uses.
// Tests substitute a fake.
type collection interface {
	InsertOne(ctx context.Context, doc any) error
	Find(ctx context.Context, filter any, opts *options.FindOptionsBuilder) ([]entryDocument, error)
}

type entryDocument struct {
	ID        string    `bson:"_id"`
	AgentID   string    `bson:"agent_id"`
	Text      string    `bson:"text"`
	TextLower string    `bson:"text_lower"`
	Tags      []string  `bson:"tags,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

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
		now:     time.Now,
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

// Save implements memory.Store.
func (s *store) Save(ctx context.Context, e *memory.Entry) error {
	if e == nil {
		return errors.New("entry is required")
	}
	if e.AgentID == "" {
		return errors.New("agent ID is required")
	}
	if e.Text == "" {
		return errors.New("entry text is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	e.ID = uuid.NewString()
	e.CreatedAt = s.now().UTC()
	return s.coll.InsertOne(ctx, entryDocument{
		ID:        e.ID,
		AgentID:   e.AgentID,
		Text:      e.Text,
		TextLower: strings.ToLower(e.Text),
		Tags:      e.Tags,
		CreatedAt: e.CreatedAt,
	})
}

// Search implements memory.Store. Substring matching runs against a lowered
// copy of the text kept alongside the original.
func (s *store) Search(ctx context.Context, q memory.Query) ([]*memory.Entry, error) {
	if q.AgentID == "" {
		return nil, errors.New("agent ID is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"agent_id": q.AgentID}
	if q.Tag != "" {
		filter["tags"] = q.Tag
	}
	if q.Text != "" {
		filter["text_lower"] = bson.M{
			"$regex": regexQuoteMeta(strings.ToLower(q.Text)),
		}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if q.Limit > 0 {
		opts = opts.SetLimit(int64(q.Limit))
	}
	docs, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*memory.Entry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, &memory.Entry{
			ID:        doc.ID,
			AgentID:   doc.AgentID,
			Text:      doc.Text,
			Tags:      doc.Tags,
			CreatedAt: doc.CreatedAt,
		})
	}
	return out, nil
}

func (s *store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// regexQuoteMeta escapes regex metacharacters so user text matches literally.
func regexQuoteMeta(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\.+*?()|[]{}^$`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// mongoCollection adapts a live mongo collection to the narrow interface.
type mongoCollection struct {
	coll *mongodriver.Collection
}

func (m mongoCollection) InsertOne(ctx context.Context, doc any) error {
	_, err := m.coll.InsertOne(ctx, doc)
	return err
}

func (m mongoCollection) Find(ctx context.Context, filter any, opts *options.FindOptionsBuilder) ([]entryDocument, error) {
	cur, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []entryDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
