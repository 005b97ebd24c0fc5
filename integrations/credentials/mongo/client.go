// Package mongo implements the MongoDB-backed credential store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/integrations/credentials"
)

const (
	defaultCollection = "integration_credentials"
	defaultTimeout    = 5 * time.Second
	clientName        = "credentials-mongo"
)

// Client exposes Mongo-backed credential persistence. It satisfies
// credentials.Store and reports liveness through health.Pinger.
type Client interface {
	health.Pinger
	credentials.Store
}

// Options configures the Mongo credential store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
}

// collection is the subset of mongo collection operations the store uses.
// Tests substitute a fake.
type collection interface {
	FindOne(ctx context.Context, filter any, out any) error
	ReplaceOne(ctx context.Context, filter any, doc any) error
}

type credentialDocument struct {
	Provider     string    `bson:"provider"`
	Type         string    `bson:"type"`
	Secret       string    `bson:"secret,omitempty"`
	AccessToken  string    `bson:"access_token,omitempty"`
	RefreshToken string    `bson:"refresh_token,omitempty"`
	Expiry       time.Time `bson:"expiry,omitempty"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
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
	return &client{
		mongo:   opts.Client,
		coll:    mongoCollection{coll: mcoll},
		timeout: timeout,
	}, nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Get implements credentials.Store.
func (c *client) Get(ctx context.Context, provider integrations.Provider) (credentials.Credential, error) {
	if provider == "" {
		return credentials.Credential{}, errors.New("provider is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc credentialDocument
	if err := c.coll.FindOne(ctx, bson.M{"provider": provider.String()}, &doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return credentials.Credential{}, &credentials.NotFoundError{Provider: provider}
		}
		return credentials.Credential{}, err
	}
	return fromDocument(doc), nil
}

// Set implements credentials.Store.
func (c *client) Set(ctx context.Context, provider integrations.Provider, cred credentials.Credential) error {
	if provider == "" {
		return errors.New("provider is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := toDocument(provider, cred)
	doc.UpdatedAt = time.Now().UTC()
	return c.coll.ReplaceOne(ctx, bson.M{"provider": provider.String()}, doc)
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.timeout)
}

func toDocument(provider integrations.Provider, cred credentials.Credential) credentialDocument {
	doc := credentialDocument{
		Provider: provider.String(),
		Type:     string(cred.Type),
		Secret:   cred.Secret,
	}
	if cred.OAuth != nil {
		doc.AccessToken = cred.OAuth.AccessToken
		doc.RefreshToken = cred.OAuth.RefreshToken
		doc.Expiry = cred.OAuth.Expiry
	}
	return doc
}

func fromDocument(doc credentialDocument) credentials.Credential {
	cred := credentials.Credential{
		Type:   credentials.Type(doc.Type),
		Secret: doc.Secret,
	}
	if cred.Type == credentials.TypeOAuth {
		cred.OAuth = &credentials.OAuthTokens{
			AccessToken:  doc.AccessToken,
			RefreshToken: doc.RefreshToken,
			Expiry:       doc.Expiry,
		}
	}
	return cred
}

// mongoCollection adapts a live mongo collection to the narrow interface.
type mongoCollection struct {
	coll *mongodriver.Collection
}

func (m mongoCollection) FindOne(ctx context.Context, filter any, out any) error {
	return m.coll.FindOne(ctx, filter).Decode(out)
}

func (m mongoCollection) ReplaceOne(ctx context.Context, filter any, doc any) error {
	_, err := m.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}
