package mongo

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/quorumhq/agentrun/runtime/agent/memory"
)

// fakeCollection evaluates the store's filters in Go so search behavior can
// be exercised without a live MongoDB.
type fakeCollection struct {
	docs []entryDocument
}

func (f *fakeCollection) InsertOne(_ context.Context, doc any) error {
	f.docs = append(f.docs, doc.(entryDocument))
	return nil
}

func (f *fakeCollection) Find(_ context.Context, filter any, _ *options.FindOptionsBuilder) ([]entryDocument, error) {
	m := filter.(bson.M)
	var out []entryDocument
	for _, doc := range f.docs {
		if doc.AgentID != m["agent_id"].(string) {
			continue
		}
		if tag, ok := m["tags"].(string); ok && !contains(doc.Tags, tag) {
			continue
		}
		if re, ok := m["text_lower"].(bson.M); ok {
			if !strings.Contains(doc.TextLower, re["$regex"].(string)) {
				continue
			}
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func contains(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func newTestStore(fc *fakeCollection) *store {
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	seq := 0
	return &store{
		coll:    fc,
		timeout: time.Second,
		now: func() time.Time {
			seq++
			return base.Add(time.Duration(seq) * time.Second)
		},
	}
}

func TestSaveAssignsIdentityAndLowersText(t *testing.T) {
	t.Parallel()

	fc := &fakeCollection{}
	s := newTestStore(fc)
	e := &memory.Entry{AgentID: "triage", Text: "Deploy Window"}
	require.NoError(t, s.Save(context.Background(), e))

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	require.Len(t, fc.docs, 1)
	assert.Equal(t, "deploy window", fc.docs[0].TextLower)
}

func TestSearchFiltersByAgentTagAndText(t *testing.T) {
	t.Parallel()

	fc := &fakeCollection{}
	s := newTestStore(fc)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &memory.Entry{AgentID: "triage", Text: "deploy friday", Tags: []string{"infra"}}))
	require.NoError(t, s.Save(ctx, &memory.Entry{AgentID: "triage", Text: "billing retro", Tags: []string{"billing"}}))
	require.NoError(t, s.Save(ctx, &memory.Entry{AgentID: "support", Text: "deploy saturday", Tags: []string{"infra"}}))

	got, err := s.Search(ctx, memory.Query{AgentID: "triage", Tag: "infra"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "deploy friday", got[0].Text)

	got, err = s.Search(ctx, memory.Query{AgentID: "triage", Text: "DEPLOY"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "deploy friday", got[0].Text)
}

func TestSearchNewestFirst(t *testing.T) {
	t.Parallel()

	fc := &fakeCollection{}
	s := newTestStore(fc)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &memory.Entry{AgentID: "triage", Text: "older"}))
	require.NoError(t, s.Save(ctx, &memory.Entry{AgentID: "triage", Text: "newer"}))

	got, err := s.Search(ctx, memory.Query{AgentID: "triage"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "newer", got[0].Text)
	assert.Equal(t, "older", got[1].Text)
}

func TestValidation(t *testing.T) {
	t.Parallel()

	s := newTestStore(&fakeCollection{})
	ctx := context.Background()
	require.Error(t, s.Save(ctx, nil))
	require.Error(t, s.Save(ctx, &memory.Entry{Text: "no agent"}))
	_, err := s.Search(ctx, memory.Query{})
	require.Error(t, err)

	_, err = New(Options{})
	require.Error(t, err)
}

func TestRegexQuoteMeta(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `a\.b\*c`, regexQuoteMeta("a.b*c"))
	assert.Equal(t, "plain", regexQuoteMeta("plain"))
}
