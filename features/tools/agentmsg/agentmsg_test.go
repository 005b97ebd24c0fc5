package agentmsg

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/quorumhq/agentrun/features/stream/pulse"
	"github.com/quorumhq/agentrun/runtime/agent/toolerrors"
	"github.com/quorumhq/agentrun/runtime/agent/tools"
)

type (
	added struct {
		stream  string
		event   string
		payload []byte
	}

	fakeClient struct {
		adds      []added
		streamErr error
		addErr    error
	}

	fakeStream struct {
		name   string
		client *fakeClient
	}
)

func (f *fakeClient) Stream(name string, _ ...streamopts.Stream) (pulse.Stream, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &fakeStream{name: name, client: f}, nil
}

func (f *fakeClient) Close(context.Context) error { return nil }

func (f *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	if f.client.addErr != nil {
		return "", f.client.addErr
	}
	f.client.adds = append(f.client.adds, added{stream: f.name, event: event, payload: payload})
	return "7-0", nil
}

func (f *fakeStream) NewSink(context.Context, string, ...streamopts.Sink) (pulse.Sink, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStream) Destroy(context.Context) error { return nil }

func invocation(payload string) *tools.Invocation {
	return &tools.Invocation{
		RunID:   "run-1",
		AgentID: "triage",
		Payload: json.RawMessage(payload),
	}
}

func TestExecutePublishesToRecipientStream(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	sent := time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC)
	tool, err := New(fc, WithClock(func() time.Time { return sent }))
	require.NoError(t, err)

	res, err := tool.Execute(context.Background(), invocation(`{"to":"support","text":"handing off run-1"}`))
	require.NoError(t, err)
	require.Nil(t, res.Error)

	var out response
	require.NoError(t, json.Unmarshal(res.Payload, &out))
	assert.Equal(t, "7-0", out.EventID)

	require.Len(t, fc.adds, 1)
	assert.Equal(t, "agent/support", fc.adds[0].stream)
	assert.Equal(t, eventName, fc.adds[0].event)

	var msg Message
	require.NoError(t, json.Unmarshal(fc.adds[0].payload, &msg))
	assert.Equal(t, Message{From: "triage", RunID: "run-1", Text: "handing off run-1", SentAt: sent}, msg)
}

func TestExecuteStreamUnavailable(t *testing.T) {
	t.Parallel()

	tool, err := New(&fakeClient{streamErr: errors.New("redis down")})
	require.NoError(t, err)

	res, err := tool.Execute(context.Background(), invocation(`{"to":"support","text":"hi"}`))
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, toolerrors.KindUnavailable, res.Error.Kind)
}

func TestExecutePublishCancelled(t *testing.T) {
	t.Parallel()

	tool, err := New(&fakeClient{addErr: context.Canceled})
	require.NoError(t, err)

	res, err := tool.Execute(context.Background(), invocation(`{"to":"support","text":"hi"}`))
	require.NoError(t, err)
	assert.True(t, res.IsCancelled())
}

func TestExecuteMalformedPayload(t *testing.T) {
	t.Parallel()

	tool, err := New(&fakeClient{})
	require.NoError(t, err)

	res, err := tool.Execute(context.Background(), invocation(`{"to":7}`))
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, toolerrors.KindInvalidInput, res.Error.Kind)
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
}
