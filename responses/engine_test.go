package responses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	aiflow "github.com/jrandolf/aiflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream replays a fixed sequence of events, mimicking one streamed
// Responses API request.
type fakeStream struct {
	events []Event
	pos    int
}

func (s *fakeStream) Recv() (Event, error) {
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeClient issues the streams queued against it, one per call, in
// order.
type fakeClient struct {
	streams []*fakeStream
	pos     int
	reqs    []Request
}

func (c *fakeClient) Stream(ctx context.Context, req Request) (EventStream, error) {
	c.reqs = append(c.reqs, req)
	s := c.streams[c.pos]
	c.pos++
	return s, nil
}

// TestEngineStreamPureText exercises scenario S1: a single text content
// part assembled from deltas, followed by a usage-bearing completion.
func TestEngineStreamPureText(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{{events: []Event{
		{Type: EventOutputItemAdded, OutputIndex: 0},
		{Type: EventContentPartAdded, OutputIndex: 0, ContentIndex: 0, Content: &OutputContent{Kind: OutputContentText, Text: "Hel"}},
		{Type: EventOutputTextDelta, OutputIndex: 0, ContentIndex: 0, Delta: "lo"},
		{Type: EventResponseCompleted, Response: &ResponsePayload{
			ID:                 "r1",
			PreviousResponseID: "prev1",
			Usage:              &ResponseUsage{InputTokens: 5, OutputTokens: 2},
		}},
	}}}}

	engine := NewEngine(client)
	session := aiflow.NewSession()
	transcript := []*aiflow.Message{
		func() *aiflow.Message {
			m := aiflow.NewMessage("u1", aiflow.RoleUser)
			m.AppendText("Hi")
			return m
		}(),
	}

	obsCh, err := engine.Stream(context.Background(), session, transcript, aiflow.NewSet(), aiflow.DefaultGenerateConfig())
	require.NoError(t, err)

	var last *aiflow.Message
	for obs := range obsCh {
		require.NoError(t, obs.Err)
		last = obs.Message
	}

	require.NotNil(t, last)
	require.Len(t, last.Parts(), 1)
	text, ok := last.Parts()[0].(*aiflow.TextPart)
	require.True(t, ok)
	assert.Equal(t, "Hello", text.Text)

	cursor, ok := session.Cursor()
	require.True(t, ok)
	assert.Equal(t, "prev1", cursor)

	want, err := aiflow.Cost(aiflow.ModelGPT41, aiflow.NewUsage(5, 0, 2))
	require.NoError(t, err)
	assert.True(t, session.Cost().Equal(want), "got %s want %s", session.Cost(), want)
}

// TestEngineStreamUnknownTool exercises scenario S4: a function call
// whose name is absent from the registry resolves to the "No such tool"
// diagnostic once its arguments are done.
func TestEngineStreamUnknownTool(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{{events: []Event{
		{Type: EventOutputItemAdded, OutputIndex: 0, FunctionCall: &FunctionCall{CallID: "c1", Name: "nope"}},
		{Type: EventFunctionCallArgsDelta, OutputIndex: 0, Delta: "{}"},
		{Type: EventFunctionCallArgsDone, OutputIndex: 0},
		{Type: EventResponseCompleted, Response: &ResponsePayload{ID: "r1", Usage: &ResponseUsage{InputTokens: 3, OutputTokens: 1}}},
	}}}}

	engine := NewEngine(client)
	session := aiflow.NewSession()
	transcript := []*aiflow.Message{aiflow.NewMessage("u1", aiflow.RoleUser)}

	obsCh, err := engine.Stream(context.Background(), session, transcript, aiflow.NewSet(), aiflow.DefaultGenerateConfig())
	require.NoError(t, err)

	var last *aiflow.Message
	for obs := range obsCh {
		require.NoError(t, obs.Err)
		last = obs.Message
	}

	require.NotNil(t, last)
	require.Len(t, last.Parts(), 1)
	toolPart, ok := last.Parts()[0].(*aiflow.ToolPart)
	require.True(t, ok)
	assert.JSONEq(t, `"No such tool: nope"`, string(toolPart.Call.Result))
}

func TestEngineStreamRejectsMisplacedToolPart(t *testing.T) {
	client := &fakeClient{}
	engine := NewEngine(client)
	session := aiflow.NewSession()

	bad := aiflow.NewMessage("u1", aiflow.RoleUser)
	bad.AppendTool(&aiflow.ToolCall{ID: "c1", Name: "nope"})

	_, err := engine.Stream(context.Background(), session, []*aiflow.Message{bad}, aiflow.NewSet(), aiflow.DefaultGenerateConfig())
	require.Error(t, err)
	var encErr *aiflow.EncodingError
	assert.ErrorAs(t, err, &encErr)
}

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

// TestEngineStreamServerResolvedTool exercises scenario S2: a
// non-streamable tool's executor runs once, on the final "done" event,
// and its result lands in the tool part before the engine re-loops.
func TestEngineStreamServerResolvedTool(t *testing.T) {
	turn1 := &fakeStream{events: []Event{
		{Type: EventOutputItemAdded, OutputIndex: 0, FunctionCall: &FunctionCall{CallID: "c1", Name: "add"}},
		{Type: EventFunctionCallArgsDelta, OutputIndex: 0, Delta: `{"a":1,`},
		{Type: EventFunctionCallArgsDelta, OutputIndex: 0, Delta: `"b":2}`},
		{Type: EventFunctionCallArgsDone, OutputIndex: 0},
		{Type: EventResponseCompleted, Response: &ResponsePayload{ID: "r1", Usage: &ResponseUsage{InputTokens: 4, OutputTokens: 3}}},
	}}
	turn2 := &fakeStream{events: []Event{
		{Type: EventContentPartAdded, OutputIndex: 0, ContentIndex: 0, Content: &OutputContent{Kind: OutputContentText, Text: "done"}},
		{Type: EventResponseCompleted, Response: &ResponsePayload{ID: "r2", Usage: &ResponseUsage{InputTokens: 6, OutputTokens: 1}}},
	}}
	client := &fakeClient{streams: []*fakeStream{turn1, turn2}}

	tool := aiflow.NewTool("add", "adds two numbers").
		Executor(aiflow.Exec1(aiflow.Args[addArgs]{}, func(ctx context.Context, a addArgs) (any, error) {
			return a.A + a.B, nil
		})).
		Build()

	engine := NewEngine(client)
	session := aiflow.NewSession()
	transcript := []*aiflow.Message{aiflow.NewMessage("u1", aiflow.RoleUser)}

	obsCh, err := engine.Stream(context.Background(), session, transcript, aiflow.NewSet(tool), aiflow.DefaultGenerateConfig())
	require.NoError(t, err)

	var last *aiflow.Message
	for obs := range obsCh {
		require.NoError(t, obs.Err)
		last = obs.Message
	}

	require.NotNil(t, last)
	require.Len(t, client.reqs, 2)

	toolPart, ok := last.Parts()[0].(*aiflow.ToolPart)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(toolPart.Call.Args))
	assert.Equal(t, "3", string(toolPart.Call.Result))
}

// TestEngineStreamStreamableToolLastWriterWins exercises scenario S3: a
// streamable tool is invoked once per repairable delta, and the result of
// whichever invocation completes last is what observers see once
// everything joins.
func TestEngineStreamStreamableToolLastWriterWins(t *testing.T) {
	turn1 := &fakeStream{events: []Event{
		{Type: EventOutputItemAdded, OutputIndex: 0, FunctionCall: &FunctionCall{CallID: "c1", Name: "echo"}},
		{Type: EventFunctionCallArgsDelta, OutputIndex: 0, Delta: `{"n":1`},
		{Type: EventFunctionCallArgsDelta, OutputIndex: 0, Delta: `}`},
		{Type: EventFunctionCallArgsDone, OutputIndex: 0},
		{Type: EventResponseCompleted, Response: &ResponsePayload{ID: "r1", Usage: &ResponseUsage{InputTokens: 1, OutputTokens: 1}}},
	}}
	turn2 := &fakeStream{events: []Event{
		{Type: EventContentPartAdded, OutputIndex: 0, ContentIndex: 0, Content: &OutputContent{Kind: OutputContentText, Text: "ok"}},
		{Type: EventResponseCompleted, Response: &ResponsePayload{ID: "r2", Usage: &ResponseUsage{InputTokens: 1, OutputTokens: 1}}},
	}}
	client := &fakeClient{streams: []*fakeStream{turn1, turn2}}

	var calls int32
	tool := aiflow.NewTool("echo", "").
		Streamable(true).
		Executor(func(ctx context.Context, call *aiflow.Call) ([]byte, error) {
			n := atomic.AddInt32(&calls, 1)
			return []byte(fmt.Sprintf("%d", n)), nil
		}).
		Build()

	engine := NewEngine(client)
	session := aiflow.NewSession()
	transcript := []*aiflow.Message{aiflow.NewMessage("u1", aiflow.RoleUser)}

	obsCh, err := engine.Stream(context.Background(), session, transcript, aiflow.NewSet(tool), aiflow.DefaultGenerateConfig())
	require.NoError(t, err)

	var last *aiflow.Message
	for obs := range obsCh {
		require.NoError(t, obs.Err)
		last = obs.Message
	}

	require.NotNil(t, last)
	toolPart, ok := last.Parts()[0].(*aiflow.ToolPart)
	require.True(t, ok)
	require.NotNil(t, toolPart.Call.Result)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Contains(t, []string{"1", "2"}, string(toolPart.Call.Result))
}

// TestEngineStreamClientTool exercises scenario S5: a tool registered
// with no executor never gets a result and the engine terminates once
// the stream ends, leaving the call pending for the caller.
func TestEngineStreamClientTool(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{{events: []Event{
		{Type: EventOutputItemAdded, OutputIndex: 0, FunctionCall: &FunctionCall{CallID: "c1", Name: "ask_user"}},
		{Type: EventFunctionCallArgsDelta, OutputIndex: 0, Delta: `{"q":"continue?"}`},
		{Type: EventFunctionCallArgsDone, OutputIndex: 0},
		{Type: EventResponseCompleted, Response: &ResponsePayload{ID: "r1", Usage: &ResponseUsage{InputTokens: 1, OutputTokens: 1}}},
	}}}}

	tool := aiflow.NewTool("ask_user", "hands a question to the human").Build()

	engine := NewEngine(client)
	session := aiflow.NewSession()
	transcript := []*aiflow.Message{aiflow.NewMessage("u1", aiflow.RoleUser)}

	obsCh, err := engine.Stream(context.Background(), session, transcript, aiflow.NewSet(tool), aiflow.DefaultGenerateConfig())
	require.NoError(t, err)

	var last *aiflow.Message
	for obs := range obsCh {
		require.NoError(t, obs.Err)
		last = obs.Message
	}

	require.Len(t, client.reqs, 1)
	toolPart, ok := last.Parts()[0].(*aiflow.ToolPart)
	require.True(t, ok)
	assert.Nil(t, toolPart.Call.Result)
}

// TestEngineStreamTransportError exercises scenario S6: a transport
// failure mid-stream surfaces as a terminal error observation and
// preserves already-accumulated session cost.
type erroringStream struct {
	events []Event
	pos    int
	err    error
}

func (s *erroringStream) Recv() (Event, error) {
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	return Event{}, s.err
}

func (s *erroringStream) Close() error { return nil }

type erroringClient struct {
	stream *erroringStream
}

func (c *erroringClient) Stream(ctx context.Context, req Request) (EventStream, error) {
	return c.stream, nil
}

func TestEngineStreamTransportError(t *testing.T) {
	client := &erroringClient{stream: &erroringStream{
		events: []Event{
			{Type: EventOutputItemAdded, OutputIndex: 0},
			{Type: EventContentPartAdded, OutputIndex: 0, ContentIndex: 0, Content: &OutputContent{Kind: OutputContentText, Text: "par"}},
			{Type: EventOutputTextDelta, OutputIndex: 0, ContentIndex: 0, Delta: "tial"},
		},
		err: errors.New("connection reset"),
	}}

	engine := NewEngine(client)
	session := aiflow.NewSession()
	transcript := []*aiflow.Message{aiflow.NewMessage("u1", aiflow.RoleUser)}

	obsCh, err := engine.Stream(context.Background(), session, transcript, aiflow.NewSet(), aiflow.DefaultGenerateConfig())
	require.NoError(t, err)

	var observations []Observation
	for obs := range obsCh {
		observations = append(observations, obs)
	}

	require.NotEmpty(t, observations)
	last := observations[len(observations)-1]
	require.Error(t, last.Err)
	var transportErr *aiflow.StreamTransportError
	require.ErrorAs(t, last.Err, &transportErr)
	assert.True(t, session.Cost().IsZero())
}

func TestEngineStreamRefusalMergesIntoText(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{{events: []Event{
		{Type: EventOutputItemAdded, OutputIndex: 0},
		{Type: EventContentPartAdded, OutputIndex: 0, ContentIndex: 0, Content: &OutputContent{Kind: OutputContentRefusal, Refusal: "can't help"}},
		{Type: EventResponseCompleted, Response: &ResponsePayload{ID: "r1", Usage: &ResponseUsage{InputTokens: 1, OutputTokens: 1}}},
	}}}}

	engine := NewEngine(client)
	session := aiflow.NewSession()
	transcript := []*aiflow.Message{aiflow.NewMessage("u1", aiflow.RoleUser)}

	obsCh, err := engine.Stream(context.Background(), session, transcript, aiflow.NewSet(), aiflow.DefaultGenerateConfig())
	require.NoError(t, err)

	var last *aiflow.Message
	for obs := range obsCh {
		last = obs.Message
	}

	require.Len(t, last.Parts(), 1)
	text, ok := last.Parts()[0].(*aiflow.TextPart)
	require.True(t, ok)
	assert.Equal(t, "can't help", text.Text)
}
