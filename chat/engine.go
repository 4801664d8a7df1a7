package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"

	aiflow "github.com/jrandolf/aiflow"
	openai "github.com/sashabaranov/go-openai"
)

// Observation is one item of the engine's lazy output sequence: either a
// reference to the shared assistant message at the moment of yield, or a
// terminal error. Receiving an Err observation means the channel is
// closed immediately after.
type Observation struct {
	Message *aiflow.Message
	Err     error
}

// Engine runs the Chat Completions dialect's streaming state machine.
type Engine struct {
	Client   Client
	Repairer aiflow.Repairer
	Logger   *slog.Logger
}

// NewEngine constructs an Engine with the default repairer and logger.
func NewEngine(client Client) *Engine {
	return &Engine{
		Client:   client,
		Repairer: aiflow.DefaultRepairer,
		Logger:   slog.Default(),
	}
}

// toolState tracks one in-flight tool_call index across chunks: the
// cumulative argument string and the stable part index of the Tool part
// it was registered against.
type toolState struct {
	argsAccum string
	partIndex int
}

// Stream opens the dialect's observable contract against transcript,
// tools, and cfg. It validates the transcript's placement rules
// synchronously — an EncodingError (taxonomy kind 1) is returned here,
// before any observation is emitted — then returns a channel the caller
// drains until it closes.
func (e *Engine) Stream(ctx context.Context, session *aiflow.Session, transcript []*aiflow.Message, tools *aiflow.Set, cfg aiflow.GenerateConfig) (<-chan Observation, error) {
	if _, err := EncodeTranscript(transcript); err != nil {
		return nil, err
	}
	cfg = sanitizeConfig(cfg)

	ch := make(chan Observation)
	go e.run(ctx, session, transcript, tools, cfg, ch)
	return ch, nil
}

func sanitizeConfig(cfg aiflow.GenerateConfig) aiflow.GenerateConfig {
	if cfg.Model == "" {
		cfg.Model = aiflow.DefaultModel
	}
	if cfg.ToolChoice == "" {
		cfg.ToolChoice = aiflow.ToolChoiceAuto
	}
	return cfg
}

func (e *Engine) emit(ctx context.Context, ch chan<- Observation, obs Observation) bool {
	select {
	case ch <- obs:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) run(ctx context.Context, session *aiflow.Session, transcript []*aiflow.Message, tools *aiflow.Set, cfg aiflow.GenerateConfig, ch chan<- Observation) {
	defer close(ch)

	msg := aiflow.NewMessage(aiflow.NewMessageID(), aiflow.RoleAssistant)
	if !e.emit(ctx, ch, Observation{Message: msg.Snapshot()}) {
		return
	}

	for {
		spawned, ok := e.runTurn(ctx, session, transcript, msg, tools, cfg, ch)
		if !ok {
			return
		}
		if spawned == 0 {
			return
		}
		if len(msg.PendingToolCalls()) > 0 {
			return
		}
	}
}

// runTurn issues one request, consumes its event stream, joins spawned
// tool executions, and reports how many were spawned. ok is false once
// the run loop should stop (an error observation was emitted, or the
// observer stopped consuming).
func (e *Engine) runTurn(ctx context.Context, session *aiflow.Session, transcript []*aiflow.Message, msg *aiflow.Message, tools *aiflow.Set, cfg aiflow.GenerateConfig, ch chan<- Observation) (spawned int, ok bool) {
	req, err := e.buildRequest(transcript, msg, tools, cfg)
	if err != nil {
		e.emit(ctx, ch, Observation{Err: err})
		return 0, false
	}

	stream, err := e.Client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		e.emit(ctx, ch, Observation{Err: &aiflow.StreamConstructionError{Cause: err}})
		return 0, false
	}
	defer stream.Close()

	states := map[int]*toolState{}
	var wg sync.WaitGroup
	var spawnCount int

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			wg.Wait()
			e.emit(ctx, ch, Observation{Err: &aiflow.StreamTransportError{Cause: err}})
			return spawnCount, false
		}

		if len(resp.Choices) == 0 {
			if resp.Usage != nil {
				e.applyUsage(session, cfg.Model, resp.Usage)
			}
			continue
		}

		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			if kind, idx, ok := msg.LastPart(); ok && kind == aiflow.PartKindText {
				msg.AppendTextDelta(idx, delta.Content)
			} else {
				msg.AppendText(delta.Content)
			}
			if !e.emit(ctx, ch, Observation{Message: msg.Snapshot()}) {
				wg.Wait()
				return spawnCount, false
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}

			st, known := states[index]
			if !known {
				call := &aiflow.ToolCall{ID: tc.ID, Name: tc.Function.Name}
				partIdx := msg.AppendTool(call)
				st = &toolState{partIndex: partIdx}
				states[index] = st
			} else if tc.ID != "" || tc.Function.Name != "" {
				msg.SetToolIdentity(st.partIndex, tc.ID, tc.Function.Name)
			}

			if tc.Function.Arguments == "" {
				if !e.emit(ctx, ch, Observation{Message: msg.Snapshot()}) {
					wg.Wait()
					return spawnCount, false
				}
				continue
			}

			st.argsAccum += tc.Function.Arguments
			repaired, repairOK := e.Repairer.Repair(st.argsAccum)
			if repairOK {
				msg.SetToolArgs(st.partIndex, repaired)
			} else {
				msg.SetToolArgs(st.partIndex, nil)
			}
			if !e.emit(ctx, ch, Observation{Message: msg.Snapshot()}) {
				wg.Wait()
				return spawnCount, false
			}

			snap := msg.ToolCallSnapshot(st.partIndex)
			if repairOK && snap.Name != "" {
				if tool, found := tools.Get(snap.Name); found && tool.Streamable && tool.HasExecutor() {
					spawnCount++
					e.spawn(ctx, &wg, tool, msg, st.partIndex, snap.ID, repaired)
				}
			}
		}
	}

	// After the event loop exits, sweep the accumulated map to recover
	// the FunctionCallArgumentsDone semantics for non-streamable tools:
	// every entry is re-checked, which only produces correct behavior
	// because a streamable tool's per-delta handler above already spawned
	// it and a never-finalized non-streamable entry is still fair game.
	for _, st := range states {
		snap := msg.ToolCallSnapshot(st.partIndex)
		if snap.HasResult() {
			continue
		}
		tool, found := tools.Get(snap.Name)
		if !found {
			msg.SetToolResult(st.partIndex, aiflow.UnknownToolResult(snap.Name))
			continue
		}
		if tool.Streamable || !tool.HasExecutor() {
			continue
		}
		spawnCount++
		e.spawn(ctx, &wg, tool, msg, st.partIndex, snap.ID, snap.Args)
	}

	wg.Wait()
	e.emit(ctx, ch, Observation{Message: msg.Snapshot()})
	return spawnCount, true
}

func (e *Engine) spawn(ctx context.Context, wg *sync.WaitGroup, tool *aiflow.Tool, msg *aiflow.Message, partIdx int, id string, args []byte) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				msg.SetToolResult(partIdx, aiflow.ExecutionErrorResult(panicError(r)))
			}
		}()
		result, ok, err := tool.Execute(ctx, id, args)
		if !ok {
			return
		}
		if err != nil {
			msg.SetToolResult(partIdx, aiflow.ExecutionErrorResult(err))
			return
		}
		msg.SetToolResult(partIdx, result)
	}()
}

func (e *Engine) buildRequest(transcript []*aiflow.Message, msg *aiflow.Message, tools *aiflow.Set, cfg aiflow.GenerateConfig) (openai.ChatCompletionRequest, error) {
	messages, err := EncodeTranscript(transcript)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	if msg.Len() > 0 {
		own, err := EncodeTranscript([]*aiflow.Message{msg.Snapshot()})
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		messages = append(messages, own...)
	}

	return openai.ChatCompletionRequest{
		Model:             string(cfg.Model),
		Messages:          messages,
		Tools:             EncodeTools(tools),
		ToolChoice:        wireToolChoice(cfg.ToolChoice),
		ParallelToolCalls: false,
		Stream:            true,
		StreamOptions:     &openai.StreamOptions{IncludeUsage: true},
	}, nil
}

func (e *Engine) applyUsage(session *aiflow.Session, model aiflow.Model, usage *openai.Usage) {
	var cached int64
	if usage.PromptTokensDetails != nil {
		cached = int64(usage.PromptTokensDetails.CachedTokens)
	}
	u := aiflow.NewUsage(int64(usage.PromptTokens), cached, int64(usage.CompletionTokens))
	cost, err := aiflow.Cost(model, u)
	if err != nil {
		e.Logger.Warn("unknown model for cost accounting", "model", model, "error", err)
		return
	}
	session.AddCost(cost)
}
