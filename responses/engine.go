package responses

import (
	"context"
	"io"
	"log/slog"
	"sync"

	aiflow "github.com/jrandolf/aiflow"
)

// Observation is one item of the engine's lazy output sequence: either a
// reference to the shared assistant message at the moment of yield, or a
// terminal error. Receiving an Err observation means the channel is
// closed immediately after.
type Observation struct {
	Message *aiflow.Message
	Err     error
}

// Engine runs the Responses API dialect's streaming state machine.
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

// partKey identifies one in-flight output item by its (output_index,
// content_index) pair, mirroring the original's BTreeMap keying.
type partKey struct {
	outputIndex  int
	contentIndex int
}

// partState tracks one in-flight text/refusal or function-call part: the
// cumulative text or argument string and the stable part index of the
// Text or Tool part it was registered against.
type partState struct {
	accum     string
	partIndex int
	isTool    bool
	name      string
	id        string
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
	req, err := e.buildRequest(session, transcript, msg, tools, cfg)
	if err != nil {
		e.emit(ctx, ch, Observation{Err: err})
		return 0, false
	}

	stream, err := e.Client.Stream(ctx, req)
	if err != nil {
		e.emit(ctx, ch, Observation{Err: &aiflow.StreamConstructionError{Cause: err}})
		return 0, false
	}
	defer stream.Close()

	states := map[partKey]*partState{}
	var wg sync.WaitGroup
	var spawnCount int

	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			wg.Wait()
			e.emit(ctx, ch, Observation{Err: &aiflow.StreamTransportError{Cause: err}})
			return spawnCount, false
		}

		key := partKey{outputIndex: ev.OutputIndex, contentIndex: ev.ContentIndex}

		switch ev.Type {
		case EventOutputItemAdded:
			if ev.FunctionCall == nil {
				continue
			}
			call := &aiflow.ToolCall{ID: ev.FunctionCall.CallID, Name: ev.FunctionCall.Name}
			partIdx := msg.AppendTool(call)
			states[key] = &partState{
				partIndex: partIdx,
				isTool:    true,
				name:      ev.FunctionCall.Name,
				id:        ev.FunctionCall.CallID,
				accum:     ev.FunctionCall.Arguments,
			}
			if !e.emit(ctx, ch, Observation{Message: msg.Snapshot()}) {
				wg.Wait()
				return spawnCount, false
			}

		case EventContentPartAdded:
			if ev.Content == nil {
				continue
			}
			seed := ev.Content.text()
			partIdx := msg.AppendText(seed)
			states[key] = &partState{partIndex: partIdx, accum: seed}
			if !e.emit(ctx, ch, Observation{Message: msg.Snapshot()}) {
				wg.Wait()
				return spawnCount, false
			}

		case EventOutputTextDelta, EventRefusalDelta:
			st, known := states[key]
			if !known {
				continue
			}
			st.accum += ev.Delta
			msg.AppendTextDelta(st.partIndex, ev.Delta)
			if !e.emit(ctx, ch, Observation{Message: msg.Snapshot()}) {
				wg.Wait()
				return spawnCount, false
			}

		case EventFunctionCallArgsDelta:
			st, known := states[key]
			if !known || !st.isTool {
				continue
			}
			st.accum += ev.Delta
			repaired, repairOK := e.Repairer.Repair(st.accum)
			if repairOK {
				msg.SetToolArgs(st.partIndex, repaired)
			} else {
				msg.SetToolArgs(st.partIndex, nil)
			}
			if !e.emit(ctx, ch, Observation{Message: msg.Snapshot()}) {
				wg.Wait()
				return spawnCount, false
			}

			if repairOK {
				if tool, found := tools.Get(st.name); found && tool.Streamable && tool.HasExecutor() {
					spawnCount++
					e.spawn(ctx, &wg, tool, msg, st.partIndex, st.id, repaired)
				}
			}

		case EventFunctionCallArgsDone:
			st, known := states[key]
			if !known || !st.isTool {
				continue
			}
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

		case EventResponseCompleted:
			if ev.Response == nil {
				continue
			}
			if ev.Response.PreviousResponseID != "" {
				session.SetCursor(ev.Response.PreviousResponseID)
			}
			if ev.Response.Usage != nil {
				e.applyUsage(session, cfg.Model, ev.Response.Usage)
			}

		default:
			// Every other vendor event is irrelevant to the engine's
			// demultiplex rules and is ignored.
		}
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

func (e *Engine) buildRequest(session *aiflow.Session, transcript []*aiflow.Message, msg *aiflow.Message, tools *aiflow.Set, cfg aiflow.GenerateConfig) (Request, error) {
	input, err := EncodeTranscript(transcript)
	if err != nil {
		return Request{}, err
	}
	if msg.Len() > 0 {
		own, err := EncodeTranscript([]*aiflow.Message{msg.Snapshot()})
		if err != nil {
			return Request{}, err
		}
		input = append(input, own...)
	}

	req := Request{
		Model:             string(cfg.Model),
		Input:             input,
		Tools:             EncodeTools(tools),
		ToolChoice:        wireToolChoice(cfg.ToolChoice),
		ParallelToolCalls: false,
		Stream:            true,
	}
	if cursor, ok := session.Cursor(); ok {
		req.PreviousResponseID = cursor
	}
	return req, nil
}

func (e *Engine) applyUsage(session *aiflow.Session, model aiflow.Model, usage *ResponseUsage) {
	u := aiflow.NewUsage(usage.InputTokens, usage.InputTokensDetails.CachedTokens, usage.OutputTokens)
	cost, err := aiflow.Cost(model, u)
	if err != nil {
		e.Logger.Warn("unknown model for cost accounting", "model", model, "error", err)
		return
	}
	session.AddCost(cost)
}
