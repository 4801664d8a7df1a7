// Package aiflow implements the dialect-agnostic core of a conversation
// streaming engine: the canonical message model, the tool registry and
// extractor pipeline, usage accounting, and fragment repair. The two wire
// dialects (Chat Completions, Responses) live in the chat and responses
// subpackages and build on top of these types.
package aiflow

import "sync"

// Role identifies the author of a Message. The set is open: callers may
// define additional roles beyond the three below.
type Role string

const (
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind tags the variant of a Part.
type PartKind string

const (
	PartKindText  PartKind = "text"
	PartKindTool  PartKind = "tool"
	PartKindError PartKind = "error"
)

// Part is a tagged variant of assistant/user/developer content. Concrete
// implementations are TextPart, ToolPart, and ErrorPart.
type Part interface {
	Kind() PartKind
}

// TextPart carries plain text content. Its Text field only ever grows by
// suffix extension while a message is being streamed.
type TextPart struct {
	Text string
}

func (*TextPart) Kind() PartKind { return PartKindText }

// ToolPart wraps a ToolCall. Tool parts may only appear in assistant
// messages; the encoder rejects any other placement.
type ToolPart struct {
	Call *ToolCall
}

func (*ToolPart) Kind() PartKind { return PartKindTool }

// ErrorPart carries a diagnostic description. Error parts may only appear
// in developer messages.
type ErrorPart struct {
	Description string
}

func (*ErrorPart) Kind() PartKind { return PartKindError }

// ToolCall is the model's request to execute a tool, together with its
// progressively-refined arguments and, once execution completes, its
// result.
//
// Args starts nil and is replaced wholesale on each argument delta, first
// with repaired partial values and finally with the fully parsed object.
// Result stays nil until execution completes, then holds either the
// tool's structured return value or a diagnostic value describing why
// execution did not produce one.
type ToolCall struct {
	ID     string
	Name   string
	Args   []byte
	Result []byte
}

// HasResult reports whether the call has been resolved, by the registry's
// executor or by the caller for a client tool.
func (c *ToolCall) HasResult() bool { return c.Result != nil }

func clonePart(p Part) Part {
	switch v := p.(type) {
	case *TextPart:
		return &TextPart{Text: v.Text}
	case *ToolPart:
		call := *v.Call
		return &ToolPart{Call: &call}
	case *ErrorPart:
		return &ErrorPart{Description: v.Description}
	default:
		return p
	}
}

// Message is an identified unit authored by a Role, carrying an ordered,
// append-only sequence of Parts. The engine creates the assistant Message
// empty at the start of a stream invocation and mutates it in place
// across all of that invocation's turns; it is safe for
// concurrent use by the engine goroutine, tool-execution futures, and
// observers taking snapshots, all synchronized on an internal mutex.
type Message struct {
	ID   string
	Role Role

	mu    sync.Mutex
	parts []Part
}

// NewMessage constructs an empty message with the given id and role.
func NewMessage(id string, role Role) *Message {
	return &Message{ID: id, Role: role}
}

func (m *Message) withLock(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

// AppendText appends a new Text part and returns its stable index.
func (m *Message) AppendText(text string) int {
	idx := -1
	m.withLock(func() {
		idx = len(m.parts)
		m.parts = append(m.parts, &TextPart{Text: text})
	})
	return idx
}

// AppendTool appends a new Tool part wrapping call and returns its stable
// index.
func (m *Message) AppendTool(call *ToolCall) int {
	idx := -1
	m.withLock(func() {
		idx = len(m.parts)
		m.parts = append(m.parts, &ToolPart{Call: call})
	})
	return idx
}

// AppendError appends a new Error part and returns its stable index.
func (m *Message) AppendError(description string) int {
	idx := -1
	m.withLock(func() {
		idx = len(m.parts)
		m.parts = append(m.parts, &ErrorPart{Description: description})
	})
	return idx
}

// AppendTextDelta grows the Text part at idx by delta. Panics if idx does
// not reference a Text part; callers are expected to only ever pass
// indices they obtained from AppendText.
func (m *Message) AppendTextDelta(idx int, delta string) {
	m.withLock(func() {
		m.parts[idx].(*TextPart).Text += delta
	})
}

// SetToolIdentity patches the id and/or name of the tool call at idx,
// leaving empty arguments untouched. Some dialects deliver these
// incrementally alongside (or after) the part's creation.
func (m *Message) SetToolIdentity(idx int, id, name string) {
	m.withLock(func() {
		call := m.parts[idx].(*ToolPart).Call
		if id != "" {
			call.ID = id
		}
		if name != "" {
			call.Name = name
		}
	})
}

// SetToolArgs replaces the Args of the tool call at idx.
func (m *Message) SetToolArgs(idx int, args []byte) {
	m.withLock(func() {
		m.parts[idx].(*ToolPart).Call.Args = args
	})
}

// SetToolResult records the Result of the tool call at idx. Last writer
// wins: callers invoking this concurrently for the same idx (a streamable
// tool re-invoked across deltas) need not coordinate ordering.
func (m *Message) SetToolResult(idx int, result []byte) {
	m.withLock(func() {
		m.parts[idx].(*ToolPart).Call.Result = result
	})
}

// ToolCallSnapshot returns a copy of the tool call at idx.
func (m *Message) ToolCallSnapshot(idx int) ToolCall {
	var out ToolCall
	m.withLock(func() {
		out = *m.parts[idx].(*ToolPart).Call
	})
	return out
}

// LastPart reports the kind and index of the most recently appended part,
// or ok=false for an empty message.
func (m *Message) LastPart() (kind PartKind, idx int, ok bool) {
	m.withLock(func() {
		if len(m.parts) == 0 {
			return
		}
		idx = len(m.parts) - 1
		kind = m.parts[idx].Kind()
		ok = true
	})
	return
}

// Len returns the current number of parts.
func (m *Message) Len() int {
	n := 0
	m.withLock(func() { n = len(m.parts) })
	return n
}

// PendingToolCalls returns a copy of every tool call in the message whose
// Result is still absent.
func (m *Message) PendingToolCalls() []ToolCall {
	var out []ToolCall
	m.withLock(func() {
		for _, p := range m.parts {
			tp, ok := p.(*ToolPart)
			if !ok || tp.Call.HasResult() {
				continue
			}
			out = append(out, *tp.Call)
		}
	})
	return out
}

// Snapshot returns a deep copy of the message safe for the caller to read
// without further synchronization.
func (m *Message) Snapshot() *Message {
	cp := &Message{}
	m.withLock(func() {
		cp.ID = m.ID
		cp.Role = m.Role
		cp.parts = make([]Part, len(m.parts))
		for i, p := range m.parts {
			cp.parts[i] = clonePart(p)
		}
	})
	return cp
}

// Parts returns the snapshot's parts in order. Safe to call on a Snapshot
// result without additional locking; calling it on a live Message still
// under mutation races with the engine and should not be done — take a
// Snapshot first.
func (m *Message) Parts() []Part {
	return m.parts
}
