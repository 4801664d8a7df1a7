package aiflow

import "context"

// Call is the mutable state handed to an extractor pipeline. Each
// extractor consumes (take-once) the piece of state it targets so a
// misconfigured executor cannot silently reuse the same value for two
// differently-typed parameters.
type Call struct {
	id       string
	idTaken  bool
	args     []byte
	argsOK   bool
	argsUsed bool
	ctx      any
	ctxUsed  bool
}

// newCall seeds a Call from a dispatched tool invocation.
func newCall(id string, args []byte, ctxValue any) *Call {
	return &Call{id: id, args: args, argsOK: true, ctx: ctxValue}
}

// Extractor turns a Call into a typed value exactly once.
type Extractor[T any] interface {
	Extract(c *Call) (T, error)
}

// Id extracts the backend call identifier.
type Id struct{}

func (Id) Extract(c *Call) (string, error) {
	if c.idTaken {
		return "", ErrCallIDConsumed
	}
	if c.id == "" {
		return "", ErrNoCallID
	}
	c.idTaken = true
	return c.id, nil
}

// Args deserializes the call's structured argument value into T.
type Args[T any] struct{}

func (Args[T]) Extract(c *Call) (T, error) {
	var zero T
	if c.argsUsed {
		return zero, ErrArgsConsumed
	}
	c.argsUsed = true
	if err := unmarshalArgs(c.args, &zero); err != nil {
		return zero, err
	}
	return zero, nil
}

// Context yields the tool's pre-registered typed context by downcast.
type Context[T any] struct{}

func (Context[T]) Extract(c *Call) (T, error) {
	var zero T
	if c.ctxUsed {
		return zero, ErrContextConsumed
	}
	if c.ctx == nil {
		return zero, ErrContextNotRegistered
	}
	v, ok := c.ctx.(T)
	if !ok {
		return zero, ErrContextTypeMismatch
	}
	c.ctxUsed = true
	return v, nil
}

// ExecutorFunc is a tool's executor, already closed over its extractor
// pipeline. It runs against a fresh Call per invocation.
type ExecutorFunc func(ctx context.Context, call *Call) ([]byte, error)

// Exec0 builds an ExecutorFunc for a tool that needs no extracted
// parameters.
func Exec0(fn func(ctx context.Context) (any, error)) ExecutorFunc {
	return func(ctx context.Context, _ *Call) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return marshalResult(v)
	}
}

// Exec1 builds an ExecutorFunc composing a single extractor.
func Exec1[A any](ea Extractor[A], fn func(ctx context.Context, a A) (any, error)) ExecutorFunc {
	return func(ctx context.Context, call *Call) ([]byte, error) {
		a, err := ea.Extract(call)
		if err != nil {
			return nil, err
		}
		v, err := fn(ctx, a)
		if err != nil {
			return nil, err
		}
		return marshalResult(v)
	}
}

// Exec2 builds an ExecutorFunc composing two extractors, run left to
// right.
func Exec2[A, B any](ea Extractor[A], eb Extractor[B], fn func(ctx context.Context, a A, b B) (any, error)) ExecutorFunc {
	return func(ctx context.Context, call *Call) ([]byte, error) {
		a, err := ea.Extract(call)
		if err != nil {
			return nil, err
		}
		b, err := eb.Extract(call)
		if err != nil {
			return nil, err
		}
		v, err := fn(ctx, a, b)
		if err != nil {
			return nil, err
		}
		return marshalResult(v)
	}
}

// Exec3 builds an ExecutorFunc composing three extractors, run left to
// right.
func Exec3[A, B, C any](ea Extractor[A], eb Extractor[B], ec Extractor[C], fn func(ctx context.Context, a A, b B, c C) (any, error)) ExecutorFunc {
	return func(ctx context.Context, call *Call) ([]byte, error) {
		a, err := ea.Extract(call)
		if err != nil {
			return nil, err
		}
		b, err := eb.Extract(call)
		if err != nil {
			return nil, err
		}
		c, err := ec.Extract(call)
		if err != nil {
			return nil, err
		}
		v, err := fn(ctx, a, b, c)
		if err != nil {
			return nil, err
		}
		return marshalResult(v)
	}
}

// Tool is a named, callable descriptor: schema, streamability, an
// optional pre-registered typed context, and an optional executor. A
// Tool with no executor is a client tool: the engine never spawns its
// execution and expects the caller to resolve its result out of band.
type Tool struct {
	Name             string
	Description      string
	ParametersSchema map[string]any
	Streamable       bool

	context  any
	executor ExecutorFunc
}

// HasExecutor reports whether the tool was registered with an executor.
// A tool without one is a client tool, resolved by the caller out of
// band.
func (t *Tool) HasExecutor() bool { return t.executor != nil }

// Execute runs the tool's executor, if any. ok is false for a client
// tool, in which case err and the returned bytes are always zero-valued.
func (t *Tool) Execute(ctx context.Context, id string, args []byte) (result []byte, ok bool, err error) {
	if t.executor == nil {
		return nil, false, nil
	}
	call := newCall(id, args, t.context)
	result, err = t.executor(ctx, call)
	return result, true, err
}

// ToolBuilder assembles a Tool fluently, mirroring the construction style
// of the registry's other configuration types.
type ToolBuilder struct {
	tool Tool
}

// NewTool starts building a tool with the given name and description.
func NewTool(name, description string) *ToolBuilder {
	return &ToolBuilder{tool: Tool{Name: name, Description: description}}
}

// Parameters sets the tool's JSON schema, derived once by the caller's
// schema producer. The schema is sanitized: $schema and title are
// stripped, format is stripped wherever type is present, recursively
// through properties, items, additionalProperties, and the allOf/anyOf/
// oneOf/$defs combinators. A nil schema defaults to an empty object
// schema with no additional properties allowed.
func (b *ToolBuilder) Parameters(schema map[string]any) *ToolBuilder {
	if schema == nil {
		schema = map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
			"required":             []any{},
		}
	}
	b.tool.ParametersSchema = sanitizeSchema(schema)
	return b
}

// Streamable marks whether the tool may be invoked on each incremental
// refinement of its arguments (and re-invoked as fragments arrive) or
// only once, when arguments are finalized.
func (b *ToolBuilder) Streamable(streamable bool) *ToolBuilder {
	b.tool.Streamable = streamable
	return b
}

// Context registers a typed value the executor's Context extractor can
// later retrieve by downcast.
func (b *ToolBuilder) Context(value any) *ToolBuilder {
	b.tool.context = value
	return b
}

// Executor registers the tool's executor. Leaving it unset makes the
// tool a client tool.
func (b *ToolBuilder) Executor(fn ExecutorFunc) *ToolBuilder {
	b.tool.executor = fn
	return b
}

// Build finalizes the tool, filling in the default empty-object schema
// if Parameters was never called.
func (b *ToolBuilder) Build() *Tool {
	if b.tool.ParametersSchema == nil {
		b.Parameters(nil)
	}
	t := b.tool
	return &t
}

// sanitizeSchema returns a copy of schema with $schema and title removed,
// format removed wherever type is present, recursing into nested schema
// positions.
func sanitizeSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	delete(out, "$schema")
	delete(out, "title")
	if _, hasType := out["type"]; hasType {
		delete(out, "format")
	}

	if props, ok := out["properties"].(map[string]any); ok {
		sanitized := make(map[string]any, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				sanitized[name] = sanitizeSchema(sub)
			} else {
				sanitized[name] = raw
			}
		}
		out["properties"] = sanitized
	}

	if items, ok := out["items"].(map[string]any); ok {
		out["items"] = sanitizeSchema(items)
	}

	if additional, ok := out["additionalProperties"].(map[string]any); ok {
		out["additionalProperties"] = sanitizeSchema(additional)
	}

	if defs, ok := out["$defs"].(map[string]any); ok {
		sanitized := make(map[string]any, len(defs))
		for name, raw := range defs {
			if sub, ok := raw.(map[string]any); ok {
				sanitized[name] = sanitizeSchema(sub)
			} else {
				sanitized[name] = raw
			}
		}
		out["$defs"] = sanitized
	}

	for _, combinator := range []string{"allOf", "anyOf", "oneOf"} {
		list, ok := out[combinator].([]any)
		if !ok {
			continue
		}
		sanitizedList := make([]any, len(list))
		for i, raw := range list {
			if sub, ok := raw.(map[string]any); ok {
				sanitizedList[i] = sanitizeSchema(sub)
			} else {
				sanitizedList[i] = raw
			}
		}
		out[combinator] = sanitizedList
	}

	return out
}
