// Package responses implements the Responses API wire dialect: flat,
// uncoalesced request encoding and a typed event stream consumed by the
// engine's per-(output_index, content_index) demultiplexer.
//
// No published Go SDK in this module's dependency graph streams the
// Responses API; these event types are hand-defined to mirror the
// vendor's documented event union (the shape the engine was originally
// built against) rather than guess at an unverified client surface.
package responses

import "encoding/json"

// EventType discriminates the Event union. Only the variants the engine
// demultiplexes on are enumerated in detail; every other vendor event is
// decoded with a type tag and otherwise ignored.
type EventType string

const (
	EventOutputItemAdded       EventType = "response.output_item.added"
	EventContentPartAdded      EventType = "response.content_part.added"
	EventOutputTextDelta       EventType = "response.output_text.delta"
	EventRefusalDelta          EventType = "response.refusal.delta"
	EventFunctionCallArgsDelta EventType = "response.function_call_arguments.delta"
	EventFunctionCallArgsDone  EventType = "response.function_call_arguments.done"
	EventResponseCompleted     EventType = "response.completed"
)

// OutputItemKind discriminates the item carried by an OutputItemAdded
// event. Only FunctionCall is meaningful to the engine.
type OutputItemKind string

const (
	OutputItemFunctionCall OutputItemKind = "function_call"
)

// OutputContentKind discriminates the content carried by a
// ContentPartAdded event.
type OutputContentKind string

const (
	OutputContentText    OutputContentKind = "output_text"
	OutputContentRefusal OutputContentKind = "refusal"
)

// FunctionCall is the item payload of an OutputItemAdded event for a
// function call.
type FunctionCall struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OutputContent is the part payload of a ContentPartAdded event.
type OutputContent struct {
	Kind    OutputContentKind `json:"type"`
	Text    string            `json:"text,omitempty"`
	Refusal string            `json:"refusal,omitempty"`
}

// text returns whichever of Text/Refusal is populated, mirroring the
// original's decision to pattern-match Text and Refusal identically —
// preserved verbatim, see SPEC_FULL.md §4 item 2.
func (c OutputContent) text() string {
	if c.Kind == OutputContentRefusal {
		return c.Refusal
	}
	return c.Text
}

// InputTokensDetails reports the cached-token breakdown of a usage
// report.
type InputTokensDetails struct {
	CachedTokens int64 `json:"cached_tokens"`
}

// ResponseUsage is the usage payload of a ResponseCompleted event.
type ResponseUsage struct {
	InputTokens        int64              `json:"input_tokens"`
	InputTokensDetails InputTokensDetails `json:"input_tokens_details"`
	OutputTokens       int64              `json:"output_tokens"`
}

// ResponsePayload is the response object carried by a ResponseCompleted
// event.
type ResponsePayload struct {
	ID                 string         `json:"id"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
	Usage              *ResponseUsage `json:"usage,omitempty"`
}

// Event is one item of the Responses API's streamed event union. Only
// the fields relevant to its Type are populated.
type Event struct {
	Type EventType

	OutputIndex  int
	ContentIndex int

	FunctionCall *FunctionCall
	Content      *OutputContent

	Delta string

	Response *ResponsePayload
}

// wireEvent mirrors the vendor's actual JSON shape: item/part carry
// their own nested "type" discriminant, which UnmarshalJSON resolves
// into the typed FunctionCall/Content fields above.
type wireEvent struct {
	Type         EventType        `json:"type"`
	OutputIndex  int              `json:"output_index"`
	ContentIndex int              `json:"content_index"`
	Item         *json.RawMessage `json:"item,omitempty"`
	Part         *json.RawMessage `json:"part,omitempty"`
	Delta        string           `json:"delta,omitempty"`
	Response     *ResponsePayload `json:"response,omitempty"`
}

// UnmarshalJSON decodes one SSE event payload from the Responses API.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Type = w.Type
	e.OutputIndex = w.OutputIndex
	e.ContentIndex = w.ContentIndex
	e.Delta = w.Delta
	e.Response = w.Response

	if w.Item != nil {
		var probe struct {
			Type OutputItemKind `json:"type"`
		}
		if err := json.Unmarshal(*w.Item, &probe); err == nil && probe.Type == OutputItemFunctionCall {
			var fc FunctionCall
			if err := json.Unmarshal(*w.Item, &fc); err == nil {
				e.FunctionCall = &fc
			}
		}
	}

	if w.Part != nil {
		var content OutputContent
		if err := json.Unmarshal(*w.Part, &content); err == nil {
			e.Content = &content
		}
	}

	return nil
}
