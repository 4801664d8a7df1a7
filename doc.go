// aiflow drives multi-turn interactions with an OpenAI-compatible
// large-language-model backend. It assembles a model's streamed partial
// output into a structured assistant message, dispatches tool
// invocations as soon as their arguments are syntactically recognizable,
// feeds tool results back into the model, and continues until the model
// completes with no pending tool calls. Two wire dialects — Chat
// Completions (package chat) and Responses (package responses) — share
// this package's message model, tool registry, usage accounting, and
// fragment repair behind one observable contract.
package aiflow
