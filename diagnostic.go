package aiflow

import (
	"encoding/json"
	"fmt"
)

// UnknownToolResult is the diagnostic value recorded when the model
// invokes a name absent from the registry (taxonomy kind 5).
func UnknownToolResult(name string) []byte {
	b, _ := json.Marshal(fmt.Sprintf("No such tool: %s", name))
	return b
}

// ExecutionErrorResult is the diagnostic value recorded when a tool's
// executor returns an error (taxonomy kind 4).
func ExecutionErrorResult(err error) []byte {
	b, _ := json.Marshal(fmt.Sprintf("Error: %s", err.Error()))
	return b
}
