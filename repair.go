package aiflow

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// Repairer attempts a best-effort completion of a possibly-truncated JSON
// fragment, as produced cumulatively by argument-delta events, and
// returns a structured value. ok is false when the fragment could not be
// repaired into valid JSON; callers substitute a null value in that
// case — this is how partial tool arguments become queryable before the
// model has finished emitting them.
type Repairer interface {
	Repair(fragment string) (value []byte, ok bool)
}

// JSONRepairer is the default Repairer, wrapping the jsonrepair library.
type JSONRepairer struct{}

// Repair implements Repairer.
func (JSONRepairer) Repair(fragment string) ([]byte, bool) {
	if fragment == "" {
		return nil, false
	}
	repaired, err := jsonrepair.JSONRepair(fragment)
	if err != nil {
		return nil, false
	}
	var probe any
	if err := json.Unmarshal([]byte(repaired), &probe); err != nil {
		return nil, false
	}
	return []byte(repaired), true
}

// DefaultRepairer is shared by both dialect engines when the caller does
// not supply one of their own.
var DefaultRepairer Repairer = JSONRepairer{}
