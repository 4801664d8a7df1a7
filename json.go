package aiflow

import "encoding/json"

func marshalResult(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return []byte(raw), nil
	}
	return json.Marshal(v)
}

func unmarshalArgs[T any](raw []byte, out *T) error {
	if len(raw) == 0 {
		return json.Unmarshal([]byte("null"), out)
	}
	return json.Unmarshal(raw, out)
}
