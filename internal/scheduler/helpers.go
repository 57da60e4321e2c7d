package scheduler

import (
	"encoding/json"
)

// marshalPayload encodes v as a compact JSON payload for event bodies and
// metadata patches. A nil map marshals to "{}" so Event.Payload is never
// left nil for consumers that assume a JSON object.
func marshalPayload(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}
