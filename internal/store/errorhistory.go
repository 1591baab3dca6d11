package store

import "encoding/json"

// EncodeErrorHistory renders a per-attempt error message list as the JSON
// array text the persistence contract's last_error column carries (spec §3,
// §6). A nil/empty slice encodes as JSON null, matching "null until first
// failure" from spec §3.
func EncodeErrorHistory(messages []string) string {
	if len(messages) == 0 {
		return "null"
	}
	b, err := json.Marshal(messages)
	if err != nil {
		// messages is always []string; Marshal cannot fail for it.
		panic(err)
	}
	return string(b)
}

// DecodeErrorHistory parses the last_error column text back into a message
// slice. Empty text and JSON null both decode to nil.
func DecodeErrorHistory(text string) []string {
	if text == "" || text == "null" {
		return nil
	}
	var messages []string
	if err := json.Unmarshal([]byte(text), &messages); err != nil {
		return nil
	}
	return messages
}
