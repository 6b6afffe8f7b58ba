package agenttools

import "encoding/json"

// mustSchema marshals a schema literal; these are fixed at compile time
// so a marshal failure here would be a programmer error, not a runtime one.
func mustSchema(v map[string]any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
