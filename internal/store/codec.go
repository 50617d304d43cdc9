package store

import "encoding/json"

// Records are encoded as JSON. Values are small metadata; blob payloads live
// in the content store, never here.

func marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
