package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type jsonCodec struct{}

// JSON encodes records as compact JSON. encoding/json sorts map keys, which
// makes the output deterministic.
var JSON Codec = jsonCodec{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(fields map[string]any) ([]byte, error) {
	return json.Marshal(fields)
}

func (jsonCodec) Unmarshal(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("codec: json: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("codec: json: not an object")
	}
	return normalizeFields(m)
}
