// Package codec encodes record field maps to bytes and back.
//
// Every codec is deterministic: the same fields always produce the same bytes,
// so equal records share one content address. Decoded values are normalized
// to a small set of Go types (see Normalize) regardless of the codec.
package codec

import (
	"fmt"
	"sort"
)

// Codec converts a record's field map to and from its stored encoding.
type Codec interface {
	Name() string
	Marshal(fields map[string]any) ([]byte, error)
	Unmarshal(data []byte) (map[string]any, error)
}

var codecs = map[string]Codec{
	JSON.Name():    JSON,
	CBOR.Name():    CBOR,
	Msgpack.Name(): Msgpack,
}

// Default is the codec used when none is configured.
var Default Codec = JSON

// ByName returns the named codec. The empty name selects Default.
func ByName(name string) (Codec, error) {
	if name == "" {
		return Default, nil
	}
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q (have %v)", name, Names())
	}
	return c, nil
}

// Names lists the available codecs, sorted.
func Names() []string {
	out := make([]string, 0, len(codecs))
	for n := range codecs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
