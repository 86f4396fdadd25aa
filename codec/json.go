package codec

import "encoding/json"

// JSON produces the canonical wire form: {"value":...,"options":{...}}.
// The zero value is ready to use and is the default codec for serializing tiers.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
