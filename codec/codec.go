// Package codec holds the serializers used by tiers that keep values as bytes
// (remote and byte-bounded stores). A tier encodes a whole ttl.Envelope, so any
// codec here must handle plain Go structs with a time.Time field.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
