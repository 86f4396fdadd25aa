package ttl

import (
	"errors"
	"time"

	"github.com/unkn0wn-root/tiercache/codec"
)

// ErrMalformed is returned by Decode for payloads that cannot be turned back
// into a value. Serializing tiers treat it as a miss.
var ErrMalformed = errors.New("ttl: malformed payload")

// Envelope is the wire form of a Value:
//
//	{"value": <payload>, "options": {"createdAt": <RFC3339Nano>, "expire": <ms>, "stale": <ms>}}
type Envelope[V any] struct {
	Value   V           `json:"value" msgpack:"value" cbor:"value"`
	Options WireOptions `json:"options" msgpack:"options" cbor:"options"`
}

// WireOptions carries durations as whole milliseconds. Fractions are rounded
// up, so a decoded value expires at most 1ms later than the original.
type WireOptions struct {
	CreatedAt *time.Time `json:"createdAt,omitempty" msgpack:"createdAt,omitempty" cbor:"createdAt,omitempty"`
	Expire    int64      `json:"expire,omitempty" msgpack:"expire,omitempty" cbor:"expire,omitempty"`
	Stale     int64      `json:"stale,omitempty" msgpack:"stale,omitempty" cbor:"stale,omitempty"`
}

// Envelope returns the wire form of v.
func (v *Value[V]) Envelope() Envelope[V] {
	created := v.CreatedAt
	return Envelope[V]{
		Value: v.Value,
		Options: WireOptions{
			CreatedAt: &created,
			Expire:    wireMillis(v.Options.Expire),
			Stale:     wireMillis(v.Options.Stale),
		},
	}
}

// wireMillis converts d to whole milliseconds, rounding any fraction away from
// zero so a set axis never decodes as unset.
func wireMillis(d time.Duration) int64 {
	ms := d / time.Millisecond
	switch {
	case d%time.Millisecond > 0:
		ms++
	case d%time.Millisecond < 0:
		ms--
	}
	return int64(ms)
}

// Serialize encodes v with c.
func Serialize[V any](c codec.Codec[Envelope[V]], v *Value[V]) ([]byte, error) {
	return c.Encode(v.Envelope())
}

// Decode rebuilds a value from its serialized form. The stored createdAt is
// reused, so expiry and staleness survive the round trip (up to the
// millisecond rounding of WireOptions). A payload
// without a usable createdAt fails with ErrMalformed; it is never re-stamped
// with the current time.
func Decode[V any](c codec.Codec[Envelope[V]], b []byte, clock Clock) (*Value[V], error) {
	env, err := c.Decode(b)
	if err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	if env.Options.CreatedAt == nil || env.Options.CreatedAt.IsZero() {
		return nil, ErrMalformed
	}
	return New(env.Value, Options{
		Expire:    time.Duration(env.Options.Expire) * time.Millisecond,
		Stale:     time.Duration(env.Options.Stale) * time.Millisecond,
		CreatedAt: *env.Options.CreatedAt,
	}, clock), nil
}

// Deserialize is Decode for callers that only care whether a value came back.
func Deserialize[V any](c codec.Codec[Envelope[V]], b []byte, clock Clock) (*Value[V], bool) {
	v, err := Decode(c, b, clock)
	return v, err == nil
}
