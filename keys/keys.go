// Package keys derives cache keys from request descriptors.
package keys

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// For returns prefix + ":" + the first 16 hex chars of a SHA-256 over the
// canonical form of descriptor. Object keys and array elements are sorted
// first, so two descriptors differing only in ordering share a key.
//
// descriptor must be JSON-encodable.
func For(prefix string, descriptor any) (string, error) {
	canon, err := Canonical(descriptor)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return fmt.Sprintf("%s:%x", prefix, sum)[:len(prefix)+1+16], nil // prefix + ":" + first 16 hex chars
}

// Canonical is the order-independent JSON encoding used by For.
func Canonical(descriptor any) ([]byte, error) {
	raw, err := json.Marshal(descriptor)
	if err != nil {
		return nil, fmt.Errorf("keys: encode descriptor: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("keys: decode descriptor: %w", err)
	}
	v, err = normalize(v)
	if err != nil {
		return nil, err
	}
	// maps marshal with sorted keys
	return json.Marshal(v)
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case []any:
		type elem struct {
			v   any
			enc string
		}
		elems := make([]elem, len(t))
		for i, child := range t {
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			b, err := json.Marshal(n)
			if err != nil {
				return nil, fmt.Errorf("keys: encode element: %w", err)
			}
			elems[i] = elem{v: n, enc: string(b)}
		}
		sort.SliceStable(elems, func(i, j int) bool { return elems[i].enc < elems[j].enc })
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = e.v
		}
		return out, nil
	default:
		return v, nil
	}
}
