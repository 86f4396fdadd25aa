package tiercache

import (
	"fmt"

	"github.com/unkn0wn-root/tiercache/store"
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// tierName picks a stable, unique label for the i-th store.
func tierName[V any](i int, s store.Store[V], seen map[string]bool) string {
	name := fmt.Sprintf("tier%d", i)
	if n, ok := s.(store.Namer); ok && n.Name() != "" {
		name = n.Name()
	}
	if seen[name] {
		name = fmt.Sprintf("%s-%d", name, i)
	}
	seen[name] = true
	return name
}
