// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package mem provides a typed scratch arena for buffers that live for a
// single render pass. Backing arrays are cached per element type and handed
// out again after Reset, so steady-state rendering does not allocate for its
// intermediates.
package mem

import "reflect"

type Arena struct {
	slabs map[reflect.Type][]any
	used  map[reflect.Type]int
}

func NewArena() *Arena {
	return &Arena{
		slabs: make(map[reflect.Type][]any),
		used:  make(map[reflect.Type]int),
	}
}

// Slice returns a zeroed scratch slice of length n. The slice is only valid
// until the arena's next Reset. Successive calls with the same element type
// return distinct slices.
func Slice[T any](a *Arena, n int) []T {
	// We cannot use TypeOf(*new(T)) when T is an interface type, because
	// that passes a nil interface to TypeOf, which returns nil.
	var t *T
	typ := reflect.TypeOf(t).Elem()

	idx := a.used[typ]
	a.used[typ] = idx + 1

	cached := a.slabs[typ]
	if idx < len(cached) {
		if s, ok := cached[idx].([]T); ok && cap(s) >= n {
			s = s[:n]
			clear(s)
			return s
		}
	}

	s := make([]T, n)
	if idx < len(cached) {
		cached[idx] = s
	} else {
		cached = append(cached, s)
	}
	a.slabs[typ] = cached
	return s
}

// Reset recycles every slice handed out since the previous Reset. The arena
// keeps the backing arrays.
func (a *Arena) Reset() {
	clear(a.used)
}
