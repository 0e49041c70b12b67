// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package kernel

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// atomicAddFloat32 adds v to *addr with a compare-and-swap loop over the
// float's bit pattern. This is the only write path into buffers shared by
// concurrent workers; everything else is exclusively owned.
func atomicAddFloat32(addr *float32, v float32) {
	if v == 0 {
		return
	}
	ptr := (*uint32)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint32(ptr)
		next := math.Float32bits(math.Float32frombits(old) + v)
		if atomic.CompareAndSwapUint32(ptr, old, next) {
			return
		}
	}
}
