// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package splat renders scenes of 3D anisotropic Gaussian primitives into
// images and back-propagates pixel gradients to every primitive and camera
// parameter.
//
// The pipeline has three stages. ProjectForward maps each primitive, per
// camera that can see it, to a packed screen-space visibility record (2D
// mean, conic, depth, optional blur compensation). BinTiles sorts the
// records by (camera, tile, depth) and hands out per-tile index ranges.
// RasterizeForward composites each tile front to back with early
// termination, producing per-pixel color, coverage, and the last-contributor
// index. RasterizeBackward and ProjectBackward are the reverse-mode twins,
// recomputing forward intermediates instead of caching them and reducing
// gradient contributions locally before touching shared accumulators.
//
// All pixel math is single precision. This is a deliberate accuracy/speed
// trade-off: carrying higher-precision compositing state through the
// backward pass measures roughly 1.5x slower.
package splat

import "golang.org/x/exp/constraints"

func ceilDiv[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}
