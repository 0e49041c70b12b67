// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package splat

import (
	"sort"

	"github.com/splat-go/splat/kernel"
)

// DefaultTileSize is the side length of a tile work-group in pixels.
const DefaultTileSize = 16

// maxStagedBytes bounds the per-tile staged working set, standing in for the
// shared-memory capacity of the narrowest target we schedule for. The
// working set is TileSize² staged records of kernel.StagedSplatSize bytes.
const maxStagedBytes = 48 * 1024

// supportedChannels enumerates the color widths the compositor is
// instantiated for. The pairs (2ⁿ, 2ⁿ+1) exist so callers can append an
// extra feature channel (such as depth) to a power-of-two payload.
var supportedChannels = map[int]struct{}{
	1: {}, 2: {}, 3: {}, 4: {}, 5: {},
	8: {}, 9: {}, 16: {}, 17: {}, 32: {}, 33: {},
	64: {}, 65: {}, 128: {}, 129: {}, 256: {}, 257: {},
	512: {}, 513: {},
}

// SupportedChannels returns the accepted color channel counts in ascending
// order.
func SupportedChannels() []int {
	out := make([]int, 0, len(supportedChannels))
	for d := range supportedChannels {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

func validateChannels(d int) error {
	if _, ok := supportedChannels[d]; !ok {
		return configErrorf("unsupported channel count %d; supported counts are %v", d, SupportedChannels())
	}
	return nil
}

func validateTileWorkingSet(tileSize int) error {
	if tileSize <= 0 {
		return configErrorf("tile size must be positive, got %d", tileSize)
	}
	bytes := tileSize * tileSize * kernel.StagedSplatSize
	if bytes > maxStagedBytes {
		return configErrorf("tile staging working set (%d bytes for tile size %d) exceeds the %d-byte budget; reduce TileSize",
			bytes, tileSize, maxStagedBytes)
	}
	return nil
}

// RasterizeParams configures the compositing passes.
type RasterizeParams struct {
	Width    int
	Height   int
	TileSize int // 0 means DefaultTileSize
	Channels int

	// Packed selects the color/opacity layout: one slot per visibility
	// record, or camera-dense (camera × primitive) indexed through the
	// record ids.
	Packed bool

	// Backgrounds, when non-nil, holds one color per camera that fills each
	// pixel's remaining transmittance.
	Backgrounds []float32

	// Workers caps the goroutine pool; 0 uses all CPUs.
	Workers int
}

func (p *RasterizeParams) tileSize() int {
	if p.TileSize == 0 {
		return DefaultTileSize
	}
	return p.TileSize
}

// ProjectParams configures the projection pass.
type ProjectParams struct {
	// Eps2D is the screen-space blur added to every projected covariance
	// for numerical stabilization. 0 means the conventional 0.3 pixels².
	Eps2D float32

	NearPlane float32 // 0 means 0.01
	FarPlane  float32 // 0 means 1e10

	// RadiusClip culls records whose screen radius does not exceed it.
	RadiusClip float32

	// CalcCompensations emits the blur-compensation factor per record.
	CalcCompensations bool

	Workers int
}

func (p *ProjectParams) eps2d() float32 {
	if p.Eps2D == 0 {
		return 0.3
	}
	return p.Eps2D
}

func (p *ProjectParams) nearPlane() float32 {
	if p.NearPlane == 0 {
		return 0.01
	}
	return p.NearPlane
}

func (p *ProjectParams) farPlane() float32 {
	if p.FarPlane == 0 {
		return 1e10
	}
	return p.FarPlane
}

// ProjectGradParams configures the projection backward pass.
type ProjectGradParams struct {
	// Eps2D must match the value used in the forward projection.
	Eps2D float32

	// Sparse selects one output slot per visibility record instead of dense
	// per-primitive accumulation.
	Sparse bool

	// CameraGrads requests gradients w.r.t. the camera extrinsics. These
	// are always accumulated densely per camera.
	CameraGrads bool

	Workers int
}

func (p *ProjectGradParams) eps2d() float32 {
	if p.Eps2D == 0 {
		return 0.3
	}
	return p.Eps2D
}
