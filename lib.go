// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package splat

import "github.com/splat-go/splat/kernel"

// Primitives is a scene of N Gaussian primitives. The shape is a tagged
// variant: either Covars holds a precomputed symmetric covariance per
// primitive, or Quats and Scales hold the quaternion+scale parameterization.
// Exactly one of the two must be set; gradients flow back to whichever was
// supplied. Primitives are immutable during a forward/backward pass.
type Primitives struct {
	Means  []float32 // N*3
	Covars []float32 // N*6 upper-triangular (xx,xy,xz,yy,yz,zz), or nil
	Quats  []float32 // N*4 (w,x,y,z), or nil
	Scales []float32 // N*3, or nil
}

func (p *Primitives) Len() int { return len(p.Means) / 3 }

// Cameras holds C pinhole cameras.
type Cameras struct {
	ViewMats []float32 // C*16 row-major world-to-camera
	Ks       []float32 // C*9 row-major intrinsics
	Width    int
	Height   int
}

func (c *Cameras) Len() int { return len(c.ViewMats) / 16 }

// Records is the packed visibility-record set produced by ProjectForward:
// one entry per (camera, primitive) pair that survives culling.
type Records = kernel.PackedRecords

// TileBins is the per-(camera, tile) index-range table over the flattened,
// depth-sorted record array. Offsets holds each tile's range start; a tile's
// end is the next tile's start and the last range extends to
// len(FlattenIDs). Within a range, FlattenIDs is ordered by non-decreasing
// depth.
type TileBins struct {
	TilesX     int
	TilesY     int
	Offsets    []int32 // numCameras * TilesY * TilesX
	FlattenIDs []int32
}

// ForwardResult holds the per-camera image buffers of the forward pass.
// Alphas is the accumulated coverage 1−T. LastIDs is the position in
// FlattenIDs of the pixel's last contributing record; 0 with Alphas == 0
// means no record contributed (position 0 is also a valid record position,
// so the coverage check is the documented way to tell the two apart).
type ForwardResult struct {
	Colors  []float32 // C*H*W*D
	Alphas  []float32 // C*H*W
	LastIDs []int32   // C*H*W
}

// RasterGrads are the per-record gradients produced by RasterizeBackward.
// VColors and VOpacities follow the layout selected by RasterizeParams.Packed.
type RasterGrads struct {
	VMeans2D   []float32 // nnz*2
	VConics    []float32 // nnz*3
	VColors    []float32 // nnz*D or C*N*D
	VOpacities []float32 // nnz or C*N
}

// RecordGrads are the upstream gradients fed into ProjectBackward, one slot
// per visibility record. VDepths and VCompensations may be nil.
type RecordGrads struct {
	VMeans2D       []float32 // nnz*2
	VDepths        []float32 // nnz
	VConics        []float32 // nnz*3
	VCompensations []float32 // nnz
}

// ProjectGrads are the outputs of ProjectBackward. Either VCovars or
// VQuats+VScales is set, mirroring the primitive parameterization. VViewMats
// is nil unless camera gradients were requested.
type ProjectGrads struct {
	VMeans    []float32 // nnz*3 (sparse) or N*3
	VCovars   []float32 // nnz*6 or N*6
	VQuats    []float32 // nnz*4 or N*4
	VScales   []float32 // nnz*3 or N*3
	VViewMats []float32 // C*16
}
