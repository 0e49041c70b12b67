// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package kernel

import (
	"github.com/chewxy/math32"
	"honnef.co/go/safeish"

	"github.com/splat-go/splat/smath"
)

// ProjectArgs carries the scene and camera buffers of the projection pass.
// Exactly one of Covars or Quats+Scales is non-nil; the tag is chosen once
// per call, never per record.
type ProjectArgs struct {
	NumCameras   int
	NumGaussians int

	Means  []float32 // N*3
	Covars []float32 // N*6, or nil
	Quats  []float32 // N*4, or nil
	Scales []float32 // N*3, or nil

	ViewMats []float32 // C*16, row-major world-to-camera
	Ks       []float32 // C*9, row-major intrinsics

	Width  int
	Height int

	Eps2D             float32
	NearPlane         float32
	FarPlane          float32
	RadiusClip        float32
	CalcCompensations bool
}

func (a *ProjectArgs) worldCovar(gid int) smath.Sym3 {
	if a.Covars != nil {
		c := safeish.SliceCast[[][6]float32](a.Covars)[gid]
		return smath.Sym3{XX: c[0], XY: c[1], XZ: c[2], YY: c[3], YZ: c[4], ZZ: c[5]}
	}
	q := safeish.SliceCast[[][4]float32](a.Quats)[gid]
	s := safeish.SliceCast[[][3]float32](a.Scales)[gid]
	return smath.QuatScaleToCovar(
		smath.Quat{W: q[0], X: q[1], Y: q[2], Z: q[3]},
		smath.Vec3{X: s[0], Y: s[1], Z: s[2]},
	)
}

func (a *ProjectArgs) camera(cam int) (smath.Mat3, smath.Vec3, float32, float32, float32, float32) {
	r, t := smath.DecomposeRigid(a.ViewMats[cam*16 : cam*16+16])
	k := a.Ks[cam*9 : cam*9+9]
	return r, t, k[0], k[4], k[2], k[5]
}

// PackedRecords is the packed visibility-record output of the projection
// pass: one entry per (camera, primitive) pair that survives culling, in
// (camera, primitive) order.
type PackedRecords struct {
	CameraIDs     []int32
	GaussianIDs   []int32
	Radii         []int32
	Means2D       []float32 // nnz*2
	Depths        []float32 // nnz
	Conics        []float32 // nnz*3
	Compensations []float32 // nnz, only when CalcCompensations
}

func (p *PackedRecords) Len() int { return len(p.CameraIDs) }

// Append moves o's records onto p. Used to stitch per-chunk outputs back
// into global (camera, primitive) order.
func (p *PackedRecords) Append(o *PackedRecords) {
	p.CameraIDs = append(p.CameraIDs, o.CameraIDs...)
	p.GaussianIDs = append(p.GaussianIDs, o.GaussianIDs...)
	p.Radii = append(p.Radii, o.Radii...)
	p.Means2D = append(p.Means2D, o.Means2D...)
	p.Depths = append(p.Depths, o.Depths...)
	p.Conics = append(p.Conics, o.Conics...)
	p.Compensations = append(p.Compensations, o.Compensations...)
}

// ProjectRange projects every (camera, primitive) pair with flat index in
// [start, end), appending one record per visible pair to out. Flat index
// order is camera-major, so concatenating chunk outputs preserves the packed
// ordering the binning stage expects.
func (a *ProjectArgs) ProjectRange(start, end int, out *PackedRecords) {
	means := safeish.SliceCast[[][3]float32](a.Means)

	camID := -1
	var rot smath.Mat3
	var trans smath.Vec3
	var fx, fy, cx, cy float32

	for ix := start; ix < end; ix++ {
		cam := ix / a.NumGaussians
		gid := ix % a.NumGaussians
		if cam != camID {
			camID = cam
			rot, trans, fx, fy, cx, cy = a.camera(cam)
		}

		m := means[gid]
		meanC := smath.TransformMean(rot, trans, smath.Vec3{X: m[0], Y: m[1], Z: m[2]})
		if meanC.Z < a.NearPlane || meanC.Z > a.FarPlane {
			continue
		}

		covarC := smath.TransformCovar(rot, a.worldCovar(gid))
		mean2, covar2 := smath.PerspProj(meanC, covarC, fx, fy, cx, cy, a.Width, a.Height)

		blurred, comp := smath.AddBlur(a.Eps2D, covar2)
		conic, ok := blurred.Inverse()
		if !ok {
			continue
		}

		radius := math32.Ceil(3 * math32.Sqrt(blurred.MaxEigenvalue()))
		if radius <= a.RadiusClip {
			continue
		}
		// Cull records whose 3-sigma extent misses the image entirely.
		if mean2.X+radius <= 0 || mean2.X-radius >= float32(a.Width) ||
			mean2.Y+radius <= 0 || mean2.Y-radius >= float32(a.Height) {
			continue
		}

		out.CameraIDs = append(out.CameraIDs, int32(cam))
		out.GaussianIDs = append(out.GaussianIDs, int32(gid))
		out.Radii = append(out.Radii, int32(radius))
		out.Means2D = append(out.Means2D, mean2.X, mean2.Y)
		out.Depths = append(out.Depths, meanC.Z)
		out.Conics = append(out.Conics, conic.XX, conic.XY, conic.YY)
		if a.CalcCompensations {
			out.Compensations = append(out.Compensations, comp)
		}
	}
}
