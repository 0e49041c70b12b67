// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package kernel

import (
	"honnef.co/go/safeish"

	"github.com/splat-go/splat/smath"
)

// ProjectBwdArgs carries the projection VJP buffers: the forward inputs (for
// recomputation), the forward record outputs, the upstream record gradients,
// and the shared output accumulators.
type ProjectBwdArgs struct {
	ProjectArgs

	CameraIDs     []int32
	GaussianIDs   []int32
	Conics        []float32 // nnz*3
	Compensations []float32 // nnz, or nil

	VMeans2D       []float32 // nnz*2
	VDepths        []float32 // nnz, or nil
	VConics        []float32 // nnz*3
	VCompensations []float32 // nnz, or nil

	Sparse      bool
	CameraGrads bool

	// Outputs, pre-zeroed by the caller. Sparse layout is one slot per
	// record; dense layout is one slot per primitive, shared by every record
	// of that primitive.
	VMeans  []float32 // nnz*3 or N*3
	VCovars []float32 // nnz*6 or N*6
	VQuats  []float32 // nnz*4 or N*4
	VScales []float32 // nnz*3 or N*3
	// Camera extrinsic gradients are always dense.
	VViewMats []float32 // C*16
}

// primAccum buffers the gradient sums of a run of records that share one
// primitive, so that dense mode issues one atomic add per component per
// distinct primitive per chunk rather than per record.
type primAccum struct {
	gid   int32
	mean  [3]float32
	covar [6]float32
	quat  [4]float32
	scale [3]float32
}

func (acc *primAccum) flush(a *ProjectBwdArgs) {
	if acc.gid < 0 {
		return
	}
	base := int(acc.gid)
	for i, v := range acc.mean {
		atomicAddFloat32(&a.VMeans[3*base+i], v)
	}
	if a.Covars != nil {
		for i, v := range acc.covar {
			atomicAddFloat32(&a.VCovars[6*base+i], v)
		}
	} else {
		for i, v := range acc.quat {
			atomicAddFloat32(&a.VQuats[4*base+i], v)
		}
		for i, v := range acc.scale {
			atomicAddFloat32(&a.VScales[3*base+i], v)
		}
	}
	*acc = primAccum{gid: -1}
}

// camAccum is the camera-side counterpart of primAccum. Records are packed
// camera-major, so runs are long and the atomic pressure on the per-camera
// slots stays proportional to the camera count.
type camAccum struct {
	cam   int32
	rot   smath.Mat3
	trans smath.Vec3
}

func (acc *camAccum) flush(a *ProjectBwdArgs) {
	if acc.cam < 0 {
		return
	}
	base := int(acc.cam) * 16
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			atomicAddFloat32(&a.VViewMats[base+4*r+c], acc.rot.At(r, c))
		}
	}
	atomicAddFloat32(&a.VViewMats[base+3], acc.trans.X)
	atomicAddFloat32(&a.VViewMats[base+7], acc.trans.Y)
	atomicAddFloat32(&a.VViewMats[base+11], acc.trans.Z)
	*acc = camAccum{cam: -1}
}

// BackwardRange runs the projection VJP for the records in [start, end): the
// adjoint of covariance inversion, blur compensation, perspective projection,
// and the camera-space transform, with camera-space intermediates recomputed
// rather than cached.
func (a *ProjectBwdArgs) BackwardRange(start, end int) {
	means := safeish.SliceCast[[][3]float32](a.Means)
	conics := safeish.SliceCast[[][3]float32](a.Conics)
	vMeans2D := safeish.SliceCast[[][2]float32](a.VMeans2D)
	vConics := safeish.SliceCast[[][3]float32](a.VConics)

	prim := primAccum{gid: -1}
	cam := camAccum{cam: -1}

	camID := int32(-1)
	var rot smath.Mat3
	var trans smath.Vec3
	var fx, fy, cx, cy float32

	for rec := start; rec < end; rec++ {
		gid := a.GaussianIDs[rec]
		cid := a.CameraIDs[rec]
		if cid != camID {
			camID = cid
			rot, trans, fx, fy, cx, cy = a.camera(int(cid))
		}

		c := conics[rec]
		conic := smath.Sym2{XX: c[0], XY: c[1], YY: c[2]}
		vConic := smath.Sym2{XX: vConics[rec][0], XY: vConics[rec][1], YY: vConics[rec][2]}

		// Conic is the inverse of the blurred screen covariance.
		vCovar2 := smath.InverseSym2VJP(conic, vConic)
		if a.Compensations != nil && a.VCompensations != nil {
			comp := a.Compensations[rec]
			blur := smath.AddBlurVJP(a.Eps2D, conic, comp, a.VCompensations[rec])
			vCovar2.XX += blur.XX
			vCovar2.XY += blur.XY
			vCovar2.YY += blur.YY
		}

		// Recompute the camera-space intermediates instead of caching them;
		// the memory traffic would cost more than the arithmetic.
		m := means[gid]
		mean := smath.Vec3{X: m[0], Y: m[1], Z: m[2]}
		covar := a.worldCovar(int(gid))
		meanC := smath.TransformMean(rot, trans, mean)
		covarC := smath.TransformCovar(rot, covar)

		vMean2 := smath.Vec2{X: vMeans2D[rec][0], Y: vMeans2D[rec][1]}
		vMeanC, vCovarC := smath.PerspProjVJP(meanC, covarC, fx, fy, cx, cy, a.Width, a.Height, vMean2, vCovar2)
		if a.VDepths != nil {
			// Depth is the camera-space z-coordinate; its gradient passes
			// through unchanged.
			vMeanC.Z += a.VDepths[rec]
		}

		vMean, vCovar, vRot, vTrans := smath.TransformVJP(rot, mean, covar, vMeanC, vCovarC)

		if a.Sparse {
			a.VMeans[3*rec] = vMean.X
			a.VMeans[3*rec+1] = vMean.Y
			a.VMeans[3*rec+2] = vMean.Z
			if a.Covars != nil {
				writeCovarGrad(a.VCovars[6*rec:6*rec+6], vCovar)
			} else {
				vq, vs := a.quatScaleGrad(gid, vCovar)
				a.VQuats[4*rec] = vq.W
				a.VQuats[4*rec+1] = vq.X
				a.VQuats[4*rec+2] = vq.Y
				a.VQuats[4*rec+3] = vq.Z
				a.VScales[3*rec] = vs.X
				a.VScales[3*rec+1] = vs.Y
				a.VScales[3*rec+2] = vs.Z
			}
		} else {
			if gid != prim.gid {
				prim.flush(a)
				prim.gid = gid
			}
			prim.mean[0] += vMean.X
			prim.mean[1] += vMean.Y
			prim.mean[2] += vMean.Z
			if a.Covars != nil {
				addCovarGrad(&prim.covar, vCovar)
			} else {
				vq, vs := a.quatScaleGrad(gid, vCovar)
				prim.quat[0] += vq.W
				prim.quat[1] += vq.X
				prim.quat[2] += vq.Y
				prim.quat[3] += vq.Z
				prim.scale[0] += vs.X
				prim.scale[1] += vs.Y
				prim.scale[2] += vs.Z
			}
		}

		if a.CameraGrads {
			if cid != cam.cam {
				cam.flush(a)
				cam.cam = cid
			}
			cam.rot = cam.rot.Add(vRot)
			cam.trans = cam.trans.Add(vTrans)
		}
	}

	if !a.Sparse {
		prim.flush(a)
	}
	if a.CameraGrads {
		cam.flush(a)
	}
}

func (a *ProjectBwdArgs) quatScaleGrad(gid int32, vCovar smath.Sym3) (smath.Quat, smath.Vec3) {
	q := safeish.SliceCast[[][4]float32](a.Quats)[gid]
	s := safeish.SliceCast[[][3]float32](a.Scales)[gid]
	return smath.QuatScaleToCovarVJP(
		smath.Quat{W: q[0], X: q[1], Y: q[2], Z: q[3]},
		smath.Vec3{X: s[0], Y: s[1], Z: s[2]},
		vCovar,
	)
}

// writeCovarGrad stores a symmetric covariance gradient in upper-triangular
// order; the off-diagonal entries already carry both triangle halves summed.
func writeCovarGrad(dst []float32, v smath.Sym3) {
	dst[0] = v.XX
	dst[1] = v.XY
	dst[2] = v.XZ
	dst[3] = v.YY
	dst[4] = v.YZ
	dst[5] = v.ZZ
}

func addCovarGrad(dst *[6]float32, v smath.Sym3) {
	dst[0] += v.XX
	dst[1] += v.XY
	dst[2] += v.XZ
	dst[3] += v.YY
	dst[4] += v.YZ
	dst[5] += v.ZZ
}
