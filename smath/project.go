// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package smath

import "github.com/chewxy/math32"

// DecomposeRigid splits a row-major 4x4 world-to-camera matrix into its
// rotation and translation parts.
func DecomposeRigid(view []float32) (Mat3, Vec3) {
	r := Mat3{
		view[0], view[1], view[2],
		view[4], view[5], view[6],
		view[8], view[9], view[10],
	}
	t := Vec3{view[3], view[7], view[11]}
	return r, t
}

// TransformMean maps a world-space mean into camera space.
func TransformMean(r Mat3, t Vec3, mean Vec3) Vec3 {
	return r.MulVec(mean).Add(t)
}

// TransformCovar maps a world-space covariance into camera space: R·Σ·Rᵀ.
func TransformCovar(r Mat3, covar Sym3) Sym3 {
	full := r.Mul(covar.Full()).Mul(r.Transpose())
	return Sym3{
		full[0], full[1], full[2],
		full[4], full[5],
		full[8],
	}
}

// TransformVJP is the adjoint of TransformMean and TransformCovar combined.
// vR and vT are only meaningful when the caller asked for camera gradients;
// they are computed unconditionally because they fall out of the same
// products.
func TransformVJP(r Mat3, mean Vec3, covar Sym3, vMeanC Vec3, vCovarC Sym3) (vMean Vec3, vCovar Sym3, vR Mat3, vT Vec3) {
	rt := r.Transpose()
	vc := symGradToFull3(vCovarC)

	vMean = rt.MulVec(vMeanC)
	vCovar = fullGradToSym3(rt.Mul(vc).Mul(r))

	// C = R·Σ·Rᵀ gives vR = (vC + vCᵀ)·R·Σ; vc is already symmetric.
	vR = vc.Mul(r).Mul(covar.Full()).Scale(2).Add(Outer(vMeanC, mean))
	vT = vMeanC
	return vMean, vCovar, vR, vT
}

// PerspProj projects a camera-space Gaussian to a screen-space mean and 2x2
// covariance. The Jacobian uses view-frustum-clamped coordinates so that
// Gaussians far outside the field of view keep a bounded linearization.
func PerspProj(meanC Vec3, covarC Sym3, fx, fy, cx, cy float32, width, height int) (Vec2, Sym2) {
	x, y, z := meanC.X, meanC.Y, meanC.Z
	rz := 1 / z

	tanFovX := 0.5 * float32(width) / fx
	tanFovY := 0.5 * float32(height) / fy
	limX := 1.3 * tanFovX
	limY := 1.3 * tanFovY
	tx := z * Clamp(x*rz, -limX, limX)
	ty := z * Clamp(y*rz, -limY, limY)

	// J is the 2x3 Jacobian of the projection at (tx, ty, z).
	rz2 := rz * rz
	j := [6]float32{
		fx * rz, 0, -fx * tx * rz2,
		0, fy * rz, -fy * ty * rz2,
	}

	cov2 := congruence23(j, covarC)
	mean2 := Vec2{fx*x*rz + cx, fy*y*rz + cy}
	return mean2, cov2
}

// PerspProjVJP is the adjoint of PerspProj.
func PerspProjVJP(meanC Vec3, covarC Sym3, fx, fy, cx, cy float32, width, height int, vMean2 Vec2, vCovar2 Sym2) (Vec3, Sym3) {
	x, y, z := meanC.X, meanC.Y, meanC.Z
	rz := 1 / z
	rz2 := rz * rz
	rz3 := rz2 * rz

	tanFovX := 0.5 * float32(width) / fx
	tanFovY := 0.5 * float32(height) / fy
	limX := 1.3 * tanFovX
	limY := 1.3 * tanFovY
	txClamped := x*rz <= -limX || x*rz >= limX
	tyClamped := y*rz <= -limY || y*rz >= limY
	tx := z * Clamp(x*rz, -limX, limX)
	ty := z * Clamp(y*rz, -limY, limY)

	j := [6]float32{
		fx * rz, 0, -fx * tx * rz2,
		0, fy * rz, -fy * ty * rz2,
	}

	vc2 := symGradToFull2(vCovar2)
	sigma := covarC.Full()

	// C2 = J·Σ·Jᵀ: vΣ = Jᵀ·vC2·J and vJ = 2·vC2·J·Σ (vc2 is symmetric).
	js := mul23x33(j, sigma)
	var vj [6]float32
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			vj[3*r+c] = 2 * (vc2[2*r]*js[c] + vc2[2*r+1]*js[3+c])
		}
	}
	var vSigma Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			vSigma[3*r+c] = j[r]*(vc2[0]*j[c]+vc2[1]*j[3+c]) +
				j[3+r]*(vc2[2]*j[c]+vc2[3]*j[3+c])
		}
	}
	vCovarC := fullGradToSym3(vSigma)

	vx := fx * rz * vMean2.X
	vy := fy * rz * vMean2.Y
	vz := -rz2 * (fx*x*vMean2.X + fy*y*vMean2.Y)

	vz += -fx*rz2*vj[0] - fy*rz2*vj[4] +
		2*fx*tx*rz3*vj[2] + 2*fy*ty*rz3*vj[5]

	vtx := -fx * rz2 * vj[2]
	vty := -fy * rz2 * vj[5]
	if txClamped {
		if x*rz <= -limX {
			vz += -limX * vtx
		} else {
			vz += limX * vtx
		}
	} else {
		vx += vtx
	}
	if tyClamped {
		if y*rz <= -limY {
			vz += -limY * vty
		} else {
			vz += limY * vty
		}
	} else {
		vy += vty
	}

	return Vec3{vx, vy, vz}, vCovarC
}

// congruence23 computes J·Σ·Jᵀ for a 2x3 J.
func congruence23(j [6]float32, covar Sym3) Sym2 {
	sigma := covar.Full()
	js := mul23x33(j, sigma)
	return Sym2{
		js[0]*j[0] + js[1]*j[1] + js[2]*j[2],
		js[0]*j[3] + js[1]*j[4] + js[2]*j[5],
		js[3]*j[3] + js[4]*j[4] + js[5]*j[5],
	}
}

func mul23x33(j [6]float32, m Mat3) [6]float32 {
	var out [6]float32
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			out[3*r+c] = j[3*r]*m[c] + j[3*r+1]*m[3+c] + j[3*r+2]*m[6+c]
		}
	}
	return out
}

// AddBlur widens a screen-space covariance by eps on the diagonal and returns
// the compensation factor sqrt(det(Σ)/det(Σ+eps·I)) that undoes the extra
// opacity mass the blur would otherwise add.
func AddBlur(eps float32, covar Sym2) (Sym2, float32) {
	detOrig := covar.Det()
	blurred := Sym2{covar.XX + eps, covar.XY, covar.YY + eps}
	detBlur := blurred.Det()
	comp := float32(0)
	if detBlur > 0 {
		comp = math32.Sqrt(math32.Max(0, detOrig/detBlur))
	}
	return blurred, comp
}

// AddBlurVJP routes a compensation gradient back to the pre-blur covariance.
// It is expressed in terms of the blurred conic (the inverse that projection
// already stores) so the backward pass needs no extra state:
//
//	vΣ = vComp/(2·comp) · ((1-comp²)·conicBlur - eps·det(conicBlur)·I)
func AddBlurVJP(eps float32, conicBlur Sym2, comp, vComp float32) Sym2 {
	k := vComp / (2*comp + 1e-6)
	oneMinusSqr := 1 - comp*comp
	detConic := conicBlur.Det()
	return Sym2{
		k * (oneMinusSqr*conicBlur.XX - eps*detConic),
		k * 2 * oneMinusSqr * conicBlur.XY,
		k * (oneMinusSqr*conicBlur.YY - eps*detConic),
	}
}
