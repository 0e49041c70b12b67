// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package smath

import "github.com/chewxy/math32"

// Quat is a rotation quaternion. Callers may pass unnormalized values; every
// forward path normalizes first and every adjoint projects the gradient back
// through the normalization.
type Quat struct {
	W, X, Y, Z float32
}

func (q Quat) Norm() float32 {
	return math32.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

func (q Quat) Normalize() Quat {
	inv := 1 / q.Norm()
	return Quat{q.W * inv, q.X * inv, q.Y * inv, q.Z * inv}
}

// RotMat converts a unit quaternion to a rotation matrix.
func (q Quat) RotMat() Mat3 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return Mat3{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// RotMatVJP maps a gradient w.r.t. the rotation matrix back to the unit
// quaternion it was built from.
func RotMatVJP(q Quat, vR Mat3) Quat {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return Quat{
		2 * (x*(vR.At(2, 1)-vR.At(1, 2)) +
			y*(vR.At(0, 2)-vR.At(2, 0)) +
			z*(vR.At(1, 0)-vR.At(0, 1))),
		2 * (y*(vR.At(0, 1)+vR.At(1, 0)) +
			z*(vR.At(0, 2)+vR.At(2, 0)) +
			w*(vR.At(2, 1)-vR.At(1, 2)) -
			2*x*(vR.At(1, 1)+vR.At(2, 2))),
		2 * (x*(vR.At(0, 1)+vR.At(1, 0)) +
			z*(vR.At(1, 2)+vR.At(2, 1)) +
			w*(vR.At(0, 2)-vR.At(2, 0)) -
			2*y*(vR.At(0, 0)+vR.At(2, 2))),
		2 * (x*(vR.At(0, 2)+vR.At(2, 0)) +
			y*(vR.At(1, 2)+vR.At(2, 1)) +
			w*(vR.At(1, 0)-vR.At(0, 1)) -
			2*z*(vR.At(0, 0)+vR.At(1, 1))),
	}
}

// NormalizeVJP back-propagates through q̂ = q/|q|: the gradient is projected
// onto the tangent space of the unit sphere and rescaled.
func NormalizeVJP(raw Quat, vUnit Quat) Quat {
	n := raw.Norm()
	u := raw.Normalize()
	dot := u.W*vUnit.W + u.X*vUnit.X + u.Y*vUnit.Y + u.Z*vUnit.Z
	inv := 1 / n
	return Quat{
		(vUnit.W - u.W*dot) * inv,
		(vUnit.X - u.X*dot) * inv,
		(vUnit.Y - u.Y*dot) * inv,
		(vUnit.Z - u.Z*dot) * inv,
	}
}

// QuatScaleToCovar builds a world-space covariance Σ = M·Mᵀ with M = R·diag(s).
func QuatScaleToCovar(q Quat, s Vec3) Sym3 {
	r := q.Normalize().RotMat()
	m := Mat3{
		r[0] * s.X, r[1] * s.Y, r[2] * s.Z,
		r[3] * s.X, r[4] * s.Y, r[5] * s.Z,
		r[6] * s.X, r[7] * s.Y, r[8] * s.Z,
	}
	full := m.Mul(m.Transpose())
	return Sym3{
		full[0], full[1], full[2],
		full[4], full[5],
		full[8],
	}
}

// QuatScaleToCovarVJP routes a covariance gradient to the quaternion and the
// scale vector.
func QuatScaleToCovarVJP(q Quat, s Vec3, vCovar Sym3) (Quat, Vec3) {
	qn := q.Normalize()
	r := qn.RotMat()
	m := Mat3{
		r[0] * s.X, r[1] * s.Y, r[2] * s.Z,
		r[3] * s.X, r[4] * s.Y, r[5] * s.Z,
		r[6] * s.X, r[7] * s.Y, r[8] * s.Z,
	}

	// Σ = M·Mᵀ gives vM = (vΣ + vΣᵀ)·M; the full cotangent is symmetric, so
	// vM = 2·vΣ·M.
	vSigma := symGradToFull3(vCovar)
	vM := vSigma.Mul(m).Scale(2)

	vR := Mat3{
		vM[0] * s.X, vM[1] * s.Y, vM[2] * s.Z,
		vM[3] * s.X, vM[4] * s.Y, vM[5] * s.Z,
		vM[6] * s.X, vM[7] * s.Y, vM[8] * s.Z,
	}
	vScale := Vec3{
		r[0]*vM[0] + r[3]*vM[3] + r[6]*vM[6],
		r[1]*vM[1] + r[4]*vM[4] + r[7]*vM[7],
		r[2]*vM[2] + r[5]*vM[5] + r[8]*vM[8],
	}
	vQuat := NormalizeVJP(q, RotMatVJP(qn, vR))
	return vQuat, vScale
}
