// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package smath provides float32 linear algebra for splat projection and
// compositing, together with the adjoints (vector-Jacobian products) of every
// forward operation that gradients need to flow through.
//
// Conventions:
//   - Mat3 and Mat2 are row-major.
//   - Sym2 and Sym3 store the upper triangle of a symmetric matrix. A gradient
//     held in a Sym value uses the independent-entry convention: the gradient
//     of an off-diagonal entry is the sum of the two mirrored full-matrix
//     cotangents.
package smath

import "github.com/chewxy/math32"

func Clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type Vec2 struct {
	X, Y float32
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

type Vec3 struct {
	X, Y, Z float32
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Mat2 is a row-major 2x2 matrix.
type Mat2 [4]float32

func (m Mat2) Mul(o Mat2) Mat2 {
	return Mat2{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
	}
}

func (m Mat2) Scale(f float32) Mat2 {
	return Mat2{m[0] * f, m[1] * f, m[2] * f, m[3] * f}
}

// Mat3 is a row-major 3x3 matrix.
type Mat3 [9]float32

func (m Mat3) At(r, c int) float32 { return m[3*r+c] }

func (m Mat3) Transpose() Mat3 {
	return Mat3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

func (m Mat3) Mul(o Mat3) Mat3 {
	var out Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[3*r+c] = m[3*r]*o[c] + m[3*r+1]*o[3+c] + m[3*r+2]*o[6+c]
		}
	}
	return out
}

func (m Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

func (m Mat3) Scale(f float32) Mat3 {
	var out Mat3
	for i := range out {
		out[i] = m[i] * f
	}
	return out
}

func (m Mat3) Add(o Mat3) Mat3 {
	var out Mat3
	for i := range out {
		out[i] = m[i] + o[i]
	}
	return out
}

func Outer(a, b Vec3) Mat3 {
	return Mat3{
		a.X * b.X, a.X * b.Y, a.X * b.Z,
		a.Y * b.X, a.Y * b.Y, a.Y * b.Z,
		a.Z * b.X, a.Z * b.Y, a.Z * b.Z,
	}
}

// Sym2 is a symmetric 2x2 matrix stored as its upper triangle. The same
// storage order (XX, XY, YY) is used for screen-space covariances and conics.
type Sym2 struct {
	XX, XY, YY float32
}

func (s Sym2) Det() float32 { return s.XX*s.YY - s.XY*s.XY }

func (s Sym2) Full() Mat2 { return Mat2{s.XX, s.XY, s.XY, s.YY} }

// Inverse reports ok == false when the determinant is not positive; the
// caller treats such records as invisible.
func (s Sym2) Inverse() (Sym2, bool) {
	det := s.Det()
	if det <= 0 {
		return Sym2{}, false
	}
	inv := 1 / det
	return Sym2{s.YY * inv, -s.XY * inv, s.XX * inv}, true
}

// MaxEigenvalue returns the larger eigenvalue, lower-bounded away from zero
// the same way the screen-radius computation expects.
func (s Sym2) MaxEigenvalue() float32 {
	b := 0.5 * (s.XX + s.YY)
	return b + math32.Sqrt(math32.Max(0.01, b*b-s.Det()))
}

// Sym3 is a symmetric 3x3 matrix stored as its upper triangle
// (XX, XY, XZ, YY, YZ, ZZ).
type Sym3 struct {
	XX, XY, XZ, YY, YZ, ZZ float32
}

func (s Sym3) Full() Mat3 {
	return Mat3{
		s.XX, s.XY, s.XZ,
		s.XY, s.YY, s.YZ,
		s.XZ, s.YZ, s.ZZ,
	}
}

// symGradToFull2 converts an independent-entry gradient to a full-matrix
// cotangent, splitting the off-diagonal between both halves.
func symGradToFull2(v Sym2) Mat2 {
	h := 0.5 * v.XY
	return Mat2{v.XX, h, h, v.YY}
}

func fullGradToSym2(m Mat2) Sym2 {
	return Sym2{m[0], m[1] + m[2], m[3]}
}

func symGradToFull3(v Sym3) Mat3 {
	xy := 0.5 * v.XY
	xz := 0.5 * v.XZ
	yz := 0.5 * v.YZ
	return Mat3{
		v.XX, xy, xz,
		xy, v.YY, yz,
		xz, yz, v.ZZ,
	}
}

func fullGradToSym3(m Mat3) Sym3 {
	return Sym3{
		m[0], m[1] + m[3], m[2] + m[6],
		m[4], m[5] + m[7],
		m[8],
	}
}

// InverseSym2VJP back-propagates a gradient w.r.t. an inverted symmetric 2x2
// matrix to the original matrix: given P = M⁻¹ and vP, returns vM = -P·vP·P.
func InverseSym2VJP(inv Sym2, vInv Sym2) Sym2 {
	p := inv.Full()
	vp := symGradToFull2(vInv)
	t := p.Mul(vp).Mul(p)
	return fullGradToSym2(t.Scale(-1))
}
