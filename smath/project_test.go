// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package smath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecomposeRigid(t *testing.T) {
	view := []float32{
		0, -1, 0, 5,
		1, 0, 0, 6,
		0, 0, 1, 7,
		0, 0, 0, 1,
	}
	r, tr := DecomposeRigid(view)
	assert.Equal(t, Mat3{0, -1, 0, 1, 0, 0, 0, 0, 1}, r)
	assert.Equal(t, Vec3{5, 6, 7}, tr)

	p := TransformMean(r, tr, Vec3{X: 1, Y: 2, Z: 3})
	assert.Equal(t, Vec3{3, 7, 10}, p)
}

func TestTransformCovar(t *testing.T) {
	// Identity rotation leaves the covariance untouched.
	id := Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}
	c := Sym3{XX: 1, XY: 0.2, XZ: 0.3, YY: 2, YZ: 0.1, ZZ: 3}
	assert.Equal(t, c, TransformCovar(id, c))

	// A 90° rotation about z swaps the x and y axes.
	rot := Mat3{0, -1, 0, 1, 0, 0, 0, 0, 1}
	got := TransformCovar(rot, Sym3{XX: 4, YY: 1, ZZ: 2})
	assert.InDelta(t, 1, got.XX, 1e-6)
	assert.InDelta(t, 4, got.YY, 1e-6)
	assert.InDelta(t, 2, got.ZZ, 1e-6)
}

func TestTransformVJP(t *testing.T) {
	r := Quat{W: 0.9, X: 0.2, Y: -0.3, Z: 0.1}.Normalize().RotMat()
	tr := Vec3{X: 0.5, Y: -0.4, Z: 2}
	mean := Vec3{X: 0.7, Y: 1.1, Z: -0.6}
	covar := Sym3{XX: 1.5, XY: 0.3, XZ: -0.2, YY: 2.1, YZ: 0.4, ZZ: 1.2}

	gm := Vec3{X: 0.8, Y: -0.5, Z: 1.2}
	gc := Sym3{XX: 0.6, XY: -0.3, XZ: 0.9, YY: 0.2, YZ: -0.7, ZZ: 0.4}

	vMean, vCovar, vR, vT := TransformVJP(r, mean, covar, gm, gc)

	eval := func(r Mat3, tr, mean Vec3, covar Sym3) float32 {
		mc := TransformMean(r, tr, mean)
		cc := TransformCovar(r, covar)
		return gm.X*mc.X + gm.Y*mc.Y + gm.Z*mc.Z +
			gc.XX*cc.XX + gc.XY*cc.XY + gc.XZ*cc.XZ +
			gc.YY*cc.YY + gc.YZ*cc.YZ + gc.ZZ*cc.ZZ
	}

	meanP := []float32{mean.X, mean.Y, mean.Z}
	lossMean := func(p []float32) float32 {
		return eval(r, tr, Vec3{X: p[0], Y: p[1], Z: p[2]}, covar)
	}
	assertGrad(t, numGrad(meanP, 0, lossMean), vMean.X, "mean.x")
	assertGrad(t, numGrad(meanP, 1, lossMean), vMean.Y, "mean.y")
	assertGrad(t, numGrad(meanP, 2, lossMean), vMean.Z, "mean.z")

	covP := []float32{covar.XX, covar.XY, covar.XZ, covar.YY, covar.YZ, covar.ZZ}
	lossCov := func(p []float32) float32 {
		return eval(r, tr, mean, Sym3{XX: p[0], XY: p[1], XZ: p[2], YY: p[3], YZ: p[4], ZZ: p[5]})
	}
	gotCov := []float32{vCovar.XX, vCovar.XY, vCovar.XZ, vCovar.YY, vCovar.YZ, vCovar.ZZ}
	for i := range covP {
		assertGrad(t, numGrad(covP, i, lossCov), gotCov[i], "covar")
	}

	// The rotation adjoint holds entrywise for an arbitrary matrix, so finite
	// differences over each of the nine entries check it directly.
	rotP := r[:]
	lossRot := func(p []float32) float32 {
		var m Mat3
		copy(m[:], p)
		return eval(m, tr, mean, covar)
	}
	for i := 0; i < 9; i++ {
		assertGrad(t, numGrad(rotP, i, lossRot), vR[i], "rot")
	}

	trP := []float32{tr.X, tr.Y, tr.Z}
	lossTr := func(p []float32) float32 {
		return eval(r, Vec3{X: p[0], Y: p[1], Z: p[2]}, mean, covar)
	}
	assertGrad(t, numGrad(trP, 0, lossTr), vT.X, "t.x")
	assertGrad(t, numGrad(trP, 1, lossTr), vT.Y, "t.y")
	assertGrad(t, numGrad(trP, 2, lossTr), vT.Z, "t.z")
}

func TestPerspProj(t *testing.T) {
	const fx, fy, cx, cy = 300, 300, 150, 150
	const w, h = 300, 300

	mean2, cov2 := PerspProj(Vec3{X: 0, Y: 0, Z: 2}, Sym3{XX: 0.01, YY: 0.01, ZZ: 0.01}, fx, fy, cx, cy, w, h)
	assert.InDelta(t, cx, mean2.X, 1e-4)
	assert.InDelta(t, cy, mean2.Y, 1e-4)
	// On the optical axis the Jacobian is diag(fx/z, fy/z), so the screen
	// covariance is (f/z)²·σ².
	want := float32(0.01) * (fx / 2) * (fx / 2)
	assert.InDelta(t, want, cov2.XX, float64(want)*1e-4)
	assert.InDelta(t, want, cov2.YY, float64(want)*1e-4)
	assert.InDelta(t, 0, cov2.XY, 1e-5)
}

func testPerspProjVJP(t *testing.T, meanC Vec3) {
	const fx, fy, cx, cy = 300, 320, 150, 160
	const w, h = 300, 320
	covarC := Sym3{XX: 0.05, XY: 0.01, XZ: -0.008, YY: 0.04, YZ: 0.012, ZZ: 0.06}

	gm := Vec2{X: 0.9, Y: -0.6}
	gc := Sym2{XX: 0.5, XY: -0.8, YY: 0.3}

	vMean, vCovar := PerspProjVJP(meanC, covarC, fx, fy, cx, cy, w, h, gm, gc)

	eval := func(mc Vec3, cc Sym3) float32 {
		m2, c2 := PerspProj(mc, cc, fx, fy, cx, cy, w, h)
		return gm.X*m2.X + gm.Y*m2.Y + gc.XX*c2.XX + gc.XY*c2.XY + gc.YY*c2.YY
	}

	meanP := []float32{meanC.X, meanC.Y, meanC.Z}
	lossMean := func(p []float32) float32 {
		return eval(Vec3{X: p[0], Y: p[1], Z: p[2]}, covarC)
	}
	assertGrad(t, numGrad(meanP, 0, lossMean), vMean.X, "mean.x")
	assertGrad(t, numGrad(meanP, 1, lossMean), vMean.Y, "mean.y")
	assertGrad(t, numGrad(meanP, 2, lossMean), vMean.Z, "mean.z")

	covP := []float32{covarC.XX, covarC.XY, covarC.XZ, covarC.YY, covarC.YZ, covarC.ZZ}
	lossCov := func(p []float32) float32 {
		return eval(meanC, Sym3{XX: p[0], XY: p[1], XZ: p[2], YY: p[3], YZ: p[4], ZZ: p[5]})
	}
	gotCov := []float32{vCovar.XX, vCovar.XY, vCovar.XZ, vCovar.YY, vCovar.YZ, vCovar.ZZ}
	for i := range covP {
		assertGrad(t, numGrad(covP, i, lossCov), gotCov[i], "covar")
	}
}

func TestPerspProjVJP(t *testing.T) {
	testPerspProjVJP(t, Vec3{X: 0.3, Y: -0.2, Z: 2})
}

func TestPerspProjVJPClamped(t *testing.T) {
	// x/z = 1, well past the 1.3·tanFov = 0.65 clamp on x; the Jacobian's tx
	// saturates but the projected mean still moves with x.
	testPerspProjVJP(t, Vec3{X: 2, Y: 0.1, Z: 2})
}

func TestAddBlur(t *testing.T) {
	c := Sym2{XX: 1, XY: 0.2, YY: 2}
	blurred, comp := AddBlur(0.3, c)
	assert.Equal(t, c.XX+0.3, blurred.XX)
	assert.Equal(t, c.YY+0.3, blurred.YY)
	assert.Equal(t, c.XY, blurred.XY)
	require.Greater(t, comp, float32(0))
	require.Less(t, comp, float32(1))

	// A degenerate covariance compensates to zero.
	_, comp = AddBlur(0.3, Sym2{})
	assert.Equal(t, float32(0), comp)
}

func TestAddBlurVJP(t *testing.T) {
	const eps = 0.3
	c := Sym2{XX: 0.8, XY: 0.25, YY: 1.4}
	blurred, comp := AddBlur(eps, c)
	conic, ok := blurred.Inverse()
	require.True(t, ok)

	const g = 1.7
	v := AddBlurVJP(eps, conic, comp, g)

	params := []float32{c.XX, c.XY, c.YY}
	loss := func(p []float32) float32 {
		_, comp := AddBlur(eps, Sym2{XX: p[0], XY: p[1], YY: p[2]})
		return g * comp
	}
	assertGrad(t, numGrad(params, 0, loss), v.XX, "xx")
	assertGrad(t, numGrad(params, 1, loss), v.XY, "xy")
	assertGrad(t, numGrad(params, 2, loss), v.YY, "yy")
}
