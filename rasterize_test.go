// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package splat

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// singleSplat builds one visibility record centered on the given pixel
// coordinates, with a conic tight enough that the splat covers only a few
// pixels.
func singleSplat(x, y float32) *Records {
	return &Records{
		CameraIDs:   []int32{0},
		GaussianIDs: []int32{0},
		Radii:       []int32{4},
		Means2D:     []float32{x, y},
		Depths:      []float32{1},
		Conics:      []float32{1, 0, 1},
	}
}

func TestSingleSplatForward(t *testing.T) {
	recs := singleSplat(8.5, 8.5)
	bins, err := BinTiles(recs, 1, 16, 16, 16)
	require.NoError(t, err)

	p := &RasterizeParams{Width: 16, Height: 16, Channels: 3, Workers: 1}
	colors := []float32{0.5, 0.25, 1}
	opacities := []float32{1}
	res, err := RasterizeForward(p, recs, colors, opacities, bins)
	require.NoError(t, err)

	// At the center the Gaussian evaluates to 1 and the opacity of 1 is
	// capped, so coverage lands exactly on the cap.
	center := 8*16 + 8
	assert.InDelta(t, 0.999, res.Alphas[center], 1e-6)
	for ch, c := range colors {
		assert.InDelta(t, 0.999*c, res.Colors[center*3+ch], 1e-5)
	}
	assert.Equal(t, int32(0), res.LastIDs[center])

	// Four pixels away the Gaussian is below the contribution threshold;
	// nothing may be written there.
	far := 8*16 + 12
	assert.Equal(t, float32(0), res.Alphas[far])
	assert.Equal(t, float32(0), res.Colors[far*3])
	assert.Equal(t, int32(0), res.LastIDs[far])
}

func TestForwardBackgroundFill(t *testing.T) {
	recs := &Records{}
	bins, err := BinTiles(recs, 1, 8, 8, 16)
	require.NoError(t, err)

	p := &RasterizeParams{
		Width: 8, Height: 8, Channels: 3,
		Backgrounds: []float32{0.1, 0.2, 0.3},
		Workers:     1,
	}
	res, err := RasterizeForward(p, recs, nil, nil, bins)
	require.NoError(t, err)

	for pix := 0; pix < 8*8; pix++ {
		assert.Equal(t, float32(0), res.Alphas[pix])
		assert.InDelta(t, 0.1, res.Colors[pix*3], 1e-6)
		assert.InDelta(t, 0.2, res.Colors[pix*3+1], 1e-6)
		assert.InDelta(t, 0.3, res.Colors[pix*3+2], 1e-6)
	}
}

func TestForwardOrderSensitivity(t *testing.T) {
	mk := func(depths []float32) float32 {
		recs := &Records{
			CameraIDs:   []int32{0, 0},
			GaussianIDs: []int32{0, 1},
			Radii:       []int32{8, 8},
			Means2D:     []float32{4.5, 4.5, 4.5, 4.5},
			Depths:      depths,
			Conics:      []float32{0.5, 0, 0.5, 0.5, 0, 0.5},
		}
		bins, err := BinTiles(recs, 1, 8, 8, 16)
		require.NoError(t, err)
		p := &RasterizeParams{Width: 8, Height: 8, Channels: 1, Workers: 1}
		res, err := RasterizeForward(p, recs, []float32{1, 0}, []float32{0.8, 0.8}, bins)
		require.NoError(t, err)
		return res.Colors[4*8+4]
	}

	// Two splats at the same position with different colors: whichever is
	// closer dominates the composite.
	front := mk([]float32{1, 2})
	back := mk([]float32{2, 1})
	assert.InDelta(t, 0.8, front, 1e-5)
	assert.InDelta(t, 0.16, back, 1e-5)
}

func TestForwardCoverageMonotonic(t *testing.T) {
	// Appending one more record behind an existing composite can only raise a
	// pixel's coverage, never lower it.
	render := func(n int) []float32 {
		recs := &Records{}
		for i := 0; i < n; i++ {
			recs.CameraIDs = append(recs.CameraIDs, 0)
			recs.GaussianIDs = append(recs.GaussianIDs, int32(i))
			recs.Radii = append(recs.Radii, 8)
			recs.Means2D = append(recs.Means2D, 3.5+float32(i), 4.5)
			recs.Depths = append(recs.Depths, float32(i+1))
			recs.Conics = append(recs.Conics, 0.2, 0, 0.2)
		}
		bins, err := BinTiles(recs, 1, 8, 8, 16)
		require.NoError(t, err)
		colors := make([]float32, n)
		opacities := make([]float32, n)
		for i := range colors {
			colors[i] = 1
			opacities[i] = 0.4
		}
		p := &RasterizeParams{Width: 8, Height: 8, Channels: 1, Workers: 1}
		res, err := RasterizeForward(p, recs, colors, opacities, bins)
		require.NoError(t, err)
		return res.Alphas
	}

	prev := render(1)
	for n := 2; n <= 4; n++ {
		cur := render(n)
		for pix := range cur {
			assert.GreaterOrEqual(t, cur[pix], prev[pix], "pixel %d with %d records", pix, n)
		}
		prev = cur
	}
}

func TestForwardEarlyTermination(t *testing.T) {
	const n = 50
	recs := &Records{}
	for i := 0; i < n; i++ {
		recs.CameraIDs = append(recs.CameraIDs, 0)
		recs.GaussianIDs = append(recs.GaussianIDs, int32(i))
		recs.Radii = append(recs.Radii, 4)
		recs.Means2D = append(recs.Means2D, 4.5, 4.5)
		recs.Depths = append(recs.Depths, float32(i))
		recs.Conics = append(recs.Conics, 2, 0, 2)
	}
	bins, err := BinTiles(recs, 1, 8, 8, 16)
	require.NoError(t, err)

	colors := make([]float32, n)
	opacities := make([]float32, n)
	for i := range colors {
		colors[i] = 1
		opacities[i] = 0.9
	}
	p := &RasterizeParams{Width: 8, Height: 8, Channels: 1, Workers: 1}
	res, err := RasterizeForward(p, recs, colors, opacities, bins)
	require.NoError(t, err)

	// Transmittance decays by 10x per splat; compositing stops once it would
	// drop below 1e-4, within 1e-3 of the untruncated composite.
	center := 4*8 + 4
	assert.InDelta(t, 1, res.Alphas[center], 1.1e-3)
	assert.Less(t, res.Alphas[center], float32(1))
	assert.Equal(t, int32(2), res.LastIDs[center], "stop after three contributors")
}

func TestRasterizeUnsupportedChannels(t *testing.T) {
	recs := singleSplat(4, 4)
	bins, err := BinTiles(recs, 1, 8, 8, 16)
	require.NoError(t, err)

	p := &RasterizeParams{Width: 8, Height: 8, Channels: 7}
	_, err = RasterizeForward(p, recs, make([]float32, 7), []float32{1}, bins)
	require.ErrorIs(t, err, ErrConfig)
	assert.ErrorContains(t, err, "channel count 7")
}

func TestRasterizeTileBudget(t *testing.T) {
	recs := singleSplat(4, 4)
	bins, err := BinTiles(recs, 1, 8, 8, 16)
	require.NoError(t, err)

	p := &RasterizeParams{Width: 8, Height: 8, Channels: 3, TileSize: 64}
	_, err = RasterizeForward(p, recs, make([]float32, 3), []float32{1}, bins)
	require.ErrorIs(t, err, ErrConfig)

	_, err = BinTiles(recs, 1, 8, 8, 64)
	require.ErrorIs(t, err, ErrConfig)
}

func TestRasterizePackedLayout(t *testing.T) {
	// The same scene rendered with per-record and camera-dense layouts must
	// produce identical images.
	recs := &Records{
		CameraIDs:   []int32{0, 0},
		GaussianIDs: []int32{0, 1},
		Radii:       []int32{8, 8},
		Means2D:     []float32{3.5, 4.5, 5.5, 3.5},
		Depths:      []float32{1, 2},
		Conics:      []float32{0.3, 0.05, 0.4, 0.35, -0.04, 0.3},
	}
	bins, err := BinTiles(recs, 1, 8, 8, 16)
	require.NoError(t, err)

	colors := []float32{0.9, 0.1, 0.4, 0.2, 0.8, 0.6}
	opacities := []float32{0.7, 0.6}

	dense := &RasterizeParams{Width: 8, Height: 8, Channels: 3, Workers: 1}
	want, err := RasterizeForward(dense, recs, colors, opacities, bins)
	require.NoError(t, err)

	packed := &RasterizeParams{Width: 8, Height: 8, Channels: 3, Packed: true, Workers: 1}
	got, err := RasterizeForward(packed, recs, colors, opacities, bins)
	require.NoError(t, err)

	assert.Equal(t, want.Colors, got.Colors)
	assert.Equal(t, want.Alphas, got.Alphas)
	assert.Equal(t, want.LastIDs, got.LastIDs)
}

// fdScene is a smooth compositing setup for finite-difference checks: wide,
// moderately opaque splats keep every pixel's alpha far from both the
// contribution threshold and the opacity cap, so the composite is locally
// differentiable everywhere.
type fdScene struct {
	p         *RasterizeParams
	recs      *Records
	colors    []float32
	opacities []float32
	vColors   []float32
	vAlphas   []float32
}

func newFDScene(t *testing.T) *fdScene {
	t.Helper()
	s := &fdScene{
		p: &RasterizeParams{
			Width: 8, Height: 8, Channels: 3, Packed: true,
			Backgrounds: []float32{0.15, 0.1, 0.2},
			Workers:     1,
		},
		recs: &Records{
			CameraIDs:   []int32{0, 0, 0},
			GaussianIDs: []int32{0, 1, 2},
			Radii:       []int32{32, 32, 32},
			Means2D:     []float32{3.1, 3.7, 4.5, 4.2, 3.9, 4.9},
			Depths:      []float32{1, 2, 3},
			Conics:      []float32{0.05, 0.01, 0.06, 0.07, -0.015, 0.05, 0.06, 0.005, 0.055},
		},
		colors:    []float32{0.9, 0.3, 0.5, 0.2, 0.8, 0.4, 0.6, 0.1, 0.7},
		opacities: []float32{0.6, 0.5, 0.55},
	}
	rnd := testRand(7)
	s.vColors = make([]float32, 8*8*3)
	for i := range s.vColors {
		s.vColors[i] = rnd()
	}
	s.vAlphas = make([]float32, 8*8)
	for i := range s.vAlphas {
		s.vAlphas[i] = rnd() - 0.5
	}
	return s
}

// testRand is a tiny deterministic LCG for gradient weights.
func testRand(seed uint32) func() float32 {
	s := seed
	return func() float32 {
		s = s*1664525 + 1013904223
		return float32(s>>8) / float32(1<<24)
	}
}

func (s *fdScene) loss(t *testing.T, means2d, conics, colors, opacities []float32) float64 {
	t.Helper()
	recs := &Records{
		CameraIDs:   s.recs.CameraIDs,
		GaussianIDs: s.recs.GaussianIDs,
		Radii:       s.recs.Radii,
		Means2D:     means2d,
		Depths:      s.recs.Depths,
		Conics:      conics,
	}
	bins, err := BinTiles(recs, 1, s.p.Width, s.p.Height, s.p.TileSize)
	require.NoError(t, err)
	res, err := RasterizeForward(s.p, recs, colors, opacities, bins)
	require.NoError(t, err)

	var sum float64
	for i, v := range res.Colors {
		sum += float64(s.vColors[i]) * float64(v)
	}
	for i, v := range res.Alphas {
		sum += float64(s.vAlphas[i]) * float64(v)
	}
	return sum
}

func (s *fdScene) numGrad(t *testing.T, buf []float32, i int) float32 {
	t.Helper()
	const h = 1e-3
	orig := buf[i]
	buf[i] = orig + h
	hi := s.loss(t, s.recs.Means2D, s.recs.Conics, s.colors, s.opacities)
	buf[i] = orig - h
	lo := s.loss(t, s.recs.Means2D, s.recs.Conics, s.colors, s.opacities)
	buf[i] = orig
	return float32((hi - lo) / (2 * h))
}

func assertGrad(t *testing.T, want, got float32, name string, i int) {
	t.Helper()
	tol := 2e-2 + 0.05*math32.Abs(want)
	assert.InDelta(t, want, got, float64(tol), "%s[%d]", name, i)
}

func TestRasterizeBackwardFiniteDiff(t *testing.T) {
	s := newFDScene(t)
	bins, err := BinTiles(s.recs, 1, s.p.Width, s.p.Height, s.p.TileSize)
	require.NoError(t, err)
	fwd, err := RasterizeForward(s.p, s.recs, s.colors, s.opacities, bins)
	require.NoError(t, err)

	grads, err := RasterizeBackward(s.p, s.recs, s.colors, s.opacities, bins, fwd, s.vColors, s.vAlphas)
	require.NoError(t, err)

	for i := range s.recs.Means2D {
		assertGrad(t, s.numGrad(t, s.recs.Means2D, i), grads.VMeans2D[i], "vmeans2d", i)
	}
	for i := range s.recs.Conics {
		assertGrad(t, s.numGrad(t, s.recs.Conics, i), grads.VConics[i], "vconics", i)
	}
	for i := range s.colors {
		assertGrad(t, s.numGrad(t, s.colors, i), grads.VColors[i], "vcolors", i)
	}
	for i := range s.opacities {
		assertGrad(t, s.numGrad(t, s.opacities, i), grads.VOpacities[i], "vopacities", i)
	}
}

func TestRasterizeBackwardZeroOutsideCoverage(t *testing.T) {
	// A splat far from a record's footprint must receive no gradient from
	// pixels it never touched: composite a tight splat, feed gradients only
	// on distant pixels, and expect zeros.
	recs := singleSplat(4.5, 4.5)
	bins, err := BinTiles(recs, 1, 16, 16, 16)
	require.NoError(t, err)
	p := &RasterizeParams{Width: 16, Height: 16, Channels: 1, Workers: 1}
	colors := []float32{1}
	opacities := []float32{0.9}
	fwd, err := RasterizeForward(p, recs, colors, opacities, bins)
	require.NoError(t, err)

	vColors := make([]float32, 16*16)
	vAlphas := make([]float32, 16*16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if x > 10 || y > 10 {
				vColors[y*16+x] = 1
				vAlphas[y*16+x] = 1
			}
		}
	}
	grads, err := RasterizeBackward(p, recs, colors, opacities, bins, fwd, vColors, vAlphas)
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0}, grads.VMeans2D)
	assert.Equal(t, []float32{0, 0, 0}, grads.VConics)
	assert.Equal(t, []float32{0}, grads.VColors)
	assert.Equal(t, []float32{0}, grads.VOpacities)
}
