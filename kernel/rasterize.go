// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package kernel

import (
	"github.com/chewxy/math32"
	"honnef.co/go/safeish"
)

// ForwardArgs carries the flat buffers of the forward compositing pass. All
// slices are laid out as described in the package-level docs of the root
// package; none of them are mutated except the three output buffers, and no
// two tiles write the same output elements.
type ForwardArgs struct {
	Channels     int
	Width        int
	Height       int
	TileSize     int
	TilesX       int
	TilesY       int
	NumCameras   int
	NumGaussians int
	Packed       bool

	CameraIDs   []int32
	GaussianIDs []int32
	Means2D     []float32 // nnz * 2
	Conics      []float32 // nnz * 3
	Colors      []float32 // nnz*D or C*N*D
	Opacities   []float32 // nnz or C*N
	Backgrounds []float32 // C*D, optional

	TileOffsets []int32 // C * TilesY * TilesX
	FlattenIDs  []int32

	RenderColors []float32 // C*H*W*D, pre-zeroed
	RenderAlphas []float32 // C*H*W, pre-zeroed
	LastIDs      []int32   // C*H*W, pre-zeroed
}

// tileRange resolves the [start, end) window of a (camera, tile) pair in the
// flattened sorted record array. The ranges partition the array, so a tile's
// end is the next tile's start; the global last range extends to the end.
func tileRange(tileOffsets []int32, flattenLen int, idx int) (int32, int32) {
	start := tileOffsets[idx]
	if idx+1 < len(tileOffsets) {
		return start, tileOffsets[idx+1]
	}
	return start, int32(flattenLen)
}

func (a *ForwardArgs) colorBase(rec int32) int {
	if a.Packed {
		return int(rec) * a.Channels
	}
	return (int(a.CameraIDs[rec])*a.NumGaussians + int(a.GaussianIDs[rec])) * a.Channels
}

func (a *ForwardArgs) opacity(rec int32) float32 {
	if a.Packed {
		return a.Opacities[rec]
	}
	return a.Opacities[int(a.CameraIDs[rec])*a.NumGaussians+int(a.GaussianIDs[rec])]
}

// RasterizeTile composites one (camera, tile) work-group: front-to-back alpha
// compositing per pixel with the documented negligible-contribution skips and
// the transmittance early-exit, streaming the tile's record range through the
// staged batch.
func (a *ForwardArgs) RasterizeTile(cam, tileRow, tileCol int, st *Stage) {
	assert(st.tileSize == a.TileSize && st.channels == a.Channels)

	ts := a.TileSize
	d := a.Channels
	start, end := tileRange(a.TileOffsets, len(a.FlattenIDs), (cam*a.TilesY+tileRow)*a.TilesX+tileCol)

	px0 := tileCol * ts
	py0 := tileRow * ts
	camPix := cam * a.Height * a.Width

	xy := safeish.SliceCast[[][2]float32](a.Means2D)
	con := safeish.SliceCast[[][3]float32](a.Conics)

	alive := 0
	for ty := 0; ty < ts; ty++ {
		for tx := 0; tx < ts; tx++ {
			li := ty*ts + tx
			inside := px0+tx < a.Width && py0+ty < a.Height
			st.transmittance[li] = 1
			st.done[li] = !inside
			if inside {
				alive++
			}
		}
	}

	batch := len(st.batch)
	for batchStart := int(start); batchStart < int(end) && alive > 0; batchStart += batch {
		n := min(batch, int(end)-batchStart)
		// Cooperative batch load: every staged record is fetched once for the
		// whole tile.
		for i := 0; i < n; i++ {
			rec := a.FlattenIDs[batchStart+i]
			st.batch[i] = stagedSplat{
				Rec:  rec,
				X:    xy[rec][0],
				Y:    xy[rec][1],
				Opac: a.opacity(rec),
				ConA: con[rec][0],
				ConB: con[rec][1],
				ConC: con[rec][2],
			}
		}

		for ty := 0; ty < ts; ty++ {
			y := py0 + ty
			if y >= a.Height {
				continue
			}
			for tx := 0; tx < ts; tx++ {
				x := px0 + tx
				if x >= a.Width {
					continue
				}
				li := ty*ts + tx
				if st.done[li] {
					continue
				}
				t := st.transmittance[li]
				px := float32(x) + 0.5
				py := float32(y) + 0.5
				pix := camPix + y*a.Width + x
				outBase := pix * d

				for i := 0; i < n; i++ {
					s := &st.batch[i]
					dx := s.X - px
					dy := s.Y - py
					sigma := 0.5*(s.ConA*dx*dx+s.ConC*dy*dy) + s.ConB*dx*dy
					if sigma < 0 {
						continue
					}
					alpha := math32.Min(MAX_ALPHA, s.Opac*math32.Exp(-sigma))
					if alpha < ALPHA_THRESHOLD {
						continue
					}
					nextT := t * (1 - alpha)
					if nextT <= TRANSMITTANCE_EPS {
						st.done[li] = true
						alive--
						break
					}
					vis := alpha * t
					cbase := a.colorBase(s.Rec)
					for ch := 0; ch < d; ch++ {
						a.RenderColors[outBase+ch] += a.Colors[cbase+ch] * vis
					}
					t = nextT
					a.LastIDs[pix] = int32(batchStart + i)
				}
				st.transmittance[li] = t
			}
		}
	}

	for ty := 0; ty < ts; ty++ {
		y := py0 + ty
		if y >= a.Height {
			continue
		}
		for tx := 0; tx < ts; tx++ {
			x := px0 + tx
			if x >= a.Width {
				continue
			}
			li := ty*ts + tx
			t := st.transmittance[li]
			pix := camPix + y*a.Width + x
			a.RenderAlphas[pix] = 1 - t
			if a.Backgrounds != nil {
				outBase := pix * d
				bg := a.Backgrounds[cam*d : cam*d+d]
				for ch := 0; ch < d; ch++ {
					a.RenderColors[outBase+ch] += t * bg[ch]
				}
			}
		}
	}
}
