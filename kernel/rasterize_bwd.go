// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package kernel

import (
	"github.com/chewxy/math32"
	"honnef.co/go/safeish"
)

// BackwardArgs extends the forward buffers with the upstream pixel gradients
// and the per-record gradient accumulators. The accumulators are shared by
// every tile that touches a record, so all writes to them go through the
// tile-local reduction followed by atomic adds.
type BackwardArgs struct {
	ForwardArgs

	VRenderColors []float32 // C*H*W*D
	VRenderAlphas []float32 // C*H*W

	VMeans2D   []float32 // nnz * 2
	VConics    []float32 // nnz * 3
	VColors    []float32 // nnz*D or C*N*D
	VOpacities []float32 // nnz or C*N
}

func (a *BackwardArgs) opacityIndex(rec int32) int {
	if a.Packed {
		return int(rec)
	}
	return int(a.CameraIDs[rec])*a.NumGaussians + int(a.GaussianIDs[rec])
}

// RasterizeTileBwd replays one (camera, tile) work-group in reverse depth
// order, reconstructing each record's alpha and transmittance exactly as the
// forward pass computed them, and distributes the pixel gradients to the
// contributing records. Per-record sums are first reduced across the tile's
// pixels, then added to the shared accumulators with one atomic add per
// touched record per tile.
func (a *BackwardArgs) RasterizeTileBwd(cam, tileRow, tileCol int, st *Stage) {
	assert(st.tileSize == a.TileSize && st.channels == a.Channels)

	ts := a.TileSize
	d := a.Channels
	start, end := tileRange(a.TileOffsets, len(a.FlattenIDs), (cam*a.TilesY+tileRow)*a.TilesX+tileCol)

	px0 := tileCol * ts
	py0 := tileRow * ts
	camPix := cam * a.Height * a.Width

	xy := safeish.SliceCast[[][2]float32](a.Means2D)
	con := safeish.SliceCast[[][3]float32](a.Conics)

	// Per-pixel state: transmittance walks back up from its final value, and
	// behind[] accumulates the color mass composited behind the current
	// record.
	for ty := 0; ty < ts; ty++ {
		for tx := 0; tx < ts; tx++ {
			li := ty*ts + tx
			inside := px0+tx < a.Width && py0+ty < a.Height
			st.done[li] = !inside
			if inside {
				pix := camPix + (py0+ty)*a.Width + px0 + tx
				st.transmittance[li] = 1 - a.RenderAlphas[pix]
			}
			for ch := 0; ch < d; ch++ {
				st.behind[li*d+ch] = 0
			}
		}
	}

	batch := len(st.batch)
	for batchEnd := int(end); batchEnd > int(start); batchEnd -= batch {
		n := min(batch, batchEnd-int(start))
		batchStart := batchEnd - n
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
			st.grads[i] = splatGrad{}
			st.touched[i] = false
			for ch := 0; ch < d; ch++ {
				st.colorGrads[i*d+ch] = 0
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
				pix := camPix + y*a.Width + x
				lastID := a.LastIDs[pix]
				if int32(batchStart) > lastID {
					// The whole batch lies behind the pixel's last
					// contributor.
					continue
				}

				t := st.transmittance[li]
				tFinal := 1 - a.RenderAlphas[pix]
				px32 := float32(x) + 0.5
				py32 := float32(y) + 0.5
				outBase := pix * d
				suffix := st.behind[li*d : li*d+d]

				for i := n - 1; i >= 0; i-- {
					idx := int32(batchStart + i)
					if idx > lastID {
						continue
					}
					s := &st.batch[i]
					dx := s.X - px32
					dy := s.Y - py32
					sigma := 0.5*(s.ConA*dx*dx+s.ConC*dy*dy) + s.ConB*dx*dy
					if sigma < 0 {
						continue
					}
					vis := math32.Exp(-sigma)
					alpha := math32.Min(MAX_ALPHA, s.Opac*vis)
					if alpha < ALPHA_THRESHOLD {
						continue
					}

					// Identical skip set to the forward pass, so t here is
					// exactly the forward pre-composite transmittance.
					ra := 1 / (1 - alpha)
					t *= ra
					fac := alpha * t

					cbase := a.colorBase(s.Rec)
					var vAlpha float32
					for ch := 0; ch < d; ch++ {
						c := a.Colors[cbase+ch]
						vOut := a.VRenderColors[outBase+ch]
						st.colorGrads[i*d+ch] += fac * vOut
						vAlpha += (c*t - suffix[ch]*ra) * vOut
						suffix[ch] += c * fac
						if a.Backgrounds != nil {
							vAlpha -= tFinal * ra * a.Backgrounds[cam*d+ch] * vOut
						}
					}
					vAlpha += tFinal * ra * a.VRenderAlphas[pix]

					st.touched[i] = true
					if s.Opac*vis <= MAX_ALPHA {
						// The min() cap saturating means sigma and opacity
						// have no local effect.
						vSigma := -s.Opac * vis * vAlpha
						g := &st.grads[i]
						g.ConA += 0.5 * dx * dx * vSigma
						g.ConB += dx * dy * vSigma
						g.ConC += 0.5 * dy * dy * vSigma
						g.MeanX += (s.ConA*dx + s.ConB*dy) * vSigma
						g.MeanY += (s.ConB*dx + s.ConC*dy) * vSigma
						g.Opac += vis * vAlpha
					}
				}
				st.transmittance[li] = t
			}
		}

		// Flush the tile-local sums: one atomic add per gradient component
		// per touched record.
		for i := 0; i < n; i++ {
			if !st.touched[i] {
				continue
			}
			rec := st.batch[i].Rec
			g := &st.grads[i]
			atomicAddFloat32(&a.VMeans2D[2*rec], g.MeanX)
			atomicAddFloat32(&a.VMeans2D[2*rec+1], g.MeanY)
			atomicAddFloat32(&a.VConics[3*rec], g.ConA)
			atomicAddFloat32(&a.VConics[3*rec+1], g.ConB)
			atomicAddFloat32(&a.VConics[3*rec+2], g.ConC)
			atomicAddFloat32(&a.VOpacities[a.opacityIndex(rec)], g.Opac)
			cbase := a.colorBase(rec)
			for ch := 0; ch < d; ch++ {
				atomicAddFloat32(&a.VColors[cbase+ch], st.colorGrads[i*d+ch])
			}
		}
	}
}
