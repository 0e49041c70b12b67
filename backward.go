// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package splat

import (
	"github.com/splat-go/splat/kernel"
	"github.com/splat-go/splat/profiler"
)

// RasterizeBackward distributes per-pixel color and coverage gradients back
// to the visibility records, replaying each tile in reverse depth order with
// the exact forward thresholds so that a record skipped forward is skipped
// identically here.
func RasterizeBackward(p *RasterizeParams, recs *Records, colors, opacities []float32, bins *TileBins, fwd *ForwardResult, vColors, vAlphas []float32) (*RasterGrads, error) {
	numCameras, numGaussians, err := validateRaster(p, recs, colors, opacities, bins)
	if err != nil {
		return nil, err
	}
	d := p.Channels
	pixels := numCameras * p.Height * p.Width
	if len(fwd.Alphas) != pixels || len(fwd.LastIDs) != pixels {
		return nil, configErrorf("forward result does not match %d pixels", pixels)
	}
	if len(vColors) != pixels*d {
		return nil, configErrorf("color gradient length %d, want %d pixels x %d channels", len(vColors), pixels, d)
	}
	if len(vAlphas) != pixels {
		return nil, configErrorf("alpha gradient length %d, want %d pixels", len(vAlphas), pixels)
	}

	prof := profiler.New()
	span := prof.Start("composite_bwd")

	nnz := recs.Len()
	grads := &RasterGrads{
		VMeans2D: make([]float32, nnz*2),
		VConics:  make([]float32, nnz*3),
	}
	if p.Packed {
		grads.VColors = make([]float32, nnz*d)
		grads.VOpacities = make([]float32, nnz)
	} else {
		grads.VColors = make([]float32, numCameras*numGaussians*d)
		grads.VOpacities = make([]float32, numCameras*numGaussians)
	}

	args := &kernel.BackwardArgs{
		ForwardArgs: kernel.ForwardArgs{
			Channels:     d,
			Width:        p.Width,
			Height:       p.Height,
			TileSize:     p.tileSize(),
			TilesX:       bins.TilesX,
			TilesY:       bins.TilesY,
			NumCameras:   numCameras,
			NumGaussians: numGaussians,
			Packed:       p.Packed,
			CameraIDs:    recs.CameraIDs,
			GaussianIDs:  recs.GaussianIDs,
			Means2D:      recs.Means2D,
			Conics:       recs.Conics,
			Colors:       colors,
			Opacities:    opacities,
			Backgrounds:  p.Backgrounds,
			TileOffsets:  bins.Offsets,
			FlattenIDs:   bins.FlattenIDs,
			RenderAlphas: fwd.Alphas,
			LastIDs:      fwd.LastIDs,
		},
		VRenderColors: vColors,
		VRenderAlphas: vAlphas,
		VMeans2D:      grads.VMeans2D,
		VConics:       grads.VConics,
		VColors:       grads.VColors,
		VOpacities:    grads.VOpacities,
	}

	workers := workerCount(p.Workers)
	runTiles(workers, numCameras, bins.TilesY, bins.TilesX, p.tileSize(), d, func(t tileTask, st *kernel.Stage) {
		args.RasterizeTileBwd(t.cam, t.row, t.col, st)
	})

	span.End()
	Logger().Debug("rasterize backward",
		"cameras", numCameras, "records", nnz, "workers", workers,
		"timings", prof)
	return grads, nil
}
