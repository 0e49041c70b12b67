// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package splat

import (
	"github.com/splat-go/splat/kernel"
	"github.com/splat-go/splat/profiler"
)

// validateRaster performs the eager configuration checks shared by the two
// compositing passes and derives the primitive count needed for camera-dense
// indexing.
func validateRaster(p *RasterizeParams, recs *Records, colors, opacities []float32, bins *TileBins) (numCameras, numGaussians int, err error) {
	if err := validateChannels(p.Channels); err != nil {
		return 0, 0, err
	}
	if err := validateTileWorkingSet(p.tileSize()); err != nil {
		return 0, 0, err
	}
	if p.Width <= 0 || p.Height <= 0 {
		return 0, 0, configErrorf("image size %dx%d must be positive", p.Width, p.Height)
	}

	nnz := recs.Len()
	if len(recs.Means2D) != nnz*2 || len(recs.Conics) != nnz*3 || len(recs.GaussianIDs) != nnz {
		return 0, 0, configErrorf("visibility record buffers disagree on record count %d", nnz)
	}

	ts := p.tileSize()
	if bins.TilesX != ceilDiv(p.Width, ts) || bins.TilesY != ceilDiv(p.Height, ts) {
		return 0, 0, configErrorf("tile grid %dx%d does not match a %dx%d image with tile size %d",
			bins.TilesX, bins.TilesY, p.Width, p.Height, ts)
	}
	if len(bins.Offsets)%(bins.TilesY*bins.TilesX) != 0 {
		return 0, 0, configErrorf("tile offset table length %d is not a multiple of the %d-tile grid",
			len(bins.Offsets), bins.TilesY*bins.TilesX)
	}
	numCameras = len(bins.Offsets) / (bins.TilesY * bins.TilesX)
	if numCameras == 0 {
		return 0, 0, configErrorf("tile offset table is empty")
	}

	d := p.Channels
	if p.Packed {
		if len(colors) != nnz*d {
			return 0, 0, configErrorf("packed colors length %d, want %d records x %d channels", len(colors), nnz, d)
		}
		if len(opacities) != nnz {
			return 0, 0, configErrorf("packed opacities length %d, want %d", len(opacities), nnz)
		}
	} else {
		if len(colors)%(numCameras*d) != 0 {
			return 0, 0, configErrorf("dense colors length %d is not a multiple of %d cameras x %d channels",
				len(colors), numCameras, d)
		}
		numGaussians = len(colors) / (numCameras * d)
		if len(opacities) != numCameras*numGaussians {
			return 0, 0, configErrorf("dense opacities length %d, want %d cameras x %d primitives",
				len(opacities), numCameras, numGaussians)
		}
	}
	if p.Backgrounds != nil && len(p.Backgrounds) != numCameras*d {
		return 0, 0, configErrorf("backgrounds length %d, want %d cameras x %d channels",
			len(p.Backgrounds), numCameras, d)
	}
	return numCameras, numGaussians, nil
}

// RasterizeForward composites the binned visibility records into per-camera
// color, coverage, and last-contributor images. See the package docs for the
// compositing semantics; configuration problems fail before any tile is
// dispatched.
func RasterizeForward(p *RasterizeParams, recs *Records, colors, opacities []float32, bins *TileBins) (*ForwardResult, error) {
	numCameras, numGaussians, err := validateRaster(p, recs, colors, opacities, bins)
	if err != nil {
		return nil, err
	}

	prof := profiler.New()
	span := prof.Start("composite")

	d := p.Channels
	res := &ForwardResult{
		Colors:  make([]float32, numCameras*p.Height*p.Width*d),
		Alphas:  make([]float32, numCameras*p.Height*p.Width),
		LastIDs: make([]int32, numCameras*p.Height*p.Width),
	}
	args := &kernel.ForwardArgs{
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
		RenderColors: res.Colors,
		RenderAlphas: res.Alphas,
		LastIDs:      res.LastIDs,
	}

	workers := workerCount(p.Workers)
	runTiles(workers, numCameras, bins.TilesY, bins.TilesX, p.tileSize(), d, func(t tileTask, st *kernel.Stage) {
		args.RasterizeTile(t.cam, t.row, t.col, st)
	})

	span.End()
	Logger().Debug("rasterize forward",
		"cameras", numCameras, "records", recs.Len(),
		"tiles", bins.TilesY*bins.TilesX, "workers", workers,
		"timings", prof)
	return res, nil
}
