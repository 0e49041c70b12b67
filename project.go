// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package splat

import (
	"github.com/splat-go/splat/kernel"
	"github.com/splat-go/splat/profiler"
)

func validateScene(prims *Primitives, cams *Cameras) error {
	n := prims.Len()
	if n == 0 || len(prims.Means) != n*3 {
		return configErrorf("means length %d is not a positive multiple of 3", len(prims.Means))
	}
	hasCovars := prims.Covars != nil
	hasQuats := prims.Quats != nil || prims.Scales != nil
	if hasCovars == hasQuats {
		return configErrorf("exactly one of covariances or quaternions+scales must be supplied")
	}
	if hasCovars && len(prims.Covars) != n*6 {
		return configErrorf("covariances length %d, want %d primitives x 6", len(prims.Covars), n)
	}
	if hasQuats && (len(prims.Quats) != n*4 || len(prims.Scales) != n*3) {
		return configErrorf("quaternions+scales lengths %d/%d, want %d primitives x 4 and x 3",
			len(prims.Quats), len(prims.Scales), n)
	}
	c := cams.Len()
	if c == 0 || len(cams.ViewMats) != c*16 {
		return configErrorf("view matrices length %d is not a positive multiple of 16", len(cams.ViewMats))
	}
	if len(cams.Ks) != c*9 {
		return configErrorf("intrinsics length %d, want %d cameras x 9", len(cams.Ks), c)
	}
	if cams.Width <= 0 || cams.Height <= 0 {
		return configErrorf("image size %dx%d must be positive", cams.Width, cams.Height)
	}
	return nil
}

// ProjectForward projects every primitive into every camera and returns the
// packed visibility records of the pairs that survive depth, determinant,
// and screen-extent culling, in (camera, primitive) order.
func ProjectForward(p *ProjectParams, prims *Primitives, cams *Cameras) (*Records, error) {
	if err := validateScene(prims, cams); err != nil {
		return nil, err
	}

	prof := profiler.New()
	span := prof.Start("project")

	args := &kernel.ProjectArgs{
		NumCameras:        cams.Len(),
		NumGaussians:      prims.Len(),
		Means:             prims.Means,
		Covars:            prims.Covars,
		Quats:             prims.Quats,
		Scales:            prims.Scales,
		ViewMats:          cams.ViewMats,
		Ks:                cams.Ks,
		Width:             cams.Width,
		Height:            cams.Height,
		Eps2D:             p.eps2d(),
		NearPlane:         p.nearPlane(),
		FarPlane:          p.farPlane(),
		RadiusClip:        p.RadiusClip,
		CalcCompensations: p.CalcCompensations,
	}

	workers := workerCount(p.Workers)
	total := cams.Len() * prims.Len()
	parts := make([]kernel.PackedRecords, len(chunkRanges(total, workers)))
	runChunks(workers, total, func(idx, start, end int) {
		args.ProjectRange(start, end, &parts[idx])
	})

	// Chunks cover ascending flat indices, so appending in chunk order keeps
	// the packed (camera, primitive) ordering.
	out := &Records{}
	for i := range parts {
		out.Append(&parts[i])
	}

	span.End()
	Logger().Debug("project forward",
		"cameras", cams.Len(), "primitives", prims.Len(),
		"records", out.Len(), "workers", workers,
		"timings", prof)
	return out, nil
}
