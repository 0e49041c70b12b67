// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package splat

import (
	"github.com/splat-go/splat/kernel"
	"github.com/splat-go/splat/profiler"
)

// ProjectBackward computes gradients of the projection stage: given the
// forward records and upstream gradients w.r.t. their 2D means, depths,
// conics, and compensations, it produces gradients w.r.t. the primitive
// parameters and, optionally, the camera extrinsics. Dense mode accumulates
// per primitive with the group-reduce-then-atomic-add protocol; sparse mode
// writes one uncontended slot per record. Camera gradients are always dense.
func ProjectBackward(p *ProjectGradParams, prims *Primitives, cams *Cameras, recs *Records, grads *RecordGrads) (*ProjectGrads, error) {
	if err := validateScene(prims, cams); err != nil {
		return nil, err
	}
	nnz := recs.Len()
	if len(recs.Conics) != nnz*3 || len(recs.GaussianIDs) != nnz {
		return nil, configErrorf("visibility record buffers disagree on record count %d", nnz)
	}
	if len(grads.VMeans2D) != nnz*2 {
		return nil, configErrorf("2D mean gradients length %d, want %d records x 2", len(grads.VMeans2D), nnz)
	}
	if len(grads.VConics) != nnz*3 {
		return nil, configErrorf("conic gradients length %d, want %d records x 3", len(grads.VConics), nnz)
	}
	if grads.VDepths != nil && len(grads.VDepths) != nnz {
		return nil, configErrorf("depth gradients length %d, want %d", len(grads.VDepths), nnz)
	}
	if grads.VCompensations != nil {
		if recs.Compensations == nil {
			return nil, configErrorf("compensation gradients supplied without forward compensations; " +
				"project with CalcCompensations")
		}
		if len(grads.VCompensations) != nnz {
			return nil, configErrorf("compensation gradients length %d, want %d", len(grads.VCompensations), nnz)
		}
	}

	prof := profiler.New()
	span := prof.Start("project_bwd")

	slots := prims.Len()
	if p.Sparse {
		slots = nnz
	}
	out := &ProjectGrads{
		VMeans: make([]float32, slots*3),
	}
	if prims.Covars != nil {
		out.VCovars = make([]float32, slots*6)
	} else {
		out.VQuats = make([]float32, slots*4)
		out.VScales = make([]float32, slots*3)
	}
	if p.CameraGrads {
		out.VViewMats = make([]float32, cams.Len()*16)
	}

	args := &kernel.ProjectBwdArgs{
		ProjectArgs: kernel.ProjectArgs{
			NumCameras:   cams.Len(),
			NumGaussians: prims.Len(),
			Means:        prims.Means,
			Covars:       prims.Covars,
			Quats:        prims.Quats,
			Scales:       prims.Scales,
			ViewMats:     cams.ViewMats,
			Ks:           cams.Ks,
			Width:        cams.Width,
			Height:       cams.Height,
			Eps2D:        p.eps2d(),
		},
		CameraIDs:      recs.CameraIDs,
		GaussianIDs:    recs.GaussianIDs,
		Conics:         recs.Conics,
		Compensations:  recs.Compensations,
		VMeans2D:       grads.VMeans2D,
		VDepths:        grads.VDepths,
		VConics:        grads.VConics,
		VCompensations: grads.VCompensations,
		Sparse:         p.Sparse,
		CameraGrads:    p.CameraGrads,
		VMeans:         out.VMeans,
		VCovars:        out.VCovars,
		VQuats:         out.VQuats,
		VScales:        out.VScales,
		VViewMats:      out.VViewMats,
	}

	workers := workerCount(p.Workers)
	runChunks(workers, nnz, func(_, start, end int) {
		args.BackwardRange(start, end)
	})

	span.End()
	Logger().Debug("project backward",
		"records", nnz, "sparse", p.Sparse, "cameraGrads", p.CameraGrads,
		"workers", workers, "timings", prof)
	return out, nil
}
