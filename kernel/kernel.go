// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package kernel implements the data-parallel kernels of the splat renderer
// on the CPU. The kernels keep the structure of their GPU counterparts: one
// work-group per (camera, tile) with a staged batch shared by the group's
// pixels, and one unit of work per visibility record for the projection
// passes. Scheduling the units across goroutines is the caller's job; the
// kernels only require that no two concurrent invocations share a tile or a
// record range.
package kernel

import "structs"

const (
	// MAX_ALPHA caps a single record's opacity contribution; the cap also
	// zeroes the opacity gradient when it saturates.
	MAX_ALPHA = 0.999
	// ALPHA_THRESHOLD is the negligible-contribution cutoff.
	ALPHA_THRESHOLD = 1.0 / 255.0
	// TRANSMITTANCE_EPS is the early-termination cutoff on the running
	// transmittance.
	TRANSMITTANCE_EPS = 1e-4
)

func assert(b bool) {
	if !b {
		panic("failed assert")
	}
}

// stagedSplat is one visibility record staged into a tile's shared batch:
// the flattened sort position, screen mean + opacity, and the conic. 28
// bytes, matching the per-record working-set estimate used for the resource
// check.
type stagedSplat struct {
	_ structs.HostLayout

	Rec              int32
	X, Y, Opac       float32
	ConA, ConB, ConC float32
}

// StagedSplatSize is the per-record share of a tile's staged working set in
// bytes: the record index plus two float32 triples.
const StagedSplatSize = 4 + 2*3*4

// splatGrad collects a staged record's gradient contributions from all
// pixels of one tile before they are flushed to the global accumulators.
type splatGrad struct {
	_ structs.HostLayout

	MeanX, MeanY     float32
	ConA, ConB, ConC float32
	Opac             float32
}

// Stage is the per-worker scratch for the rasterization kernels. It stands
// in for the GPU's shared tile memory and per-pixel registers; one Stage is
// reused across all tiles a worker processes.
type Stage struct {
	tileSize int
	channels int

	batch []stagedSplat

	// Per-pixel state, tileSize² entries.
	transmittance []float32
	done          []bool

	// Backward-only state.
	grads      []splatGrad
	colorGrads []float32 // len(batch) * channels
	touched    []bool
	behind     []float32 // tileSize² * channels suffix-contribution buffer
}

func NewStage(tileSize, channels int) *Stage {
	area := tileSize * tileSize
	return &Stage{
		tileSize:      tileSize,
		channels:      channels,
		batch:         make([]stagedSplat, area),
		transmittance: make([]float32, area),
		done:          make([]bool, area),
		grads:         make([]splatGrad, area),
		colorGrads:    make([]float32, area*channels),
		touched:       make([]bool, area),
		behind:        make([]float32, area*channels),
	}
}
