// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Command splatdemo renders a randomly generated Gaussian-splat scene to a
// PNG, exercising the whole forward pipeline: projection, tile binning, and
// compositing.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/chewxy/math32"

	"github.com/splat-go/splat"
)

func main() {
	var (
		out     string
		width   int
		height  int
		n       int
		seed    uint64
		verbose bool
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-v] [-n <count>] [-out <file>]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&out, "out", "splat.png", "Path to output `file`")
	flag.IntVar(&width, "width", 512, "Image width in `pixels`")
	flag.IntVar(&height, "height", 512, "Image height in `pixels`")
	flag.IntVar(&n, "n", 2000, "Number of `splats` to generate")
	flag.Uint64Var(&seed, "seed", 1, "PRNG `seed`")
	flag.BoolVar(&verbose, "v", false, "Be verbose")
	flag.Parse()

	if len(flag.Args()) != 0 {
		flag.Usage()
		os.Exit(2)
	}

	dief := func(f string, v ...any) {
		fmt.Fprintf(os.Stderr, f, v...)
		fmt.Fprintln(os.Stderr)
		os.Exit(1)
	}

	if verbose {
		splat.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	prims, colors, opacities := randomScene(rng, n)
	cams := &splat.Cameras{
		ViewMats: []float32{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 1, 4,
			0, 0, 0, 1,
		},
		Ks: []float32{
			float32(width) / 2, 0, float32(width) / 2,
			0, float32(height) / 2, float32(height) / 2,
			0, 0, 1,
		},
		Width:  width,
		Height: height,
	}

	recs, err := splat.ProjectForward(&splat.ProjectParams{}, prims, cams)
	if err != nil {
		dief("Couldn't project scene: %s", err)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "%d of %d splats visible\n", recs.Len(), n)
	}

	bins, err := splat.BinTiles(recs, cams.Len(), width, height, splat.DefaultTileSize)
	if err != nil {
		dief("Couldn't bin records: %s", err)
	}

	res, err := splat.RasterizeForward(&splat.RasterizeParams{
		Width:    width,
		Height:   height,
		Channels: 3,
	}, recs, colors, opacities, bins)
	if err != nil {
		dief("Couldn't rasterize scene: %s", err)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pix := y*width + x
			img.SetNRGBA(x, y, color.NRGBA{
				R: quantize(res.Colors[pix*3]),
				G: quantize(res.Colors[pix*3+1]),
				B: quantize(res.Colors[pix*3+2]),
				A: 255,
			})
		}
	}

	f, err := os.Create(out)
	if err != nil {
		dief("Couldn't create %q: %s", out, err)
	}
	if err := png.Encode(f, img); err != nil {
		dief("Couldn't encode PNG: %s", err)
	}
	if err := f.Close(); err != nil {
		dief("Couldn't write %q: %s", out, err)
	}
}

// randomScene scatters n anisotropic splats in a cube in front of the camera,
// with random orientations and warm-palette colors.
func randomScene(rng *rand.Rand, n int) (*splat.Primitives, []float32, []float32) {
	prims := &splat.Primitives{
		Means:  make([]float32, 0, n*3),
		Quats:  make([]float32, 0, n*4),
		Scales: make([]float32, 0, n*3),
	}
	colors := make([]float32, 0, n*3)
	opacities := make([]float32, 0, n)

	unit := func() float32 { return 2*rng.Float32() - 1 }
	for i := 0; i < n; i++ {
		prims.Means = append(prims.Means, 2*unit(), 2*unit(), 2*unit())

		q := [4]float32{unit(), unit(), unit(), unit()}
		norm := math32.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
		prims.Quats = append(prims.Quats, q[0]/norm, q[1]/norm, q[2]/norm, q[3]/norm)

		prims.Scales = append(prims.Scales,
			0.01+0.1*rng.Float32(),
			0.01+0.1*rng.Float32(),
			0.01+0.1*rng.Float32())

		colors = append(colors,
			0.5+0.5*rng.Float32(),
			0.2+0.6*rng.Float32(),
			0.1+0.4*rng.Float32())
		opacities = append(opacities, 0.3+0.7*rng.Float32())
	}
	return prims, colors, opacities
}

func quantize(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
