// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package splat

import (
	"runtime"
	"sync"

	"github.com/splat-go/splat/kernel"
)

func workerCount(requested int) int {
	if requested > 0 {
		return requested
	}
	return runtime.NumCPU()
}

type tileTask struct {
	cam, row, col int
}

// runTiles fans (camera, tile) work-groups out over a fixed worker pool.
// Tiles own disjoint output pixels, so workers never contend; each worker
// reuses one Stage across all its tiles.
func runTiles(workers, cams, tilesY, tilesX, tileSize, channels int, fn func(t tileTask, st *kernel.Stage)) {
	tasks := make(chan tileTask, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := kernel.NewStage(tileSize, channels)
			for t := range tasks {
				fn(t, st)
			}
		}()
	}
	for cam := 0; cam < cams; cam++ {
		for row := 0; row < tilesY; row++ {
			for col := 0; col < tilesX; col++ {
				tasks <- tileTask{cam, row, col}
			}
		}
	}
	close(tasks)
	wg.Wait()
}

// chunkRanges splits [0, n) into at most count contiguous ranges.
func chunkRanges(n, count int) [][2]int {
	if n == 0 {
		return nil
	}
	size := ceilDiv(n, count)
	out := make([][2]int, 0, count)
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

// runChunks runs fn over contiguous index ranges covering [0, n), one range
// per invocation, at most workers invocations in flight.
func runChunks(workers, n int, fn func(idx, start, end int)) {
	chunks := chunkRanges(n, workers)
	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func(idx, start, end int) {
			defer wg.Done()
			fn(idx, start, end)
		}(i, c[0], c[1])
	}
	wg.Wait()
}
