// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package splat

import (
	"cmp"
	"slices"

	"github.com/chewxy/math32"
	"honnef.co/go/safeish"

	"github.com/splat-go/splat/mem"
)

// isect is one record-tile intersection awaiting the (camera, tile, depth)
// sort.
type isect struct {
	cam   int32
	tile  int32
	depth float32
	rec   int32
}

// Binner turns packed visibility records into per-(camera, tile) index
// ranges. It keeps a scratch arena so repeated binning of similarly sized
// scenes does not allocate; a Binner must not be used concurrently.
type Binner struct {
	arena *mem.Arena
}

func NewBinner() *Binner {
	return &Binner{arena: mem.NewArena()}
}

// Bin expands every record to the tiles its screen radius overlaps and sorts
// the intersections by camera, tile, and non-decreasing depth — the ordering
// invariant front-to-back compositing relies on.
func (b *Binner) Bin(recs *Records, numCameras, width, height, tileSize int) (*TileBins, error) {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	if err := validateTileWorkingSet(tileSize); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, configErrorf("image size %dx%d must be positive", width, height)
	}
	nnz := recs.Len()
	if len(recs.Means2D) != nnz*2 || len(recs.Radii) != nnz || len(recs.Depths) != nnz {
		return nil, configErrorf("visibility record buffers disagree on record count")
	}

	b.arena.Reset()
	tilesX := ceilDiv(width, tileSize)
	tilesY := ceilDiv(height, tileSize)
	xy := safeish.SliceCast[[][2]float32](recs.Means2D)

	bounds := func(rec int) (x0, y0, x1, y1 int32) {
		r := float32(recs.Radii[rec])
		x0 = tileFloor((xy[rec][0]-r)/float32(tileSize), tilesX)
		y0 = tileFloor((xy[rec][1]-r)/float32(tileSize), tilesY)
		x1 = tileCeil((xy[rec][0]+r)/float32(tileSize), tilesX)
		y1 = tileCeil((xy[rec][1]+r)/float32(tileSize), tilesY)
		return x0, y0, x1, y1
	}

	// Count, then fill: the intersection count is data dependent.
	total := 0
	for rec := 0; rec < nnz; rec++ {
		x0, y0, x1, y1 := bounds(rec)
		total += int(x1-x0) * int(y1-y0)
	}

	isects := mem.Slice[isect](b.arena, total)
	n := 0
	for rec := 0; rec < nnz; rec++ {
		x0, y0, x1, y1 := bounds(rec)
		for ty := y0; ty < y1; ty++ {
			for tx := x0; tx < x1; tx++ {
				isects[n] = isect{
					cam:   recs.CameraIDs[rec],
					tile:  ty*int32(tilesX) + tx,
					depth: recs.Depths[rec],
					rec:   int32(rec),
				}
				n++
			}
		}
	}

	slices.SortFunc(isects, func(a, b isect) int {
		if c := cmp.Compare(a.cam, b.cam); c != 0 {
			return c
		}
		if c := cmp.Compare(a.tile, b.tile); c != 0 {
			return c
		}
		return cmp.Compare(a.depth, b.depth)
	})

	tilesPerCam := tilesY * tilesX
	offsets := make([]int32, numCameras*tilesPerCam)
	flatten := make([]int32, total)
	cur := 0
	for key := range offsets {
		for cur < total && int(isects[cur].cam)*tilesPerCam+int(isects[cur].tile) < key {
			cur++
		}
		offsets[key] = int32(cur)
	}
	for i, is := range isects {
		flatten[i] = is.rec
	}

	return &TileBins{
		TilesX:     tilesX,
		TilesY:     tilesY,
		Offsets:    offsets,
		FlattenIDs: flatten,
	}, nil
}

// BinTiles is the convenience form of Binner.Bin with a throwaway arena.
func BinTiles(recs *Records, numCameras, width, height, tileSize int) (*TileBins, error) {
	return NewBinner().Bin(recs, numCameras, width, height, tileSize)
}

func tileFloor(v float32, limit int) int32 {
	t := int32(math32.Floor(v))
	if t < 0 {
		t = 0
	}
	if t > int32(limit) {
		t = int32(limit)
	}
	return t
}

func tileCeil(v float32, limit int) int32 {
	t := int32(math32.Ceil(v))
	if t < 0 {
		t = 0
	}
	if t > int32(limit) {
		t = int32(limit)
	}
	return t
}
