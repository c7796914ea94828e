// Package spatial provides the uniform spatial hash used for broad-phase
// collision and nearby-node queries.
package spatial

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// CellKey is a quantized 3D cell coordinate: floor(position / cellSize).
type CellKey struct {
	X, Y, Z int64
}

// HashGrid buckets point indices by the hash of their cell. The bucket
// array is sized once from the expected point count and never resized;
// Clear keeps each bucket's capacity, so a rebuild every tick allocates
// nothing after warm-up.
type HashGrid struct {
	cellSize float64
	inv      float64
	mask     uint64
	buckets  [][]int32

	// snapshot of what was inserted; queries filter against it so a
	// stale grid can never report a point from another cell
	points []mgl64.Vec3
	keys   []CellKey
	count  int
}

// NewHashGrid creates a grid with the given cell edge length, sized for
// about capacity points. Panics if cellSize is not a finite positive value.
func NewHashGrid(cellSize float64, capacity int) *HashGrid {
	if math.IsNaN(cellSize) || math.IsInf(cellSize, 0) || cellSize <= 0 {
		panic(fmt.Sprintf("spatial: cell size must be a finite value > 0, got %v", cellSize))
	}
	n := 64
	for n < 2*capacity {
		n <<= 1
	}
	buckets := make([][]int32, n)
	for i := range buckets {
		buckets[i] = make([]int32, 0, 4)
	}
	return &HashGrid{
		cellSize: cellSize,
		inv:      1 / cellSize,
		mask:     uint64(n - 1),
		buckets:  buckets,
		points:   make([]mgl64.Vec3, 0, capacity),
		keys:     make([]CellKey, 0, capacity),
	}
}

// CellSize returns the cell edge length.
func (g *HashGrid) CellSize() float64 { return g.cellSize }

// Len returns the number of inserted points.
func (g *HashGrid) Len() int { return g.count }

// Cell returns the cell containing p.
func (g *HashGrid) Cell(p mgl64.Vec3) CellKey {
	return CellKey{
		X: int64(math.Floor(p[0] * g.inv)),
		Y: int64(math.Floor(p[1] * g.inv)),
		Z: int64(math.Floor(p[2] * g.inv)),
	}
}

// maxCellCoord bounds the cell coordinates a query iterates over, well
// inside int64 so that spans and loop counters cannot overflow.
const maxCellCoord = 1 << 62

func (k *CellKey) set(axis int, v int64) {
	switch axis {
	case 0:
		k.X = v
	case 1:
		k.Y = v
	default:
		k.Z = v
	}
}

func (g *HashGrid) bucket(k CellKey) int {
	h := uint64(k.X)*73856093 ^ uint64(k.Y)*19349663 ^ uint64(k.Z)*83492791
	return int(h & g.mask)
}

// Clear removes all points, keeping allocated capacity.
func (g *HashGrid) Clear() {
	for i := range g.buckets {
		g.buckets[i] = g.buckets[i][:0]
	}
	g.points = g.points[:0]
	g.keys = g.keys[:0]
	g.count = 0
}

// Insert adds point index i at position p. Indices must be inserted densely
// as 0, 1, 2, ... after a Clear.
func (g *HashGrid) Insert(i int, p mgl64.Vec3) {
	if i != len(g.points) {
		panic(fmt.Sprintf("spatial: insert index %d out of order, expected %d", i, len(g.points)))
	}
	k := g.Cell(p)
	g.points = append(g.points, p)
	g.keys = append(g.keys, k)
	b := g.bucket(k)
	g.buckets[b] = append(g.buckets[b], int32(i))
	g.count++
}

// Rebuild clears the grid and reinserts n points read through pos.
func (g *HashGrid) Rebuild(n int, pos func(i int) mgl64.Vec3) {
	g.Clear()
	for i := 0; i < n; i++ {
		g.Insert(i, pos(i))
	}
}

// Point returns the position point i had when it was inserted.
func (g *HashGrid) Point(i int) mgl64.Vec3 {
	return g.points[i]
}

// Query calls fn for every point within radius of center (inclusive), each
// exactly once, in a deterministic order. It stops early when fn returns
// false and reports whether it ran to completion. A negative or NaN radius
// matches nothing.
func (g *HashGrid) Query(center mgl64.Vec3, radius float64, fn func(i int) bool) bool {
	if !(radius >= 0) || g.count == 0 {
		return true
	}
	rSq := radius * radius

	// The query box is sized in float64 first: bounds far outside the
	// int64 range would otherwise wrap when converted or subtracted.
	// A box spanning more cells than there are buckets would revisit
	// every bucket several times; a linear scan is cheaper and still exact.
	cells := 1.0
	var lo, hi CellKey
	for a := 0; a < 3; a++ {
		l := math.Floor((center[a] - radius) * g.inv)
		h := math.Floor((center[a] + radius) * g.inv)
		if !(l >= -maxCellCoord && h <= maxCellCoord) {
			cells = math.Inf(1)
			break
		}
		cells *= h - l + 1
		lo.set(a, int64(l))
		hi.set(a, int64(h))
	}
	if !(cells <= float64(len(g.buckets))) {
		for i := 0; i < g.count; i++ {
			if g.points[i].Sub(center).LenSqr() <= rSq && !fn(i) {
				return false
			}
		}
		return true
	}

	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				k := CellKey{x, y, z}
				for _, idx := range g.buckets[g.bucket(k)] {
					// buckets are shared by colliding cells
					if g.keys[idx] != k {
						continue
					}
					if g.points[idx].Sub(center).LenSqr() <= rSq && !fn(int(idx)) {
						return false
					}
				}
			}
		}
	}
	return true
}
