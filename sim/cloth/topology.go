package cloth

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/clothfold/clothsim/sim"
)

// SpringSet selects which structural springs a rectangular cloth gets.
type SpringSet struct {
	Elastic bool // 4-neighbourhood
	Shear   bool // diagonals
	Bend    bool // two nodes apart along rows and columns
}

// AllSprings enables elastic, shear and bend springs.
var AllSprings = SpringSet{Elastic: true, Shear: true, Bend: true}

// GridOptions describes a rows x cols cloth.
type GridOptions struct {
	Rows, Cols  int
	InverseMass float64
	Springs     SpringSet
	Pinned      []int // row-major node indices
}

// GridBones lays out rows x cols bone positions row-major in the XZ plane,
// starting at origin: column index along +X, row index along +Z.
func GridBones(origin mgl64.Vec3, rows, cols int, spacing float64) []mgl64.Vec3 {
	bones := make([]mgl64.Vec3, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			bones = append(bones, origin.Add(mgl64.Vec3{float64(c) * spacing, 0, float64(r) * spacing}))
		}
	}
	return bones
}

func newGridTopology(bones []mgl64.Vec3, opts GridOptions) (*sim.Topology, error) {
	if opts.Rows < 1 || opts.Cols < 1 {
		return nil, fmt.Errorf("%w: cloth grid must be at least 1x1, got %dx%d", sim.ErrConfiguration, opts.Rows, opts.Cols)
	}
	if len(bones) != opts.Rows*opts.Cols {
		return nil, fmt.Errorf("%w: %d bones for a %dx%d grid", sim.ErrConfiguration, len(bones), opts.Rows, opts.Cols)
	}
	topo := sim.NewTopology(opts.Rows, opts.Cols)
	for r := 0; r < opts.Rows; r++ {
		for c := 0; c < opts.Cols; c++ {
			topo.AddNode(r, c, bones[r*opts.Cols+c], opts.InverseMass)
		}
	}
	for _, i := range opts.Pinned {
		if err := topo.Pin(i); err != nil {
			return nil, err
		}
	}
	return topo, nil
}

// RectangularCloth builds the structured spring network over bones, which
// must hold Rows*Cols positions in row-major order.
func RectangularCloth(bones []mgl64.Vec3, opts GridOptions) (*sim.Topology, error) {
	topo, err := newGridTopology(bones, opts)
	if err != nil {
		return nil, err
	}
	rows, cols := opts.Rows, opts.Cols
	type link struct {
		dr, dc int
		typ    sim.SpringDamperType
		on     bool
	}
	links := []link{
		{0, 1, sim.SpringElastic, opts.Springs.Elastic},
		{1, 0, sim.SpringElastic, opts.Springs.Elastic},
		{1, 1, sim.SpringShear, opts.Springs.Shear},
		{1, -1, sim.SpringShear, opts.Springs.Shear},
		{0, 2, sim.SpringBend, opts.Springs.Bend},
		{2, 0, sim.SpringBend, opts.Springs.Bend},
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			for _, l := range links {
				r2, c2 := r+l.dr, c+l.dc
				if !l.on || r2 >= rows || c2 < 0 || c2 >= cols {
					continue
				}
				if err := topo.AddSpring(topo.Index(r, c), topo.Index(r2, c2), l.typ); err != nil {
					return nil, err
				}
			}
		}
	}
	return topo, nil
}

// GridTriangles triangulates a rows x cols grid, two triangles per quad.
func GridTriangles(rows, cols int) [][3]int {
	tris := make([][3]int, 0, 2*max(rows-1, 0)*max(cols-1, 0))
	for r := 0; r+1 < rows; r++ {
		for c := 0; c+1 < cols; c++ {
			i := r*cols + c
			tris = append(tris, [3]int{i, i + 1, i + cols}, [3]int{i + 1, i + cols + 1, i + cols})
		}
	}
	return tris
}

// MeshCloth builds a mesh-based spring network: a MeshElastic spring on
// every unique triangle edge and a MeshShear spring between the two
// vertices opposite each edge shared by two triangles.
func MeshCloth(bones []mgl64.Vec3, triangles [][3]int, opts GridOptions) (*sim.Topology, error) {
	topo, err := newGridTopology(bones, opts)
	if err != nil {
		return nil, err
	}
	type edge struct{ a, b int }
	opposite := make(map[edge]int, 3*len(triangles))
	shared := make(map[edge]bool, 3*len(triangles))
	for t, tri := range triangles {
		for _, v := range tri {
			if v < 0 || v >= len(topo.Nodes) {
				return nil, fmt.Errorf("%w: triangle %d references vertex %d outside [0,%d)", sim.ErrConfiguration, t, v, len(topo.Nodes))
			}
		}
		for k := 0; k < 3; k++ {
			a, b, o := tri[k], tri[(k+1)%3], tri[(k+2)%3]
			e := edge{min(a, b), max(a, b)}
			other, seen := opposite[e]
			switch {
			case !seen:
				opposite[e] = o
				if err := topo.AddSpring(e.a, e.b, sim.SpringMeshElastic); err != nil {
					return nil, err
				}
			case !shared[e] && other != o:
				shared[e] = true
				if err := topo.AddSpring(other, o, sim.SpringMeshShear); err != nil {
					return nil, err
				}
			}
		}
	}
	return topo, nil
}
