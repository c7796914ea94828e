package sim

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// SpringDamperType tags a spring with the stiffness it looks up in Config.
// The set is closed; Config.SpringConstantForType rejects anything else.
type SpringDamperType int

const (
	SpringElastic SpringDamperType = iota
	SpringShear
	SpringBend
	SpringMeshElastic
	SpringMeshShear
)

var springTypeNames = map[SpringDamperType]string{
	SpringElastic:     "elastic",
	SpringShear:       "shear",
	SpringBend:        "bend",
	SpringMeshElastic: "mesh-elastic",
	SpringMeshShear:   "mesh-shear",
}

func (t SpringDamperType) String() string {
	if name, ok := springTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SpringDamperType(%d)", int(t))
}

// ParseSpringDamperType maps a name ("elastic", "shear", ...) to its type.
func ParseSpringDamperType(name string) (SpringDamperType, error) {
	for t, n := range springTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown spring type %q", ErrConfiguration, name)
}

// Spring connects nodes A and B. RestLength and Stiffness are filled by
// FinishInitialization and stay fixed until the processor is rebuilt.
type Spring struct {
	A, B       int
	Type       SpringDamperType
	RestLength float64
	Stiffness  float64
}

// Topology is the node grid and spring network handed to a processor.
// A topology belongs to exactly one processor; NewSpringSystem claims it.
type Topology struct {
	Rows, Cols int
	Nodes      []Node
	Springs    []Spring

	claimed bool
}

// NewTopology creates an empty topology for a rows x cols grid.
func NewTopology(rows, cols int) *Topology {
	return &Topology{
		Rows:    rows,
		Cols:    cols,
		Nodes:   make([]Node, 0, rows*cols),
		Springs: make([]Spring, 0, 4*rows*cols),
	}
}

// AddNode appends a node at rest at position p and returns its index.
func (t *Topology) AddNode(row, col int, p mgl64.Vec3, inverseMass float64) int {
	t.Nodes = append(t.Nodes, Node{
		Position:     p,
		PrevPosition: p,
		InverseMass:  inverseMass,
		Row:          row,
		Col:          col,
	})
	return len(t.Nodes) - 1
}

// AddSpring connects two existing, distinct nodes.
func (t *Topology) AddSpring(a, b int, typ SpringDamperType) error {
	if a < 0 || a >= len(t.Nodes) || b < 0 || b >= len(t.Nodes) {
		return fmt.Errorf("%w: spring (%d,%d) references a node outside [0,%d)", ErrConfiguration, a, b, len(t.Nodes))
	}
	if a == b {
		return fmt.Errorf("%w: spring connects node %d to itself", ErrConfiguration, a)
	}
	if _, ok := springTypeNames[typ]; !ok {
		return fmt.Errorf("%w: unrecognized spring damper type %d", ErrConfiguration, int(typ))
	}
	t.Springs = append(t.Springs, Spring{A: a, B: b, Type: typ})
	return nil
}

// Pin marks node i as kinematic.
func (t *Topology) Pin(i int) error {
	if i < 0 || i >= len(t.Nodes) {
		return fmt.Errorf("%w: pinned node %d outside [0,%d)", ErrConfiguration, i, len(t.Nodes))
	}
	t.Nodes[i].Pinned = true
	return nil
}

// Index returns the row-major index of (row, col).
func (t *Topology) Index(row, col int) int {
	return row*t.Cols + col
}

func (t *Topology) claim() error {
	if t.claimed {
		return fmt.Errorf("%w: topology is already owned by another spring processor", ErrInitializationOrder)
	}
	t.claimed = true
	return nil
}

// Release hands the topology back after its processor was disposed without
// ever advancing, so a different backend can claim it.
func (t *Topology) Release() {
	t.claimed = false
}

// Adjacency lists, per node, the springs incident to it in ascending spring
// order. Gathering forces in this order reproduces the summation order of a
// scatter over the spring list.
type Adjacency struct {
	Offsets []int // len(nodes)+1
	Springs []int // spring indices
	Others  []int // the opposite endpoint of Springs[k]
}

// BuildAdjacency builds the incidence lists of springs over n nodes.
func BuildAdjacency(n int, springs []Spring) Adjacency {
	adj := Adjacency{
		Offsets: make([]int, n+1),
		Springs: make([]int, 2*len(springs)),
		Others:  make([]int, 2*len(springs)),
	}
	for _, s := range springs {
		adj.Offsets[s.A+1]++
		adj.Offsets[s.B+1]++
	}
	for i := 0; i < n; i++ {
		adj.Offsets[i+1] += adj.Offsets[i]
	}
	fill := make([]int, n)
	copy(fill, adj.Offsets[:n])
	for k, s := range springs {
		adj.Springs[fill[s.A]], adj.Others[fill[s.A]] = k, s.B
		fill[s.A]++
		adj.Springs[fill[s.B]], adj.Others[fill[s.B]] = k, s.A
		fill[s.B]++
	}
	return adj
}

// Connected reports whether a spring joins i and j.
func (a *Adjacency) Connected(i, j int) bool {
	for k := a.Offsets[i]; k < a.Offsets[i+1]; k++ {
		if a.Others[k] == j {
			return true
		}
	}
	return false
}
