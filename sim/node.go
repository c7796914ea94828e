package sim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Node is a point mass of the cloth grid. Its identity is its index in
// Topology.Nodes (row-major) together with Row/Col.
type Node struct {
	Position mgl64.Vec3
	Velocity mgl64.Vec3
	// PrevPosition is the position before the last integration step.
	// Only the Verlet scheme reads it; contacts keep it consistent via
	// Integrator.Correct.
	PrevPosition mgl64.Vec3
	InverseMass  float64
	Pinned       bool
	Row, Col     int
}

// Movable reports whether integration and contacts may move the node.
func (n *Node) Movable() bool {
	return !n.Pinned && n.InverseMass > 0
}

// Finite reports whether position and velocity are finite.
func (n *Node) Finite() bool {
	return finiteVec(n.Position) && finiteVec(n.Velocity)
}

// NodeHandle is the read-only view of a node returned by spatial queries.
type NodeHandle struct {
	Index    int
	Row, Col int
	Position mgl64.Vec3
}

func finiteVec(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
