package sim

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// This file is the reference physical model. Both backends call these
// functions; neither carries its own copy of the math.

// SpringForce returns the force spring s applies to its A endpoint; the B
// endpoint receives the negation. The force is
// stiffness*(length-rest) along the spring axis plus damping times the
// relative velocity along that axis. A zero-length spring has no axis and
// produces no force.
func SpringForce(s *Spring, damping float64, pa, pb, va, vb mgl64.Vec3) mgl64.Vec3 {
	d := pb.Sub(pa)
	length := d.Len()
	if length == 0 {
		return mgl64.Vec3{}
	}
	axis := d.Mul(1 / length)
	stretch := length - s.RestLength
	closing := vb.Sub(va).Dot(axis)
	return axis.Mul(s.Stiffness*stretch + damping*closing)
}

// Acceleration combines gravity and the net spring force on a node.
func Acceleration(n *Node, force, gravity mgl64.Vec3) mgl64.Vec3 {
	if !n.Movable() {
		return mgl64.Vec3{}
	}
	return gravity.Add(force.Mul(n.InverseMass))
}

// KineticEnergy sums 0.5*m*|v|² over nodes with finite mass.
func KineticEnergy(nodes []Node) float64 {
	var e float64
	for i := range nodes {
		if nodes[i].InverseMass <= 0 {
			continue
		}
		e += 0.5 * nodes[i].Velocity.LenSqr() / nodes[i].InverseMass
	}
	return e
}

// Integrator advances one node over a substep of length h.
type Integrator interface {
	// Integrate applies acceleration a to node n over h. Immovable nodes
	// must be left untouched.
	Integrate(n *Node, a mgl64.Vec3, h float64)
	// Correct restores the integrator's history after a contact changed
	// the node's position or velocity.
	Correct(n *Node, h float64)
}

// ExplicitEuler updates position with the old velocity, then velocity.
type ExplicitEuler struct{}

func (ExplicitEuler) Integrate(n *Node, a mgl64.Vec3, h float64) {
	if !n.Movable() {
		return
	}
	n.PrevPosition = n.Position
	n.Position = n.Position.Add(n.Velocity.Mul(h))
	n.Velocity = n.Velocity.Add(a.Mul(h))
}

func (ExplicitEuler) Correct(n *Node, h float64) {}

// SemiImplicitEuler updates velocity first and moves with the new velocity.
type SemiImplicitEuler struct{}

func (SemiImplicitEuler) Integrate(n *Node, a mgl64.Vec3, h float64) {
	if !n.Movable() {
		return
	}
	n.PrevPosition = n.Position
	n.Velocity = n.Velocity.Add(a.Mul(h))
	n.Position = n.Position.Add(n.Velocity.Mul(h))
}

func (SemiImplicitEuler) Correct(n *Node, h float64) {}

// Verlet is position Verlet; velocity is derived from the position delta.
type Verlet struct{}

func (Verlet) Integrate(n *Node, a mgl64.Vec3, h float64) {
	if !n.Movable() {
		return
	}
	next := n.Position.Mul(2).Sub(n.PrevPosition).Add(a.Mul(h * h))
	n.PrevPosition = n.Position
	n.Velocity = next.Sub(n.Position).Mul(1 / h)
	n.Position = next
}

func (Verlet) Correct(n *Node, h float64) {
	n.PrevPosition = n.Position.Sub(n.Velocity.Mul(h))
}

var integrators = map[IntegrationType]Integrator{
	IntegrationExplicitEuler:     ExplicitEuler{},
	IntegrationSemiImplicitEuler: SemiImplicitEuler{},
	IntegrationVerlet:            Verlet{},
}

// RegisterIntegrator adds or replaces an integration scheme. Call it from
// init() only; the registry is read without locks afterwards.
func RegisterIntegrator(t IntegrationType, in Integrator) {
	integrators[t] = in
}

// IntegratorFor returns the scheme selected by t.
func IntegratorFor(t IntegrationType) (Integrator, error) {
	in, ok := integrators[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown integration type %q (valid: %v)", ErrConfiguration, t, IntegrationTypeNames())
	}
	return in, nil
}
