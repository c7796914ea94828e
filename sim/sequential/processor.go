// Package sequential provides the single goroutine SpringProcessor. It
// accumulates spring forces by scattering over the spring list, integrates
// every node, and resolves contacts through the spatial hash.
package sequential

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/clothfold/clothsim/sim"
	"github.com/clothfold/clothsim/sim/collision"
)

// Processor is the sequential backend. Not safe for concurrent use; the
// host drives it from its fixed-tick loop.
type Processor struct {
	*sim.SpringSystem

	forces     []mgl64.Vec3
	selfCorr   []mgl64.Vec3
	selfMarked []bool
}

// NewProcessor takes ownership of topo.
func NewProcessor(cfg *sim.Config, topo *sim.Topology) (*Processor, error) {
	system, err := sim.NewSpringSystem(cfg, topo)
	if err != nil {
		return nil, err
	}
	return &Processor{SpringSystem: system}, nil
}

// FinishInitialization prepares the shared state and allocates the force
// and correction arrays.
func (p *Processor) FinishInitialization() error {
	if err := p.SpringSystem.FinishInitialization(); err != nil {
		return err
	}
	n := len(p.State)
	p.forces = make([]mgl64.Vec3, n)
	if p.Config.SelfCollision.Enabled {
		p.selfCorr = make([]mgl64.Vec3, n)
		p.selfMarked = make([]bool, n)
	}
	return nil
}

// Advance runs DeltaTimeDivisor substeps of dt/DeltaTimeDivisor.
func (p *Processor) Advance(dt float64, spheres []collision.Sphere, cuboids []collision.Cuboid) error {
	run, err := p.CheckAdvance(dt)
	if err != nil || !run {
		return err
	}
	colliders := sim.Colliders{Spheres: spheres, Cuboids: cuboids}
	h := p.Config.SubstepDelta(dt)
	stats := sim.StepStats{}
	for range p.Config.DeltaTimeDivisor {
		p.accumulateForces()
		p.integrate(h)
		p.RebuildGrid(p.State)
		stats.StaticContacts += p.collideStatic(colliders, h)
		if p.Config.SelfCollision.Enabled {
			stats.SelfContacts += p.collideSelf(h)
		}
		stats.Substeps++
	}
	p.SetStats(stats)
	return p.CheckFinite(p.State)
}

func (p *Processor) accumulateForces() {
	for i := range p.forces {
		p.forces[i] = mgl64.Vec3{}
	}
	damping := p.Config.SpringDamping
	for k := range p.Springs {
		s := &p.Springs[k]
		a, b := &p.State[s.A], &p.State[s.B]
		f := sim.SpringForce(s, damping, a.Position, b.Position, a.Velocity, b.Velocity)
		p.forces[s.A] = p.forces[s.A].Add(f)
		p.forces[s.B] = p.forces[s.B].Sub(f)
	}
}

func (p *Processor) integrate(h float64) {
	gravity := p.Config.Gravity()
	for i := range p.State {
		n := &p.State[i]
		p.Integrator.Integrate(n, sim.Acceleration(n, p.forces[i], gravity), h)
	}
}

// collideStatic tests every node against the proxies whose bounds held it
// after integration, node by node in index order.
func (p *Processor) collideStatic(c sim.Colliders, h float64) int {
	if c.Len() == 0 {
		return 0
	}
	p.BuildCandidates(c)
	contacts := 0
	for i := range p.State {
		contacts += p.CollideCandidates(&p.State[i], i, c, h)
	}
	if contacts > 0 {
		p.RebuildGrid(p.State)
	}
	return contacts
}

// collideSelf computes every correction from the grid snapshot first and
// applies them afterwards, so the result does not depend on visit order.
func (p *Processor) collideSelf(h float64) int {
	touched := 0
	for i := range p.State {
		p.selfCorr[i], p.selfMarked[i] = p.SelfCollisionCorrection(p.State, i)
	}
	for i := range p.State {
		if !p.selfMarked[i] {
			continue
		}
		n := &p.State[i]
		n.Position = n.Position.Add(p.selfCorr[i])
		p.Integrator.Correct(n, h)
		touched++
	}
	if touched > 0 {
		p.RebuildGrid(p.State)
	}
	return touched
}
