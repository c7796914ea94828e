// Package parallel provides the data-parallel SpringProcessor. Each kernel
// runs over all nodes in chunks dispatched on an errgroup: forces are
// gathered per node over its incident springs, so no two workers ever
// write the same node. The host builds the broad phase (spatial hash and
// per-node proxy candidates, see sim.Candidates) between kernels and
// uploads it read-only.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/clothfold/clothsim/sim"
	"github.com/clothfold/clothsim/sim/collision"
)

// DefaultMaxNodes is the node buffer capacity used when
// Config.ParallelMaxNodes is 0.
const DefaultMaxNodes = 1 << 20

// minChunk keeps tiny grids from paying one goroutine per node.
const minChunk = 64

// Processor is the parallel backend. Advance and Dispose may be called from
// different goroutines; Dispose aborts an in-flight dispatch.
type Processor struct {
	*sim.SpringSystem

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	workers int
	chunk   int

	// device-side buffers
	cur, next []sim.Node
	contacts  []int32
	selfCorr  []mgl64.Vec3
	selfHit   []bool
}

// NewProcessor checks the buffer capacity before claiming topo, so a
// failure leaves the topology free for a fallback backend.
func NewProcessor(cfg *sim.Config, topo *sim.Topology) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	maxNodes := cfg.ParallelMaxNodes
	if maxNodes == 0 {
		maxNodes = DefaultMaxNodes
	}
	if topo != nil && len(topo.Nodes) > maxNodes {
		return nil, fmt.Errorf("%w: %d nodes exceed the parallel buffer capacity of %d", sim.ErrBackendResource, len(topo.Nodes), maxNodes)
	}
	system, err := sim.NewSpringSystem(cfg, topo)
	if err != nil {
		return nil, err
	}
	workers := cfg.ParallelWorkers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		SpringSystem: system,
		ctx:          ctx,
		cancel:       cancel,
		workers:      workers,
	}, nil
}

// FinishInitialization prepares the shared state, allocates the device
// buffers and uploads the initial node state.
func (p *Processor) FinishInitialization() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.SpringSystem.FinishInitialization(); err != nil {
		return err
	}
	n := len(p.State)
	p.cur = make([]sim.Node, n)
	p.next = make([]sim.Node, n)
	p.contacts = make([]int32, n)
	if p.Config.SelfCollision.Enabled {
		p.selfCorr = make([]mgl64.Vec3, n)
		p.selfHit = make([]bool, n)
	}
	p.chunk = max(minChunk, (n+p.workers-1)/p.workers)
	p.upload()
	p.TakeDirty()
	logrus.Debugf("parallel backend ready: %d nodes, %d workers, chunk %d", n, p.workers, p.chunk)
	return nil
}

func (p *Processor) upload() {
	copy(p.cur, p.State)
}

func (p *Processor) readback() {
	copy(p.State, p.cur)
}

// Advance runs DeltaTimeDivisor substeps; each substep dispatches the force
// and integration kernel, rebuilds the broad phase on the host, then
// dispatches the contact kernels. State is read back only after the last
// dispatch completed. A failed dispatch leaves the host state as it was
// before the tick, and the next Advance starts again from it.
func (p *Processor) Advance(dt float64, spheres []collision.Sphere, cuboids []collision.Cuboid) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, err := p.CheckAdvance(dt)
	if err != nil || !run {
		return err
	}
	if p.TakeDirty() {
		p.upload()
	}
	stats, err := p.substeps(p.Config.SubstepDelta(dt), sim.Colliders{Spheres: spheres, Cuboids: cuboids})
	if err != nil {
		p.MarkDirty()
		p.RebuildGrid(p.State)
		return err
	}
	p.readback()
	p.SetStats(stats)
	return p.CheckFinite(p.State)
}

func (p *Processor) substeps(h float64, colliders sim.Colliders) (sim.StepStats, error) {
	stats := sim.StepStats{}
	for range p.Config.DeltaTimeDivisor {
		if err := p.dispatch(func(i0, i1 int) { p.integrateKernel(i0, i1, h) }); err != nil {
			return stats, err
		}
		p.cur, p.next = p.next, p.cur
		p.RebuildGrid(p.cur)

		if colliders.Len() > 0 {
			p.BuildCandidates(colliders)
			if err := p.dispatch(func(i0, i1 int) { p.contactKernel(i0, i1, colliders, h) }); err != nil {
				return stats, err
			}
			hits := p.sumContacts()
			if hits > 0 {
				p.RebuildGrid(p.cur)
			}
			stats.StaticContacts += hits
		}

		if p.Config.SelfCollision.Enabled {
			if err := p.dispatch(p.selfCorrectionKernel); err != nil {
				return stats, err
			}
			if err := p.dispatch(func(i0, i1 int) { p.selfApplyKernel(i0, i1, h) }); err != nil {
				return stats, err
			}
			touched := 0
			for _, hit := range p.selfHit {
				if hit {
					touched++
				}
			}
			if touched > 0 {
				p.RebuildGrid(p.cur)
			}
			stats.SelfContacts += touched
		}
		stats.Substeps++
	}
	return stats, nil
}

// dispatch runs kernel over [0, n) in chunks and waits for all of them.
// A cancelled processor context aborts chunks not yet started.
func (p *Processor) dispatch(kernel func(i0, i1 int)) error {
	g, ctx := errgroup.WithContext(p.ctx)
	g.SetLimit(p.workers)
	n := len(p.cur)
	for start := 0; start < n; start += p.chunk {
		if ctx.Err() != nil {
			break
		}
		i0, i1 := start, min(start+p.chunk, n)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: kernel panicked on nodes [%d,%d): %v", sim.ErrBackendResource, i0, i1, r)
				}
			}()
			if err := ctx.Err(); err != nil {
				return err
			}
			kernel(i0, i1)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = p.ctx.Err()
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: dispatch aborted by Dispose", sim.ErrInitializationOrder)
	default:
		return err
	}
}

// integrateKernel gathers the spring forces of nodes [i0, i1) from the
// current buffer and writes the integrated nodes to the next buffer.
func (p *Processor) integrateKernel(i0, i1 int, h float64) {
	gravity := p.Config.Gravity()
	damping := p.Config.SpringDamping
	adj := &p.Adjacency
	for i := i0; i < i1; i++ {
		var force mgl64.Vec3
		for e := adj.Offsets[i]; e < adj.Offsets[i+1]; e++ {
			s := &p.Springs[adj.Springs[e]]
			a, b := &p.cur[s.A], &p.cur[s.B]
			f := sim.SpringForce(s, damping, a.Position, b.Position, a.Velocity, b.Velocity)
			if s.A == i {
				force = force.Add(f)
			} else {
				force = force.Sub(f)
			}
		}
		p.next[i] = p.cur[i]
		n := &p.next[i]
		p.Integrator.Integrate(n, sim.Acceleration(n, force, gravity), h)
	}
}

func (p *Processor) contactKernel(i0, i1 int, c sim.Colliders, h float64) {
	for i := i0; i < i1; i++ {
		p.contacts[i] = int32(p.CollideCandidates(&p.cur[i], i, c, h))
	}
}

func (p *Processor) sumContacts() int {
	total := 0
	for _, c := range p.contacts {
		total += int(c)
	}
	return total
}

func (p *Processor) selfCorrectionKernel(i0, i1 int) {
	for i := i0; i < i1; i++ {
		p.selfCorr[i], p.selfHit[i] = p.SelfCollisionCorrection(p.cur, i)
	}
}

func (p *Processor) selfApplyKernel(i0, i1 int, h float64) {
	for i := i0; i < i1; i++ {
		if !p.selfHit[i] {
			continue
		}
		n := &p.cur[i]
		n.Position = n.Position.Add(p.selfCorr[i])
		p.Integrator.Correct(n, h)
	}
}

// ResetToInitialState restores the initial snapshot; the next Advance
// uploads it.
func (p *Processor) ResetToInitialState() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SpringSystem.ResetToInitialState()
}

// SetPinned updates the host copy; the next Advance uploads it.
func (p *Processor) SetPinned(i int, pinned bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SpringSystem.SetPinned(i, pinned)
}

// MoveNode updates the host copy; the next Advance uploads it.
func (p *Processor) MoveNode(i int, pos mgl64.Vec3) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SpringSystem.MoveNode(i, pos)
}

// Dispose cancels any in-flight dispatch, waits for it to unwind and
// releases the device buffers. Idempotent.
func (p *Processor) Dispose() {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Disposed() {
		return
	}
	p.cur, p.next = nil, nil
	p.contacts, p.selfCorr, p.selfHit = nil, nil, nil
	p.SpringSystem.Dispose()
}
