// sim/processor.go
package sim

import (
	"fmt"
	"iter"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"

	"github.com/clothfold/clothsim/sim/collision"
	"github.com/clothfold/clothsim/sim/spatial"
)

// SpringProcessor advances the cloth by fixed steps. Two implementations
// exist: sequential.Processor and parallel.Processor. They share the
// physical model in model.go and must agree within numerical tolerance.
type SpringProcessor interface {
	// FinishInitialization computes rest lengths and stiffness, snapshots
	// the initial state and prepares backend state. Exactly once, before
	// the first Advance.
	FinishInitialization() error

	// Advance integrates one fixed tick of length dt using only the given
	// proxies. dt <= 0 is a no-op. Returns an error wrapping
	// ErrNumericInstability if the step produced non-finite state; the
	// processor remains usable in that case.
	Advance(dt float64, spheres []collision.Sphere, cuboids []collision.Cuboid) error

	// ResetToInitialState restores the state captured by
	// FinishInitialization without touching topology. Idempotent.
	ResetToInitialState() error

	// EnumerateNearby lazily yields the nodes within radius of center.
	// The sequence is finite, restartable and never mutates state.
	EnumerateNearby(center mgl64.Vec3, radius float64) iter.Seq[NodeHandle]

	// Dispose releases backend resources. Idempotent.
	Dispose()

	// Nodes returns the current node state. Callers must not modify it.
	Nodes() []Node
	// RestLengths returns the rest length of every spring, in spring order.
	RestLengths() []float64
	// Stats describes the last Advance.
	Stats() StepStats

	// SetPinned makes node i kinematic (pinned) or free again.
	SetPinned(i int, pinned bool) error
	// MoveNode teleports node i to p at rest.
	MoveNode(i int, p mgl64.Vec3) error
}

// StepStats counts what happened during one Advance.
type StepStats struct {
	Substeps       int
	StaticContacts int
	SelfContacts   int
}

// BackendFactory constructs a processor that owns topo.
type BackendFactory func(cfg *Config, topo *Topology) (SpringProcessor, error)

var backends = map[string]BackendFactory{}

// RegisterBackend makes a backend available to NewSpringProcessor. Backend
// packages call it from init() (see register.go in each backend package).
func RegisterBackend(name string, f BackendFactory) {
	backends[name] = f
}

// NewSpringProcessor validates cfg and builds the backend it selects.
func NewSpringProcessor(cfg *Config, topo *Topology) (SpringProcessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f, ok := backends[cfg.Backend]
	if !ok {
		registered := make([]string, 0, len(backends))
		for k := range backends {
			registered = append(registered, k)
		}
		sort.Strings(registered)
		return nil, fmt.Errorf("%w: backend %q is not registered (registered: %v); import its package", ErrConfiguration, cfg.Backend, registered)
	}
	return f(cfg, topo)
}

// Colliders is the set of static proxies captured for one tick. Proxy k
// indexes spheres first, then cuboids.
type Colliders struct {
	Spheres []collision.Sphere
	Cuboids []collision.Cuboid
}

// Len returns the number of proxies.
func (c Colliders) Len() int { return len(c.Spheres) + len(c.Cuboids) }

// Bounds returns the broad-phase bounding sphere of proxy k.
func (c Colliders) Bounds(k int, margin float64) (mgl64.Vec3, float64) {
	if k < len(c.Spheres) {
		return c.Spheres[k].Bounds(margin)
	}
	return c.Cuboids[k-len(c.Spheres)].Bounds(margin)
}

// Contact runs the narrow phase of proxy k against p.
func (c Colliders) Contact(k int, p mgl64.Vec3, margin float64) (collision.Hit, bool) {
	if k < len(c.Spheres) {
		return c.Spheres[k].Contact(p, margin)
	}
	return c.Cuboids[k-len(c.Spheres)].Contact(p, margin)
}

// SpringSystem is the backend-independent part of a processor: owned node
// and spring arrays, the initial snapshot, the spatial hash and the
// lifecycle flags. Backends embed it and implement Advance.
type SpringSystem struct {
	Config     *Config
	Integrator Integrator
	State      []Node
	Springs    []Spring
	Adjacency  Adjacency
	Grid       *spatial.HashGrid
	Candidates Candidates
	Material   collision.Material

	initial     []Node
	lastStats   StepStats
	initialized bool
	disposed    bool
	dirty       bool
}

// NewSpringSystem validates cfg and takes exclusive ownership of topo.
func NewSpringSystem(cfg *Config, topo *Topology) (*SpringSystem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if topo == nil || len(topo.Nodes) == 0 {
		return nil, fmt.Errorf("%w: topology has no nodes", ErrConfiguration)
	}
	integrator, err := IntegratorFor(cfg.IntegrationType)
	if err != nil {
		return nil, err
	}
	if err := topo.claim(); err != nil {
		return nil, err
	}
	return &SpringSystem{
		Config:     cfg,
		Integrator: integrator,
		State:      topo.Nodes,
		Springs:    topo.Springs,
		Material: collision.Material{
			Restitution: cfg.RestitutionConstant,
			Friction:    cfg.FrictionConstant,
			Margin:      cfg.NodeCollisionMargin,
		},
	}, nil
}

// FinishInitialization derives rest lengths from the current node
// positions, looks up every spring's stiffness, snapshots the initial state
// and builds the spatial hash.
func (s *SpringSystem) FinishInitialization() error {
	if s.disposed {
		return fmt.Errorf("%w: FinishInitialization after Dispose", ErrInitializationOrder)
	}
	if s.initialized {
		return fmt.Errorf("%w: FinishInitialization called twice", ErrInitializationOrder)
	}
	for i := range s.State {
		if !s.State[i].Finite() {
			return fmt.Errorf("%w: node %d has a non-finite initial state", ErrConfiguration, i)
		}
		s.State[i].PrevPosition = s.State[i].Position
	}
	for k := range s.Springs {
		sp := &s.Springs[k]
		if sp.A < 0 || sp.A >= len(s.State) || sp.B < 0 || sp.B >= len(s.State) || sp.A == sp.B {
			return fmt.Errorf("%w: spring %d has invalid endpoints (%d,%d)", ErrConfiguration, k, sp.A, sp.B)
		}
		stiffness, err := s.Config.SpringConstantForType(sp.Type)
		if err != nil {
			return fmt.Errorf("spring %d: %w", k, err)
		}
		sp.Stiffness = stiffness
		sp.RestLength = s.State[sp.A].Position.Sub(s.State[sp.B].Position).Len()
	}
	s.Adjacency = BuildAdjacency(len(s.State), s.Springs)
	s.initial = make([]Node, len(s.State))
	copy(s.initial, s.State)
	s.Grid = spatial.NewHashGrid(s.Config.SpatialHashingGridSize, len(s.State))
	s.Candidates = newCandidates(len(s.State))
	s.RebuildGrid(s.State)
	s.initialized = true
	logrus.Debugf("spring system initialized: %d nodes, %d springs, integration=%s",
		len(s.State), len(s.Springs), s.Config.IntegrationType)
	return nil
}

// CheckAdvance validates lifecycle order and dt. It reports whether the
// step should run at all.
func (s *SpringSystem) CheckAdvance(dt float64) (bool, error) {
	if err := s.checkUsable("Advance"); err != nil {
		return false, err
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return false, nil
	}
	return true, nil
}

func (s *SpringSystem) checkUsable(op string) error {
	if s.disposed {
		return fmt.Errorf("%w: %s after Dispose", ErrInitializationOrder, op)
	}
	if !s.initialized {
		return fmt.Errorf("%w: %s before FinishInitialization", ErrInitializationOrder, op)
	}
	return nil
}

// ResetToInitialState restores positions, velocities and pinned flags.
func (s *SpringSystem) ResetToInitialState() error {
	if err := s.checkUsable("ResetToInitialState"); err != nil {
		return err
	}
	copy(s.State, s.initial)
	s.lastStats = StepStats{}
	s.dirty = true
	s.RebuildGrid(s.State)
	return nil
}

// RebuildGrid reinserts every node of nodes into the spatial hash.
func (s *SpringSystem) RebuildGrid(nodes []Node) {
	s.Grid.Rebuild(len(nodes), func(i int) mgl64.Vec3 { return nodes[i].Position })
}

// EnumerateNearby yields nodes within radius of center using the spatial
// hash. Nothing is yielded before initialization or after Dispose.
func (s *SpringSystem) EnumerateNearby(center mgl64.Vec3, radius float64) iter.Seq[NodeHandle] {
	return func(yield func(NodeHandle) bool) {
		if s.checkUsable("EnumerateNearby") != nil {
			return
		}
		s.Grid.Query(center, radius, func(i int) bool {
			n := &s.State[i]
			return yield(NodeHandle{Index: i, Row: n.Row, Col: n.Col, Position: n.Position})
		})
	}
}

// Nodes returns the host-side node state.
func (s *SpringSystem) Nodes() []Node { return s.State }

// RestLengths returns the rest length of every spring.
func (s *SpringSystem) RestLengths() []float64 {
	out := make([]float64, len(s.Springs))
	for k := range s.Springs {
		out[k] = s.Springs[k].RestLength
	}
	return out
}

// Stats returns the counters of the last Advance.
func (s *SpringSystem) Stats() StepStats { return s.lastStats }

// SetStats records the counters of the Advance that just finished.
func (s *SpringSystem) SetStats(st StepStats) { s.lastStats = st }

// SetPinned pins or releases node i. A released node starts at rest.
func (s *SpringSystem) SetPinned(i int, pinned bool) error {
	if err := s.checkNode("SetPinned", i); err != nil {
		return err
	}
	n := &s.State[i]
	n.Pinned = pinned
	n.Velocity = mgl64.Vec3{}
	n.PrevPosition = n.Position
	s.dirty = true
	return nil
}

// MoveNode places node i at p with zero velocity.
func (s *SpringSystem) MoveNode(i int, p mgl64.Vec3) error {
	if err := s.checkNode("MoveNode", i); err != nil {
		return err
	}
	if !finiteVec(p) {
		return fmt.Errorf("%w: MoveNode target %v is not finite", ErrConfiguration, p)
	}
	n := &s.State[i]
	n.Position = p
	n.PrevPosition = p
	n.Velocity = mgl64.Vec3{}
	s.dirty = true
	s.RebuildGrid(s.State)
	return nil
}

func (s *SpringSystem) checkNode(op string, i int) error {
	if err := s.checkUsable(op); err != nil {
		return err
	}
	if i < 0 || i >= len(s.State) {
		return fmt.Errorf("%w: %s node %d outside [0,%d)", ErrConfiguration, op, i, len(s.State))
	}
	return nil
}

// TakeDirty reports whether host-side state was changed outside Advance
// since the last call, and clears the flag. The parallel backend uses it to
// decide when to upload.
func (s *SpringSystem) TakeDirty() bool {
	d := s.dirty
	s.dirty = false
	return d
}

// MarkDirty forces the next Advance to upload the host-side state.
func (s *SpringSystem) MarkDirty() { s.dirty = true }

// Disposed reports whether Dispose has run.
func (s *SpringSystem) Disposed() bool { return s.disposed }

// Dispose marks the system unusable. Idempotent.
func (s *SpringSystem) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	s.initial = nil
	logrus.Debugf("spring system disposed (%d nodes)", len(s.State))
}

// CollideStatic runs the narrow phase of proxy k against node n and applies
// the contact response. Reports whether a contact happened.
func (s *SpringSystem) CollideStatic(n *Node, c Colliders, k int, h float64) bool {
	if !n.Movable() {
		return false
	}
	hit, ok := c.Contact(k, n.Position, s.Material.Margin)
	if !ok {
		return false
	}
	collision.Respond(&n.Position, &n.Velocity, hit, s.Material)
	s.Integrator.Correct(n, h)
	return true
}

// SelfCollisionCorrection computes, from the positions stored in the grid,
// the displacement that separates node i from every node closer than
// SelfCollision.Distance that is not joined to it by a spring. Each pair's
// deficit is split evenly, or taken fully when the other node is immovable.
// It reads only the grid snapshot, so corrections can be computed for all
// nodes in any order before any is applied.
func (s *SpringSystem) SelfCollisionCorrection(nodes []Node, i int) (mgl64.Vec3, bool) {
	if !nodes[i].Movable() {
		return mgl64.Vec3{}, false
	}
	dist := s.Config.SelfCollision.Distance
	pi := s.Grid.Point(i)
	var corr mgl64.Vec3
	touched := false
	s.Grid.Query(pi, dist, func(j int) bool {
		if j == i || s.Adjacency.Connected(i, j) {
			return true
		}
		d := pi.Sub(s.Grid.Point(j))
		length := d.Len()
		if length == 0 || length >= dist {
			return true
		}
		share := 0.5
		if !nodes[j].Movable() {
			share = 1
		}
		corr = corr.Add(d.Mul((dist - length) * share / length))
		touched = true
		return true
	})
	return corr, touched
}

// CheckFinite scans nodes for non-finite state when InstabilityCheck is on.
func (s *SpringSystem) CheckFinite(nodes []Node) error {
	if !s.Config.InstabilityCheck {
		return nil
	}
	bad := 0
	first := -1
	for i := range nodes {
		if !nodes[i].Finite() {
			if first < 0 {
				first = i
			}
			bad++
		}
	}
	if bad == 0 {
		return nil
	}
	logrus.Warnf("numeric instability: %d of %d nodes non-finite (first: node %d)", bad, len(nodes), first)
	return fmt.Errorf("%w: %d nodes non-finite, first node %d", ErrNumericInstability, bad, first)
}
