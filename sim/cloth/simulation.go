// Package cloth is the cloth simulation controller: it owns the
// configuration and bone positions, drives the Start / FixedUpdate / Reset /
// Destroy lifecycle and delegates all physics to a sim.SpringProcessor.
package cloth

import (
	"errors"
	"fmt"
	"iter"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"

	"github.com/clothfold/clothsim/sim"
	"github.com/clothfold/clothsim/sim/collision"
	_ "github.com/clothfold/clothsim/sim/parallel"   // registers the parallel backend
	_ "github.com/clothfold/clothsim/sim/sequential" // registers the sequential backend
	"github.com/clothfold/clothsim/sim/trace"
)

// State is the controller lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateRunning
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultFoldHeight is how far above the lower half MakeFold lays the
// folded half.
const DefaultFoldHeight = 0.05

// Option configures a Simulation.
type Option func(*Simulation)

// WithSphereColliders adds live sphere colliders, snapshotted every tick.
func WithSphereColliders(srcs ...collision.SphereSource) Option {
	return func(s *Simulation) { s.sphereSources = append(s.sphereSources, srcs...) }
}

// WithCuboidColliders adds live box colliders, snapshotted every tick.
func WithCuboidColliders(srcs ...collision.CuboidSource) Option {
	return func(s *Simulation) { s.cuboidSources = append(s.cuboidSources, srcs...) }
}

// WithTrace records one trace.TickRecord per tick into st.
func WithTrace(st *trace.SimulationTrace) Option {
	return func(s *Simulation) { s.trace = st }
}

// WithFoldHeight overrides DefaultFoldHeight.
func WithFoldHeight(h float64) Option {
	return func(s *Simulation) { s.foldHeight = h }
}

// Simulation is the cloth controller. Like the host loop driving it, it is
// not safe for concurrent use.
type Simulation struct {
	cfg        *sim.Config
	state      State
	processor  sim.SpringProcessor
	backend    string
	rows, cols int

	sphereSources []collision.SphereSource
	cuboidSources []collision.CuboidSource
	// per-tick proxy snapshots; capacity reused across ticks
	spheres []collision.Sphere
	cuboids []collision.Cuboid

	bones      []mgl64.Vec3
	tick       int64
	episode    int
	foldHeight float64
	trace      *trace.SimulationTrace
}

// New validates cfg and returns an uninitialized controller.
func New(cfg *sim.Config, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulation{cfg: cfg, foldHeight: DefaultFoldHeight}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the lifecycle state.
func (s *Simulation) State() State { return s.state }

// Backend returns the name of the active backend ("" before Start).
func (s *Simulation) Backend() string { return s.backend }

// Tick returns the number of fixed ticks advanced so far.
func (s *Simulation) Tick() int64 { return s.tick }

// Episode returns the number of resets so far.
func (s *Simulation) Episode() int { return s.episode }

// Trace returns the trace passed with WithTrace, or nil.
func (s *Simulation) Trace() *trace.SimulationTrace { return s.trace }

// Processor exposes the active processor (nil outside Running).
func (s *Simulation) Processor() sim.SpringProcessor { return s.processor }

// Start binds the topology, selects the backend from configuration and
// finishes its initialization. On any failure the controller is disposed:
// configuration and ordering errors are unrecoverable for the instance.
func (s *Simulation) Start(topo *sim.Topology) error {
	if s.state != StateUninitialized {
		return fmt.Errorf("%w: Start in state %s", sim.ErrInitializationOrder, s.state)
	}
	s.state = StateInitializing
	if topo == nil {
		s.abort()
		return fmt.Errorf("%w: Start with nil topology", sim.ErrConfiguration)
	}
	s.rows, s.cols = topo.Rows, topo.Cols

	processor, backend, err := newProcessor(s.cfg, topo)
	if err != nil {
		s.abort()
		return fmt.Errorf("start cloth simulation: %w", err)
	}
	s.processor, s.backend = processor, backend
	err = s.processor.FinishInitialization()
	if err != nil && backend == sim.BackendParallel && errors.Is(err, sim.ErrBackendResource) {
		s.processor.Dispose()
		s.processor = nil
		topo.Release()
		if s.processor, err = fallbackProcessor(s.cfg, topo, err); err == nil {
			s.backend = sim.BackendSequential
			err = s.processor.FinishInitialization()
		}
	}
	if err != nil {
		s.abort()
		return fmt.Errorf("start cloth simulation: %w", err)
	}
	backend = s.backend
	s.bones = make([]mgl64.Vec3, len(s.processor.Nodes()))
	s.syncBones()
	if s.trace != nil && s.trace.Config.Backend == "" {
		s.trace.Config.Backend = backend
	}
	s.state = StateRunning
	logrus.Infof("cloth simulation started: %dx%d nodes, backend=%s, integration=%s, substeps=%d",
		s.rows, s.cols, backend, s.cfg.IntegrationType, s.cfg.DeltaTimeDivisor)
	return nil
}

// newProcessor builds the configured backend. A parallel backend that
// cannot get its resources falls back to the sequential one; Start does the
// same when the parallel backend fails to initialize.
func newProcessor(cfg *sim.Config, topo *sim.Topology) (sim.SpringProcessor, string, error) {
	p, err := sim.NewSpringProcessor(cfg, topo)
	if err == nil {
		return p, cfg.Backend, nil
	}
	if cfg.Backend != sim.BackendParallel || !errors.Is(err, sim.ErrBackendResource) {
		return nil, "", err
	}
	p, err = fallbackProcessor(cfg, topo, err)
	if err != nil {
		return nil, "", err
	}
	return p, sim.BackendSequential, nil
}

// fallbackProcessor builds a sequential processor for topo after the
// parallel backend failed with cause.
func fallbackProcessor(cfg *sim.Config, topo *sim.Topology, cause error) (sim.SpringProcessor, error) {
	logrus.Warnf("parallel backend unavailable (%v); falling back to %s", cause, sim.BackendSequential)
	fallback := *cfg
	fallback.Backend = sim.BackendSequential
	return sim.NewSpringProcessor(&fallback, topo)
}

func (s *Simulation) abort() {
	if s.processor != nil {
		s.processor.Dispose()
		s.processor = nil
	}
	s.state = StateDisposed
}

func (s *Simulation) checkRunning(op string) error {
	switch s.state {
	case StateRunning:
		return nil
	case StateDisposed:
		return fmt.Errorf("%w: %s after Destroy", sim.ErrInitializationOrder, op)
	default:
		return fmt.Errorf("%w: %s in state %s", sim.ErrInitializationOrder, op, s.state)
	}
}

// FixedUpdate captures this tick's collider proxies and advances the cloth
// by dt. Numeric instability is logged, traced and returned, but the
// controller stays Running; the caller decides whether to reset.
func (s *Simulation) FixedUpdate(dt float64) error {
	if err := s.checkRunning("FixedUpdate"); err != nil {
		return err
	}
	s.spheres = collision.CaptureSpheres(s.spheres, s.sphereSources)
	s.cuboids = collision.CaptureCuboids(s.cuboids, s.cuboidSources)

	err := s.processor.Advance(dt, s.spheres, s.cuboids)
	unstable := errors.Is(err, sim.ErrNumericInstability)
	if err != nil && !unstable {
		return err
	}
	if !(dt > 0) {
		return nil
	}
	s.tick++
	s.syncBones()
	if unstable {
		logrus.Warnf("[tick %07d] cloth state is non-finite: %v", s.tick, err)
	}
	if s.trace.Enabled() {
		stats := s.processor.Stats()
		energy := 0.0
		if !unstable {
			energy = sim.KineticEnergy(s.processor.Nodes())
		}
		s.trace.RecordTick(trace.TickRecord{
			Tick:           s.tick,
			Episode:        s.episode,
			KineticEnergy:  energy,
			StaticContacts: stats.StaticContacts,
			SelfContacts:   stats.SelfContacts,
			Unstable:       unstable,
		})
	}
	logrus.Debugf("[tick %07d] advanced %d substeps, %d contacts", s.tick, s.processor.Stats().Substeps, s.processor.Stats().StaticContacts)
	return err
}

// ResetToInitialState restores the rest configuration at an episode
// boundary. The controller stays Running.
func (s *Simulation) ResetToInitialState() error {
	if err := s.checkRunning("ResetToInitialState"); err != nil {
		return err
	}
	if err := s.processor.ResetToInitialState(); err != nil {
		return err
	}
	s.episode++
	s.syncBones()
	if s.trace.Enabled() {
		s.trace.RecordReset(trace.ResetRecord{Tick: s.tick, Episode: s.episode})
	}
	logrus.Debugf("[tick %07d] cloth reset, episode %d", s.tick, s.episode)
	return nil
}

// Destroy releases the backend. Idempotent; every later call errors.
func (s *Simulation) Destroy() {
	if s.state == StateDisposed {
		return
	}
	s.abort()
	logrus.Debugf("cloth simulation destroyed after %d ticks", s.tick)
}

// Bones returns the bone positions, row-major, as of the last tick. The
// slice is reused; callers must copy it to keep it across ticks.
func (s *Simulation) Bones() []mgl64.Vec3 { return s.bones }

func (s *Simulation) syncBones() {
	for i, n := range s.processor.Nodes() {
		s.bones[i] = n.Position
	}
}

// EnumerateNearbySphere yields the nodes within radius of center.
func (s *Simulation) EnumerateNearbySphere(center mgl64.Vec3, radius float64) (iter.Seq[sim.NodeHandle], error) {
	if err := s.checkRunning("EnumerateNearbySphere"); err != nil {
		return nil, err
	}
	return s.processor.EnumerateNearby(center, radius), nil
}

// Grab pins node i so a grabber can carry it.
func (s *Simulation) Grab(i int) error {
	if err := s.checkRunning("Grab"); err != nil {
		return err
	}
	return s.processor.SetPinned(i, true)
}

// Release frees a grabbed node; it starts at rest.
func (s *Simulation) Release(i int) error {
	if err := s.checkRunning("Release"); err != nil {
		return err
	}
	return s.processor.SetPinned(i, false)
}

// MoveGrabbed moves a grabbed node to p.
func (s *Simulation) MoveGrabbed(i int, p mgl64.Vec3) error {
	if err := s.checkRunning("MoveGrabbed"); err != nil {
		return err
	}
	if i < 0 || i >= len(s.bones) {
		return fmt.Errorf("%w: MoveGrabbed node %d outside [0,%d)", sim.ErrConfiguration, i, len(s.bones))
	}
	if !s.processor.Nodes()[i].Pinned {
		return fmt.Errorf("%w: node %d is not grabbed", sim.ErrInitializationOrder, i)
	}
	if err := s.processor.MoveNode(i, p); err != nil {
		return err
	}
	s.bones[i] = p
	return nil
}

// MakeFold lays the far half of the cloth (rows from rows/2 on) over the
// near half, mirrored about the middle and lifted by the fold height. The
// topology and rest lengths are unchanged; only positions move.
func (s *Simulation) MakeFold() error {
	if err := s.checkRunning("MakeFold"); err != nil {
		return err
	}
	if s.rows < 2 {
		return fmt.Errorf("%w: cannot fold a cloth with %d rows", sim.ErrConfiguration, s.rows)
	}
	nodes := s.processor.Nodes()
	targets := make([]mgl64.Vec3, 0, (s.rows-s.rows/2)*s.cols)
	for r := s.rows / 2; r < s.rows; r++ {
		mirror := s.rows - 1 - r
		for c := 0; c < s.cols; c++ {
			lift := s.foldHeight * float64(r-s.rows/2+1)
			targets = append(targets, nodes[mirror*s.cols+c].Position.Add(mgl64.Vec3{0, lift, 0}))
		}
	}
	k := 0
	for r := s.rows / 2; r < s.rows; r++ {
		for c := 0; c < s.cols; c++ {
			if err := s.processor.MoveNode(r*s.cols+c, targets[k]); err != nil {
				return err
			}
			k++
		}
	}
	s.syncBones()
	logrus.Debugf("[tick %07d] cloth folded over row %d", s.tick, s.rows/2)
	return nil
}
