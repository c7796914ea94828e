package cloth

import (
	"fmt"
	"os"
	"slices"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clothfold/clothsim/sim"
	"github.com/clothfold/clothsim/sim/collision"
	"github.com/clothfold/clothsim/sim/parallel"
	"github.com/clothfold/clothsim/sim/trace"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

const dt = 0.02

func testCloth(t *testing.T, rows, cols int) *sim.Topology {
	t.Helper()
	topo, err := RectangularCloth(GridBones(mgl64.Vec3{}, rows, cols, 0.1),
		GridOptions{Rows: rows, Cols: cols, InverseMass: 1, Springs: AllSprings})
	require.NoError(t, err)
	return topo
}

func started(t *testing.T, cfg *sim.Config, topo *sim.Topology, opts ...Option) *Simulation {
	t.Helper()
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start(topo))
	t.Cleanup(s.Destroy)
	return s
}

func TestSimulation_Lifecycle(t *testing.T) {
	// GIVEN a new controller
	s, err := New(sim.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, s.State())

	// THEN calls before Start fail with an ordering error
	assert.ErrorIs(t, s.FixedUpdate(dt), sim.ErrInitializationOrder)
	assert.ErrorIs(t, s.ResetToInitialState(), sim.ErrInitializationOrder)
	_, err = s.EnumerateNearbySphere(mgl64.Vec3{}, 1)
	assert.ErrorIs(t, err, sim.ErrInitializationOrder)

	// WHEN started
	require.NoError(t, s.Start(testCloth(t, 3, 3)))
	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, sim.BackendSequential, s.Backend())
	assert.ErrorIs(t, s.Start(testCloth(t, 3, 3)), sim.ErrInitializationOrder)

	require.NoError(t, s.FixedUpdate(dt))
	assert.Equal(t, int64(1), s.Tick())

	// WHEN destroyed, twice
	s.Destroy()
	s.Destroy()

	// THEN it is disposed and every later call errors
	assert.Equal(t, StateDisposed, s.State())
	assert.ErrorIs(t, s.FixedUpdate(dt), sim.ErrInitializationOrder)
	assert.ErrorIs(t, s.MakeFold(), sim.ErrInitializationOrder)
	assert.ErrorIs(t, s.Grab(0), sim.ErrInitializationOrder)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.FixedDeltaTime = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, sim.ErrConfiguration)
}

func TestStart_NilTopologyDisposes(t *testing.T) {
	s, err := New(sim.DefaultConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, s.Start(nil), sim.ErrConfiguration)
	assert.Equal(t, StateDisposed, s.State())
	assert.ErrorIs(t, s.Start(testCloth(t, 2, 2)), sim.ErrInitializationOrder)
}

func TestStart_ParallelBackend(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.Backend = sim.BackendParallel
	s := started(t, cfg, testCloth(t, 4, 4))
	assert.Equal(t, sim.BackendParallel, s.Backend())
	require.NoError(t, s.FixedUpdate(dt))
}

func TestStart_FallsBackToSequentialWhenParallelUnavailable(t *testing.T) {
	// GIVEN a parallel backend too small for the cloth
	cfg := sim.DefaultConfig()
	cfg.Backend = sim.BackendParallel
	cfg.ParallelMaxNodes = 4
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelTicks})

	// WHEN started
	s := started(t, cfg, testCloth(t, 4, 4), WithTrace(st))

	// THEN it runs on the sequential backend
	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, sim.BackendSequential, s.Backend())
	assert.Equal(t, sim.BackendSequential, st.Config.Backend)
	assert.Equal(t, sim.BackendParallel, cfg.Backend, "caller's config untouched")
	require.NoError(t, s.FixedUpdate(dt))
}

// lostDevice is a parallel processor whose buffers cannot be prepared.
type lostDevice struct {
	*parallel.Processor
	disposed *bool
}

func (d lostDevice) FinishInitialization() error {
	return fmt.Errorf("%w: device lost during upload", sim.ErrBackendResource)
}

func (d lostDevice) Dispose() {
	*d.disposed = true
	d.Processor.Dispose()
}

func TestStart_FallsBackWhenParallelInitializationFails(t *testing.T) {
	// GIVEN a parallel backend that fails while initializing
	disposed := false
	sim.RegisterBackend(sim.BackendParallel, func(cfg *sim.Config, topo *sim.Topology) (sim.SpringProcessor, error) {
		p, err := parallel.NewProcessor(cfg, topo)
		if err != nil {
			return nil, err
		}
		return lostDevice{Processor: p, disposed: &disposed}, nil
	})
	t.Cleanup(func() {
		sim.RegisterBackend(sim.BackendParallel, func(cfg *sim.Config, topo *sim.Topology) (sim.SpringProcessor, error) {
			return parallel.NewProcessor(cfg, topo)
		})
	})
	cfg := sim.DefaultConfig()
	cfg.Backend = sim.BackendParallel

	// WHEN started
	s := started(t, cfg, testCloth(t, 3, 3))

	// THEN the failed processor is released and the cloth runs sequentially
	assert.True(t, disposed)
	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, sim.BackendSequential, s.Backend())
	require.NoError(t, s.FixedUpdate(dt))
	assert.Equal(t, int64(1), s.Tick())
}

func TestStart_ParallelInitializationOtherErrorAborts(t *testing.T) {
	topo := testCloth(t, 3, 3)
	topo.Springs[0].Type = sim.SpringDamperType(99)
	cfg := sim.DefaultConfig()
	cfg.Backend = sim.BackendParallel

	s, err := New(cfg)
	require.NoError(t, err)
	err = s.Start(topo)
	assert.ErrorIs(t, err, sim.ErrConfiguration)
	assert.Equal(t, StateDisposed, s.State())
}

func TestFixedUpdate_BonesFollowNodes(t *testing.T) {
	s := started(t, sim.DefaultConfig(), testCloth(t, 3, 3))
	for range 5 {
		require.NoError(t, s.FixedUpdate(dt))
	}
	nodes := s.Processor().Nodes()
	require.Len(t, s.Bones(), len(nodes))
	for i, b := range s.Bones() {
		assert.Equal(t, nodes[i].Position, b)
		assert.Less(t, b[1], 0.0, "bone %d falls under gravity", i)
	}
}

func TestFixedUpdate_NonPositiveDeltaDoesNotTick(t *testing.T) {
	s := started(t, sim.DefaultConfig(), testCloth(t, 2, 2))
	require.NoError(t, s.FixedUpdate(0))
	require.NoError(t, s.FixedUpdate(-1))
	assert.Zero(t, s.Tick())
}

func TestFixedUpdate_UsesLiveColliderSnapshot(t *testing.T) {
	// GIVEN a single free node resting on a sphere that is then moved away
	topo := sim.NewTopology(1, 1)
	topo.AddNode(0, 0, mgl64.Vec3{0, 1.2, 0}, 1)
	ball := collision.NewSphereCollider(mgl64.Vec3{}, 1)
	cfg := sim.DefaultConfig()
	cfg.NodeCollisionMargin = 0
	s := started(t, cfg, topo, WithSphereColliders(ball))

	for range 60 {
		require.NoError(t, s.FixedUpdate(dt))
	}
	assert.InDelta(t, 1, s.Bones()[0][1], 1e-3)

	// WHEN the sphere moves out from under it
	ball.Move(mgl64.Vec3{10, 0, 0})
	for range 10 {
		require.NoError(t, s.FixedUpdate(dt))
	}

	// THEN the node falls
	assert.Less(t, s.Bones()[0][1], 0.9)
}

func TestResetToInitialState_RestoresBonesAndCountsEpisodes(t *testing.T) {
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelTicks})
	s := started(t, sim.DefaultConfig(), testCloth(t, 3, 3), WithTrace(st))
	initial := slices.Clone(s.Bones())

	for range 10 {
		require.NoError(t, s.FixedUpdate(dt))
	}
	require.NoError(t, s.ResetToInitialState())

	assert.Equal(t, initial, s.Bones())
	assert.Equal(t, 1, s.Episode())
	assert.Equal(t, StateRunning, s.State())
	require.Len(t, st.Resets, 1)
	assert.Equal(t, trace.ResetRecord{Tick: 10, Episode: 1}, st.Resets[0])

	require.NoError(t, s.FixedUpdate(dt))
	require.Len(t, st.Ticks, 11)
	assert.Equal(t, 1, st.Ticks[10].Episode)
	assert.Equal(t, sim.BackendSequential, st.Config.Backend)
}

func TestEnumerateNearbySphere(t *testing.T) {
	s := started(t, sim.DefaultConfig(), testCloth(t, 3, 3))
	seq, err := s.EnumerateNearbySphere(mgl64.Vec3{0.1, 0, 0.1}, 0.01)
	require.NoError(t, err)
	var got []sim.NodeHandle
	for h := range seq {
		got = append(got, h)
	}
	require.Len(t, got, 1)
	assert.Equal(t, sim.NodeHandle{Index: 4, Row: 1, Col: 1, Position: mgl64.Vec3{0.1, 0, 0.1}}, got[0])
}

func TestMakeFold_MirrorsFarHalfOverNearHalf(t *testing.T) {
	// GIVEN a flat 4x3 cloth
	s := started(t, sim.DefaultConfig(), testCloth(t, 4, 3), WithFoldHeight(0.02))
	flat := slices.Clone(s.Bones())

	// WHEN folded
	require.NoError(t, s.MakeFold())

	// THEN rows 0-1 stay, row 2 lies over row 1 and row 3 over row 0
	bones := s.Bones()
	for c := 0; c < 3; c++ {
		assert.Equal(t, flat[c], bones[c])
		assert.Equal(t, flat[3+c], bones[3+c])
		assert.Equal(t, flat[3+c].Add(mgl64.Vec3{0, 0.02, 0}), bones[6+c])
		assert.Equal(t, flat[c].Add(mgl64.Vec3{0, 0.04, 0}), bones[9+c])
	}

	// AND rest lengths are unchanged
	before := s.Processor().RestLengths()
	require.NoError(t, s.FixedUpdate(dt))
	assert.Equal(t, before, s.Processor().RestLengths())
}

func TestMakeFold_SingleRowRejected(t *testing.T) {
	s := started(t, sim.DefaultConfig(), testCloth(t, 1, 4))
	assert.ErrorIs(t, s.MakeFold(), sim.ErrConfiguration)
}

func TestGrab_MoveAndRelease(t *testing.T) {
	s := started(t, sim.DefaultConfig(), testCloth(t, 3, 3))
	target := mgl64.Vec3{0.5, 0.5, 0.5}

	assert.ErrorIs(t, s.MoveGrabbed(4, target), sim.ErrInitializationOrder, "not grabbed yet")

	// WHEN a node is grabbed and carried
	require.NoError(t, s.Grab(4))
	require.NoError(t, s.MoveGrabbed(4, target))
	for range 5 {
		require.NoError(t, s.FixedUpdate(dt))
	}

	// THEN it stays where the grabber put it
	assert.Equal(t, target, s.Bones()[4])

	// AND moves freely once released
	require.NoError(t, s.Release(4))
	assert.False(t, s.Processor().Nodes()[4].Pinned)
	require.NoError(t, s.FixedUpdate(dt))
	assert.NotEqual(t, target, s.Bones()[4])

	assert.ErrorIs(t, s.Grab(99), sim.ErrConfiguration)
	assert.ErrorIs(t, s.MoveGrabbed(-1, target), sim.ErrConfiguration)
}

func TestFixedUpdate_InstabilityKeepsRunning(t *testing.T) {
	// GIVEN an unstable configuration
	cfg := sim.DefaultConfig()
	cfg.GravityMultiplier = 0
	cfg.ElasticSpringConstant = 1e300
	cfg.IntegrationType = sim.IntegrationExplicitEuler
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelTicks})
	topo, err := RectangularCloth(GridBones(mgl64.Vec3{}, 1, 2, 1), GridOptions{Rows: 1, Cols: 2, InverseMass: 1, Springs: SpringSet{Elastic: true}})
	require.NoError(t, err)
	s := started(t, cfg, topo, WithTrace(st))
	require.NoError(t, s.Grab(1))
	require.NoError(t, s.MoveGrabbed(1, mgl64.Vec3{2, 0, 0}))
	require.NoError(t, s.Release(1))

	// WHEN advanced until it blows up
	var ferr error
	for range 10 {
		if ferr = s.FixedUpdate(dt); ferr != nil {
			break
		}
	}

	// THEN the error is surfaced, traced, and the controller still runs
	require.ErrorIs(t, ferr, sim.ErrNumericInstability)
	assert.Equal(t, StateRunning, s.State())
	require.NotEmpty(t, st.Ticks)
	assert.True(t, st.Ticks[len(st.Ticks)-1].Unstable)
	require.NoError(t, s.ResetToInitialState())
	require.NoError(t, s.FixedUpdate(dt))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "State(9)", State(9).String())
}
