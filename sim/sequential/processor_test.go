package sequential

import (
	"math"
	"os"
	"slices"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clothfold/clothsim/sim"
	"github.com/clothfold/clothsim/sim/collision"
	"github.com/clothfold/clothsim/sim/internal/testutil"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

const dt = 0.02

func newInitialized(t *testing.T, cfg *sim.Config, topo *sim.Topology) *Processor {
	t.Helper()
	p, err := NewProcessor(cfg, topo)
	require.NoError(t, err)
	require.NoError(t, p.FinishInitialization())
	return p
}

func TestAdvance_ZeroGravityRestGridStaysPut(t *testing.T) {
	for _, integration := range sim.IntegrationTypeNames() {
		t.Run(integration, func(t *testing.T) {
			// GIVEN a 4x4 cloth at rest with gravity off
			cfg := testutil.ZeroGravityConfig()
			cfg.IntegrationType = sim.IntegrationType(integration)
			p := newInitialized(t, cfg, testutil.GridTopology(4, 4, 0.1, sim.SpringShear, sim.SpringBend))
			want := slices.Clone(p.Nodes())

			// WHEN it is advanced for 100 ticks
			for range 100 {
				require.NoError(t, p.Advance(dt, nil, nil))
			}

			// THEN no node has moved
			for i, n := range p.Nodes() {
				assert.Equal(t, want[i].Position, n.Position, "node %d", i)
				assert.Equal(t, mgl64.Vec3{}, n.Velocity, "node %d", i)
			}
		})
	}
}

func TestAdvance_KickedGridEnergyStaysBounded(t *testing.T) {
	// explicit Euler is unstable at this stiffness and step and is left out
	for _, integration := range []sim.IntegrationType{sim.IntegrationSemiImplicitEuler, sim.IntegrationVerlet} {
		t.Run(string(integration), func(t *testing.T) {
			// GIVEN a 4x4 structural grid with gravity off and one node kicked
			cfg := testutil.ZeroGravityConfig()
			cfg.IntegrationType = integration
			p := newInitialized(t, cfg, testutil.GridTopology(4, 4, 0.1))
			kick := mgl64.Vec3{1, 0, 0.5}
			n := &p.Nodes()[5]
			n.Velocity = kick
			n.PrevPosition = n.Position.Sub(kick.Mul(dt))
			initial := sim.KineticEnergy(p.Nodes())
			require.InDelta(t, 0.625, initial, 1e-12)

			// WHEN it is advanced for 100 ticks
			for tick := range 100 {
				require.NoError(t, p.Advance(dt, nil, nil))

				// THEN kinetic energy never exceeds a fixed bound
				require.Less(t, sim.KineticEnergy(p.Nodes()), 2*initial, "tick %d", tick)
			}
			// AND damping has taken most of it out
			assert.Less(t, sim.KineticEnergy(p.Nodes()), initial/2)
			testutil.AllFinite(t, p.Nodes())
		})
	}
}

func TestAdvance_ContactPushIntoLaterProxyIsResolved(t *testing.T) {
	// GIVEN a node deep inside a unit sphere, and a small box sitting where
	// the sphere will push it but whose bounds miss the node's position
	cfg := testutil.ZeroGravityConfig()
	cfg.NodeCollisionMargin = 0
	p := newInitialized(t, cfg, testutil.SingleNode(mgl64.Vec3{0, 0.5, 0}))
	spheres := []collision.Sphere{{Center: mgl64.Vec3{}, Radius: 1}}
	cuboids := []collision.Cuboid{{
		Center:      mgl64.Vec3{0.04, 1, 0},
		HalfExtents: mgl64.Vec3{0.05, 0.05, 0.05},
		Orientation: mgl64.QuatIdent(),
	}}
	center, radius := cuboids[0].Bounds(0)
	require.Greater(t, center.Sub(mgl64.Vec3{0, 0.5, 0}).Len(), radius)

	// WHEN one tick runs
	require.NoError(t, p.Advance(dt, spheres, cuboids))

	// THEN the sphere pushes it into the box and the box pushes it out
	assert.Equal(t, 2, p.Stats().StaticContacts)
	got := p.Nodes()[0].Position
	testutil.AssertVec3Near(t, "position", mgl64.Vec3{-0.01, 1, 0}, got, 1e-12)
	assert.GreaterOrEqual(t, got.Len(), 1.0, "still outside the sphere")
}

func TestAdvance_FreeNodeRestsOnSphere(t *testing.T) {
	// GIVEN a free node above a unit sphere, gravity of magnitude 9.8
	cfg := sim.DefaultConfig()
	cfg.GravityMultiplier = 9.8 / 9.81
	cfg.NodeCollisionMargin = 0
	p := newInitialized(t, cfg, testutil.SingleNode(mgl64.Vec3{0, 2, 0}))
	sphere := []collision.Sphere{{Center: mgl64.Vec3{}, Radius: 1}}

	// WHEN it falls for 200 ticks
	contacts := 0
	for tick := range 200 {
		require.NoError(t, p.Advance(dt, sphere, nil))
		contacts += p.Stats().StaticContacts

		// THEN it never ends a tick inside the sphere
		require.GreaterOrEqual(t, p.Nodes()[0].Position.Len(), 1-1e-12, "tick %d", tick)
	}

	// AND it comes to rest on the surface
	assert.Positive(t, contacts)
	assert.InDelta(t, 1, p.Nodes()[0].Position[1], 1e-3)
	assert.InDelta(t, 0, p.Nodes()[0].Velocity.Len(), 0.05)
}

func TestAdvance_NodeRestsOnCuboid(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.NodeCollisionMargin = 0
	p := newInitialized(t, cfg, testutil.SingleNode(mgl64.Vec3{0.3, 1, -0.2}))
	box := []collision.Cuboid{{HalfExtents: mgl64.Vec3{1, 0.25, 1}, Orientation: mgl64.QuatIdent()}}

	for range 150 {
		require.NoError(t, p.Advance(dt, nil, box))
		require.GreaterOrEqual(t, p.Nodes()[0].Position[1], 0.25-1e-12)
	}
	assert.InDelta(t, 0.25, p.Nodes()[0].Position[1], 1e-3)
	assert.InDelta(t, 0.3, p.Nodes()[0].Position[0], 1e-9, "no sideways drift on a flat face")
}

func TestFinishInitialization_TwoByTwoRestLengths(t *testing.T) {
	p := newInitialized(t, sim.DefaultConfig(), testutil.GridTopology(2, 2, 1, sim.SpringShear))
	want := []float64{1, 1, math.Sqrt2, 1, math.Sqrt2, 1}
	assert.InDeltaSlice(t, want, p.RestLengths(), 1e-12)

	// rest lengths are fixed once initialized
	for range 20 {
		require.NoError(t, p.Advance(dt, nil, nil))
	}
	assert.InDeltaSlice(t, want, p.RestLengths(), 1e-12)
}

func TestAdvance_PinnedNodesDoNotMove(t *testing.T) {
	topo := testutil.GridTopology(3, 3, 0.1, sim.SpringShear)
	require.NoError(t, topo.Pin(0))
	require.NoError(t, topo.Pin(2))
	p := newInitialized(t, sim.DefaultConfig(), topo)
	pinned := []mgl64.Vec3{p.Nodes()[0].Position, p.Nodes()[2].Position}

	for range 50 {
		require.NoError(t, p.Advance(dt, nil, nil))
	}
	assert.Equal(t, pinned[0], p.Nodes()[0].Position)
	assert.Equal(t, pinned[1], p.Nodes()[2].Position)
	assert.Less(t, p.Nodes()[8].Position[1], 0.0, "free corner sags")
	testutil.AllFinite(t, p.Nodes())
}

func TestResetToInitialState_IdempotentAndReplayable(t *testing.T) {
	// GIVEN a cloth advanced under gravity
	p := newInitialized(t, sim.DefaultConfig(), testutil.GridTopology(3, 3, 0.1))
	initial := slices.Clone(p.Nodes())
	for range 10 {
		require.NoError(t, p.Advance(dt, nil, nil))
	}
	firstRun := slices.Clone(p.Nodes())
	require.NotEqual(t, initial, firstRun)

	// WHEN reset twice
	require.NoError(t, p.ResetToInitialState())
	require.NoError(t, p.ResetToInitialState())

	// THEN the state equals the initial snapshot
	assert.Equal(t, initial, p.Nodes())

	// AND replaying the same inputs reproduces the same trajectory
	for range 10 {
		require.NoError(t, p.Advance(dt, nil, nil))
	}
	assert.Equal(t, firstRun, p.Nodes())
}

func TestEnumerateNearby_DoesNotMutate(t *testing.T) {
	p := newInitialized(t, sim.DefaultConfig(), testutil.GridTopology(4, 4, 0.1))
	before := slices.Clone(p.Nodes())

	got := map[int]bool{}
	for h := range p.EnumerateNearby(mgl64.Vec3{0.15, 0, 0.15}, 0.08) {
		got[h.Index] = true
		assert.Equal(t, before[h.Index].Position, h.Position)
	}
	// the four nodes around (0.15, 0.15) are ~0.0707 away
	assert.Equal(t, map[int]bool{5: true, 6: true, 9: true, 10: true}, got)
	assert.Equal(t, before, p.Nodes())
}

func TestAdvance_NonPositiveDeltaIsNoOp(t *testing.T) {
	p := newInitialized(t, sim.DefaultConfig(), testutil.GridTopology(2, 2, 0.1))
	before := slices.Clone(p.Nodes())
	for _, d := range []float64{0, -dt, math.NaN()} {
		require.NoError(t, p.Advance(d, nil, nil))
	}
	assert.Equal(t, before, p.Nodes())
}

func TestLifecycle_OrderErrors(t *testing.T) {
	p, err := NewProcessor(sim.DefaultConfig(), testutil.GridTopology(2, 2, 0.1))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Advance(dt, nil, nil), sim.ErrInitializationOrder)
	assert.ErrorIs(t, p.ResetToInitialState(), sim.ErrInitializationOrder)

	require.NoError(t, p.FinishInitialization())
	p.Dispose()
	p.Dispose()
	assert.ErrorIs(t, p.Advance(dt, nil, nil), sim.ErrInitializationOrder)
	assert.ErrorIs(t, p.FinishInitialization(), sim.ErrInitializationOrder)
	assert.ErrorIs(t, p.SetPinned(0, true), sim.ErrInitializationOrder)
}

func TestNewProcessor_InvalidConfig(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.SpatialHashingGridSize = -1
	_, err := NewProcessor(cfg, testutil.GridTopology(2, 2, 0.1))
	assert.ErrorIs(t, err, sim.ErrConfiguration)
}

func TestAdvance_InstabilityReportedAndRecoverable(t *testing.T) {
	// GIVEN an absurdly stiff spring stretched by MoveNode
	cfg := sim.DefaultConfig()
	cfg.GravityMultiplier = 0
	cfg.ElasticSpringConstant = 1e300
	cfg.IntegrationType = sim.IntegrationExplicitEuler
	p := newInitialized(t, cfg, testutil.GridTopology(1, 2, 1))
	require.NoError(t, p.MoveNode(1, mgl64.Vec3{2, 0, 0}))

	// WHEN advanced until the state blows up
	var err error
	for range 10 {
		if err = p.Advance(dt, nil, nil); err != nil {
			break
		}
	}

	// THEN a numeric instability is reported
	require.ErrorIs(t, err, sim.ErrNumericInstability)

	// AND the processor remains usable after a reset
	require.NoError(t, p.ResetToInitialState())
	require.NoError(t, p.Advance(dt, nil, nil))
	testutil.AllFinite(t, p.Nodes())
}

func TestAdvance_SubstepsCounted(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.DeltaTimeDivisor = 4
	p := newInitialized(t, cfg, testutil.GridTopology(2, 2, 0.1))
	require.NoError(t, p.Advance(dt, nil, nil))
	assert.Equal(t, 4, p.Stats().Substeps)
}

func TestAdvance_SelfCollisionSeparatesFoldedLayers(t *testing.T) {
	// GIVEN a 1x4 strip whose far end is folded back onto the near end
	cfg := testutil.ZeroGravityConfig()
	cfg.SelfCollision = sim.SelfCollisionConfig{Enabled: true, Distance: 0.05}
	p := newInitialized(t, cfg, testutil.GridTopology(1, 4, 0.1))
	require.NoError(t, p.MoveNode(3, mgl64.Vec3{0, 0.01, 0}))

	// WHEN advanced
	require.NoError(t, p.Advance(dt, nil, nil))

	// THEN the unconnected overlapping pair is pushed out to the minimum
	// separation, each node taking half
	assert.Equal(t, 2, p.Stats().SelfContacts)
	d := p.Nodes()[3].Position.Sub(p.Nodes()[0].Position).Len()
	assert.InDelta(t, 0.05, d, 1e-9)
}
