// Package testutil provides shared test infrastructure for the cloth
// simulator: small topologies and float assertions used across sim/ and its
// backend test packages. It imports only sim so backend tests can use it.
package testutil

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/clothfold/clothsim/sim"
)

// GridTopology builds a rows x cols grid in the y=0 plane with the given
// spacing and unit inverse mass. Elastic springs join 4-neighbours;
// passing sim.SpringShear or sim.SpringBend adds those springs too.
func GridTopology(rows, cols int, spacing float64, extra ...sim.SpringDamperType) *sim.Topology {
	topo := sim.NewTopology(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			topo.AddNode(r, c, mgl64.Vec3{float64(c) * spacing, 0, float64(r) * spacing}, 1)
		}
	}
	want := map[sim.SpringDamperType]bool{sim.SpringElastic: true}
	for _, t := range extra {
		want[t] = true
	}
	link := func(r, c, r2, c2 int, typ sim.SpringDamperType) {
		if !want[typ] || r2 < 0 || r2 >= rows || c2 < 0 || c2 >= cols {
			return
		}
		if err := topo.AddSpring(topo.Index(r, c), topo.Index(r2, c2), typ); err != nil {
			panic(err)
		}
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			link(r, c, r, c+1, sim.SpringElastic)
			link(r, c, r+1, c, sim.SpringElastic)
			link(r, c, r+1, c+1, sim.SpringShear)
			link(r, c, r+1, c-1, sim.SpringShear)
			link(r, c, r, c+2, sim.SpringBend)
			link(r, c, r+2, c, sim.SpringBend)
		}
	}
	return topo
}

// SingleNode builds a one-node topology at p with unit inverse mass.
func SingleNode(p mgl64.Vec3) *sim.Topology {
	topo := sim.NewTopology(1, 1)
	topo.AddNode(0, 0, p, 1)
	return topo
}

// ZeroGravityConfig returns DefaultConfig with gravity switched off.
func ZeroGravityConfig() *sim.Config {
	cfg := sim.DefaultConfig()
	cfg.GravityMultiplier = 0
	return cfg
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertVec3Near fails if want and got differ by more than tol in any
// component.
func AssertVec3Near(t *testing.T, name string, want, got mgl64.Vec3, tol float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		if math.Abs(want[i]-got[i]) > tol {
			t.Errorf("%s: got %v, want %v (tol=%v)", name, got, want, tol)
			return
		}
	}
}

// AssertNodesNear compares positions and velocities node by node.
func AssertNodesNear(t *testing.T, want, got []sim.Node, tol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("node count: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if want[i].Position.Sub(got[i].Position).Len() > tol || want[i].Velocity.Sub(got[i].Velocity).Len() > tol {
			t.Errorf("node %d: got pos=%v vel=%v, want pos=%v vel=%v",
				i, got[i].Position, got[i].Velocity, want[i].Position, want[i].Velocity)
			return
		}
	}
}

// AllFinite fails if any node has non-finite state.
func AllFinite(t *testing.T, nodes []sim.Node) {
	t.Helper()
	for i := range nodes {
		if !nodes[i].Finite() {
			t.Fatalf("node %d is not finite: pos=%v vel=%v", i, nodes[i].Position, nodes[i].Velocity)
		}
	}
}
