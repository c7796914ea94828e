package cmd

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/clothfold/clothsim/sim"
	"github.com/clothfold/clothsim/sim/cloth"
	"github.com/clothfold/clothsim/sim/collision"
)

// SceneConfig describes the cloth and the static colliders around it.
type SceneConfig struct {
	Cloth   ClothConfig    `yaml:"cloth"`
	Spheres []SphereConfig `yaml:"spheres"`
	Cuboids []CuboidConfig `yaml:"cuboids"`
}

// ClothConfig describes a rows x cols cloth laid out in the XZ plane.
type ClothConfig struct {
	Rows    int        `yaml:"rows"`
	Cols    int        `yaml:"cols"`
	Spacing float64    `yaml:"spacing"`
	Origin  [3]float64 `yaml:"origin"`
	// InverseMass per node; 0 uses physics_world.spring_inverse_mass.
	InverseMass float64 `yaml:"inverse_mass"`
	// Mesh builds a triangulated mesh network (mesh-elastic / mesh-shear)
	// instead of the structured elastic / shear / bend one.
	Mesh    bool     `yaml:"mesh"`
	Springs []string `yaml:"springs"` // structured families: elastic, shear, bend
	Pinned  [][2]int `yaml:"pinned"`  // [row, col] pairs
}

// SphereConfig is a sphere collider. Velocity moves it every tick.
type SphereConfig struct {
	Center   [3]float64 `yaml:"center"`
	Radius   float64    `yaml:"radius"`
	Velocity [3]float64 `yaml:"velocity"`
}

// CuboidConfig is an oriented box collider.
type CuboidConfig struct {
	Center      [3]float64     `yaml:"center"`
	HalfExtents [3]float64     `yaml:"half_extents"`
	Rotation    RotationConfig `yaml:"rotation"`
}

// RotationConfig is an axis-angle rotation; a zero axis means none.
type RotationConfig struct {
	Axis     [3]float64 `yaml:"axis"`
	AngleDeg float64    `yaml:"angle_deg"`
}

// DefaultScene is a 16x16 cloth, 1.5 m wide, held 0.6 m above a ball.
func DefaultScene() SceneConfig {
	return SceneConfig{
		Cloth: ClothConfig{
			Rows:    16,
			Cols:    16,
			Spacing: 0.1,
			Origin:  [3]float64{-0.75, 0.6, -0.75},
			Springs: []string{"elastic", "shear", "bend"},
		},
		Spheres: []SphereConfig{{Radius: 0.3}},
	}
}

// Scene is a SceneConfig turned into a topology and live colliders.
type Scene struct {
	Topology *sim.Topology
	Spheres  []*collision.SphereCollider
	Cuboids  []*collision.CuboidCollider

	sphereStart []mgl64.Vec3
	velocities  []mgl64.Vec3
}

// BuildScene validates sc and builds the cloth topology and colliders.
func BuildScene(sc SceneConfig, physics *sim.Config) (*Scene, error) {
	c := sc.Cloth
	if !(c.Spacing > 0) {
		return nil, fmt.Errorf("%w: scene.cloth.spacing must be > 0, got %v", sim.ErrConfiguration, c.Spacing)
	}
	opts := cloth.GridOptions{Rows: c.Rows, Cols: c.Cols, InverseMass: c.InverseMass}
	if opts.InverseMass == 0 {
		opts.InverseMass = physics.SpringInverseMass
	}
	for _, rc := range c.Pinned {
		if rc[0] < 0 || rc[0] >= c.Rows || rc[1] < 0 || rc[1] >= c.Cols {
			return nil, fmt.Errorf("%w: pinned node %v outside the %dx%d cloth", sim.ErrConfiguration, rc, c.Rows, c.Cols)
		}
		opts.Pinned = append(opts.Pinned, rc[0]*c.Cols+rc[1])
	}

	bones := cloth.GridBones(mgl64.Vec3(c.Origin), c.Rows, c.Cols, c.Spacing)
	var (
		topo *sim.Topology
		err  error
	)
	if c.Mesh {
		topo, err = cloth.MeshCloth(bones, cloth.GridTriangles(c.Rows, c.Cols), opts)
	} else {
		opts.Springs, err = parseSpringSet(c.Springs)
		if err != nil {
			return nil, err
		}
		topo, err = cloth.RectangularCloth(bones, opts)
	}
	if err != nil {
		return nil, err
	}

	s := &Scene{Topology: topo}
	for i, sp := range sc.Spheres {
		if !(sp.Radius > 0) {
			return nil, fmt.Errorf("%w: scene.spheres[%d].radius must be > 0, got %v", sim.ErrConfiguration, i, sp.Radius)
		}
		center := mgl64.Vec3(sp.Center)
		s.Spheres = append(s.Spheres, collision.NewSphereCollider(center, sp.Radius))
		s.sphereStart = append(s.sphereStart, center)
		s.velocities = append(s.velocities, mgl64.Vec3(sp.Velocity))
	}
	for i, cb := range sc.Cuboids {
		he := mgl64.Vec3(cb.HalfExtents)
		if !(he[0] > 0 && he[1] > 0 && he[2] > 0) {
			return nil, fmt.Errorf("%w: scene.cuboids[%d].half_extents must be > 0, got %v", sim.ErrConfiguration, i, he)
		}
		s.Cuboids = append(s.Cuboids, collision.NewCuboidCollider(mgl64.Vec3(cb.Center), he, cb.Rotation.quat()))
	}
	return s, nil
}

func parseSpringSet(names []string) (cloth.SpringSet, error) {
	var set cloth.SpringSet
	for _, name := range names {
		t, err := sim.ParseSpringDamperType(name)
		if err != nil {
			return set, err
		}
		switch t {
		case sim.SpringElastic:
			set.Elastic = true
		case sim.SpringShear:
			set.Shear = true
		case sim.SpringBend:
			set.Bend = true
		default:
			return set, fmt.Errorf("%w: spring type %q needs scene.cloth.mesh: true", sim.ErrConfiguration, name)
		}
	}
	return set, nil
}

func (r RotationConfig) quat() mgl64.Quat {
	axis := mgl64.Vec3(r.Axis)
	if axis.Len() == 0 || r.AngleDeg == 0 {
		return mgl64.QuatIdent()
	}
	return mgl64.QuatRotate(mgl64.DegToRad(r.AngleDeg), axis.Normalize())
}

// SphereSources returns the spheres as controller sources.
func (s *Scene) SphereSources() []collision.SphereSource {
	out := make([]collision.SphereSource, len(s.Spheres))
	for i, sp := range s.Spheres {
		out[i] = sp
	}
	return out
}

// CuboidSources returns the boxes as controller sources.
func (s *Scene) CuboidSources() []collision.CuboidSource {
	out := make([]collision.CuboidSource, len(s.Cuboids))
	for i, cb := range s.Cuboids {
		out[i] = cb
	}
	return out
}

// MoveColliders places every sphere where its velocity has carried it
// after elapsed seconds.
func (s *Scene) MoveColliders(elapsed float64) {
	for i, sp := range s.Spheres {
		sp.Move(s.sphereStart[i].Add(s.velocities[i].Mul(elapsed)))
	}
}
