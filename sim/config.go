package sim

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// Backend names accepted by Config.Backend.
const (
	BackendSequential = "sequential"
	BackendParallel   = "parallel"
)

// IntegrationType selects the explicit time integration scheme.
// The scheme is always an explicit configuration choice, never inferred.
type IntegrationType string

const (
	IntegrationExplicitEuler     IntegrationType = "explicit-euler"
	IntegrationSemiImplicitEuler IntegrationType = "semi-implicit-euler"
	IntegrationVerlet            IntegrationType = "verlet"
)

// DefaultClothGravity is the gravity acceleration before GravityMultiplier
// is applied (m/s²).
var DefaultClothGravity = mgl64.Vec3{0, -9.81, 0}

// SelfCollisionConfig controls the optional node-vs-node contact policy.
type SelfCollisionConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Distance float64 `yaml:"distance"` // minimum separation between unconnected nodes (must be > 0 when enabled)
}

// Config holds the process-wide physical constants of the cloth world.
// It is loaded once, validated, and then shared read-only by every backend.
type Config struct {
	TimeScale         float64         `yaml:"time_scale"`
	Backend           string          `yaml:"backend"`            // "sequential" (default) or "parallel"
	DeltaTimeDivisor  int             `yaml:"delta_time_divisor"` // substeps per fixed tick (>= 1)
	FixedDeltaTime    float64         `yaml:"fixed_delta_time"`   // host fixed tick in seconds (> 0)
	GravityMultiplier float64         `yaml:"gravity_multiplier"`
	IntegrationType   IntegrationType `yaml:"integration_type"`

	ElasticSpringConstant          float64 `yaml:"elastic_spring_constant"`
	ShearSpringConstant            float64 `yaml:"shear_spring_constant"`
	BendSpringConstant             float64 `yaml:"bend_spring_constant"`
	MeshBasedElasticSpringConstant float64 `yaml:"mesh_based_elastic_spring_constant"`
	MeshBasedShearSpringConstant   float64 `yaml:"mesh_based_shear_spring_constant"`

	SpringInverseMass float64 `yaml:"spring_inverse_mass"`
	SpringDamping     float64 `yaml:"spring_damping"`

	// RestitutionConstant is the ratio of final to initial normal velocity
	// after a contact. Must lie in [0,1].
	RestitutionConstant float64 `yaml:"restitution_constant"`
	FrictionConstant    float64 `yaml:"friction_constant"`

	SpatialHashingGridSize float64             `yaml:"spatial_hashing_grid_size"`
	NodeCollisionMargin    float64             `yaml:"node_collision_margin"`
	SelfCollision          SelfCollisionConfig `yaml:"self_collision"`

	ParallelWorkers  int `yaml:"parallel_workers"`   // 0 = GOMAXPROCS
	ParallelMaxNodes int `yaml:"parallel_max_nodes"` // 0 = backend default buffer capacity

	InstabilityCheck bool `yaml:"instability_check"`
}

// DefaultConfig returns the constants used by the training scene.
func DefaultConfig() *Config {
	return &Config{
		TimeScale:                      1,
		Backend:                        BackendSequential,
		DeltaTimeDivisor:               1,
		FixedDeltaTime:                 0.02,
		GravityMultiplier:              1,
		IntegrationType:                IntegrationSemiImplicitEuler,
		ElasticSpringConstant:          500,
		ShearSpringConstant:            250,
		BendSpringConstant:             100,
		MeshBasedElasticSpringConstant: 500,
		MeshBasedShearSpringConstant:   100,
		SpringInverseMass:              1,
		SpringDamping:                  2,
		RestitutionConstant:            0.2,
		FrictionConstant:               0.3,
		SpatialHashingGridSize:         0.1,
		NodeCollisionMargin:            0.01,
		InstabilityCheck:               true,
	}
}

// Gravity returns the scaled gravity acceleration.
func (c *Config) Gravity() mgl64.Vec3 {
	return DefaultClothGravity.Mul(c.GravityMultiplier)
}

// SubstepDelta returns the duration of one substep of a tick of length dt.
func (c *Config) SubstepDelta(dt float64) float64 {
	return dt / float64(c.DeltaTimeDivisor)
}

// SpringConstantForType returns the stiffness for the given spring type.
// An unknown type is a configuration error, never a silent default.
func (c *Config) SpringConstantForType(t SpringDamperType) (float64, error) {
	switch t {
	case SpringElastic:
		return c.ElasticSpringConstant, nil
	case SpringShear:
		return c.ShearSpringConstant, nil
	case SpringBend:
		return c.BendSpringConstant, nil
	case SpringMeshElastic:
		return c.MeshBasedElasticSpringConstant, nil
	case SpringMeshShear:
		return c.MeshBasedShearSpringConstant, nil
	default:
		return 0, fmt.Errorf("%w: unrecognized spring damper type %d", ErrConfiguration, int(t))
	}
}

// IsValidBackend returns true if name selects a known backend.
func IsValidBackend(name string) bool {
	return name == BackendSequential || name == BackendParallel
}

// Validate checks every constant once, before any processor exists.
// Every violation is reported with ErrConfiguration.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrConfiguration)
	}
	if !IsValidBackend(c.Backend) {
		return fmt.Errorf("%w: unknown backend %q (valid: %s, %s)", ErrConfiguration, c.Backend, BackendSequential, BackendParallel)
	}
	if _, ok := integrators[c.IntegrationType]; !ok {
		return fmt.Errorf("%w: unknown integration type %q (valid: %v)", ErrConfiguration, c.IntegrationType, IntegrationTypeNames())
	}
	if c.DeltaTimeDivisor < 1 {
		return fmt.Errorf("%w: delta_time_divisor must be >= 1, got %d", ErrConfiguration, c.DeltaTimeDivisor)
	}
	if err := requirePositive("fixed_delta_time", c.FixedDeltaTime); err != nil {
		return err
	}
	if err := requirePositive("spatial_hashing_grid_size", c.SpatialHashingGridSize); err != nil {
		return err
	}
	nonNegative := []struct {
		name  string
		value float64
	}{
		{"time_scale", c.TimeScale},
		{"gravity_multiplier", c.GravityMultiplier},
		{"elastic_spring_constant", c.ElasticSpringConstant},
		{"shear_spring_constant", c.ShearSpringConstant},
		{"bend_spring_constant", c.BendSpringConstant},
		{"mesh_based_elastic_spring_constant", c.MeshBasedElasticSpringConstant},
		{"mesh_based_shear_spring_constant", c.MeshBasedShearSpringConstant},
		{"spring_inverse_mass", c.SpringInverseMass},
		{"spring_damping", c.SpringDamping},
		{"node_collision_margin", c.NodeCollisionMargin},
	}
	for _, f := range nonNegative {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
			return fmt.Errorf("%w: %s must be a finite value >= 0, got %v", ErrConfiguration, f.name, f.value)
		}
	}
	if err := requireUnit("restitution_constant", c.RestitutionConstant); err != nil {
		return err
	}
	if err := requireUnit("friction_constant", c.FrictionConstant); err != nil {
		return err
	}
	if c.SelfCollision.Enabled {
		if err := requirePositive("self_collision.distance", c.SelfCollision.Distance); err != nil {
			return err
		}
	}
	if c.ParallelWorkers < 0 {
		return fmt.Errorf("%w: parallel_workers must be >= 0, got %d", ErrConfiguration, c.ParallelWorkers)
	}
	if c.ParallelMaxNodes < 0 {
		return fmt.Errorf("%w: parallel_max_nodes must be >= 0, got %d", ErrConfiguration, c.ParallelMaxNodes)
	}
	return nil
}

func requirePositive(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: %s must be a finite value > 0, got %v", ErrConfiguration, name, v)
	}
	return nil
}

func requireUnit(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %s must lie in [0,1], got %v", ErrConfiguration, name, v)
	}
	return nil
}

// IntegrationTypeNames returns the registered integration schemes, sorted.
func IntegrationTypeNames() []string {
	names := make([]string, 0, len(integrators))
	for k := range integrators {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}
