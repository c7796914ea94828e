package collision

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// SphereSource is a live sphere collider the controller snapshots each tick.
type SphereSource interface {
	SphereProxy() Sphere
}

// CuboidSource is a live box collider the controller snapshots each tick.
type CuboidSource interface {
	CuboidProxy() Cuboid
}

// SphereCollider is a movable sphere in the scene. Other systems may move it
// from another goroutine; the simulation only ever sees a snapshot.
type SphereCollider struct {
	mu     sync.RWMutex
	center mgl64.Vec3
	radius float64
}

func NewSphereCollider(center mgl64.Vec3, radius float64) *SphereCollider {
	return &SphereCollider{center: center, radius: radius}
}

func (c *SphereCollider) Move(center mgl64.Vec3) {
	c.mu.Lock()
	c.center = center
	c.mu.Unlock()
}

func (c *SphereCollider) SetRadius(radius float64) {
	c.mu.Lock()
	c.radius = radius
	c.mu.Unlock()
}

func (c *SphereCollider) SphereProxy() Sphere {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Sphere{Center: c.center, Radius: c.radius}
}

// CuboidCollider is a movable oriented box in the scene.
type CuboidCollider struct {
	mu          sync.RWMutex
	center      mgl64.Vec3
	halfExtents mgl64.Vec3
	orientation mgl64.Quat
}

func NewCuboidCollider(center, halfExtents mgl64.Vec3, orientation mgl64.Quat) *CuboidCollider {
	return &CuboidCollider{center: center, halfExtents: halfExtents, orientation: orientation}
}

func (c *CuboidCollider) Move(center mgl64.Vec3, orientation mgl64.Quat) {
	c.mu.Lock()
	c.center = center
	c.orientation = orientation
	c.mu.Unlock()
}

func (c *CuboidCollider) CuboidProxy() Cuboid {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Cuboid{Center: c.center, HalfExtents: c.halfExtents, Orientation: c.orientation}
}

// CaptureSpheres snapshots every source into dst, reusing its capacity.
func CaptureSpheres(dst []Sphere, srcs []SphereSource) []Sphere {
	dst = dst[:0]
	for _, s := range srcs {
		dst = append(dst, s.SphereProxy())
	}
	return dst
}

// CaptureCuboids snapshots every source into dst, reusing its capacity.
func CaptureCuboids(dst []Cuboid, srcs []CuboidSource) []Cuboid {
	dst = dst[:0]
	for _, s := range srcs {
		dst = append(dst, s.CuboidProxy())
	}
	return dst
}
