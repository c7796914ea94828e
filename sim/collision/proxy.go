// Package collision holds the per-tick collider snapshots and the narrow
// phase contact response. It has no dependency on sim/; it works on plain
// positions and velocities.
package collision

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Sphere is an immutable snapshot of a static sphere collider.
type Sphere struct {
	Center mgl64.Vec3
	Radius float64
}

// Cuboid is an immutable snapshot of a static oriented box collider.
type Cuboid struct {
	Center      mgl64.Vec3
	HalfExtents mgl64.Vec3
	Orientation mgl64.Quat
}

// Hit describes a contact between a point and a proxy.
type Hit struct {
	Normal  mgl64.Vec3 // outward unit normal at the contact
	Depth   float64    // penetration depth along Normal (>= 0)
	Surface mgl64.Vec3 // the point projected out of penetration
}

// Material carries the response constants of a contact.
type Material struct {
	Restitution float64 // [0,1]
	Friction    float64 // [0,1], fraction of tangential velocity removed
	Margin      float64 // node radius added to every proxy
}

var up = mgl64.Vec3{0, 1, 0}

// Contact tests point p against the sphere inflated by margin. A point on
// the inflated surface counts as touching with zero depth.
func (s Sphere) Contact(p mgl64.Vec3, margin float64) (Hit, bool) {
	reach := s.Radius + margin
	d := p.Sub(s.Center)
	distSq := d.LenSqr()
	if distSq > reach*reach {
		return Hit{}, false
	}
	dist := math.Sqrt(distSq)
	normal := up
	if dist > 0 {
		normal = d.Mul(1 / dist)
	}
	return Hit{
		Normal:  normal,
		Depth:   reach - dist,
		Surface: s.Center.Add(normal.Mul(reach)),
	}, true
}

// Bounds returns a sphere enclosing the inflated proxy, used by the broad phase.
func (s Sphere) Bounds(margin float64) (mgl64.Vec3, float64) {
	return s.Center, s.Radius + margin
}

// Contact tests point p against the box inflated by margin on every face.
// The point is pushed out through the face of least penetration; ties go to
// the lowest axis (x, then y, then z).
func (c Cuboid) Contact(p mgl64.Vec3, margin float64) (Hit, bool) {
	q := c.orientation()
	local := q.Conjugate().Rotate(p.Sub(c.Center))
	axis := -1
	depth := math.Inf(1)
	for i := 0; i < 3; i++ {
		pen := c.HalfExtents[i] + margin - math.Abs(local[i])
		if pen < 0 {
			return Hit{}, false
		}
		if pen < depth {
			depth, axis = pen, i
		}
	}
	var nl mgl64.Vec3
	if local[axis] < 0 {
		nl[axis] = -1
	} else {
		nl[axis] = 1
	}
	surface := local
	surface[axis] = nl[axis] * (c.HalfExtents[axis] + margin)
	return Hit{
		Normal:  q.Rotate(nl),
		Depth:   depth,
		Surface: c.Center.Add(q.Rotate(surface)),
	}, true
}

// Bounds returns a sphere enclosing the inflated box.
func (c Cuboid) Bounds(margin float64) (mgl64.Vec3, float64) {
	return c.Center, c.HalfExtents.Len() + margin*math.Sqrt(3)
}

func (c Cuboid) orientation() mgl64.Quat {
	if c.Orientation.Len() == 0 {
		return mgl64.QuatIdent()
	}
	return c.Orientation.Normalize()
}

// Respond moves the node to the contact surface and, if it was moving into
// the proxy, reflects the normal velocity scaled by restitution and removes
// a friction fraction of the tangential velocity. It never adds inward
// velocity.
func Respond(pos, vel *mgl64.Vec3, hit Hit, m Material) {
	*pos = hit.Surface
	vn := vel.Dot(hit.Normal)
	if vn >= 0 {
		return
	}
	normalPart := hit.Normal.Mul(vn)
	tangent := vel.Sub(normalPart)
	*vel = tangent.Mul(1 - m.Friction).Sub(normalPart.Mul(m.Restitution))
}
