package layout

import (
	"math"
	"math/rand/v2"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
)

// All forces here are O(n²) over the bodies of one container. Containers are
// laid out one at a time, so n is a branching factor, never the tree size.
// Fixed bodies are never moved by a force.

// =============================================================================
// Collide
// =============================================================================

// Collide pushes apart bodies whose spheres, grown by Padding, overlap. It
// looks at positions predicted from the current velocity and splits each push
// by squared radius so small bodies give way to large ones.
type Collide struct {
	Padding  float64
	Strength float64
	Rand     *rand.Rand
}

func (c *Collide) Apply(bodies []*Body, _ float64) {
	for i, a := range bodies {
		if a.Fixed {
			continue
		}
		ra := a.Radius + c.Padding
		for _, b := range bodies[i+1:] {
			if b.Fixed {
				continue
			}
			rb := b.Radius + c.Padding
			r := ra + rb
			d := a.Pos.Add(a.Vel).Sub(b.Pos.Add(b.Vel))
			if d.IsZero() {
				d.X = jiggle(c.Rand)
			}
			l2 := d.Len2()
			if l2 >= r*r {
				continue
			}
			l := math.Sqrt(l2)
			k := (r - l) / l * c.Strength
			push := d.Scale(k)
			ra2, rb2 := ra*ra, rb*rb
			share := rb2 / (ra2 + rb2)
			a.Vel = a.Vel.Add(push.Scale(share))
			b.Vel = b.Vel.Sub(push.Scale(1 - share))
		}
	}
}

// =============================================================================
// ManyBody
// =============================================================================

// ManyBody applies an inverse-square charge between every pair of bodies.
// Negative strength repels.
type ManyBody struct {
	Strength float64
	Rand     *rand.Rand
}

func (m *ManyBody) Apply(bodies []*Body, alpha float64) {
	for i, a := range bodies {
		if a.Fixed {
			continue
		}
		for j, b := range bodies {
			if i == j || b.Fixed {
				continue
			}
			d := b.Pos.Sub(a.Pos)
			if d.IsZero() {
				d.X = jiggle(m.Rand)
			}
			l2 := max(d.Len2(), 1)
			a.Vel = a.Vel.Add(d.Scale(m.Strength * alpha / l2))
		}
	}
}

// =============================================================================
// Link
// =============================================================================

// Link pulls every free body toward a target distance from the anchor body.
// The target depends on the child's kind: leaves sit much closer to the
// anchor than sub-containers.
type Link struct {
	Anchor       int // index into bodies
	DistanceBase float64
	Strength     float64
	Rand         *rand.Rand
}

// KindDistance returns the link distance factor for a child of kind k.
func KindDistance(k hierarchy.Kind) float64 {
	switch k {
	case hierarchy.KindMapping:
		return 0.1
	case hierarchy.KindControl:
		return 0.2
	case hierarchy.KindCategory:
		return 0.5
	default:
		return 1
	}
}

func (l *Link) Apply(bodies []*Body, alpha float64) {
	if l.Anchor < 0 || l.Anchor >= len(bodies) {
		return
	}
	src := bodies[l.Anchor]
	degree := float64(len(bodies) - 1)
	bias := degree / (degree + 1)
	for i, b := range bodies {
		if i == l.Anchor || b.Fixed {
			continue
		}
		d := b.Pos.Add(b.Vel).Sub(src.Pos.Add(src.Vel))
		if d.IsZero() {
			d.X = jiggle(l.Rand)
		}
		dist := d.Len()
		want := l.DistanceBase * KindDistance(b.Kind)
		k := (dist - want) / dist * alpha * l.Strength
		b.Vel = b.Vel.Sub(d.Scale(k * bias))
		if !src.Fixed {
			src.Vel = src.Vel.Add(d.Scale(k * (1 - bias)))
		}
	}
}

// =============================================================================
// Cluster
// =============================================================================

// Cluster pulls bodies sharing a non-empty Group toward the group's centroid.
type Cluster struct {
	Strength float64
}

func (c *Cluster) Apply(bodies []*Body, alpha float64) {
	type acc struct {
		sum Vec3
		n   int
	}
	groups := make(map[string]*acc)
	for _, b := range bodies {
		if b.Fixed || b.Group == "" {
			continue
		}
		g := groups[b.Group]
		if g == nil {
			g = &acc{}
			groups[b.Group] = g
		}
		g.sum = g.sum.Add(b.Pos)
		g.n++
	}
	for _, b := range bodies {
		if b.Fixed || b.Group == "" {
			continue
		}
		g := groups[b.Group]
		if g.n < 2 {
			continue
		}
		center := g.sum.Scale(1 / float64(g.n))
		b.Vel = b.Vel.Add(center.Sub(b.Pos).Scale(c.Strength * alpha))
	}
}

// =============================================================================
// Center
// =============================================================================

// Center shifts free bodies so their centroid drifts toward the origin.
type Center struct {
	Strength float64
}

func (c *Center) Apply(bodies []*Body, _ float64) {
	var sum Vec3
	n := 0
	for _, b := range bodies {
		if !b.Fixed {
			sum = sum.Add(b.Pos)
			n++
		}
	}
	if n == 0 {
		return
	}
	shift := sum.Scale(c.Strength / float64(n))
	for _, b := range bodies {
		if !b.Fixed {
			b.Pos = b.Pos.Sub(shift)
		}
	}
}

// =============================================================================
// Bounding
// =============================================================================

// Bounding keeps each free body within ParentRadius*Scale - radius of the
// origin. Corrections are proportional to the overflow and to the
// temperature max(AlphaMin, alpha), so they fade as the system cools and the
// final separation passes own the last word. Fixed bodies are exempt.
type Bounding struct {
	ParentRadius float64
	Scale        float64
	Strength     float64
	AlphaMin     float64
}

// Heat returns the correction multiplier at temperature alpha.
func (f *Bounding) Heat(alpha float64) float64 {
	return max(f.AlphaMin, alpha)
}

// Limit returns the largest center distance allowed for a body of radius r.
func (f *Bounding) Limit(r float64) float64 {
	return max(f.ParentRadius*f.Scale-r, 0)
}

func (f *Bounding) Apply(bodies []*Body, alpha float64) {
	heat := f.Heat(alpha)
	for _, b := range bodies {
		if b.Fixed {
			continue
		}
		limit := f.Limit(b.Radius)
		l := b.Pos.Len()
		if l <= limit || l == 0 {
			continue
		}
		target := b.Pos.Scale(limit / l)
		b.Vel = b.Vel.Add(target.Sub(b.Pos).Scale(f.Strength * heat))
	}
}

func jiggle(r *rand.Rand) float64 {
	if r == nil {
		return 1e-6
	}
	return (r.Float64() - 0.5) * 1e-6
}
