package layout

import (
	"cmp"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
)

// maxRelaxPasses bounds the pairwise separation passes run after the
// simulation before the uniform scale-out takes over.
const maxRelaxPasses = 64

// Item is one sphere handed to [LayoutSubtree]: the container itself or one
// of its direct children.
type Item struct {
	ID     int
	Name   string
	Kind   hierarchy.Kind
	Weight float64
	// Radius is the child's current radius. Zero or invalid values are
	// replaced by the provisional volume radius of Weight.
	Radius float64
	// Group clusters children together; mapping leaves use their regime.
	Group string
}

// Subtree is the result of laying out one container.
type Subtree struct {
	Container int
	// Radius is the container's authoritative enclosure radius.
	Radius float64
	// Positions holds each child's center relative to the container center.
	Positions map[int]Vec3
	// Radii holds the radius each child was laid out with.
	Radii map[int]float64
	// Order lists child ids by descending weight, ties in input order.
	Order []int
}

// LayoutSubtree places the direct children of container inside it and returns
// their local positions and the container's enclosure radius. depth is the
// container's depth in the tree and only affects padding.
//
// The result is deterministic for a given input and Options.Seed.
func LayoutSubtree(container Item, depth int, children []Item, opts Options) Subtree {
	opts.SetDefaults()
	s := newSubtreeSim(container, depth, children, opts)
	s.sim.Run(opts.Iterations)
	return s.result()
}

// subtreeSim keeps a container's simulation alive so it can be re-warmed
// from its settled positions when options or child radii change.
type subtreeSim struct {
	container Item
	depth     int
	items     []Item
	bodies    []*Body // bodies[0] is the pinned container anchor
	sim       *Simulation
	opts      Options
	rng       *rand.Rand
	version   uint64
}

func newSubtreeSim(container Item, depth int, children []Item, opts Options) *subtreeSim {
	items := slices.Clone(children)
	for i := range items {
		items[i].Weight = opts.Radius.Weight(items[i].Weight)
		if !finite(items[i].Radius) || items[i].Radius <= 0 {
			items[i].Radius = opts.Radius.Volume(items[i].Weight)
		}
	}
	slices.SortStableFunc(items, func(a, b Item) int {
		return cmp.Compare(b.Weight, a.Weight)
	})

	s := &subtreeSim{
		container: container,
		depth:     depth,
		items:     items,
		opts:      opts,
		rng:       rand.New(rand.NewPCG(opts.Seed, nameSeed(container.Name))),
	}

	s.bodies = make([]*Body, 0, len(items)+1)
	s.bodies = append(s.bodies, &Body{ID: container.ID, Fixed: true, Kind: container.Kind})
	spread := s.spread()
	for _, it := range items {
		s.bodies = append(s.bodies, &Body{
			ID:     it.ID,
			Pos:    s.jitter(spread),
			Radius: it.Radius,
			Group:  it.Group,
			Kind:   it.Kind,
			Weight: it.Weight,
		})
	}
	s.sim = NewSimulation(s.bodies, opts.Iterations)
	s.installForces()
	return s
}

// spread returns the edge length of the seeding cube: proportional to the
// cube root of the child count and the largest padded child.
func (s *subtreeSim) spread() float64 {
	maxR := 0.0
	for _, it := range s.items {
		maxR = max(maxR, it.Radius)
	}
	return math.Cbrt(float64(len(s.items))) * (maxR + s.opts.CollisionPadding) * 2
}

func (s *subtreeSim) jitter(spread float64) Vec3 {
	return Vec3{
		X: (s.rng.Float64() - 0.5) * spread,
		Y: (s.rng.Float64() - 0.5) * spread,
		Z: (s.rng.Float64() - 0.5) * spread,
	}
}

// installForces (re)builds the force list from the current options and radii.
func (s *subtreeSim) installForces() {
	s.sim.forces = nil
	if len(s.items) < 2 {
		return
	}
	o := s.opts
	radii := s.radii()
	parent := max(o.Radius.Volume(s.container.Weight), o.Radius.Packing(radii, o.CollisionPadding))

	s.sim.AddForce(&Collide{Padding: o.CollisionPadding, Strength: o.CollideStrength, Rand: s.rng})
	s.sim.AddForce(&ManyBody{Strength: o.RepulsionStrength, Rand: s.rng})
	s.sim.AddForce(&Link{Anchor: 0, DistanceBase: o.LinkDistanceBase, Strength: o.LinkStrength, Rand: s.rng})
	s.sim.AddForce(&Cluster{Strength: o.ClusterStrength})
	s.sim.AddForce(&Center{Strength: o.CenterStrength})
	s.sim.AddForce(&Bounding{
		ParentRadius: parent,
		Scale:        o.BoundsScale,
		Strength:     o.BoundsStrength,
		AlphaMin:     s.sim.AlphaMin,
	})
}

func (s *subtreeSim) radii() []float64 {
	out := make([]float64, len(s.items))
	for i, it := range s.items {
		out[i] = it.Radius
	}
	return out
}

// sameChildren reports whether children lists the same ids as the simulation.
func (s *subtreeSim) sameChildren(children []Item) bool {
	if len(children) != len(s.items) {
		return false
	}
	ids := make(map[int]struct{}, len(children))
	for _, c := range children {
		ids[c.ID] = struct{}{}
	}
	for _, it := range s.items {
		if _, ok := ids[it.ID]; !ok {
			return false
		}
	}
	return true
}

// setRadii updates child radii and reports whether any changed.
func (s *subtreeSim) setRadii(children []Item) bool {
	byID := make(map[int]float64, len(children))
	for _, c := range children {
		byID[c.ID] = c.Radius
	}
	changed := false
	for i := range s.items {
		r, ok := byID[s.items[i].ID]
		if !ok || !finite(r) || r <= 0 {
			continue
		}
		if r != s.items[i].Radius {
			s.items[i].Radius = r
			s.bodies[i+1].Radius = r
			changed = true
		}
	}
	if changed {
		s.installForces()
	}
	return changed
}

// setOptions swaps the physics options and rebuilds the forces.
func (s *subtreeSim) setOptions(opts Options) {
	s.opts = opts
	s.installForces()
}

// rewarm reheats the simulation to alpha and cools it again from the current
// positions. It returns the number of ticks run.
func (s *subtreeSim) rewarm(alpha float64) int {
	n := min(s.sim.Reheat(alpha), s.opts.Iterations)
	s.sim.Run(n)
	return n
}

// result finalizes a copy of the simulated positions.
func (s *subtreeSim) result() Subtree {
	out := Subtree{
		Container: s.container.ID,
		Positions: make(map[int]Vec3, len(s.items)),
		Radii:     make(map[int]float64, len(s.items)),
		Order:     make([]int, len(s.items)),
	}
	for i, it := range s.items {
		out.Order[i] = it.ID
		out.Radii[it.ID] = it.Radius
	}

	switch len(s.items) {
	case 0:
		out.Radius = s.opts.Radius.Volume(s.container.Weight)
		return out
	case 1:
		out.Positions[s.items[0].ID] = Vec3{}
		out.Radius = s.opts.Radius.Enclosure(s.container.Weight, s.depth, []Vec3{{}}, s.radii())
		return out
	}

	pos := make([]Vec3, len(s.items))
	for i := range s.items {
		p := s.bodies[i+1].Pos
		if !p.IsFinite() {
			p = Vec3{}
		}
		pos[i] = p
	}
	radii := s.radii()
	s.separate(pos, radii)

	for i, it := range s.items {
		out.Positions[it.ID] = pos[i]
	}
	out.Radius = s.opts.Radius.Enclosure(s.container.Weight, s.depth, pos, radii)
	return out
}

// separate removes any remaining sibling overlap. Relaxation passes push
// overlapping pairs apart by padded distance; if overlap survives them, all
// positions are scaled out uniformly so that every pair satisfies
// d >= ra + rb. Positions end centered on their centroid.
func (s *subtreeSim) separate(pos []Vec3, radii []float64) {
	pad := s.opts.CollisionPadding
	for range maxRelaxPasses {
		moved := false
		for i := range pos {
			for j := i + 1; j < len(pos); j++ {
				d := pos[j].Sub(pos[i])
				l := d.Len()
				need := radii[i] + radii[j] + pad
				if l >= need {
					continue
				}
				dir := s.direction(d, l)
				shift := dir.Scale((need - l) / 2)
				pos[i] = pos[i].Sub(shift)
				pos[j] = pos[j].Add(shift)
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	for i := range pos {
		for j := i + 1; j < len(pos); j++ {
			if pos[i].Dist(pos[j]) < 1e-9 {
				pos[j] = pos[j].Add(s.direction(Vec3{}, 0).Scale(radii[i] + radii[j] + pad))
			}
		}
	}
	scale := 1.0
	for i := range pos {
		for j := i + 1; j < len(pos); j++ {
			scale = max(scale, (radii[i]+radii[j])/pos[i].Dist(pos[j]))
		}
	}
	if scale > 1 {
		scale *= 1 + 1e-9
		for i := range pos {
			pos[i] = pos[i].Scale(scale)
		}
	}

	var c Vec3
	for _, p := range pos {
		c = c.Add(p)
	}
	c = c.Scale(1 / float64(len(pos)))
	for i := range pos {
		pos[i] = pos[i].Sub(c)
	}
}

// direction returns d normalized, or a random unit vector when d is
// degenerate.
func (s *subtreeSim) direction(d Vec3, l float64) Vec3 {
	if l > 1e-9 {
		return d.Scale(1 / l)
	}
	for {
		v := Vec3{s.rng.NormFloat64(), s.rng.NormFloat64(), s.rng.NormFloat64()}
		if n := v.Len(); n > 1e-9 {
			return v.Scale(1 / n)
		}
	}
}

func nameSeed(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}
