package layout

import "math"

// RadiusModel maps weights to sphere radii.
//
// Leaves and not-yet-laid-out containers use the volume formula
// max(MinLeafRadius, cbrt(weight) * Scale). Once a container's children are
// placed, [RadiusModel.Enclosure] gives its authoritative radius.
type RadiusModel struct {
	Scale          float64 `json:"scale" toml:"scale"`
	MinLeafRadius  float64 `json:"min_leaf_radius" toml:"min_leaf_radius"`
	MinLeafWeight  float64 `json:"min_leaf_weight" toml:"min_leaf_weight"`
	BasePadding    float64 `json:"base_padding" toml:"base_padding"`
	MinPadding     float64 `json:"min_padding" toml:"min_padding"`
	PackingDensity float64 `json:"packing_density" toml:"packing_density"`
}

// DefaultRadiusModel returns the radius model used by [DefaultOptions].
func DefaultRadiusModel() RadiusModel {
	return RadiusModel{
		Scale:          15,
		MinLeafRadius:  4,
		MinLeafWeight:  0,
		BasePadding:    24,
		MinPadding:     2,
		PackingDensity: 0.45,
	}
}

// Weight clamps NaN, infinite and negative weights to MinLeafWeight.
func (m RadiusModel) Weight(w float64) float64 {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < m.MinLeafWeight {
		return m.MinLeafWeight
	}
	return w
}

// Volume returns the weight-based radius of a node.
func (m RadiusModel) Volume(w float64) float64 {
	return max(m.MinLeafRadius, math.Cbrt(m.Weight(w))*m.Scale)
}

// Padding returns the gap kept between a container's surface and its
// outermost child. Shallower containers get more room.
func (m RadiusModel) Padding(depth int) float64 {
	return max(m.MinPadding, m.BasePadding/float64(max(depth, 0)+1))
}

// Enclosure returns the radius of a container whose children sit at the
// given local positions: the larger of its volume radius and the distance to
// the farthest child surface plus padding.
func (m RadiusModel) Enclosure(weight float64, depth int, pos []Vec3, radii []float64) float64 {
	r := m.Volume(weight)
	if len(pos) == 0 {
		return r
	}
	far := 0.0
	for i, p := range pos {
		far = max(far, p.Len()+radii[i])
	}
	return max(r, far+m.Padding(depth))
}

// Packing estimates the radius a container needs to hold spheres of the given
// radii (each grown by pad) at the model's packing density. The bounding
// force uses it as the containment target while the simulation runs.
func (m RadiusModel) Packing(radii []float64, pad float64) float64 {
	vol := 0.0
	for _, r := range radii {
		g := r + pad
		vol += g * g * g
	}
	density := m.PackingDensity
	if density <= 0 || density > 1 {
		density = 1
	}
	return math.Cbrt(vol / density)
}
