package layout

import (
	"errors"
	"fmt"
)

// Default simulation parameters.
const (
	DefaultRepulsionStrength = -300.0
	DefaultLinkDistanceBase  = 120.0
	DefaultLinkStrength      = 0.3
	DefaultBoundsScale       = 1.2
	DefaultBoundsStrength    = 0.2
	DefaultCollisionPadding  = 2.0
	DefaultCollideStrength   = 0.8
	DefaultClusterStrength   = 0.2
	DefaultCenterStrength    = 0.01
	DefaultIterations        = 300
	DefaultSeed              = uint64(42)

	// WarmAlpha is the temperature a cached simulation is reheated to when
	// options or child radii change.
	WarmAlpha = 0.3

	maxIterations = 10000
)

// ErrInvalidOptions is wrapped by [Options.Validate] failures.
var ErrInvalidOptions = errors.New("invalid layout options")

// Options configures the subtree simulation.
//
// [Options.SetDefaults] fills zero fields of a literal such as
// Options{Iterations: 60}. Options that came from [DefaultOptions], or were
// defaulted once, are complete: later SetDefaults calls leave them alone, so a
// zero set on top of DefaultOptions is a real zero (no repulsion, no
// collision padding).
type Options struct {
	RepulsionStrength float64     `json:"repulsion_strength"`
	LinkDistanceBase  float64     `json:"link_distance_base"`
	LinkStrength      float64     `json:"link_strength"`
	BoundsScale       float64     `json:"bounds_scale"`
	BoundsStrength    float64     `json:"bounds_strength"`
	CollisionPadding  float64     `json:"collision_padding"`
	CollideStrength   float64     `json:"collide_strength"`
	ClusterStrength   float64     `json:"cluster_strength"`
	CenterStrength    float64     `json:"center_strength"`
	Iterations        int         `json:"iterations"`
	Seed              uint64      `json:"seed"`
	Radius            RadiusModel `json:"radius"`

	defaulted bool
}

// DefaultOptions returns options with every field set to its default.
func DefaultOptions() Options {
	var o Options
	o.SetDefaults()
	return o
}

// SetDefaults fills zero fields, once.
func (o *Options) SetDefaults() {
	if o.defaulted {
		return
	}
	o.defaulted = true
	setDefault(&o.RepulsionStrength, DefaultRepulsionStrength)
	setDefault(&o.LinkDistanceBase, DefaultLinkDistanceBase)
	setDefault(&o.LinkStrength, DefaultLinkStrength)
	setDefault(&o.BoundsScale, DefaultBoundsScale)
	setDefault(&o.BoundsStrength, DefaultBoundsStrength)
	setDefault(&o.CollisionPadding, DefaultCollisionPadding)
	setDefault(&o.CollideStrength, DefaultCollideStrength)
	setDefault(&o.ClusterStrength, DefaultClusterStrength)
	setDefault(&o.CenterStrength, DefaultCenterStrength)
	if o.Iterations == 0 {
		o.Iterations = DefaultIterations
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.Radius == (RadiusModel{}) {
		o.Radius = DefaultRadiusModel()
	}
}

func setDefault(f *float64, v float64) {
	if *f == 0 {
		*f = v
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	switch {
	case o.BoundsScale < 1:
		return fmt.Errorf("%w: bounds scale %v must be >= 1", ErrInvalidOptions, o.BoundsScale)
	case o.CollisionPadding < 0:
		return fmt.Errorf("%w: collision padding %v must be >= 0", ErrInvalidOptions, o.CollisionPadding)
	case o.LinkDistanceBase < 0:
		return fmt.Errorf("%w: link distance base %v must be >= 0", ErrInvalidOptions, o.LinkDistanceBase)
	case o.Iterations < 1 || o.Iterations > maxIterations:
		return fmt.Errorf("%w: iterations %d must be in [1, %d]", ErrInvalidOptions, o.Iterations, maxIterations)
	case o.Radius.Scale <= 0:
		return fmt.Errorf("%w: radius scale %v must be > 0", ErrInvalidOptions, o.Radius.Scale)
	case o.Radius.MinLeafRadius <= 0:
		return fmt.Errorf("%w: minimum leaf radius %v must be > 0", ErrInvalidOptions, o.Radius.MinLeafRadius)
	}
	return nil
}
