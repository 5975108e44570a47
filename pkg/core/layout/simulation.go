package layout

import (
	"math"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
)

// Body is a simulated sphere. Position and velocity are in the container's
// local frame.
type Body struct {
	ID     int
	Pos    Vec3
	Vel    Vec3
	Radius float64
	Fixed  bool
	Group  string
	Kind   hierarchy.Kind
	Weight float64
}

// Force updates body velocities for one tick at temperature alpha.
type Force interface {
	Apply(bodies []*Body, alpha float64)
}

// Simulation is a velocity-Verlet style particle system with exponential
// cooling. Alpha decays from 1 toward AlphaTarget; forces scale their effect
// by alpha so the system settles.
type Simulation struct {
	Bodies []*Body

	Alpha         float64
	AlphaMin      float64
	AlphaDecay    float64
	AlphaTarget   float64
	VelocityDecay float64

	forces []Force
}

// NewSimulation returns a hot simulation whose alpha reaches AlphaMin after
// the given number of ticks.
func NewSimulation(bodies []*Body, iterations int) *Simulation {
	const alphaMin = 0.001
	return &Simulation{
		Bodies:        bodies,
		Alpha:         1,
		AlphaMin:      alphaMin,
		AlphaDecay:    1 - math.Pow(alphaMin, 1/float64(max(iterations, 1))),
		VelocityDecay: 0.4,
	}
}

// AddForce registers f; forces run in registration order.
func (s *Simulation) AddForce(f Force) { s.forces = append(s.forces, f) }

// Tick advances the simulation one step.
func (s *Simulation) Tick() {
	s.Alpha += (s.AlphaTarget - s.Alpha) * s.AlphaDecay
	for _, f := range s.forces {
		f.Apply(s.Bodies, s.Alpha)
	}
	keep := 1 - s.VelocityDecay
	for _, b := range s.Bodies {
		if b.Fixed {
			b.Vel = Vec3{}
			continue
		}
		b.Vel = b.Vel.Scale(keep)
		b.Pos = b.Pos.Add(b.Vel)
	}
}

// Run performs n ticks.
func (s *Simulation) Run(n int) {
	for range n {
		s.Tick()
	}
}

// Reheat raises alpha to at least a and returns the number of ticks needed to
// cool back to AlphaMin.
func (s *Simulation) Reheat(a float64) int {
	s.Alpha = max(s.Alpha, a)
	return s.TicksToSettle()
}

// TicksToSettle returns how many ticks alpha needs to fall below AlphaMin.
func (s *Simulation) TicksToSettle() int {
	if s.Alpha <= s.AlphaMin || s.AlphaDecay <= 0 || s.AlphaDecay >= 1 {
		return 0
	}
	return int(math.Ceil(math.Log(s.AlphaMin/s.Alpha) / math.Log(1-s.AlphaDecay)))
}
