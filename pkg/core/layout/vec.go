package layout

import "math"

// Vec3 is a point or displacement in layout space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns a+b.
func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }

// Sub returns a-b.
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }

// Scale returns a*s.
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }

// Dot returns the dot product of a and b.
func (a Vec3) Dot(b Vec3) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }

// Len2 returns the squared length.
func (a Vec3) Len2() float64 { return a.Dot(a) }

// Len returns the Euclidean length.
func (a Vec3) Len() float64 { return math.Sqrt(a.Len2()) }

// Dist returns the distance between a and b.
func (a Vec3) Dist(b Vec3) float64 { return a.Sub(b).Len() }

// IsZero reports whether all components are zero.
func (a Vec3) IsZero() bool { return a == Vec3{} }

// IsFinite reports whether no component is NaN or infinite.
func (a Vec3) IsFinite() bool { return finite(a.X) && finite(a.Y) && finite(a.Z) }

// Array returns the components as [x, y, z].
func (a Vec3) Array() [3]float64 { return [3]float64{a.X, a.Y, a.Z} }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
