package nav

import (
	"time"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
)

// DefaultDuration is the length of an animated transition.
const DefaultDuration = time.Second

// Camera distances, as multiples of a radius.
const (
	OutsideDistance = 4.0 // start distance when flying in from outside
	InsideDistance  = 0.5 // start distance when already inside the focus
	ThroughDistance = 0.1 // end distance: past the target's surface
	fadeStart       = 0.7 // fraction of the transition after which the canvas fades
)

// TransitionKind classifies a transition.
type TransitionKind int

const (
	KindDrill TransitionKind = iota
	KindJump
	KindZoomOut
	KindRoot
)

func (k TransitionKind) String() string {
	switch k {
	case KindDrill:
		return "drill"
	case KindJump:
		return "jump"
	case KindZoomOut:
		return "zoom_out"
	case KindRoot:
		return "root"
	}
	return "unknown"
}

// Crumb is one breadcrumb of the focus path.
type Crumb struct {
	ID   int            `json:"id"`
	Name string         `json:"name"`
	Kind hierarchy.Kind `json:"kind"`
}

func crumbOf(n *hierarchy.Node) Crumb {
	return Crumb{ID: n.ID, Name: n.Name, Kind: n.Kind}
}

// Transition is a pending change of focus. Animators use the camera helpers
// to drive their tween; the navigator only cares about Seq.
type Transition struct {
	Seq      uint64
	Kind     TransitionKind
	From     Crumb
	To       Crumb
	Path     []int // target path, root first; empty for the outside view
	Names    []string
	Inside   bool
	Animated bool
	Duration time.Duration

	// Camera distance from the target center at the start and end.
	CameraStart float64
	CameraEnd   float64
	// TargetRadius is the target's radius when the transition started.
	TargetRadius float64
}

// CameraAt returns the camera distance at progress t in [0, 1] with cubic
// in-out easing.
func (t Transition) CameraAt(progress float64) float64 {
	e := easeInOutCubic(clamp01(progress))
	return t.CameraStart + (t.CameraEnd-t.CameraStart)*e
}

// FadeAt returns the canvas opacity at progress t: fully opaque until the
// camera is close, then fading out linearly.
func (t Transition) FadeAt(progress float64) float64 {
	p := clamp01(progress)
	if p <= fadeStart {
		return 1
	}
	return 1 - (p-fadeStart)/(1-fadeStart)
}

// CrossedSurface reports whether the camera is inside the target sphere at
// progress t.
func (t Transition) CrossedSurface(progress float64) bool {
	return t.CameraAt(progress) < t.TargetRadius
}

func easeInOutCubic(x float64) float64 {
	if x < 0.5 {
		return 4 * x * x * x
	}
	f := -2*x + 2
	return 1 - f*f*f/2
}

func clamp01(x float64) float64 {
	return min(max(x, 0), 1)
}

// Animator plays a transition and calls done when it finishes. done may be
// called from any goroutine; calling it for a superseded transition is safe.
type Animator interface {
	Play(t Transition, done func())
}

// AnimatorFunc adapts a function to [Animator].
type AnimatorFunc func(t Transition, done func())

func (f AnimatorFunc) Play(t Transition, done func()) { f(t, done) }

// Immediate completes every transition synchronously.
var Immediate Animator = AnimatorFunc(func(_ Transition, done func()) { done() })
