// Package nav implements focus navigation over a control hierarchy.
//
// A [Navigator] holds the focus path (root first), the depth window and the
// regime selection, and asks a [Layouter] for the placement of the visible
// window whenever the view settles. Viewing the root from outside is the
// empty path.
//
// # Transitions
//
// Every request that moves the focus starts a [Transition] with a fresh
// sequence number. Animated transitions are handed to an [Animator], which
// calls back when the camera has arrived; the navigator settles only the most
// recent transition and ignores callbacks of superseded ones:
//
//	nav.DrillInto(ctx, a) // seq 1, animating
//	nav.DrillInto(ctx, b) // seq 2 supersedes 1
//	// animator finishes 1: no-op
//	// animator finishes 2: focus is b
//
// Drilling into a leaf lands in its nearest container. Identifiers that no
// longer exist, for example after [Navigator.Reload], land on the root.
//
// # Events
//
// Subscribers registered with [Navigator.Subscribe] receive a [FocusEvent]
// after each settle. Events carry the placement, so renderers never need to
// call back into the layouter.
package nav
