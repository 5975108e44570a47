// Package scene converts layouts into the render-facing scene format.
//
// A [Scene] is the contract between the core and any renderer: a flat,
// pre-ordered list of spheres with parent-relative and view-relative
// positions, radii, colors and opacities, plus containment edges and the
// breadcrumbs of the focus path. Renderers never touch the hierarchy or the
// simulation.
//
// # Building
//
// [Build] takes a tree and a [layout.Placement]; [FromEvent] takes a
// navigator focus event directly:
//
//	nav.Subscribe(func(ev nav.FocusEvent) {
//	    s, err := scene.FromEvent(tree, ev, palette)
//	    ...
//	})
//
// Highlighting only changes color, opacity and emissive strength. Radii and
// positions are copied from the placement unchanged.
//
// # Output
//
// Scenes serialize to JSON with [Marshal] and [WriteFile]. For static
// artifacts, [ToDOT] projects a scene onto the XY plane as a Graphviz neato
// graph with pinned positions and [RenderSVG] renders it.
package scene
