// Package layout computes nested 3D sphere layouts for a hierarchy.
//
// # Overview
//
// Every container is laid out on its own: its direct children are simulated
// as spheres inside it, and the container's radius is then derived from
// where they settled. Containers are processed bottom up, so a container is
// packed with the final radii of its children:
//
//	Flatten(window) → LayoutSubtree(deepest container) → ... → LayoutSubtree(focus)
//
// Positions are local to the parent container. Flying into a container only
// re-roots the window; no simulation needs to run again for it.
//
// # Simulation
//
// [Simulation] is a small particle system with exponential cooling. The
// forces applied to a container's children are:
//
//   - [Collide]: pairwise separation of padded spheres
//   - [ManyBody]: inverse-square repulsion
//   - [Link]: pull toward a kind-dependent distance from the container center
//   - [Cluster]: pull mapping leaves of one regime together
//   - [Center]: weak drift correction toward the origin
//   - [Bounding]: containment within the container's estimated radius
//
// After the iteration budget, a finalizing pass removes any remaining
// overlap, so siblings never intersect and every child lies inside the
// container's enclosure radius.
//
// # Engine
//
// [Engine] caches one simulation per container and window. Changing
// [Options] re-warms cached simulations from their settled positions instead
// of discarding them.
package layout
