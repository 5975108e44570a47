// Package hierarchy builds the weighted control taxonomy that the layout and
// navigation packages operate on.
//
// # Overview
//
// Compliance frameworks are published as flat rows: one row per control with a
// domain, a category, a weight and one column per regulatory regime holding the
// regime's requirement identifiers. This package turns those rows into a
// five-level tree:
//
//	root → domain → category → control → mapping
//
// Mapping nodes are the leaves. Each one represents a single requirement token
// of a single regime (for example "PR.AA-01" under "NIST CSF 2.0").
//
// # Building
//
// Feed [Record] values to a [Builder] and call [Builder.Build]:
//
//	b := hierarchy.NewBuilder(hierarchy.Options{RootName: "SCF"})
//	for _, r := range records {
//	    b.Add(r)
//	}
//	res := b.Build()
//	fmt.Println(res.Tree.Len(), res.Skipped, res.Regimes)
//
// Controls are deduplicated by identifier. A record repeating a known control
// only contributes mapping tokens that are not already present for that
// regime. Records without a control identifier or a domain are skipped and
// counted in [Result.Skipped].
//
// # Weights
//
// A control's intrinsic weight is split evenly across its mapping leaves, and
// every container weighs exactly the floating-point sum of its children in
// child order. [Tree.Validate] checks this along with the structural
// invariants.
//
// A [Projection] recomputes weights and visibility for a regime selection:
// hidden mapping leaves disappear from the projection entirely and the visible
// leaves of a control share its intrinsic weight.
//
// # Identifiers
//
// Node identifiers are integers drawn from a process-wide sequence ([NextID])
// and are never reused, so a stale identifier from a previous dataset never
// resolves against a rebuilt tree.
package hierarchy
