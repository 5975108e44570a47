package hierarchy

import (
	"testing"
)

func sampleTree(t *testing.T) *Tree {
	t.Helper()
	return buildTest(t,
		Record{ControlID: "GOV-01", ControlName: "Cybersecurity Governance Program", Domain: "Governance", Category: "Identify", Weight: "10",
			Mappings: []Mapping{{Regime: "R1", Value: "a,b"}, {Regime: "R2", Value: "c"}}},
		Record{ControlID: "GOV-02", ControlName: "Publishing Policies", Domain: "Governance", Category: "Identify", Weight: "4",
			Mappings: []Mapping{{Regime: "R2", Value: "d"}}},
		Record{ControlID: "AST-01", ControlName: "Asset Governance", Domain: "Assets", Category: "Protect", Weight: "2"},
	).Tree
}

func TestTreeNavigation(t *testing.T) {
	tree := sampleTree(t)
	gov := controlByName(t, tree, "GOV-01")

	path := tree.Path(gov.ID)
	if len(path) != 4 || path[0] != tree.Root() || path[3] != gov {
		t.Fatalf("Path() = %v", path)
	}
	if d := tree.Depth(gov.ID); d != 3 {
		t.Errorf("Depth() = %d, want 3", d)
	}
	if d := tree.Depth(-42); d != -1 {
		t.Errorf("Depth(unknown) = %d, want -1", d)
	}

	leaf := tree.Children(gov.ID)[0]
	c, ok := tree.NearestContainer(leaf.ID)
	if !ok || c != gov {
		t.Errorf("NearestContainer(leaf) = %v, want control", c)
	}
	c, _ = tree.NearestContainer(gov.ID)
	if c != gov {
		t.Errorf("NearestContainer(container) should return itself")
	}
	if _, ok := tree.Parent(tree.RootID()); ok {
		t.Error("root should have no parent")
	}
}

func TestTreeFind(t *testing.T) {
	tree := sampleTree(t)

	hits := tree.Find("governance")
	var names []string
	for _, n := range hits {
		names = append(names, n.Name)
	}
	want := []string{"Governance", "GOV-01", "AST-01"}
	if len(names) != len(want) {
		t.Fatalf("Find() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Find()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if got := tree.Find("   "); got != nil {
		t.Errorf("Find(blank) = %v, want nil", got)
	}
}

func TestTreeResolve(t *testing.T) {
	tree := sampleTree(t)

	n, ok := tree.Resolve([]string{"Governance", "Identify", "GOV-02"})
	if !ok || n.Name != "GOV-02" {
		t.Errorf("Resolve() = %v, %v", n, ok)
	}
	n, ok = tree.Resolve([]string{"Governance", "Missing"})
	if ok || n.Name != "Governance" {
		t.Errorf("Resolve(partial) = %v, %v, want deepest match", n.Name, ok)
	}
}

func TestTreeWalkSkipsSubtree(t *testing.T) {
	tree := sampleTree(t)
	var visited int
	tree.Walk(tree.RootID(), func(n *Node, depth int) bool {
		visited++
		return n.Kind != KindDomain
	})
	// root + two domains
	if visited != 3 {
		t.Errorf("visited = %d, want 3", visited)
	}
}

func TestProjectionHidesUnselectedLeaves(t *testing.T) {
	tree := sampleTree(t)
	p := tree.Project(Filter{Keep: func(n *Node) bool { return n.Regime == "R1" }})

	gov1 := controlByName(t, tree, "GOV-01")
	kids := p.Children(gov1.ID)
	if len(kids) != 2 {
		t.Fatalf("visible leaves = %d, want 2", len(kids))
	}
	sum := 0.0
	for _, id := range kids {
		sum += p.Weight(id)
		if n, _ := tree.Lookup(id); n.Regime != "R1" {
			t.Errorf("leaf %s of regime %s should be hidden", n.Name, n.Regime)
		}
	}
	if sum != p.Weight(gov1.ID) || sum != 10 {
		t.Errorf("leaf sum = %v, control = %v, want 10", sum, p.Weight(gov1.ID))
	}

	// GOV-02 lost its only mapping and becomes a leaf carrying its intrinsic weight.
	gov2 := controlByName(t, tree, "GOV-02")
	if !p.Visible(gov2.ID) || !p.IsLeaf(gov2.ID) || p.Weight(gov2.ID) != 4 {
		t.Errorf("GOV-02 visible=%v leaf=%v weight=%v", p.Visible(gov2.ID), p.IsLeaf(gov2.ID), p.Weight(gov2.ID))
	}
	if got := p.Weight(tree.RootID()); got != 16 {
		t.Errorf("root weight = %v, want 16", got)
	}
	if got := p.NearestContainer(gov2.ID); got.Kind != KindCategory {
		t.Errorf("NearestContainer(leaf control) = %v, want category", got.Kind)
	}
}

func TestProjectionOnlyMapped(t *testing.T) {
	tree := sampleTree(t)
	p := tree.Project(Filter{
		Keep:       func(n *Node) bool { return n.Regime == "R1" },
		OnlyMapped: true,
	})

	if p.Visible(controlByName(t, tree, "GOV-02").ID) {
		t.Error("GOV-02 has no R1 mapping and should be hidden")
	}
	for _, n := range tree.Nodes() {
		if n.Kind == KindDomain && n.Name == "Assets" && p.Visible(n.ID) {
			t.Error("empty domain should be hidden")
		}
	}
	if !p.Visible(tree.RootID()) {
		t.Error("root must stay visible")
	}
	if got := p.Weight(tree.RootID()); got != 10 {
		t.Errorf("root weight = %v, want 10", got)
	}
}

func TestProjectionKeepAllMatchesTree(t *testing.T) {
	tree := sampleTree(t)
	p := tree.Project(Filter{})
	for _, n := range tree.Nodes() {
		if p.Weight(n.ID) != n.Weight {
			t.Errorf("%s %s: projected %v, tree %v", n.Kind, n.Name, p.Weight(n.ID), n.Weight)
		}
	}
}
