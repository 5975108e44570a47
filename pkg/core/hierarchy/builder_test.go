package hierarchy

import (
	"encoding/json"
	"errors"
	"math"
	"slices"
	"testing"
)

func seqIDs() func() int {
	next := 0
	return func() int {
		next++
		return next
	}
}

func buildTest(t *testing.T, records ...Record) *Result {
	t.Helper()
	res := Build(records, Options{IDs: seqIDs()})
	if err := res.Tree.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	return res
}

func controlByName(t *testing.T, tree *Tree, name string) *Node {
	t.Helper()
	for _, n := range tree.Nodes() {
		if n.Kind == KindControl && n.Name == name {
			return n
		}
	}
	t.Fatalf("control %q not found", name)
	return nil
}

func TestBuildSingleRecord(t *testing.T) {
	res := buildTest(t, Record{
		ControlID: "GOV-01",
		Domain:    "Governance",
		Category:  "Protect",
		Weight:    "10",
		Mappings:  []Mapping{{Regime: "NIST CSF 2.0", Value: "PR.AA-01"}},
	})

	path := res.Tree.Leaves(res.Tree.RootID())
	if len(path) != 1 {
		t.Fatalf("leaf count = %d, want 1", len(path))
	}
	leaf := path[0]
	if leaf.Kind != KindMapping || leaf.Name != "PR.AA-01" || leaf.Regime != "NIST CSF 2.0" {
		t.Errorf("leaf = %+v", leaf)
	}

	wantKinds := []Kind{KindRoot, KindDomain, KindCategory, KindControl, KindMapping}
	for i, n := range res.Tree.Path(leaf.ID) {
		if n.Kind != wantKinds[i] {
			t.Errorf("path[%d].Kind = %v, want %v", i, n.Kind, wantKinds[i])
		}
		if n.Weight != 10 {
			t.Errorf("%s weight = %v, want 10", n.Kind, n.Weight)
		}
	}
	if res.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", res.Skipped)
	}
	if !slices.Equal(res.Regimes, []string{"NIST CSF 2.0"}) {
		t.Errorf("Regimes = %v", res.Regimes)
	}
}

func TestBuildMergesDuplicateControls(t *testing.T) {
	res := buildTest(t,
		Record{ControlID: "IAC-01", Domain: "Identity", Category: "Protect", Weight: "10",
			Mappings: []Mapping{{Regime: "R", Value: "A\nB"}}},
		Record{ControlID: "IAC-01", Domain: "Identity", Category: "Protect", Weight: "99",
			Mappings: []Mapping{{Regime: "R", Value: "B,C"}}},
	)

	ctrl := controlByName(t, res.Tree, "IAC-01")
	var names []string
	for _, c := range res.Tree.Children(ctrl.ID) {
		names = append(names, c.Name)
		if c.Weight != 10.0/3 {
			t.Errorf("leaf %s weight = %v, want %v", c.Name, c.Weight, 10.0/3)
		}
	}
	if !slices.Equal(names, []string{"A", "B", "C"}) {
		t.Errorf("leaves = %v, want [A B C]", names)
	}
	if math.Abs(ctrl.Weight-10) > 1e-9 {
		t.Errorf("control weight = %v, want 10", ctrl.Weight)
	}
	if ctrl.Intrinsic != 10 {
		t.Errorf("control intrinsic = %v, want 10 (first record wins)", ctrl.Intrinsic)
	}
}

func TestBuildPresenceMarker(t *testing.T) {
	res := buildTest(t, Record{
		ControlID: "DCH-01",
		Domain:    "Data",
		Mappings:  []Mapping{{Regime: "EMEA EU GDPR", Value: "x"}},
	})
	ctrl := controlByName(t, res.Tree, "DCH-01")
	children := res.Tree.Children(ctrl.ID)
	if len(children) != 1 || children[0].Name != "DCH-01" {
		t.Fatalf("children = %+v, want single leaf named after the control", children)
	}
}

func TestBuildSkipsAndDefaults(t *testing.T) {
	res := buildTest(t,
		Record{ControlID: "", Domain: "D", Weight: "5"},
		Record{ControlID: "A-1", Domain: "  "},
		Record{ControlID: "A-2", Domain: "D", Category: "", Weight: "heavy"},
	)
	if res.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", res.Skipped)
	}

	ctrl := controlByName(t, res.Tree, "A-2")
	cat, _ := res.Tree.Parent(ctrl.ID)
	if cat.Name != Uncategorized {
		t.Errorf("category = %q, want %q", cat.Name, Uncategorized)
	}
	if ctrl.Weight != DefaultWeight {
		t.Errorf("weight = %v, want %v", ctrl.Weight, DefaultWeight)
	}
	// Skipped records must not leave empty containers behind.
	if got := len(res.Tree.Root().Children); got != 1 {
		t.Errorf("domains = %d, want 1", got)
	}
}

func TestBuildRegimeNormalization(t *testing.T) {
	res := buildTest(t, Record{
		ControlID: "C-1",
		Domain:    "D",
		Mappings: []Mapping{
			{Regime: "NIST\nCSF 2.0", Value: "ID.AM-01"},
			{Regime: "NIST CSF  2.0", Value: "ID.AM-01"},
			{Regime: "", Value: "ignored"},
			{Regime: "PCI DSS 4.0.1", Value: "  "},
		},
	})
	if !slices.Equal(res.Regimes, []string{"NIST CSF 2.0"}) {
		t.Errorf("Regimes = %v", res.Regimes)
	}
	if n := len(res.Tree.Leaves(res.Tree.RootID())); n != 1 {
		t.Errorf("leaves = %d, want 1", n)
	}
}

func TestBuildAppendAfterBuild(t *testing.T) {
	b := NewBuilder(Options{IDs: seqIDs()})
	b.Add(Record{ControlID: "C-1", Domain: "D", Weight: "6", Mappings: []Mapping{{Regime: "R", Value: "a"}}})
	first := b.Build()
	leafID := first.Tree.Leaves(first.Tree.RootID())[0].ID
	rev := first.Tree.Revision

	b.Add(Record{ControlID: "C-1", Domain: "D", Mappings: []Mapping{{Regime: "R", Value: "b"}}})
	second := b.Build()

	if second.Tree != first.Tree {
		t.Fatal("Build should keep extending the same tree")
	}
	if second.Tree.Revision == rev {
		t.Error("Revision should change after re-aggregation")
	}
	leaf, ok := second.Tree.Lookup(leafID)
	if !ok {
		t.Fatal("existing leaf id no longer resolves")
	}
	if leaf.Weight != 3 {
		t.Errorf("leaf weight = %v, want 3", leaf.Weight)
	}
	if err := second.Tree.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestBuildWeightConservation(t *testing.T) {
	res := buildTest(t,
		Record{ControlID: "A", Domain: "D1", Category: "C1", Weight: "7",
			Mappings: []Mapping{{Regime: "R1", Value: "1,2,3"}, {Regime: "R2", Value: "x"}}},
		Record{ControlID: "B", Domain: "D1", Category: "C2", Weight: "3.5"},
		Record{ControlID: "C", Domain: "D2", Category: "C1", Weight: "1",
			Mappings: []Mapping{{Regime: "R2", Value: "9\r\n10"}}},
	)

	for _, n := range res.Tree.Nodes() {
		if n.Kind != KindControl || n.IsLeaf() {
			continue
		}
		sum := 0.0
		for _, c := range res.Tree.Children(n.ID) {
			sum += c.Weight
		}
		if sum != n.Weight {
			t.Errorf("control %s: leaf sum %v != weight %v", n.Name, sum, n.Weight)
		}
	}
	// The same category name under two domains is two distinct nodes.
	cats := 0
	for _, n := range res.Tree.Nodes() {
		if n.Kind == KindCategory && n.Name == "C1" {
			cats++
		}
	}
	if cats != 2 {
		t.Errorf("categories named C1 = %d, want 2", cats)
	}
}

func TestBuildUniqueIDs(t *testing.T) {
	res := Build([]Record{
		{ControlID: "A", Domain: "D", Mappings: []Mapping{{Regime: "R", Value: "1,2"}}},
		{ControlID: "B", Domain: "D", Mappings: []Mapping{{Regime: "R", Value: "3"}}},
	}, Options{})

	seen := map[int]bool{}
	for _, n := range res.Tree.Nodes() {
		if seen[n.ID] {
			t.Fatalf("duplicate id %d", n.ID)
		}
		seen[n.ID] = true
		got, ok := res.Tree.Lookup(n.ID)
		if !ok || got != n {
			t.Errorf("Lookup(%d) does not return the node", n.ID)
		}
	}

	other := Build([]Record{{ControlID: "A", Domain: "D"}}, Options{})
	for _, n := range other.Tree.Nodes() {
		if seen[n.ID] {
			t.Errorf("id %d reused across builds", n.ID)
		}
	}
}

func TestValidateDetectsWeightMismatch(t *testing.T) {
	res := buildTest(t, Record{ControlID: "A", Domain: "D", Weight: "2"})
	res.Tree.Root().Weight = 5
	if err := res.Tree.Validate(); !errors.Is(err, ErrWeightMismatch) {
		t.Errorf("Validate() = %v, want ErrWeightMismatch", err)
	}
}

func TestParseWeight(t *testing.T) {
	tests := []struct {
		raw  RawWeight
		want float64
	}{
		{"10", 10},
		{" 2.5 ", 2.5},
		{"", DefaultWeight},
		{"ten", DefaultWeight},
		{"NaN", DefaultWeight},
		{"+Inf", DefaultWeight},
		{"-4", -4},
	}
	for _, tt := range tests {
		if got := ParseWeight(tt.raw); got != tt.want {
			t.Errorf("ParseWeight(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestRawWeightUnmarshalJSON(t *testing.T) {
	var recs []Record
	data := `[{"id":"a","domain":"d","weight":10},{"id":"b","domain":"d","weight":"7"},{"id":"c","domain":"d","weight":null},{"id":"d","domain":"d"}]`
	if err := json.Unmarshal([]byte(data), &recs); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	want := []RawWeight{"10", "7", "", ""}
	for i, r := range recs {
		if r.Weight != want[i] {
			t.Errorf("recs[%d].Weight = %q, want %q", i, r.Weight, want[i])
		}
	}
}

func TestTokens(t *testing.T) {
	tests := []struct {
		value string
		want  []string
	}{
		{"", nil},
		{"X", []string{"CTRL"}},
		{"yes", []string{"CTRL"}},
		{"A\nB", []string{"A", "B"}},
		{"A, B,,\r\nC ", []string{"A", "B", "C"}},
		{"Article 32.1", []string{"Article 32.1"}},
	}
	for _, tt := range tests {
		if got := Tokens(tt.value, "CTRL"); !slices.Equal(got, tt.want) {
			t.Errorf("Tokens(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestKindText(t *testing.T) {
	for k := KindRoot; k <= KindMapping; k++ {
		text, _ := k.MarshalText()
		var got Kind
		if err := got.UnmarshalText(text); err != nil || got != k {
			t.Errorf("round trip of %v = %v, %v", k, got, err)
		}
	}
	if _, err := ParseKind("planet"); err == nil {
		t.Error("ParseKind should reject unknown names")
	}
}
