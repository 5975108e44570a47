package nav_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/layout"
	"github.com/matzehuels/controlsphere/pkg/core/nav"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
)

func ExampleNavigator_DrillInto() {
	tree := hierarchy.Build([]hierarchy.Record{
		{ControlID: "GOV-01", Domain: "Governance", Category: "Oversight", Weight: "4", Mappings: []hierarchy.Mapping{
			{Regime: "NIST CSF 2.0", Value: "GV.OC-01"},
		}},
		{ControlID: "AST-01", Domain: "Assets", Category: "Inventory", Weight: "2"},
	}, hierarchy.Options{}).Tree

	engine, err := layout.NewEngine(layout.Options{}, nil)
	if err != nil {
		panic(err)
	}
	n, err := nav.New(tree, engine, nav.Options{Selection: regime.NewSelection("NIST CSF 2.0")})
	if err != nil {
		panic(err)
	}
	n.Subscribe(func(ev nav.FocusEvent) {
		fmt.Println("focus:", ev.Focus.Name, "inside:", ev.Inside)
	})

	ctx := context.Background()
	if err := n.Refresh(ctx); err != nil {
		panic(err)
	}
	// Drilling into a mapping leaf lands in its control.
	leaf := tree.Find("GV.OC-01")[0]
	if err := n.DrillInto(ctx, leaf.ID); err != nil {
		panic(err)
	}
	var names []string
	for _, c := range n.FocusPath() {
		names = append(names, c.Name)
	}
	fmt.Println(strings.Join(names, " / "))
	if err := n.ZoomOut(ctx); err != nil {
		panic(err)
	}
	// Output:
	// focus: SCF inside: false
	// focus: GOV-01 inside: true
	// SCF / Governance / Oversight / GOV-01
	// focus: Oversight inside: true
}
