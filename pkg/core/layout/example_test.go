package layout_test

import (
	"context"
	"fmt"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/layout"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
)

func ExampleLayoutSubtree() {
	container := layout.Item{ID: 1, Name: "Governance", Kind: hierarchy.KindDomain, Weight: 6}
	children := []layout.Item{
		{ID: 2, Kind: hierarchy.KindCategory, Weight: 1},
		{ID: 3, Kind: hierarchy.KindCategory, Weight: 3},
		{ID: 4, Kind: hierarchy.KindCategory, Weight: 2},
	}

	st := layout.LayoutSubtree(container, 1, children, layout.DefaultOptions())
	fmt.Println("order:", st.Order)
	fmt.Println("children placed:", len(st.Positions))
	// Output:
	// order: [3 4 2]
	// children placed: 3
}

func ExampleEngine_LayoutWindow() {
	res := hierarchy.Build([]hierarchy.Record{
		{ControlID: "GOV-01", Domain: "Governance", Weight: "4", Mappings: []hierarchy.Mapping{
			{Regime: "NIST CSF 2.0", Value: "GV.OC-01,GV.OC-02"},
		}},
		{ControlID: "AST-01", Domain: "Assets", Weight: "2"},
	}, hierarchy.Options{})

	engine, err := layout.NewEngine(layout.Options{}, nil)
	if err != nil {
		panic(err)
	}
	p, err := engine.LayoutWindow(context.Background(), layout.Request{
		Tree:      res.Tree,
		Focus:     res.Tree.RootID(),
		Depth:     2,
		Selection: regime.NewSelection("NIST CSF 2.0"),
	})
	if err != nil {
		panic(err)
	}
	fmt.Println("nodes:", p.Len())
	fmt.Println("valid:", p.Validate(1e-6) == nil)
	// Output:
	// nodes: 5
	// valid: true
}
