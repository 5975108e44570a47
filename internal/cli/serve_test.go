package cli

import (
	"context"
	"io"
	"testing"

	"github.com/matzehuels/controlsphere/pkg/cache"
	"github.com/matzehuels/controlsphere/pkg/config"
	"github.com/matzehuels/controlsphere/pkg/pipeline"
	"github.com/matzehuels/controlsphere/pkg/server"
	"github.com/matzehuels/controlsphere/pkg/source"
)

func TestConfigApplier(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Physics.Iterations = 30

	runner := pipeline.NewRunner(cache.NewNullCache(), nil, nil)
	srv, err := server.New(ctx, runner, server.Options{
		Dataset:     &source.Dataset{Records: exploreRecords()},
		Physics:     cfg.Physics.LayoutOptions(),
		DepthWindow: cfg.View.DepthWindow,
		Regimes:     cfg.View.Regimes,
		Instant:     true,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	defer srv.Close()

	applier := &configApplier{srv: srv, current: cfg, logger: newLogger(io.Discard, LogInfo)}

	next := config.Default()
	next.Physics.Iterations = 30
	next.View.DepthWindow = 1
	next.View.Regimes = []string{"EMEA EU DORA"}
	next.View.OnlyMapped = true
	applier.apply(ctx, next)

	n := srv.Navigator()
	if n.DepthWindow() != 1 || !n.OnlyMapped() {
		t.Errorf("depth = %d only-mapped = %v", n.DepthWindow(), n.OnlyMapped())
	}
	if sel := n.Selection(); sel.Len() != 1 || !sel.Contains("EMEA EU DORA") {
		t.Errorf("selection = %v", sel.Names())
	}

	// Clearing the regimes in the file clears the selection.
	cleared := *next
	cleared.View.Regimes = nil
	applier.apply(ctx, &cleared)
	if n.Selection().Len() != 0 {
		t.Errorf("selection = %v, want empty", n.Selection().Names())
	}
	if applier.current != &cleared {
		t.Error("applier should track the latest config")
	}
}
