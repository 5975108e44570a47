package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/controlsphere/pkg/config"
	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
	"github.com/matzehuels/controlsphere/pkg/pipeline"
)

var errNoSource = apperrors.New(apperrors.ErrCodeInvalidInput,
	"no dataset: pass a source or set [source] uri in the config file")

// focusSeparator separates names in the --focus flag.
const focusSeparator = "/"

// viewFlags are the flags shared by commands that lay out a view. Flags the
// user did not set fall back to the config file.
type viewFlags struct {
	focus      string
	inside     bool
	depth      int
	regimes    string
	onlyMapped bool
	rootName   string
	iterations int
	seed       uint64
	noCache    bool
	refresh    bool
}

func (f *viewFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.focus, "focus", "", `focus path below the root, e.g. "Governance/Oversight" (default: outside view)`)
	fs.BoolVar(&f.inside, "inside", false, "view the root from inside when no --focus is given")
	fs.IntVarP(&f.depth, "depth", "d", 0, "levels expanded below the focus")
	fs.StringVarP(&f.regimes, "regimes", "r", "", "comma-separated regimes to highlight")
	fs.BoolVar(&f.onlyMapped, "only-mapped", false, "hide controls without a mapping in the selected regimes")
	fs.StringVar(&f.rootName, "root-name", "", "name of the root node (default: SCF)")
	fs.IntVar(&f.iterations, "iterations", 0, "simulation ticks per container")
	fs.Uint64Var(&f.seed, "seed", 0, "seed for initial positions")
	fs.BoolVar(&f.noCache, "no-cache", false, "disable caching")
	fs.BoolVar(&f.refresh, "refresh", false, "bypass cached datasets and scenes")
}

// options merges the config file with the flags the user set.
func (f *viewFlags) options(cmd *cobra.Command, cfg *config.Config, src string) pipeline.Options {
	changed := cmd.Flags().Changed

	opts := pipeline.Options{
		Source:     src,
		RootName:   cfg.Source.RootName,
		Refresh:    f.refresh,
		FromInside: f.inside,
		Depth:      cfg.View.DepthWindow,
		Regimes:    cfg.View.Regimes,
		OnlyMapped: cfg.View.OnlyMapped,
		Physics:    cfg.Physics.LayoutOptions(),
		Colors:     cfg.Colors,
	}
	if f.focus != "" {
		opts.Focus = splitList(f.focus, focusSeparator)
	}
	if changed("depth") {
		opts.Depth = f.depth
	}
	if changed("regimes") {
		opts.Regimes = splitList(f.regimes, ",")
	}
	if changed("only-mapped") {
		opts.OnlyMapped = f.onlyMapped
	}
	if changed("root-name") {
		opts.RootName = f.rootName
	}
	if changed("iterations") {
		opts.Physics.Iterations = f.iterations
	}
	if changed("seed") {
		opts.Physics.Seed = f.seed
	}
	return opts
}
