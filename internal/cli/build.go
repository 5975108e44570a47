package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/spf13/cobra"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/pipeline"
)

// buildCommand creates the build command, which aggregates a dataset and
// prints the resulting hierarchy.
func (c *CLI) buildCommand() *cobra.Command {
	var (
		levels   int
		rootName string
		refresh  bool
		noCache  bool
	)

	cmd := &cobra.Command{
		Use:   "build [dataset]",
		Short: "Aggregate a dataset into the control hierarchy",
		Long: `Aggregate a dataset into the control hierarchy and print it.

The dataset is a JSON file or a mongodb:// URI. Records without a control
identifier or domain are skipped and counted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			src, err := sourceArg(args, cfg)
			if err != nil {
				return err
			}
			opts := pipeline.Options{Source: src, RootName: cfg.Source.RootName, Refresh: refresh}
			if cmd.Flags().Changed("root-name") {
				opts.RootName = rootName
			}
			runner, err := c.newRunner(cmd.Context(), cfg, noCache)
			if err != nil {
				return fmt.Errorf("initialize runner: %w", err)
			}
			defer runner.Close()
			return c.runBuild(cmd.Context(), runner, opts, levels)
		},
	}

	cmd.Flags().IntVarP(&levels, "levels", "l", 2, "levels of the hierarchy to print (0 for none)")
	cmd.Flags().StringVar(&rootName, "root-name", "", "name of the root node (default: SCF)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the dataset cache")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching")

	return cmd
}

func (c *CLI) runBuild(ctx context.Context, runner *pipeline.Runner, opts pipeline.Options, levels int) error {
	prog := newProgress(c.Logger)
	ds, _, hit, err := runner.LoadWithCacheInfo(ctx, opts)
	if err != nil {
		return err
	}
	built, err := runner.Build(ctx, ds, opts)
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Built hierarchy from %d records", len(ds.Records)))

	printSuccess("Hierarchy built")
	printStats(built.Tree.Len(), built.Skipped, hit)
	printKeyValue("Regimes", fmt.Sprintf("%d", len(built.Regimes)))
	if built.Skipped > 0 {
		printWarning("%d records without a control identifier or domain were skipped", built.Skipped)
	}
	if levels > 0 {
		printNewline()
		fmt.Println(hierarchyTree(built.Tree, built.Tree.RootID(), levels))
	}
	printNewline()
	printNextStep("Explore", appName+" explore "+opts.Source)
	return nil
}

// hierarchyTree renders the subtree of id down to levels below it.
func hierarchyTree(t *hierarchy.Tree, id, levels int) *tree.Tree {
	n, _ := t.Lookup(id)
	root := tree.Root(nodeLabel(n)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(StyleDim)
	addChildren(root, t, n, levels)
	return root
}

func addChildren(parent *tree.Tree, t *hierarchy.Tree, n *hierarchy.Node, levels int) {
	if levels <= 0 {
		return
	}
	for _, child := range t.Children(n.ID) {
		if child.IsLeaf() || levels == 1 {
			parent.Child(nodeLabel(child))
			continue
		}
		sub := tree.Root(nodeLabel(child))
		addChildren(sub, t, child, levels-1)
		parent.Child(sub)
	}
}

var kindStyles = map[hierarchy.Kind]lipgloss.Style{
	hierarchy.KindRoot:     StyleTitle,
	hierarchy.KindDomain:   StyleHighlight,
	hierarchy.KindCategory: StyleValue,
	hierarchy.KindControl:  StyleValue,
	hierarchy.KindMapping:  StyleDim,
}

func nodeLabel(n *hierarchy.Node) string {
	label := kindStyles[n.Kind].Render(n.Name)
	if n.FullName != "" && n.FullName != n.Name {
		label += " " + StyleDim.Render(n.FullName)
	}
	return label + " " + StyleNumber.Render(fmt.Sprintf("%.4g", n.Weight))
}
