package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
	"github.com/matzehuels/controlsphere/pkg/pipeline"
)

// searchCommand finds nodes by name and prints their focus paths, which can
// be passed to --focus.
func (c *CLI) searchCommand() *cobra.Command {
	var (
		limit   int
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "search <term> [dataset]",
		Short: "Find controls, categories and domains by name",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := args[0]
			if err := apperrors.ValidateSearchQuery(term); err != nil {
				return err
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			src, err := sourceArg(args[1:], cfg)
			if err != nil {
				return err
			}
			runner, err := c.newRunner(cmd.Context(), cfg, noCache)
			if err != nil {
				return fmt.Errorf("initialize runner: %w", err)
			}
			defer runner.Close()

			opts := pipeline.Options{Source: src, RootName: cfg.Source.RootName}
			return c.runSearch(cmd.Context(), runner, opts, term, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of results (0 for all)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching")
	return cmd
}

func (c *CLI) runSearch(ctx context.Context, runner *pipeline.Runner, opts pipeline.Options, term string, limit int) error {
	ds, _, _, err := runner.LoadWithCacheInfo(ctx, opts)
	if err != nil {
		return err
	}
	built, err := runner.Build(ctx, ds, opts)
	if err != nil {
		return err
	}

	hits := built.Tree.Find(term)
	if len(hits) == 0 {
		printInfo("No matches for %q", term)
		return nil
	}
	shown := hits
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, n := range shown {
		fmt.Println(kindStyles[n.Kind].Render(n.Name) + " " + StyleDim.Render(n.Kind.String()))
		printDetail("%s", focusPath(built.Tree, n.ID))
	}
	if len(shown) < len(hits) {
		printNewline()
		printInfo("%d more, use --limit 0 to show all", len(hits)-len(shown))
	}
	return nil
}

// focusPath joins the names below the root on the path to id, in the form
// accepted by --focus.
func focusPath(t *hierarchy.Tree, id int) string {
	path := t.Path(id)
	if len(path) == 0 {
		return ""
	}
	names := make([]string, 0, len(path))
	for _, n := range path[1:] {
		names = append(names, n.Name)
	}
	return strings.Join(names, focusSeparator)
}
