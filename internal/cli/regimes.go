package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
	"github.com/matzehuels/controlsphere/pkg/pipeline"
)

// regimesCommand lists the regulatory regimes of a dataset with their colors
// and mapping counts.
func (c *CLI) regimesCommand() *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "regimes [dataset]",
		Short: "List the regimes of a dataset",
		Long: `List the regulatory regimes of a dataset with their category, color and
number of mappings. Regimes selected in the config file are marked.`,
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
			palette, err := cfg.Palette()
			if err != nil {
				return err
			}
			runner, err := c.newRunner(cmd.Context(), cfg, noCache)
			if err != nil {
				return fmt.Errorf("initialize runner: %w", err)
			}
			defer runner.Close()

			opts := pipeline.Options{Source: src, RootName: cfg.Source.RootName}
			return c.runRegimes(cmd.Context(), runner, opts, palette, cfg.View.Selection())
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching")
	return cmd
}

func (c *CLI) runRegimes(ctx context.Context, runner *pipeline.Runner, opts pipeline.Options, palette *regime.Palette, sel regime.Selection) error {
	ds, _, _, err := runner.LoadWithCacheInfo(ctx, opts)
	if err != nil {
		return err
	}
	built, err := runner.Build(ctx, ds, opts)
	if err != nil {
		return err
	}

	catalog := regime.ParseCatalog(ds.Regimes)
	if len(catalog) == 0 {
		catalog = regime.ParseCatalog(built.Regimes)
	}
	if len(catalog) == 0 {
		printInfo("No regimes in %s", opts.Source)
		return nil
	}

	fmt.Println(regimeTable(catalog, mappingCounts(built.Tree), palette, sel))
	printDetail("%d regimes, %d selected", len(catalog), sel.Len())
	return nil
}

// mappingCounts counts mapping nodes per regime.
func mappingCounts(t *hierarchy.Tree) map[string]int {
	counts := make(map[string]int)
	for _, n := range t.Nodes() {
		if n.Kind == hierarchy.KindMapping {
			counts[n.Regime]++
		}
	}
	return counts
}

func regimeTable(catalog regime.Catalog, counts map[string]int, palette *regime.Palette, sel regime.Selection) *table.Table {
	header := lipgloss.NewStyle().Bold(true).Foreground(colorGray).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(StyleDim).
		Headers("", "REGIME", "CATEGORY", "MAPPINGS", "").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			if col == 3 {
				return cell.Align(lipgloss.Right)
			}
			return cell
		})

	for _, e := range catalog {
		mark := ""
		if sel.Contains(e.Regime) {
			mark = StyleSuccess.Render(iconSuccess)
		}
		t.Row(
			swatch(palette.Color(e.Regime).Hex()),
			e.Regime,
			e.Category,
			strconv.Itoa(counts[e.Regime]),
			mark,
		)
	}
	return t
}
