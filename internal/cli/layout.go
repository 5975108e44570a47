package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/controlsphere/pkg/pipeline"
	"github.com/matzehuels/controlsphere/pkg/scene"
)

// sceneSuffix marks scene files written by the layout command.
const sceneSuffix = ".scene.json"

// layoutCommand creates the layout command for computing one view.
func (c *CLI) layoutCommand() *cobra.Command {
	var (
		output string
		flags  viewFlags
	)

	cmd := &cobra.Command{
		Use:   "layout [dataset]",
		Short: "Lay out one view of the hierarchy as scene JSON",
		Long: `Lay out one view of the hierarchy and write it as scene JSON.

Without --focus the root is shown from outside. With --focus the named
container is shown from inside, expanded --depth levels. The scene file can be
exported to DOT or SVG with 'render'.

Results are cached locally for faster subsequent runs.`,
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
			opts := flags.options(cmd, cfg, src)
			opts.Formats = []string{pipeline.FormatJSON}

			runner, err := c.newRunner(cmd.Context(), cfg, flags.noCache)
			if err != nil {
				return fmt.Errorf("initialize runner: %w", err)
			}
			defer runner.Close()
			return c.runLayout(cmd.Context(), runner, opts, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: <dataset>"+sceneSuffix+")")
	flags.register(cmd)

	return cmd
}

// runLayout computes the scene and writes it to output.
func (c *CLI) runLayout(ctx context.Context, runner *pipeline.Runner, opts pipeline.Options, output string) error {
	spinner := newSpinnerWithContext(ctx, "Computing layout...")
	spinner.Start()

	result, err := runner.Execute(ctx, opts)
	if err != nil {
		spinner.StopWithError("Layout failed")
		return err
	}
	spinner.Stop()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	outputPath := output
	if outputPath == "" {
		outputPath = defaultOutput(opts.Source, sceneSuffix)
	}
	if err := scene.WriteFile(result.Scene, outputPath); err != nil {
		return fmt.Errorf("write output %s: %w", outputPath, err)
	}

	printSuccess("Layout complete")
	printFile(outputPath)
	printStats(len(result.Scene.Nodes), result.Stats.Skipped, result.CacheInfo.SceneHit)
	printNewline()
	printNextStep("Render", appName+" render "+outputPath)

	return nil
}

// defaultOutput derives an output path from a source. URIs fall back to a
// file in the working directory.
func defaultOutput(src, suffix string) string {
	if strings.Contains(src, "://") {
		return "controls" + suffix
	}
	return strings.TrimSuffix(src, filepath.Ext(src)) + suffix
}
