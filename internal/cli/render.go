package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/controlsphere/pkg/pipeline"
	"github.com/matzehuels/controlsphere/pkg/scene"
)

// renderCommand creates the render command. It accepts either a dataset,
// which is laid out first, or a scene file written by 'layout'.
func (c *CLI) renderCommand() *cobra.Command {
	var (
		output  string
		formats string
		edges   bool
		labels  bool
		flags   viewFlags
	)

	cmd := &cobra.Command{
		Use:   "render [dataset | file" + sceneSuffix + "]",
		Short: "Export a view as JSON, DOT or SVG",
		Long: `Export a view of the hierarchy as scene JSON, Graphviz DOT or SVG.

The input is a dataset, laid out with the view flags, or a scene file produced
by 'layout', which is exported as is. The SVG is a flat projection of the
spheres onto the XY plane.`,
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
			opts.Formats = parseFormats(formats)
			opts.Edges = edges
			opts.Labels = labels
			if err := pipeline.ValidateFormats(opts.Formats); err != nil {
				return err
			}

			runner, err := c.newRunner(cmd.Context(), cfg, flags.noCache)
			if err != nil {
				return fmt.Errorf("initialize runner: %w", err)
			}
			defer runner.Close()

			if strings.HasSuffix(src, sceneSuffix) {
				return c.runRenderScene(cmd.Context(), runner, src, opts, output)
			}
			return c.runRender(cmd.Context(), runner, opts, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (single format) or base path (multiple)")
	cmd.Flags().StringVarP(&formats, "format", "f", "", "output format(s): svg (default), json, dot (comma-separated)")
	cmd.Flags().BoolVar(&edges, "edges", false, "draw parent-child edges")
	cmd.Flags().BoolVar(&labels, "labels", false, "label every sphere, not only leaves")
	flags.register(cmd)

	return cmd
}

// runRender executes the full pipeline and writes every artifact.
func (c *CLI) runRender(ctx context.Context, runner *pipeline.Runner, opts pipeline.Options, output string) error {
	spinner := newSpinnerWithContext(ctx, "Rendering...")
	spinner.Start()

	result, err := runner.Execute(ctx, opts)
	if err != nil {
		spinner.StopWithError("Render failed")
		return err
	}
	spinner.Stop()

	paths, err := writeArtifacts(result.Artifacts, opts.Formats, basePath(output, opts.Source))
	if err != nil {
		return err
	}

	printSuccess("Render complete")
	for _, p := range paths {
		printFile(p)
	}
	printStats(len(result.Scene.Nodes), result.Stats.Skipped, result.CacheInfo.RenderHit)
	return nil
}

// runRenderScene exports an existing scene file.
func (c *CLI) runRenderScene(ctx context.Context, runner *pipeline.Runner, input string, opts pipeline.Options, output string) error {
	sc, err := scene.ReadFile(input)
	if err != nil {
		return err
	}
	c.Logger.Debug("loaded scene", "path", input, "nodes", len(sc.Nodes), "focus", sc.FocusID)

	artifacts, hit, err := runner.RenderWithCacheInfo(ctx, sc, opts)
	if err != nil {
		return err
	}
	paths, err := writeArtifacts(artifacts, opts.Formats, basePath(output, strings.TrimSuffix(input, sceneSuffix)))
	if err != nil {
		return err
	}

	printSuccess("Render complete")
	for _, p := range paths {
		printFile(p)
	}
	printStats(len(sc.Nodes), 0, hit)
	return nil
}

// writeArtifacts writes one file per format as <base>.<format> and returns
// the paths in format order.
func writeArtifacts(artifacts map[string][]byte, formats []string, base string) ([]string, error) {
	paths := make([]string, 0, len(formats))
	for _, format := range formats {
		path := base + "." + format
		if err := os.WriteFile(path, artifacts[format], 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// basePath derives the base output path from the output and input paths.
// If output is empty, it strips the extension from input.
// If output has a format extension (.svg, .dot, .json), it strips that
// extension.
func basePath(output, input string) string {
	if output == "" {
		return defaultOutput(input, "")
	}
	ext := filepath.Ext(output)
	for _, f := range pipeline.ValidFormats {
		if ext == "."+f {
			return strings.TrimSuffix(output, ext)
		}
	}
	return output
}
