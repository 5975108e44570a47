package scene

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
)

// DefaultUnitsPerInch maps layout units to Graphviz inches: one unit is one
// point.
const DefaultUnitsPerInch = 72.0

// DOTOptions configures [ToDOT].
type DOTOptions struct {
	// UnitsPerInch scales layout coordinates. Zero uses DefaultUnitsPerInch.
	UnitsPerInch float64
	// Edges draws containment edges as dashed lines.
	Edges bool
	// Labels names every sphere, not only leaves and collapsed containers.
	Labels bool
}

// ToDOT projects the scene onto the XY plane as a neato graph with pinned
// node positions. Spheres become fixed-size circles; parents are emitted
// before their children so they are painted underneath.
func ToDOT(s *Scene, opts DOTOptions) string {
	scale := opts.UnitsPerInch
	if scale <= 0 {
		scale = DefaultUnitsPerInch
	}

	var buf bytes.Buffer
	buf.WriteString("graph G {\n")
	buf.WriteString("  layout=neato;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  outputorder=nodesfirst;\n")
	buf.WriteString("  node [shape=circle, fixedsize=true, style=filled, penwidth=0.5, fontname=\"Helvetica\"];\n")
	buf.WriteString("  edge [style=dashed, color=\"#9ca3af\"];\n")
	buf.WriteString("\n")

	for _, n := range s.Nodes {
		fmt.Fprintf(&buf, "  %d [%s];\n", n.ID, strings.Join(nodeAttrs(n, scale, opts.Labels), ", "))
	}

	if opts.Edges && len(s.Edges) > 0 {
		buf.WriteString("\n")
		for _, e := range s.Edges {
			fmt.Fprintf(&buf, "  %d -- %d;\n", e.ParentID, e.ChildID)
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func nodeAttrs(n Node, scale float64, labels bool) []string {
	d := 2 * n.Radius / scale
	attrs := []string{
		fmt.Sprintf("pos=\"%.4f,%.4f!\"", n.World.X/scale, n.World.Y/scale),
		fmt.Sprintf("width=%.4f", d),
		fmt.Sprintf("height=%.4f", d),
		fmt.Sprintf("fillcolor=%q", withAlpha(n.Color, n.Opacity)),
		fmt.Sprintf("tooltip=%q", tooltip(n)),
	}
	if labels || n.IsLeaf || !n.Expanded {
		attrs = append(attrs,
			fmt.Sprintf("label=%q", n.Name),
			fmt.Sprintf("fontsize=%.1f", max(6, n.Radius*0.4)))
	} else {
		attrs = append(attrs, "label=\"\"", fmt.Sprintf("xlabel=%q", n.Name))
	}
	if n.Shell {
		attrs = append(attrs, "style=\"filled,dashed\"")
	}
	return attrs
}

func tooltip(n Node) string {
	if n.Kind == hierarchy.KindMapping {
		return n.FullName
	}
	return fmt.Sprintf("%s (%.1f%%)", n.FullName, n.Share)
}

// withAlpha appends an alpha channel to a "#rrggbb" color.
func withAlpha(hex string, opacity float64) string {
	if len(hex) != 7 {
		return hex
	}
	a := int(min(max(opacity, 0), 1)*255 + 0.5)
	return fmt.Sprintf("%s%02x", hex, a)
}

// RenderSVG renders a DOT graph produced by [ToDOT] to SVG using the neato
// engine.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.NEATO)

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox replaces the fixed pt dimensions Graphviz emits with a
// plain viewBox so the SVG scales with its container.
func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	tag := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)
	return svgTagRe.ReplaceAll(svg, []byte(tag))
}
