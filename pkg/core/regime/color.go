// Package regime maps regulatory regimes to colors and decides how nodes are
// highlighted for a regime selection.
//
// Well-known regimes have fixed preset colors. Any other regime name gets a
// color derived from its 32-bit FNV-1a hash, so the same name always renders
// in the same color without configuration.
package regime

import (
	"fmt"
	"hash/fnv"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
)

// Presets holds the built-in regime colors.
var Presets = map[string]string{
	"EMEA EU DORA":                             "#ff0055",
	"NIST 800-63B":                             "#00ffee",
	"NIST CSF 2.0":                             "#5588ff",
	"EMEA EU GDPR":                             "#ffaa00",
	"HIPAA Administrative Simplification 2013": "#00ff44",
	"PCI DSS 4.0.1":                            "#aa00ff",
}

// Base colors for nodes that are not highlighted by a regime.
var (
	DomainColor   = mustHex("#3b82f6")
	CategoryColor = mustHex("#60a5fa")
	NeutralColor  = mustHex("#ffffff")
)

// Palette resolves regime colors. The zero value uses [Presets] only.
type Palette struct {
	overrides map[string]colorful.Color
}

// NewPalette creates a palette whose overrides take precedence over the
// presets. Override values are hex strings ("#rrggbb").
func NewPalette(overrides map[string]string) (*Palette, error) {
	p := &Palette{overrides: make(map[string]colorful.Color, len(overrides))}
	for name, hex := range overrides {
		c, err := colorful.Hex(hex)
		if err != nil {
			return nil, fmt.Errorf("regime %q: invalid color %q: %w", name, hex, err)
		}
		p.overrides[hierarchy.NormalizeRegime(name)] = c
	}
	return p, nil
}

// Color returns the color of a regime. The name is normalized first, so raw
// header text finds the same color as the tree's regime names.
func (p *Palette) Color(name string) colorful.Color {
	name = hierarchy.NormalizeRegime(name)
	if p != nil {
		if c, ok := p.overrides[name]; ok {
			return c
		}
	}
	if hex, ok := Presets[name]; ok {
		return mustHex(hex)
	}
	return HashColor(name)
}

// Overrides returns a copy of the configured overrides as hex strings.
func (p *Palette) Overrides() map[string]string {
	out := make(map[string]string)
	if p == nil {
		return out
	}
	for name, c := range p.overrides {
		out[name] = c.Hex()
	}
	return out
}

// Color returns the color of a regime using the default palette.
func Color(name string) colorful.Color {
	var p *Palette
	return p.Color(name)
}

// HashColor derives a color from the FNV-1a hash h of name:
// hue h mod 360, saturation 70+(h mod 20) percent, lightness 50+(h mod 10) percent.
func HashColor(name string) colorful.Color {
	f := fnv.New32a()
	f.Write([]byte(name))
	h := f.Sum32()

	hue := float64(h % 360)
	sat := float64(70+h%20) / 100
	light := float64(50+h%10) / 100
	return colorful.Hsl(hue, sat, light).Clamped()
}

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}
