package regime

import (
	"slices"
	"testing"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
)

func TestPresetColors(t *testing.T) {
	for name, hex := range Presets {
		if got := Color(name).Hex(); got != hex {
			t.Errorf("Color(%q) = %s, want %s", name, got, hex)
		}
	}
}

func TestHashColorDeterministic(t *testing.T) {
	names := []string{"ISO 27001 v2022", "SOC 2", "CCPA", ""}
	for _, name := range names {
		a, b := Color(name), Color(name)
		if a != b {
			t.Errorf("Color(%q) not deterministic: %v vs %v", name, a, b)
		}
		h, s, l := a.Hsl()
		if h < 0 || h >= 360 {
			t.Errorf("hue of %q = %v out of range", name, h)
		}
		if s < 0.69 || s > 0.90 {
			t.Errorf("saturation of %q = %v, want 0.70-0.89", name, s)
		}
		if l < 0.49 || l > 0.60 {
			t.Errorf("lightness of %q = %v, want 0.50-0.59", name, l)
		}
	}
	if Color("ISO 27001 v2022") == Color("SOC 2") {
		t.Error("distinct names should usually hash to distinct colors")
	}
}

func TestPaletteOverrides(t *testing.T) {
	p, err := NewPalette(map[string]string{"NIST CSF\n2.0": "#123456", "SOC 2": "#abcdef"})
	if err != nil {
		t.Fatalf("NewPalette() error: %v", err)
	}
	if got := p.Color("NIST CSF 2.0").Hex(); got != "#123456" {
		t.Errorf("override = %s, want #123456", got)
	}
	for _, raw := range []string{"NIST CSF\n2.0", "NIST  CSF 2.0", " NIST CSF 2.0\r\n"} {
		if got := p.Color(raw).Hex(); got != "#123456" {
			t.Errorf("Color(%q) = %s, want the override", raw, got)
		}
	}
	if got := p.Color("PCI DSS 4.0.1").Hex(); got != Presets["PCI DSS 4.0.1"] {
		t.Errorf("preset fallback = %s", got)
	}
	if len(p.Overrides()) != 2 {
		t.Errorf("Overrides() = %v", p.Overrides())
	}
	if _, err := NewPalette(map[string]string{"X": "not-a-color"}); err == nil {
		t.Error("NewPalette should reject invalid hex")
	}
}

func TestSelection(t *testing.T) {
	s := NewSelection("NIST CSF 2.0", "EMEA EU\nDORA", "  ")
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if !s.Contains("EMEA EU DORA") {
		t.Error("selection should normalize names")
	}
	if got := s.Names(); !slices.Equal(got, []string{"EMEA EU DORA", "NIST CSF 2.0"}) {
		t.Errorf("Names() = %v", got)
	}
	if s.Key() != "EMEA EU DORA|NIST CSF 2.0" {
		t.Errorf("Key() = %q", s.Key())
	}

	toggled := s.Toggle("NIST CSF 2.0")
	if toggled.Contains("NIST CSF 2.0") || !s.Contains("NIST CSF 2.0") {
		t.Error("Toggle should remove from a copy only")
	}
	if back := toggled.Toggle("NIST CSF 2.0"); !back.Equal(s) {
		t.Error("double toggle should restore the selection")
	}

	var empty Selection
	if empty.Contains("NIST CSF 2.0") || empty.Len() != 0 || empty.Key() != "" {
		t.Error("zero selection should be empty")
	}
}

func TestHighlighterStyle(t *testing.T) {
	h := Highlighter{Selection: NewSelection("NIST CSF 2.0")}

	active := &hierarchy.Node{Kind: hierarchy.KindMapping, Regime: "NIST CSF 2.0"}
	inactive := &hierarchy.Node{Kind: hierarchy.KindMapping, Regime: "PCI DSS 4.0.1"}
	domain := &hierarchy.Node{Kind: hierarchy.KindDomain}
	category := &hierarchy.Node{Kind: hierarchy.KindCategory}
	control := &hierarchy.Node{Kind: hierarchy.KindControl}

	tests := []struct {
		name     string
		node     *hierarchy.Node
		leaf     bool
		shell    bool
		hex      string
		opacity  float64
		emissive float64
		clicks   bool
	}{
		{"active mapping", active, true, false, "#5588ff", ActiveOpacity, ActiveEmissive, true},
		{"inactive mapping", inactive, true, false, "#ffffff", InactiveOpacity, 0, true},
		{"domain", domain, false, false, "#3b82f6", ContainerOpacity, 0, true},
		{"category", category, false, false, "#60a5fa", ContainerOpacity, 0, true},
		{"leaf control", control, true, false, "#ffffff", LeafOpacity, 0, true},
		{"shell", domain, false, true, "#3b82f6", ShellOpacity, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := h.Style(tt.node, tt.leaf, tt.shell)
			if s.Hex() != tt.hex {
				t.Errorf("color = %s, want %s", s.Hex(), tt.hex)
			}
			if s.Opacity != tt.opacity || s.Emissive != tt.emissive || s.Interactive != tt.clicks {
				t.Errorf("style = %+v", s)
			}
		})
	}
}

func TestHighlighterOutside(t *testing.T) {
	h := Highlighter{Selection: NewSelection("NIST CSF 2.0")}
	s := h.Outside(&hierarchy.Node{Kind: hierarchy.KindRoot})
	if s.Opacity != OutsideOpacity || !s.Interactive || s.Emissive != 0 {
		t.Errorf("outside style = %+v, want opaque and clickable", s)
	}
}

func TestParseCatalog(t *testing.T) {
	c := ParseCatalog([]string{
		"NIST\nCSF 2.0",
		"EMEA\nEU DORA",
		"EMEA\nEU GDPR",
		"NIST\r\nCSF 2.0",
		"SOC 2",
		"",
	})
	want := Catalog{
		{Regime: "SOC 2", Category: "", Name: "SOC 2"},
		{Regime: "EMEA EU DORA", Category: "EMEA", Name: "EU DORA"},
		{Regime: "EMEA EU GDPR", Category: "EMEA", Name: "EU GDPR"},
		{Regime: "NIST CSF 2.0", Category: "NIST", Name: "CSF 2.0"},
	}
	if !slices.Equal(c, want) {
		t.Errorf("ParseCatalog() = %+v\nwant %+v", c, want)
	}
	if got := c.Categories(); !slices.Equal(got, []string{"", "EMEA", "NIST"}) {
		t.Errorf("Categories() = %v", got)
	}
	if got := c.Names(); got[3] != "NIST CSF 2.0" {
		t.Errorf("Names() = %v", got)
	}
}
