// Package pipeline provides the load → build → layout → render pipeline for
// controlsphere.
//
// The CLI and the HTTP server share this package so that datasets, scenes
// and artifacts are computed and cached the same way everywhere.
//
// # Architecture
//
// The pipeline consists of four stages:
//
//  1. Load: Read a [source.Dataset] from a JSON file or MongoDB
//  2. Build: Aggregate the records into a [hierarchy.Tree]
//  3. Layout: Place the depth window around a focus and build a [scene.Scene]
//  4. Render: Encode the scene as JSON, DOT or SVG
//
// Datasets from remote sources, scenes and artifacts are cached. Scene and
// artifact keys are derived from the dataset content hash, so a changed
// dataset never reuses an old layout.
//
// # Usage
//
//	runner := pipeline.NewRunner(cache, nil, logger)
//	result, err := runner.Execute(ctx, pipeline.Options{
//	    Source:  "data/controls.json",
//	    Focus:   []string{"Governance"},
//	    Formats: []string{"svg"},
//	})
//	svg := result.Artifacts["svg"]
package pipeline

import (
	"encoding/json"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/controlsphere/pkg/cache"
	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/layout"
	"github.com/matzehuels/controlsphere/pkg/core/nav"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
	"github.com/matzehuels/controlsphere/pkg/scene"
	"github.com/matzehuels/controlsphere/pkg/source"
)

// =============================================================================
// Default Values
// =============================================================================

// DefaultDepth is the number of levels expanded below the focus.
const DefaultDepth = nav.DefaultDepthWindow

// Format constants for output formats.
const (
	FormatJSON = "json"
	FormatDOT  = "dot"
	FormatSVG  = "svg"
)

// ValidFormats lists the supported output formats.
var ValidFormats = []string{FormatJSON, FormatDOT, FormatSVG}

// ValidateFormats checks that all formats are supported.
func ValidateFormats(formats []string) error {
	for _, f := range formats {
		if err := apperrors.ValidateFormat(f, ValidFormats); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Options - Pipeline Configuration
// =============================================================================

// Options contains all configuration for a pipeline run.
type Options struct {
	// Load options
	Source   string `json:"source"`
	RootName string `json:"root_name,omitempty"`
	Refresh  bool   `json:"refresh,omitempty"` // Bypass the dataset and scene caches

	// Layout options
	Focus      []string       `json:"focus,omitempty"` // Focus path by name below the root
	// FromInside views an empty focus path from inside the root instead of
	// as the single outside bubble.
	FromInside bool           `json:"inside,omitempty"`
	Depth      int            `json:"depth,omitempty"`
	Regimes    []string       `json:"regimes,omitempty"`
	OnlyMapped bool           `json:"only_mapped,omitempty"`
	Physics    layout.Options `json:"physics"`

	// Render options
	Formats []string          `json:"formats,omitempty"`
	Colors  map[string]string `json:"colors,omitempty"`
	Edges   bool              `json:"edges,omitempty"`
	Labels  bool              `json:"labels,omitempty"`

	// Runtime options (not serialized)
	Logger *log.Logger `json:"-"`
	// Dataset skips the load stage when set.
	Dataset *source.Dataset `json:"-"`
	// GlobalIDs draws node ids from [hierarchy.NextID] instead of numbering
	// each build from 1. Set it when trees are swapped into a long-lived
	// [nav.Navigator], which tells old and new nodes apart by id.
	GlobalIDs bool `json:"-"`

	validated bool
}

// Result contains the outputs of a pipeline run.
type Result struct {
	Dataset *source.Dataset

	// DatasetHash is the content hash of the dataset.
	DatasetHash string

	// Build is the hierarchy built from the dataset.
	Build *hierarchy.Result

	// Scene is the laid out view. On a scene cache hit it carries the
	// revision of the run that computed it, not Build.Tree.Revision.
	Scene *scene.Scene

	// Artifacts contains rendered outputs keyed by format.
	Artifacts map[string][]byte

	Stats     Stats
	CacheInfo CacheInfo
}

// Stats contains pipeline execution statistics.
type Stats struct {
	Records    int
	Skipped    int
	NodeCount  int
	Placed     int
	LoadTime   time.Duration
	BuildTime  time.Duration
	LayoutTime time.Duration
	RenderTime time.Duration
}

// CacheInfo tracks cache hits for each pipeline stage.
type CacheInfo struct {
	DatasetHit bool
	SceneHit   bool
	RenderHit  bool // Whether all artifacts came from cache
}

// =============================================================================
// Options Methods
// =============================================================================

// ValidateAndSetDefaults checks required fields and applies defaults for the
// full pipeline. It is idempotent.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if err := o.ValidateForLoad(); err != nil {
		return err
	}
	if err := o.ValidateForLayout(); err != nil {
		return err
	}
	if err := o.ValidateForRender(); err != nil {
		return err
	}
	o.validated = true
	return nil
}

// ValidateForLoad checks the source.
func (o *Options) ValidateForLoad() error {
	if o.Dataset == nil && o.Source == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "source is required")
	}
	o.setLogger()
	return nil
}

// ValidateForLayout applies layout defaults and checks the view options.
func (o *Options) ValidateForLayout() error {
	if o.Depth == 0 {
		o.Depth = DefaultDepth
	}
	if o.Depth < 1 {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "depth must be at least 1, got %d", o.Depth)
	}
	if o.Regimes == nil {
		o.Regimes = regime.DefaultSelection
	}
	for _, r := range o.Regimes {
		if err := apperrors.ValidateRegimeName(r); err != nil {
			return err
		}
	}
	o.Physics.SetDefaults()
	if err := o.Physics.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "physics")
	}
	o.setLogger()
	return nil
}

// ValidateForRender applies render defaults and checks formats.
func (o *Options) ValidateForRender() error {
	if len(o.Formats) == 0 {
		o.Formats = []string{FormatJSON}
	}
	o.setLogger()
	return ValidateFormats(o.Formats)
}

func (o *Options) setLogger() {
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
}

// Inside reports whether the scene is viewed from inside its focus. Any
// focus path below the root puts the camera inside.
func (o *Options) Inside() bool {
	return o.FromInside || len(o.Focus) > 0
}

// Selection returns the regime selection.
func (o *Options) Selection() regime.Selection {
	return regime.NewSelection(o.Regimes...)
}

// SceneKeyOpts returns cache key options for the scene.
func (o *Options) SceneKeyOpts() cache.SceneKeyOpts {
	return cache.SceneKeyOpts{
		Focus:       o.Focus,
		Inside:      o.Inside(),
		Depth:       o.Depth,
		Selection:   o.Selection().Names(),
		OnlyMapped:  o.OnlyMapped,
		PhysicsHash: physicsHash(o.Physics),
		PaletteHash: o.colorsHash(),
	}
}

// ArtifactKeyOpts returns cache key options for rendering one format.
func (o *Options) ArtifactKeyOpts(format string) cache.ArtifactKeyOpts {
	return cache.ArtifactKeyOpts{
		Format: format,
		Edges:  o.Edges,
		Labels: o.Labels,
	}
}

// Palette builds the palette for the color overrides.
func (o *Options) Palette() (*regime.Palette, error) {
	p, err := regime.NewPalette(o.Colors)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "colors")
	}
	return p, nil
}

func (o *Options) colorsHash() string {
	if len(o.Colors) == 0 {
		return ""
	}
	data, _ := json.Marshal(o.Colors) // map keys are sorted by encoding/json
	return cache.Hash(data)
}

// physicsHash identifies a set of layout options.
func physicsHash(opts layout.Options) string {
	data, _ := json.Marshal(opts)
	return cache.Hash(data)[:16]
}
