// Package cache provides byte-level caching for datasets, scenes and render
// artifacts.
//
// Three backends implement [Cache]:
//   - [FileCache]: one JSON file per entry under a directory (CLI default)
//   - [RedisCache]: a shared Redis instance (server deployments)
//   - [NullCache]: stores nothing (caching disabled)
//
// Keys come from a [Keyer]. Layout results are keyed by the content hash of
// the dataset they were computed from, so data that changed on reload can
// never hit an old layout.
package cache

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Cache stores opaque byte values with an optional time to live.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores data under key. A ttl of zero never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// Close releases the backend.
	Close() error
}

// Time to live per entry type.
const (
	TTLDataset  = time.Hour
	TTLScene    = 7 * 24 * time.Hour
	TTLArtifact = 7 * 24 * time.Hour
)

// Key types reported to [observability.CacheHooks].
const (
	KeyTypeDataset  = "dataset"
	KeyTypeScene    = "scene"
	KeyTypeArtifact = "artifact"
)

// =============================================================================
// Keyer
// =============================================================================

// SceneKeyOpts are the inputs of a scene besides the dataset.
type SceneKeyOpts struct {
	Focus       []string `json:"focus"` // Focus path by name, root excluded
	Inside      bool     `json:"inside"`
	Depth       int      `json:"depth"`
	Selection   []string `json:"selection"`
	OnlyMapped  bool     `json:"only_mapped"`
	PhysicsHash string   `json:"physics"`
	PaletteHash string   `json:"palette,omitempty"`
}

// ArtifactKeyOpts are the render options of an artifact.
type ArtifactKeyOpts struct {
	Format string `json:"format"`
	Edges  bool   `json:"edges,omitempty"`
	Labels bool   `json:"labels,omitempty"`
}

// Keyer builds cache keys.
type Keyer interface {
	// DatasetKey identifies the raw dataset loaded from a source.
	DatasetKey(source string) string
	// SceneKey identifies a scene computed from a dataset with the given hash.
	SceneKey(datasetHash string, opts SceneKeyOpts) string
	// ArtifactKey identifies a rendered artifact of a scene.
	ArtifactKey(sceneHash string, opts ArtifactKeyOpts) string
}

// DefaultKeyer hashes key inputs so keys have a fixed length.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// DatasetKey returns "dataset:<hash>".
func (DefaultKeyer) DatasetKey(source string) string {
	return hashKey(KeyTypeDataset, source)
}

// SceneKey returns "scene:<hash>". Selection order does not matter.
func (DefaultKeyer) SceneKey(datasetHash string, opts SceneKeyOpts) string {
	opts.Selection = slices.Sorted(slices.Values(opts.Selection))
	return hashKey(KeyTypeScene, datasetHash, opts)
}

// ArtifactKey returns "artifact:<format>:<hash>".
func (DefaultKeyer) ArtifactKey(sceneHash string, opts ArtifactKeyOpts) string {
	return hashKey(fmt.Sprintf("%s:%s", KeyTypeArtifact, strings.ToLower(opts.Format)), sceneHash, opts)
}
