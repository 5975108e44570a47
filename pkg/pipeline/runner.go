package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/controlsphere/pkg/cache"
	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/layout"
	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
	"github.com/matzehuels/controlsphere/pkg/observability"
	"github.com/matzehuels/controlsphere/pkg/scene"
	"github.com/matzehuels/controlsphere/pkg/source"
)

// Runner encapsulates pipeline execution with caching.
// Both CLI and server use it so caching logic lives in one place.
//
// Besides the cache the runner keeps one [layout.Engine] per physics
// configuration, so repeated runs reuse settled subtree simulations.
// Multiple goroutines can safely use the same Runner with different options.
type Runner struct {
	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger

	mu      sync.Mutex
	engines map[string]*layout.Engine
}

// NewRunner creates a runner with the given cache and keyer.
// If keyer is nil, a DefaultKeyer is used.
// If cache is nil, a NullCache is used (caching disabled).
func NewRunner(c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Cache:   c,
		Keyer:   keyer,
		Logger:  logger,
		engines: make(map[string]*layout.Engine),
	}
}

// Execute runs the complete load → build → layout → render pipeline.
func (r *Runner) Execute(ctx context.Context, opts Options) (*Result, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}

	result := &Result{}

	// Stage 1: Load
	loadStart := time.Now()
	ds, hash, hit, err := r.LoadWithCacheInfo(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	result.Dataset = ds
	result.DatasetHash = hash
	result.CacheInfo.DatasetHit = hit
	result.Stats.Records = len(ds.Records)
	result.Stats.LoadTime = time.Since(loadStart)

	r.Logger.Info("loaded dataset",
		"records", len(ds.Records),
		"cached", hit,
		"duration", result.Stats.LoadTime)

	// Stage 2: Build
	buildStart := time.Now()
	built, err := r.Build(ctx, ds, opts)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	result.Build = built
	result.Stats.Skipped = built.Skipped
	result.Stats.NodeCount = built.Tree.Len()
	result.Stats.BuildTime = time.Since(buildStart)

	// Stage 3: Layout
	layoutStart := time.Now()
	sc, hit, err := r.SceneWithCacheInfo(ctx, built.Tree, hash, opts)
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	result.Scene = sc
	result.CacheInfo.SceneHit = hit
	result.Stats.Placed = len(sc.Nodes)
	result.Stats.LayoutTime = time.Since(layoutStart)

	r.Logger.Info("computed layout",
		"nodes", len(sc.Nodes),
		"cached", hit,
		"duration", result.Stats.LayoutTime)

	// Stage 4: Render
	renderStart := time.Now()
	artifacts, hit, err := r.RenderWithCacheInfo(ctx, sc, opts)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	result.Artifacts = artifacts
	result.CacheInfo.RenderHit = hit
	result.Stats.RenderTime = time.Since(renderStart)

	r.Logger.Info("rendered outputs",
		"formats", opts.Formats,
		"duration", result.Stats.RenderTime)

	return result, nil
}

// =============================================================================
// Load
// =============================================================================

// LoadWithCacheInfo returns the dataset, its content hash and whether it came
// from the cache. File datasets are always read from disk; datasets from
// remote sources are cached for [cache.TTLDataset].
func (r *Runner) LoadWithCacheInfo(ctx context.Context, opts Options) (*source.Dataset, string, bool, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateForLoad(); err != nil {
		return nil, "", false, err
	}
	if opts.Dataset != nil {
		hash, err := datasetHash(opts.Dataset)
		return opts.Dataset, hash, false, err
	}

	src, err := source.Open(opts.Source)
	if err != nil {
		return nil, "", false, err
	}
	_, isFile := src.(*source.JSONFile)
	cacheable := !isFile && !opts.Refresh
	cacheKey := r.Keyer.DatasetKey(src.Name())

	if cacheable {
		if data, ok := r.cacheGet(ctx, cache.KeyTypeDataset, cacheKey); ok {
			if ds, err := source.DecodeJSON(bytes.NewReader(data)); err == nil {
				return ds, cache.Hash(data), true, nil
			}
		}
	}

	ds, err := src.Load(ctx)
	if err != nil {
		return nil, "", false, err
	}
	data, err := source.Marshal(ds)
	if err != nil {
		return nil, "", false, apperrors.Wrap(apperrors.ErrCodeInternal, err, "encode dataset")
	}
	if !isFile {
		r.cacheSet(ctx, cache.KeyTypeDataset, cacheKey, data, cache.TTLDataset)
	}
	return ds, cache.Hash(data), false, nil
}

// Load is a convenience wrapper that calls LoadWithCacheInfo and discards the
// hash and cache hit info.
func (r *Runner) Load(ctx context.Context, opts Options) (*source.Dataset, error) {
	ds, _, _, err := r.LoadWithCacheInfo(ctx, opts)
	return ds, err
}

func datasetHash(ds *source.Dataset) (string, error) {
	data, err := source.Marshal(ds)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, err, "encode dataset")
	}
	return cache.Hash(data), nil
}

// =============================================================================
// Build
// =============================================================================

// Build aggregates the dataset into a hierarchy. Unless opts.GlobalIDs is
// set, node ids are numbered from 1 so that the same dataset always yields
// the same ids.
func (r *Runner) Build(ctx context.Context, ds *source.Dataset, opts Options) (res *hierarchy.Result, err error) {
	r.applyLogger(&opts)
	name := opts.Source
	if name == "" {
		name = "dataset"
	}

	start := time.Now()
	observability.Pipeline().OnBuildStart(ctx, name)
	defer func() {
		nodes, skipped := 0, 0
		if res != nil {
			nodes, skipped = res.Tree.Len(), res.Skipped
		}
		observability.Pipeline().OnBuildComplete(ctx, name, nodes, skipped, time.Since(start), err)
	}()

	ids := sequentialIDs()
	if opts.GlobalIDs {
		ids = hierarchy.NextID
	}
	res = hierarchy.Build(ds.Records, hierarchy.Options{
		RootName:           opts.RootName,
		DomainDescriptions: ds.DomainDescriptions,
		IDs:                ids,
	})
	if res.Skipped > 0 {
		opts.Logger.Warn("skipped records without control id or domain", "count", res.Skipped)
	}
	if err := res.Tree.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, err, "invalid hierarchy")
	}
	opts.Logger.Debug("built hierarchy",
		"nodes", res.Tree.Len(),
		"regimes", len(res.Regimes),
		"duration", time.Since(start))
	return res, nil
}

// =============================================================================
// Layout
// =============================================================================

// Engine returns the layout engine for the given physics, creating it on
// first use.
func (r *Runner) Engine(physics layout.Options) (*layout.Engine, error) {
	physics.SetDefaults()
	key := physicsHash(physics)

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[key]; ok {
		return e, nil
	}
	e, err := layout.NewEngine(physics, r.Logger)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "layout engine")
	}
	if r.engines == nil {
		r.engines = make(map[string]*layout.Engine)
	}
	r.engines[key] = e
	return e, nil
}

// SceneWithCacheInfo lays out the view with caching and returns cache hit
// info. datasetHash keys the cache; pass the hash returned by
// [Runner.LoadWithCacheInfo].
func (r *Runner) SceneWithCacheInfo(ctx context.Context, tree *hierarchy.Tree, datasetHash string, opts Options) (*scene.Scene, bool, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateForLayout(); err != nil {
		return nil, false, err
	}

	cacheKey := r.Keyer.SceneKey(datasetHash, opts.SceneKeyOpts())
	if !opts.Refresh {
		if data, ok := r.cacheGet(ctx, cache.KeyTypeScene, cacheKey); ok {
			if sc, err := scene.Unmarshal(data); err == nil {
				return sc, true, nil
			}
			// If deserialization fails, fall through to recompute
		}
	}

	engine, err := r.Engine(opts.Physics)
	if err != nil {
		return nil, false, err
	}
	sc, err := ComputeScene(ctx, tree, engine, opts)
	if err != nil {
		return nil, false, err
	}

	if data, err := scene.Marshal(sc); err == nil {
		r.cacheSet(ctx, cache.KeyTypeScene, cacheKey, data, cache.TTLScene)
	}
	return sc, false, nil
}

// Scene is a convenience wrapper that calls SceneWithCacheInfo and discards
// the cache hit info.
func (r *Runner) Scene(ctx context.Context, tree *hierarchy.Tree, datasetHash string, opts Options) (*scene.Scene, error) {
	sc, _, err := r.SceneWithCacheInfo(ctx, tree, datasetHash, opts)
	return sc, err
}

// =============================================================================
// Render
// =============================================================================

// RenderWithCacheInfo renders artifacts with caching and returns cache hit
// info.
func (r *Runner) RenderWithCacheInfo(ctx context.Context, sc *scene.Scene, opts Options) (artifacts map[string][]byte, hit bool, err error) {
	r.applyLogger(&opts)
	if err := opts.ValidateForRender(); err != nil {
		return nil, false, err
	}

	start := time.Now()
	observability.Pipeline().OnRenderStart(ctx, opts.Formats)
	defer func() {
		observability.Pipeline().OnRenderComplete(ctx, opts.Formats, time.Since(start), err)
	}()

	sceneData, err := scene.Marshal(sc)
	if err != nil {
		return nil, false, fmt.Errorf("serialize scene for cache key: %w", err)
	}
	sceneHash := cache.Hash(sceneData)

	// Try to get all formats from cache
	artifacts = make(map[string][]byte, len(opts.Formats))
	for _, format := range opts.Formats {
		key := r.Keyer.ArtifactKey(sceneHash, opts.ArtifactKeyOpts(format))
		data, ok := r.cacheGet(ctx, cache.KeyTypeArtifact, key)
		if !ok {
			break
		}
		artifacts[format] = data
	}
	if len(artifacts) == len(opts.Formats) {
		return artifacts, true, nil
	}

	rendered, err := Render(ctx, sc, opts)
	if err != nil {
		return nil, false, err
	}
	for format, data := range rendered {
		key := r.Keyer.ArtifactKey(sceneHash, opts.ArtifactKeyOpts(format))
		r.cacheSet(ctx, cache.KeyTypeArtifact, key, data, cache.TTLArtifact)
	}
	return rendered, false, nil
}

// Render is a convenience wrapper that calls RenderWithCacheInfo and discards
// the cache hit info.
func (r *Runner) Render(ctx context.Context, sc *scene.Scene, opts Options) (map[string][]byte, error) {
	artifacts, _, err := r.RenderWithCacheInfo(ctx, sc, opts)
	return artifacts, err
}

// =============================================================================
// Helpers
// =============================================================================

// Close releases resources held by the runner (primarily the cache).
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}

func (r *Runner) cacheGet(ctx context.Context, keyType, key string) ([]byte, bool) {
	data, hit, err := r.Cache.Get(ctx, key)
	if err != nil {
		r.Logger.Debug("cache read failed", "key", key, "error", err)
	}
	if err != nil || !hit {
		observability.Cache().OnCacheMiss(ctx, keyType)
		return nil, false
	}
	observability.Cache().OnCacheHit(ctx, keyType)
	return data, true
}

func (r *Runner) cacheSet(ctx context.Context, keyType, key string, data []byte, ttl time.Duration) {
	if err := r.Cache.Set(ctx, key, data, ttl); err != nil {
		r.Logger.Debug("cache write failed", "key", key, "error", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, keyType, len(data))
}

// applyLogger sets the runner's logger on options if not already set.
func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}
