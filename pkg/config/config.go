// Package config loads controlsphere settings.
//
// Settings are resolved in three layers, later layers winning:
//
//  1. Defaults ([Default])
//  2. A TOML file
//  3. CONTROLSPHERE_* environment variables
//
// The result is validated with struct tags. Command line flags are applied by
// the CLI after loading.
//
// Example file:
//
//	[source]
//	uri = "data/controls.json"
//
//	[physics]
//	repulsion_strength = -300
//	bounds_scale = 1.2
//
//	[view]
//	depth_window = 2
//	regimes = ["NIST CSF 2.0", "PCI DSS 4.0.1"]
//
//	[colors]
//	"NIST CSF 2.0" = "#26b3d9"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/matzehuels/controlsphere/pkg/core/layout"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
)

// EnvPrefix prefixes every environment variable read by [Load].
const EnvPrefix = "CONTROLSPHERE_"

// FileName is the config file looked up by [Find].
const FileName = "controlsphere.toml"

// =============================================================================
// Config
// =============================================================================

// Config is the complete configuration.
type Config struct {
	Source  Source            `toml:"source" envPrefix:"SOURCE_"`
	Physics Physics           `toml:"physics" envPrefix:"PHYSICS_"`
	View    View              `toml:"view" envPrefix:"VIEW_"`
	Colors  map[string]string `toml:"colors" validate:"dive,keys,required,endkeys,hexcolor"`
	Cache   Cache             `toml:"cache" envPrefix:"CACHE_"`
	Server  Server            `toml:"server" envPrefix:"SERVER_"`
}

// Source selects the dataset.
type Source struct {
	// URI is a file path or a mongodb:// URI.
	URI      string `toml:"uri" env:"URI"`
	RootName string `toml:"root_name" env:"ROOT_NAME"`
}

// Physics holds the layout simulation parameters that users tune.
type Physics struct {
	RepulsionStrength float64 `toml:"repulsion_strength" env:"REPULSION_STRENGTH" validate:"lte=0"`
	LinkDistanceBase  float64 `toml:"link_distance_base" env:"LINK_DISTANCE_BASE" validate:"gte=0"`
	BoundsScale       float64 `toml:"bounds_scale" env:"BOUNDS_SCALE" validate:"gte=1"`
	CollisionPadding  float64 `toml:"collision_padding" env:"COLLISION_PADDING" validate:"gte=0"`
	Iterations        int     `toml:"iterations" env:"ITERATIONS" validate:"gte=1,lte=10000"`
	Seed              uint64  `toml:"seed" env:"SEED"`
}

// View holds what is shown.
type View struct {
	DepthWindow int      `toml:"depth_window" env:"DEPTH_WINDOW" validate:"gte=1,lte=8"`
	Regimes     []string `toml:"regimes" env:"REGIMES" envSeparator:"," validate:"dive,required"`
	OnlyMapped  bool     `toml:"only_mapped" env:"ONLY_MAPPED"`
}

// Equal reports whether two views show the same thing.
func (v View) Equal(o View) bool {
	return v.DepthWindow == o.DepthWindow && v.OnlyMapped == o.OnlyMapped && slices.Equal(v.Regimes, o.Regimes)
}

// Selection returns the configured regimes as a selection.
func (v View) Selection() regime.Selection {
	return regime.NewSelection(v.Regimes...)
}

// Cache selects the cache backend.
type Cache struct {
	Backend  string `toml:"backend" env:"BACKEND" validate:"oneof=file redis none"`
	Dir      string `toml:"dir" env:"DIR"`
	RedisURI string `toml:"redis_uri" env:"REDIS_URI" validate:"required_if=Backend redis"`
	Prefix   string `toml:"prefix" env:"PREFIX"`
}

// Server configures `controlsphere serve`.
type Server struct {
	Addr            string        `toml:"addr" env:"ADDR" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `toml:"read_timeout" env:"READ_TIMEOUT" validate:"gte=0"`
	WriteTimeout    time.Duration `toml:"write_timeout" env:"WRITE_TIMEOUT" validate:"gte=0"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gte=0"`
	Watch           bool          `toml:"watch" env:"WATCH"`
}

// Default returns the built-in configuration.
func Default() *Config {
	opts := layout.DefaultOptions()
	return &Config{
		Physics: Physics{
			RepulsionStrength: opts.RepulsionStrength,
			LinkDistanceBase:  opts.LinkDistanceBase,
			BoundsScale:       opts.BoundsScale,
			CollisionPadding:  opts.CollisionPadding,
			Iterations:        opts.Iterations,
			Seed:              opts.Seed,
		},
		View: View{
			DepthWindow: 2,
			Regimes:     slices.Clone(regime.DefaultSelection),
		},
		Cache: Cache{
			Backend: "file",
			Prefix:  "controlsphere:",
		},
		Server: Server{
			Addr:            "localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// LayoutOptions returns the engine options for these physics settings.
// Parameters not exposed in the config keep their defaults.
func (p Physics) LayoutOptions() layout.Options {
	opts := layout.DefaultOptions()
	opts.RepulsionStrength = p.RepulsionStrength
	opts.LinkDistanceBase = p.LinkDistanceBase
	opts.BoundsScale = p.BoundsScale
	opts.CollisionPadding = p.CollisionPadding
	opts.Iterations = p.Iterations
	opts.Seed = p.Seed
	return opts
}

// Palette builds the regime palette from the color overrides.
func (c *Config) Palette() (*regime.Palette, error) {
	return regime.NewPalette(c.Colors)
}

// =============================================================================
// Loading
// =============================================================================

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.ErrCodeFileNotFound, err, "config file %s not found", path)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "parse %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Find returns the config file to load: explicit if set, otherwise
// ./controlsphere.toml or <user config dir>/controlsphere/config.toml when
// they exist. An empty result means defaults only.
func Find(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(FileName); err == nil {
		return FileName
	}
	if dir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(dir, "controlsphere", "config.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// =============================================================================
// Validation
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints, regime names and colors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = describe(fe)
			}
			return apperrors.New(apperrors.ErrCodeInvalidConfig, "%s", strings.Join(msgs, "; "))
		}
		return apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "validate config")
	}
	for _, name := range c.View.Regimes {
		if err := apperrors.ValidateRegimeName(name); err != nil {
			return err
		}
	}
	if _, err := c.Palette(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "colors")
	}
	return nil
}

// describe turns a field error into "physics.bounds_scale must be >= 1".
func describe(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be >= %s", ns, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", ns, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", ns, fe.Param())
	case "required", "required_if":
		return fmt.Sprintf("%s is required", ns)
	case "hexcolor":
		return fmt.Sprintf("%s must be a hex color", ns)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", ns)
	}
	return fmt.Sprintf("%s failed %s", ns, fe.Tag())
}
