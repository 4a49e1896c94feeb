// Package config loads and validates the pipeline configuration: the
// --config YAML merged with VOXPREP__-prefixed environment overrides.
// Every recognized option is enumerated here; unknown keys and loosely
// typed booleans are fatal, never silently ignored.
package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"runtime"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"voxprep/internal/spec"
)

// Mode selects the pipeline entry point. Inference runs the identical
// pipeline but never augments.
type Mode string

const (
	ModeTrain     Mode = "train"
	ModeInference Mode = "inference"
)

// ParseMode accepts exactly "train" or "inference".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTrain, ModeInference:
		return Mode(s), nil
	}
	return "", &Error{Key: "mode", Reason: fmt.Sprintf("%q is not train or inference", s)}
}

// Config is the immutable, validated configuration record for one run.
type Config struct {
	SchemaVersion string             `koanf:"schema_version"`
	Data          spec.Data          `koanf:"data"`
	Preprocessing spec.Preprocessing `koanf:"preprocessing"`
	Augmentation  spec.Augmentation  `koanf:"augmentation"`
	Runtime       spec.Runtime       `koanf:"runtime"`
}

// Error is a fatal configuration problem. It aborts the whole run; it is
// never isolated to one subject.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	if e.Key == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// recognizedKeys is the closed set of leaf paths a config file or env
// override may set. Anything else is a fatal Error.
var recognizedKeys = map[string]struct{}{
	"schema_version":                 {},
	"data.modalities":                {},
	"data.label_background":          {},
	"data.spacing_tolerance":         {},
	"preprocessing.label_pad_mode":   {},
	"preprocessing.patch_size":       {},
	"preprocessing.zero_crop":        {},
	"preprocessing.crop_threshold":   {},
	"preprocessing.resize":           {},
	"preprocessing.normalize":        {},
	"augmentation.enabled":           {},
	"augmentation.seed":              {},
	"augmentation.flip_axes":         {},
	"augmentation.max_jitter_voxels": {},
	"augmentation.intensity_scale":   {},
	"augmentation.noise_stddev":      {},
	"runtime.workers":                {},
	"runtime.metrics_port":           {},
}

// boolKeys are strict-parsed before unmarshal: only values strconv.ParseBool
// accepts are legal, so "yes"/"on" from a YAML 1.1 habit fail loudly.
var boolKeys = []string{
	"preprocessing.zero_crop",
	"augmentation.enabled",
}

// Load merges YAML (if present) with env vars (prefix `VOXPREP__`,
// delimiter `__`), gates the schema version, applies defaults and validates.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, &Error{Key: "config", Reason: fmt.Sprintf("file %q does not exist", path)}
			}
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	envKey := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "VOXPREP__"))
	}
	if err := k.Load(env.Provider("VOXPREP__", "__", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: env overrides: %w", err)
	}

	sv := k.String("schema_version")
	if sv != "" && sv != spec.SupportedSchema {
		return Config{}, &Error{Key: "schema_version", Reason: fmt.Sprintf("%q not supported (want %q)", sv, spec.SupportedSchema)}
	}

	for _, key := range k.Keys() {
		if _, ok := recognizedKeys[key]; !ok {
			return Config{}, &Error{Key: key, Reason: "unknown option"}
		}
	}
	for _, key := range boolKeys {
		if !k.Exists(key) {
			continue
		}
		if s, ok := k.Get(key).(string); ok {
			if _, err := strconv.ParseBool(s); err != nil {
				return Config{}, &Error{Key: key, Reason: fmt.Sprintf("%q is not a boolean (use true or false)", s)}
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.SchemaVersion = spec.SupportedSchema
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.Preprocessing.LabelPadMode == "" {
		c.Preprocessing.LabelPadMode = "constant"
	}
	if c.Preprocessing.Normalize == "" {
		c.Preprocessing.Normalize = "none"
	}
	if c.Data.SpacingTolerance == 0 {
		c.Data.SpacingTolerance = 1e-4
	}
	if c.Augmentation.Seed == 0 {
		c.Augmentation.Seed = 1
	}
	if len(c.Augmentation.FlipAxes) == 0 {
		c.Augmentation.FlipAxes = []int{0, 1, 2}
	}
	if c.Runtime.Workers <= 0 {
		c.Runtime.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Runtime.Workers > 8 {
		c.Runtime.Workers = 8
	}
}

// Validate checks everything that does not need the transform registry;
// padding-strategy names are checked at pipeline compile time, where the
// registry lives.
func (c *Config) Validate() error {
	switch c.Preprocessing.Normalize {
	case "none", "zscore", "minmax":
	default:
		return &Error{Key: "preprocessing.normalize", Reason: fmt.Sprintf("unknown mode %q", c.Preprocessing.Normalize)}
	}
	if n := len(c.Preprocessing.Resize); n != 0 && n != 3 {
		return &Error{Key: "preprocessing.resize", Reason: fmt.Sprintf("want 3 axes, got %d", n)}
	}
	for _, d := range c.Preprocessing.Resize {
		if d <= 0 {
			return &Error{Key: "preprocessing.resize", Reason: "axes must be > 0"}
		}
	}
	if n := len(c.Preprocessing.PatchSize); n != 0 && n != 3 {
		return &Error{Key: "preprocessing.patch_size", Reason: fmt.Sprintf("want 3 axes, got %d", n)}
	}
	for _, a := range c.Augmentation.FlipAxes {
		if a < 0 || a > 2 {
			return &Error{Key: "augmentation.flip_axes", Reason: fmt.Sprintf("axis %d out of range", a)}
		}
	}
	if c.Augmentation.MaxJitterVox < 0 {
		return &Error{Key: "augmentation.max_jitter_voxels", Reason: "must be >= 0"}
	}
	if c.Data.SpacingTolerance < 0 {
		return &Error{Key: "data.spacing_tolerance", Reason: "must be >= 0"}
	}
	return nil
}

// PadMargin derives the symmetric per-axis padding margin from the patch
// size: half a patch on each side, rounded up.
func (c *Config) PadMargin() [3]int {
	var m [3]int
	for i, p := range c.Preprocessing.PatchSize {
		if i > 2 {
			break
		}
		m[i] = (p + 1) / 2
	}
	return m
}

// Flags renders the provenance record stamped into the output ledger.
func (c *Config) Flags(mode Mode) spec.RunFlags {
	f := spec.RunFlags{
		Mode:         string(mode),
		LabelPadMode: c.Preprocessing.LabelPadMode,
		ZeroCrop:     c.Preprocessing.ZeroCrop,
		Normalize:    c.Preprocessing.Normalize,
		Resize:       append([]int(nil), c.Preprocessing.Resize...),
		Augment:      mode == ModeTrain && c.Augmentation.Enabled,
	}
	if f.Augment {
		f.AugmentSeed = c.Augmentation.Seed
	}
	return f
}

// Digest is a stable fingerprint of the whole configuration, recorded in
// the output ledger for provenance. It is informational; resume
// compatibility is decided on Flags alone.
func (c *Config) Digest() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%+v", *c)
	return fmt.Sprintf("%016x", h.Sum64())
}
