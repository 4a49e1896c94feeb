// Package spec holds the on-disk document schemas: the koanf-tagged
// configuration sections and the YAML ledger document the writer maintains
// at the output root. Loading and validation live in internal/config and
// internal/manifest; this package is plain data.
package spec

const SupportedSchema = "v1"

// Data describes what the resolver should expect of every subject.
type Data struct {
	// Modalities names the image channels in manifest order. When set, the
	// resolver requires exactly these channels per subject.
	Modalities []string `koanf:"modalities"`

	// LabelBackground is the class value treated as background by padding
	// and cropping. Almost always 0.
	LabelBackground int32 `koanf:"label_background"`

	// SpacingTolerance is the per-axis slack allowed when comparing voxel
	// spacing across a subject's channels.
	SpacingTolerance float64 `koanf:"spacing_tolerance"`
}

// Preprocessing gates the deterministic transform stages.
type Preprocessing struct {
	LabelPadMode  string  `koanf:"label_pad_mode"` // constant|edge|reflect|none
	PatchSize     []int   `koanf:"patch_size"`     // pad margin = ceil(patch/2) per axis
	ZeroCrop      bool    `koanf:"zero_crop"`
	CropThreshold float64 `koanf:"crop_threshold"` // foreground cutoff when no label governs
	Resize        []int   `koanf:"resize"`         // target spatial shape; empty disables
	Normalize     string  `koanf:"normalize"`      // none|zscore|minmax
}

// Augmentation configures the seeded perturbation stage. Consulted only in
// train mode.
type Augmentation struct {
	Enabled        bool    `koanf:"enabled"`
	Seed           uint64  `koanf:"seed"`
	FlipAxes       []int   `koanf:"flip_axes"`
	MaxJitterVox   int     `koanf:"max_jitter_voxels"`
	IntensityScale float64 `koanf:"intensity_scale"`
	NoiseStddev    float64 `koanf:"noise_stddev"`
}

// Runtime holds process-level knobs that do not change artifact content.
type Runtime struct {
	Workers     int `koanf:"workers"`
	MetricsPort int `koanf:"metrics_port"`
}

// RunFlags is the transform provenance stamped into the ledger. Two runs
// over the same output root must agree on every field unless forced.
type RunFlags struct {
	Mode         string `yaml:"mode"`
	LabelPadMode string `yaml:"label_pad_mode"`
	ZeroCrop     bool   `yaml:"zero_crop"`
	Normalize    string `yaml:"normalize"`
	Resize       []int  `yaml:"resize,flow,omitempty"`
	Augment      bool   `yaml:"augment"`
	AugmentSeed  uint64 `yaml:"augment_seed,omitempty"`
}

// LedgerEntry records one completed subject.
type LedgerEntry struct {
	Subject  string            `yaml:"subject"`
	Row      int               `yaml:"row"`
	Channels map[string]string `yaml:"channels"`
	Label    string            `yaml:"label,omitempty"`
	Meta     string            `yaml:"meta"`
}

// LedgerDoc is the manifest.yaml document at the output root.
type LedgerDoc struct {
	SchemaVersion string        `yaml:"schema_version"`
	RunID         string        `yaml:"run_id"`
	ConfigDigest  string        `yaml:"config_digest,omitempty"`
	Flags         RunFlags      `yaml:"flags"`
	Subjects      []LedgerEntry `yaml:"subjects"`
}
