package pipeline

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"voxprep/internal/artifact"
	"voxprep/internal/config"
	"voxprep/internal/manifest"
	"voxprep/internal/spec"
	"voxprep/internal/transform"
)

// Options are the per-invocation inputs that live outside the config file.
type Options struct {
	OutputRoot string
	Mode       config.Mode
	Force      bool
}

// Compile validates the configuration against the transform registry and
// assembles a ready-to-run pipeline over the output root. Everything that
// can fail here is fatal to the whole run: unknown strategy names, an
// unwritable output root, or a ledger produced under different flags.
func Compile(cfg config.Config, opts Options) (*Runner, error) {
	if opts.Mode == "" {
		opts.Mode = config.ModeTrain
	}

	var strategy transform.Strategy
	if mode := cfg.Preprocessing.LabelPadMode; mode != "none" {
		s, err := transform.ParseStrategy(mode)
		if err != nil {
			return nil, &config.Error{Key: "preprocessing.label_pad_mode", Reason: err.Error()}
		}
		strategy = s
	}
	normalize, err := transform.ParseNormalizeMode(cfg.Preprocessing.Normalize)
	if err != nil {
		return nil, &config.Error{Key: "preprocessing.normalize", Reason: err.Error()}
	}

	var resize [3]int
	if len(cfg.Preprocessing.Resize) == 3 {
		copy(resize[:], cfg.Preprocessing.Resize)
	}

	runID := uuid.NewString()
	flags := cfg.Flags(opts.Mode)

	writer, err := artifact.NewWriter(opts.OutputRoot, runID, flags, opts.Force)
	if err != nil {
		return nil, err
	}
	ledger, err := manifest.OpenLedger(opts.OutputRoot, runID, flags)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.Force, ledger.Len() == 0:
		// forced reruns reprocess everything under the current flags;
		// an empty ledger is simply restamped
		ledger.Reset(runID, flags)
	case !flagsEqual(ledger.Flags(), flags):
		return nil, &config.Error{Reason: fmt.Sprintf(
			"output root %s was produced with flags %+v, current run wants %+v; rerun with --force to reprocess",
			opts.OutputRoot, ledger.Flags(), flags)}
	}
	ledger.SetConfigDigest(cfg.Digest())

	workers := cfg.Runtime.Workers
	if workers < 1 {
		workers = 1
	}
	exec := &Executor{
		mode:      opts.Mode,
		data:      cfg.Data,
		prep:      cfg.Preprocessing,
		aug:       cfg.Augmentation,
		strategy:  strategy,
		normalize: normalize,
		padMargin: cfg.PadMargin(),
		resize:    resize,
	}
	return &Runner{
		runID:   runID,
		mode:    opts.Mode,
		force:   opts.Force,
		data:    cfg.Data,
		workers: workers,
		exec:    exec,
		writer:  writer,
		ledger:  ledger,
		root:    opts.OutputRoot,
	}, nil
}

func flagsEqual(a, b spec.RunFlags) bool {
	return a.Mode == b.Mode &&
		a.LabelPadMode == b.LabelPadMode &&
		a.ZeroCrop == b.ZeroCrop &&
		a.Normalize == b.Normalize &&
		slices.Equal(a.Resize, b.Resize) &&
		a.Augment == b.Augment &&
		a.AugmentSeed == b.AugmentSeed
}
