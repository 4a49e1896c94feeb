// Package pipeline wires the preprocessing run together: Compile turns a
// validated configuration into a Runner, the Executor applies the ordered
// transform stages to one subject, and the Runner drives subjects through
// resolve → execute → persist on a bounded worker pool.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"voxprep/internal/config"
	"voxprep/internal/logging"
	"voxprep/internal/spec"
	"voxprep/internal/telemetry"
	"voxprep/internal/tensor"
	"voxprep/internal/transform"
)

// TransformError reports a per-subject transform failure. It aborts only
// that subject; the driver records it and moves on.
type TransformError struct {
	Subject string
	Stage   string
	Err     error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: stage %s: %v", e.Subject, e.Stage, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Trace records what the executor did to one subject, for artifact
// provenance and the run summary.
type Trace struct {
	Stages   []string
	Warnings []string
}

// Executor applies the configured transform stages in their fixed order:
// resize → normalize → pad → zero-crop → augment. Padding runs only when a
// label is present and a pad mode is configured; augmentation runs only in
// train mode. The order is deliberate: padding assumes full, unclipped
// volumes, and cropping before augmentation keeps perturbation work off
// background-only regions.
type Executor struct {
	mode      config.Mode
	data      spec.Data
	prep      spec.Preprocessing
	aug       spec.Augmentation
	strategy  transform.Strategy // empty when padding is disabled
	normalize transform.NormalizeMode
	padMargin [3]int
	resize    [3]int
}

// Run transforms one resolved bundle into its finalized form.
func (e *Executor) Run(ctx context.Context, b *tensor.Bundle) (*tensor.Bundle, Trace, error) {
	var tr Trace
	fail := func(stage string, err error) (*tensor.Bundle, Trace, error) {
		return nil, tr, &TransformError{Subject: b.SubjectID, Stage: stage, Err: err}
	}

	if e.resize != [3]int{} && e.resize != b.Dims() {
		if err := ctx.Err(); err != nil {
			return nil, tr, err
		}
		start := time.Now()
		out, err := transform.Resize(b, e.resize)
		if err != nil {
			return fail("resize", err)
		}
		telemetry.ObserveStage("resize", time.Since(start))
		tr.Stages = append(tr.Stages, fmt.Sprintf("resize(%dx%dx%d)", e.resize[0], e.resize[1], e.resize[2]))
		b = out
	}

	// the zero value means normalization was never configured
	if e.normalize != "" && e.normalize != transform.NormalizeNone {
		if err := ctx.Err(); err != nil {
			return nil, tr, err
		}
		start := time.Now()
		out, err := transform.Normalize(b, e.normalize)
		if err != nil {
			return fail("normalize", err)
		}
		telemetry.ObserveStage("normalize", time.Since(start))
		tr.Stages = append(tr.Stages, "normalize("+string(e.normalize)+")")
		b = out
	}

	if e.strategy != "" && b.Label != nil && e.padMargin != [3]int{} {
		if err := ctx.Err(); err != nil {
			return nil, tr, err
		}
		start := time.Now()
		out, err := transform.Pad(b, e.strategy, e.padMargin, e.data.LabelBackground)
		if err != nil {
			return fail("pad", err)
		}
		telemetry.ObserveStage("pad", time.Since(start))
		tr.Stages = append(tr.Stages, "pad("+string(e.strategy)+")")
		b = out
	}

	if e.prep.ZeroCrop {
		if err := ctx.Err(); err != nil {
			return nil, tr, err
		}
		start := time.Now()
		out, rep, err := transform.ZeroCrop(b, e.prep.CropThreshold, e.data.LabelBackground)
		if err != nil {
			return fail("zerocrop", err)
		}
		telemetry.ObserveStage("zerocrop", time.Since(start))
		if rep.Degenerate {
			msg := fmt.Sprintf("subject %s has no foreground voxels, crop skipped", b.SubjectID)
			tr.Warnings = append(tr.Warnings, msg)
			logging.For("executor").Warn("degenerate volume", "subject", b.SubjectID)
		} else {
			tr.Stages = append(tr.Stages, fmt.Sprintf("zerocrop(%v..%v)", rep.Min, rep.Max))
		}
		b = out
	}

	if e.mode == config.ModeTrain && e.aug.Enabled {
		if err := ctx.Err(); err != nil {
			return nil, tr, err
		}
		start := time.Now()
		seed := transform.SubjectSeed(e.aug.Seed, b.SubjectID)
		out, err := transform.Augment(b, seed, transform.AugmentOptions{
			FlipAxes:       e.aug.FlipAxes,
			MaxJitterVox:   e.aug.MaxJitterVox,
			IntensityScale: e.aug.IntensityScale,
			NoiseStddev:    e.aug.NoiseStddev,
			Background:     e.data.LabelBackground,
		})
		if err != nil {
			return fail("augment", err)
		}
		telemetry.ObserveStage("augment", time.Since(start))
		tr.Stages = append(tr.Stages, fmt.Sprintf("augment(seed=%d)", seed))
		b = out
	}

	return b, tr, nil
}
