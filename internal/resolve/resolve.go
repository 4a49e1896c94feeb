// Package resolve turns one manifest row into an in-memory bundle: it
// loads every declared channel and the optional label, and verifies the
// geometry agrees before any transform runs. It is read-only; failures
// here are per-subject, never fatal to the run.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"os"

	"voxprep/internal/codec"
	"voxprep/internal/manifest"
	"voxprep/internal/spec"
	"voxprep/internal/tensor"
)

var (
	ErrMissingFile       = errors.New("file does not exist")
	ErrShapeMismatch     = errors.New("geometry disagreement")
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// ResolutionError wraps any failure to load a subject, carrying the
// subject and the offending path for the run summary.
type ResolutionError struct {
	Subject string
	Path    string
	Err     error
}

func (e *ResolutionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("resolve %s: %v", e.Subject, e.Err)
	}
	return fmt.Sprintf("resolve %s: %s: %v", e.Subject, e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolve loads a subject's channels and label and validates them against
// the dataset expectations.
func Resolve(ctx context.Context, row manifest.Row, data spec.Data) (*tensor.Bundle, error) {
	fail := func(path string, err error) (*tensor.Bundle, error) {
		return nil, &ResolutionError{Subject: row.SubjectID, Path: path, Err: err}
	}

	if len(row.Channels) == 0 {
		return fail("", fmt.Errorf("%w: row declares no image channels", ErrShapeMismatch))
	}
	if n := len(data.Modalities); n > 0 && len(row.Channels) != n {
		return fail("", fmt.Errorf("%w: row declares %d channels, config expects %d (%v)",
			ErrShapeMismatch, len(row.Channels), n, data.Modalities))
	}

	b := &tensor.Bundle{SubjectID: row.SubjectID, Values: row.Values}
	for _, ch := range row.Channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := loadImage(ch.Path)
		if err != nil {
			return fail(ch.Path, err)
		}
		b.Channels = append(b.Channels, tensor.Channel{Name: ch.Name, Volume: v})
	}

	want := b.Channels[0].Volume.Dims()
	spacing := b.Channels[0].Volume.Spacing()
	for _, c := range b.Channels[1:] {
		if got := c.Volume.Dims(); got != want {
			return fail("", fmt.Errorf("%w: channel %s is %v, want %v", ErrShapeMismatch, c.Name, got, want))
		}
		if !tensor.SpacingAlmostEqual(c.Volume.Spacing(), spacing, data.SpacingTolerance) {
			return fail("", fmt.Errorf("%w: channel %s spacing %v, want %v",
				ErrShapeMismatch, c.Name, c.Volume.Spacing(), spacing))
		}
	}

	if row.LabelPath != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l, err := loadLabel(row.LabelPath)
		if err != nil {
			return fail(row.LabelPath, err)
		}
		if got := l.Dims(); got != want {
			return fail(row.LabelPath, fmt.Errorf("%w: label is %v, images are %v", ErrShapeMismatch, got, want))
		}
		b.Label = l
	}
	return b, nil
}

func loadImage(path string) (*tensor.Volume[float32], error) {
	c, err := codecFor(path)
	if err != nil {
		return nil, err
	}
	v, err := c.ReadImage(path)
	if err != nil {
		return nil, readErr(err)
	}
	return v, nil
}

func loadLabel(path string) (*tensor.Volume[int32], error) {
	c, err := codecFor(path)
	if err != nil {
		return nil, err
	}
	v, err := c.ReadLabel(path)
	if err != nil {
		return nil, readErr(err)
	}
	return v, nil
}

func codecFor(path string) (codec.Codec, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMissingFile
		}
		return nil, err
	}
	c, err := codec.ForPath(path)
	if err != nil {
		var ue *codec.ErrUnknownExtension
		if errors.As(err, &ue) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return nil, err
	}
	return c, nil
}

func readErr(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return ErrMissingFile
	}
	return err
}
