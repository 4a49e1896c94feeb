package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"voxprep/internal/tensor"
)

// NormalizeMode selects the intensity normalization applied per channel.
type NormalizeMode string

const (
	NormalizeNone   NormalizeMode = "none"
	NormalizeZScore NormalizeMode = "zscore"
	NormalizeMinMax NormalizeMode = "minmax"
)

// ParseNormalizeMode resolves a normalization mode by name.
func ParseNormalizeMode(name string) (NormalizeMode, error) {
	switch m := NormalizeMode(name); m {
	case NormalizeNone, NormalizeZScore, NormalizeMinMax:
		return m, nil
	}
	return "", fmt.Errorf("transform: unknown normalize mode %q", name)
}

// Normalize rescales each image channel's intensities independently.
// Statistics are computed over nonzero voxels only, so air/background does
// not dominate them; the rescale is then applied to every voxel. The label
// is never touched.
func Normalize(b *tensor.Bundle, mode NormalizeMode) (*tensor.Bundle, error) {
	if mode == NormalizeNone {
		return b, nil
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	out := &tensor.Bundle{SubjectID: b.SubjectID, Values: b.Values, Label: b.Label}
	out.Channels = make([]tensor.Channel, len(b.Channels))
	for i, c := range b.Channels {
		v := c.Volume.Clone()
		switch mode {
		case NormalizeZScore:
			zscore(v)
		case NormalizeMinMax:
			minmax(v)
		default:
			return nil, fmt.Errorf("transform: unknown normalize mode %q", mode)
		}
		out.Channels[i] = tensor.Channel{Name: c.Name, Volume: v}
	}
	return out, nil
}

func nonzero(v *tensor.Volume[float32]) []float64 {
	out := make([]float64, 0, v.Len())
	for _, x := range v.Data() {
		if x != 0 {
			out = append(out, float64(x))
		}
	}
	return out
}

func zscore(v *tensor.Volume[float32]) {
	fg := nonzero(v)
	if len(fg) == 0 {
		return
	}
	mean, std := stat.MeanStdDev(fg, nil)
	// a single foreground voxel yields NaN (sample stddev divides by n-1)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	data := v.Data()
	for i := range data {
		data[i] = float32((float64(data[i]) - mean) / std)
	}
}

func minmax(v *tensor.Volume[float32]) {
	fg := nonzero(v)
	if len(fg) == 0 {
		return
	}
	lo, hi := floats.Min(fg), floats.Max(fg)
	span := hi - lo
	if span == 0 {
		span = 1
	}
	data := v.Data()
	for i := range data {
		data[i] = float32((float64(data[i]) - lo) / span)
	}
}
