package transform

import (
	"fmt"
	"sort"

	"voxprep/internal/tensor"
)

// Strategy names a padding fill rule for image channels. Labels never use
// the numeric strategy directly: constant padding fills them with the
// configured background class, and edge/reflect replicate existing class
// values, so no fractional label can appear.
type Strategy string

const (
	PadConstant Strategy = "constant"
	PadEdge     Strategy = "edge"
	PadReflect  Strategy = "reflect"
)

var strategies = map[Strategy]struct{}{
	PadConstant: {},
	PadEdge:     {},
	PadReflect:  {},
}

// ParseStrategy resolves a padding strategy by name. Unknown names are a
// configuration-validity error and must abort the whole run.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(name)
	if _, ok := strategies[s]; !ok {
		return "", fmt.Errorf("transform: unknown padding strategy %q (have %v)", name, Names())
	}
	return s, nil
}

// Names lists the registered strategies, sorted, for error messages.
func Names() []string {
	out := make([]string, 0, len(strategies))
	for s := range strategies {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}

// Pad grows every channel by margin voxels on both sides of each axis,
// filling with the requested strategy. The label, when present, is padded
// label-safe: background fill for constant, replication for edge/reflect.
func Pad(b *tensor.Bundle, strategy Strategy, margin [3]int, background int32) (*tensor.Bundle, error) {
	if _, ok := strategies[strategy]; !ok {
		return nil, fmt.Errorf("transform: unknown padding strategy %q", strategy)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if margin == [3]int{} {
		return b, nil
	}
	out := &tensor.Bundle{SubjectID: b.SubjectID, Values: b.Values}
	out.Channels = make([]tensor.Channel, len(b.Channels))
	for i, c := range b.Channels {
		out.Channels[i] = tensor.Channel{Name: c.Name, Volume: padVolume(c.Volume, margin, strategy, float32(0))}
	}
	if b.Label != nil {
		out.Label = padVolume(b.Label, margin, strategy, background)
	}
	return out, nil
}

// padVolume pads a single volume. fill is used only by the constant
// strategy; edge and reflect source every padded voxel from an existing
// one, which is what keeps them label-safe.
func padVolume[T tensor.Scalar](v *tensor.Volume[T], margin [3]int, strategy Strategy, fill T) *tensor.Volume[T] {
	src := v.Dims()
	dims := [3]int{src[0] + 2*margin[0], src[1] + 2*margin[1], src[2] + 2*margin[2]}
	out := tensor.MustNew[T](dims)
	out.SetSpacing(v.Spacing())
	for z := 0; z < dims[2]; z++ {
		sz, inZ := mapAxis(z-margin[2], src[2], strategy)
		for y := 0; y < dims[1]; y++ {
			sy, inY := mapAxis(y-margin[1], src[1], strategy)
			for x := 0; x < dims[0]; x++ {
				sx, inX := mapAxis(x-margin[0], src[0], strategy)
				if !inX || !inY || !inZ {
					out.Set(x, y, z, fill)
					continue
				}
				out.Set(x, y, z, v.At(sx, sy, sz))
			}
		}
	}
	return out
}

// mapAxis maps a destination coordinate (already shifted into source
// space, possibly negative or past the end) onto a source coordinate.
// The second result is false only for constant padding outside the source.
func mapAxis(i, n int, strategy Strategy) (int, bool) {
	if i >= 0 && i < n {
		return i, true
	}
	switch strategy {
	case PadEdge:
		return clamp(i, 0, n-1), true
	case PadReflect:
		return reflectIndex(i, n), true
	default:
		return 0, false
	}
}

func clamp(i, lo, hi int) int {
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}

// reflectIndex mirrors out-of-range coordinates about the array edges
// without repeating the border sample (numpy "reflect" semantics). A
// single-voxel axis has nothing to mirror and clamps.
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}
