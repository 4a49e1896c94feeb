package transform

import (
	"hash/fnv"
	"math/rand/v2"

	"voxprep/internal/tensor"
)

// AugmentOptions bounds the randomized perturbations. Zero values disable
// the corresponding perturbation.
type AugmentOptions struct {
	FlipAxes       []int   // axes eligible for a coin-flip mirror
	MaxJitterVox   int     // uniform integer translation in [-n, n] per axis
	IntensityScale float64 // multiplicative factor drawn from [1-s, 1+s]
	NoiseStddev    float64 // additive gaussian noise, image channels only

	// Background fills voxels a translation vacates in the label.
	Background int32
}

// SubjectSeed derives a per-subject seed from the run's base seed, so two
// subjects never share a perturbation stream but the whole run stays
// reproducible.
func SubjectSeed(base uint64, subjectID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(subjectID))
	return base ^ h.Sum64()
}

// Augment applies a seeded composition of perturbations: per-axis flips,
// integer-voxel translation, intensity scaling and additive noise. Spatial
// perturbations hit the label identically to the channels; intensity
// perturbations never touch the label. Output is byte-identical across
// invocations with the same seed.
func Augment(b *tensor.Bundle, seed uint64, opts AugmentOptions) (*tensor.Bundle, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))

	// Draw every decision up front, in a fixed order, so the stream is
	// independent of channel count or label presence.
	var flips [3]bool
	for _, axis := range opts.FlipAxes {
		if axis >= 0 && axis < 3 {
			flips[axis] = rng.IntN(2) == 1
		}
	}
	var shift [3]int
	if opts.MaxJitterVox > 0 {
		for i := range shift {
			shift[i] = rng.IntN(2*opts.MaxJitterVox+1) - opts.MaxJitterVox
		}
	}
	scale := 1.0
	if opts.IntensityScale > 0 {
		scale = 1 + (rng.Float64()*2-1)*opts.IntensityScale
	}

	out := &tensor.Bundle{SubjectID: b.SubjectID, Values: b.Values}
	out.Channels = make([]tensor.Channel, len(b.Channels))
	for i, c := range b.Channels {
		v := applySpatial(c.Volume, flips, shift, float32(0))
		if scale != 1.0 {
			data := v.Data()
			for j := range data {
				data[j] = float32(float64(data[j]) * scale)
			}
		}
		if opts.NoiseStddev > 0 {
			data := v.Data()
			for j := range data {
				data[j] += float32(rng.NormFloat64() * opts.NoiseStddev)
			}
		}
		out.Channels[i] = tensor.Channel{Name: c.Name, Volume: v}
	}
	if b.Label != nil {
		out.Label = applySpatial(b.Label, flips, shift, opts.Background)
	}
	return out, nil
}

// applySpatial mirrors and translates a volume by pure index moves, so
// label class values pass through untouched.
func applySpatial[T tensor.Scalar](v *tensor.Volume[T], flips [3]bool, shift [3]int, fill T) *tensor.Volume[T] {
	dims := v.Dims()
	out := tensor.MustNew[T](dims)
	out.SetSpacing(v.Spacing())
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				src := [3]int{x - shift[0], y - shift[1], z - shift[2]}
				for i := range src {
					if flips[i] {
						src[i] = dims[i] - 1 - src[i]
					}
				}
				if src[0] < 0 || src[0] >= dims[0] ||
					src[1] < 0 || src[1] >= dims[1] ||
					src[2] < 0 || src[2] >= dims[2] {
					out.Set(x, y, z, fill)
					continue
				}
				out.Set(x, y, z, v.At(src[0], src[1], src[2]))
			}
		}
	}
	return out
}
