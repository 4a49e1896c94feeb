package transform

import (
	"voxprep/internal/tensor"
)

// CropReport describes what ZeroCrop did. Degenerate means the governing
// volume had no foreground at all; the bundle was returned unchanged and
// the caller should log a warning rather than fail the subject.
type CropReport struct {
	Min, Max   [3]int // inclusive bounding box of foreground
	Degenerate bool
}

// ZeroCrop reduces the bundle to the minimal bounding box of foreground
// voxels. The label governs when present; otherwise a voxel is foreground
// when any channel exceeds threshold. All channels and the label are
// cropped to the same box so alignment is preserved.
func ZeroCrop(b *tensor.Bundle, threshold float64, background int32) (*tensor.Bundle, CropReport, error) {
	if err := b.Validate(); err != nil {
		return nil, CropReport{}, err
	}
	dims := b.Dims()
	lo, hi, found := foregroundBox(b, threshold, background)
	if !found {
		return b, CropReport{Degenerate: true}, nil
	}
	rep := CropReport{Min: lo, Max: hi}
	if lo == [3]int{} && hi == [3]int{dims[0] - 1, dims[1] - 1, dims[2] - 1} {
		// Foreground spans the whole grid; nothing to remove.
		return b, rep, nil
	}
	out := &tensor.Bundle{SubjectID: b.SubjectID, Values: b.Values}
	out.Channels = make([]tensor.Channel, len(b.Channels))
	for i, c := range b.Channels {
		out.Channels[i] = tensor.Channel{Name: c.Name, Volume: cropVolume(c.Volume, lo, hi)}
	}
	if b.Label != nil {
		out.Label = cropVolume(b.Label, lo, hi)
	}
	return out, rep, nil
}

func foregroundBox(b *tensor.Bundle, threshold float64, background int32) (lo, hi [3]int, found bool) {
	dims := b.Dims()
	lo = dims
	hi = [3]int{-1, -1, -1}
	grow := func(x, y, z int) {
		found = true
		if x < lo[0] {
			lo[0] = x
		}
		if y < lo[1] {
			lo[1] = y
		}
		if z < lo[2] {
			lo[2] = z
		}
		if x > hi[0] {
			hi[0] = x
		}
		if y > hi[1] {
			hi[1] = y
		}
		if z > hi[2] {
			hi[2] = z
		}
	}
	if b.Label != nil {
		for z := 0; z < dims[2]; z++ {
			for y := 0; y < dims[1]; y++ {
				for x := 0; x < dims[0]; x++ {
					if b.Label.At(x, y, z) != background {
						grow(x, y, z)
					}
				}
			}
		}
		return lo, hi, found
	}
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				for _, c := range b.Channels {
					if float64(c.Volume.At(x, y, z)) > threshold {
						grow(x, y, z)
						break
					}
				}
			}
		}
	}
	return lo, hi, found
}

func cropVolume[T tensor.Scalar](v *tensor.Volume[T], lo, hi [3]int) *tensor.Volume[T] {
	dims := [3]int{hi[0] - lo[0] + 1, hi[1] - lo[1] + 1, hi[2] - lo[2] + 1}
	out := tensor.MustNew[T](dims)
	out.SetSpacing(v.Spacing())
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				out.Set(x, y, z, v.At(lo[0]+x, lo[1]+y, lo[2]+z))
			}
		}
	}
	return out
}
