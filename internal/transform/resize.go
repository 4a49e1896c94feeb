package transform

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"voxprep/internal/tensor"
)

// Resize rescales every channel and the label to the target spatial shape.
// Image channels are scaled bilinearly in-plane and linearly along z; the
// label uses nearest-neighbor on every axis, so class identity survives.
// Voxel spacing is rescaled to keep physical extent constant.
func Resize(b *tensor.Bundle, target [3]int) (*tensor.Bundle, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	dims := b.Dims()
	if target == dims {
		return b, nil
	}
	spacing := rescaleSpacing(b.Spacing(), dims, target)
	out := &tensor.Bundle{SubjectID: b.SubjectID, Values: b.Values}
	out.Channels = make([]tensor.Channel, len(b.Channels))
	for i, c := range b.Channels {
		v := resizeImage(c.Volume, target)
		v.SetSpacing(spacing)
		out.Channels[i] = tensor.Channel{Name: c.Name, Volume: v}
	}
	if b.Label != nil {
		l := resizeNearest(b.Label, target)
		l.SetSpacing(spacing)
		out.Label = l
	}
	return out, nil
}

func rescaleSpacing(s [3]float64, from, to [3]int) [3]float64 {
	var out [3]float64
	for i := range out {
		out[i] = s[i] * float64(from[i]) / float64(to[i])
	}
	return out
}

// resizeImage scales a float32 volume: each z slice is quantized to 16-bit
// gray over the volume's intensity range, scaled with draw.BiLinear, and
// mapped back; the z axis is then linearly interpolated between slices.
func resizeImage(v *tensor.Volume[float32], target [3]int) *tensor.Volume[float32] {
	src := v.Dims()
	lo, hi := intensityRange(v)
	span := float64(hi - lo)
	if span == 0 {
		out := tensor.MustNew[float32](target)
		data := out.Data()
		for i := range data {
			data[i] = lo
		}
		return out
	}

	// In-plane pass: src[0]×src[1]×src[2] -> target[0]×target[1]×src[2].
	planar := tensor.MustNew[float32]([3]int{target[0], target[1], src[2]})
	srcImg := image.NewGray16(image.Rect(0, 0, src[0], src[1]))
	dstImg := image.NewGray16(image.Rect(0, 0, target[0], target[1]))
	for z := 0; z < src[2]; z++ {
		for y := 0; y < src[1]; y++ {
			for x := 0; x < src[0]; x++ {
				q := (float64(v.At(x, y, z)) - float64(lo)) / span * math.MaxUint16
				srcImg.SetGray16(x, y, color16(q))
			}
		}
		draw.BiLinear.Scale(dstImg, dstImg.Bounds(), srcImg, srcImg.Bounds(), draw.Src, nil)
		for y := 0; y < target[1]; y++ {
			for x := 0; x < target[0]; x++ {
				g := float64(dstImg.Gray16At(x, y).Y)
				planar.Set(x, y, z, lo+float32(g/math.MaxUint16*span))
			}
		}
	}

	// z pass: linear interpolation between neighboring slices.
	out := tensor.MustNew[float32](target)
	for z := 0; z < target[2]; z++ {
		fz := axisCoord(z, target[2], src[2])
		z0 := int(math.Floor(fz))
		z1 := z0 + 1
		if z1 >= src[2] {
			z1 = src[2] - 1
		}
		t := float32(fz - float64(z0))
		for y := 0; y < target[1]; y++ {
			for x := 0; x < target[0]; x++ {
				a := planar.At(x, y, z0)
				b := planar.At(x, y, z1)
				out.Set(x, y, z, a+(b-a)*t)
			}
		}
	}
	return out
}

// resizeNearest maps every target voxel to its nearest source voxel.
func resizeNearest[T tensor.Scalar](v *tensor.Volume[T], target [3]int) *tensor.Volume[T] {
	src := v.Dims()
	out := tensor.MustNew[T](target)
	for z := 0; z < target[2]; z++ {
		sz := nearestIndex(z, target[2], src[2])
		for y := 0; y < target[1]; y++ {
			sy := nearestIndex(y, target[1], src[1])
			for x := 0; x < target[0]; x++ {
				out.Set(x, y, z, v.At(nearestIndex(x, target[0], src[0]), sy, sz))
			}
		}
	}
	return out
}

// axisCoord maps a target index to continuous source coordinates using
// pixel-center alignment.
func axisCoord(i, to, from int) float64 {
	c := (float64(i)+0.5)*float64(from)/float64(to) - 0.5
	if c < 0 {
		return 0
	}
	if c > float64(from-1) {
		return float64(from - 1)
	}
	return c
}

func nearestIndex(i, to, from int) int {
	return clamp(int(math.Round(axisCoord(i, to, from))), 0, from-1)
}

func intensityRange(v *tensor.Volume[float32]) (lo, hi float32) {
	data := v.Data()
	lo, hi = data[0], data[0]
	for _, x := range data {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

func color16(q float64) color.Gray16 {
	if q < 0 {
		q = 0
	}
	if q > math.MaxUint16 {
		q = math.MaxUint16
	}
	return color.Gray16{Y: uint16(math.Round(q))}
}
