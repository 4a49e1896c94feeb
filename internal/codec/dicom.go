package codec

import (
	"fmt"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"voxprep/internal/tensor"
)

// dicomCodec reads DICOM files (read-only; artifacts are always stored as
// vxr). A multi-frame file decodes to a volume with one z slice per frame.
type dicomCodec struct{}

func init() {
	Register(dicomCodec{}, ".dcm", ".dicom")
}

func (dicomCodec) Name() string { return "dicom" }

func (dicomCodec) ReadImage(path string) (*tensor.Volume[float32], error) {
	raw, dims, spacing, err := readDICOM(path)
	if err != nil {
		return nil, err
	}
	data := make([]float32, len(raw))
	for i, s := range raw {
		data[i] = float32(s)
	}
	v, err := tensor.NewWithData(dims, data)
	if err != nil {
		return nil, fmt.Errorf("codec: %s: %w", path, err)
	}
	v.SetSpacing(spacing)
	return v, nil
}

func (dicomCodec) ReadLabel(path string) (*tensor.Volume[int32], error) {
	raw, dims, spacing, err := readDICOM(path)
	if err != nil {
		return nil, err
	}
	data := make([]int32, len(raw))
	for i, s := range raw {
		data[i] = int32(s)
	}
	v, err := tensor.NewWithData(dims, data)
	if err != nil {
		return nil, fmt.Errorf("codec: %s: %w", path, err)
	}
	v.SetSpacing(spacing)
	return v, nil
}

func readDICOM(path string) ([]int64, [3]int, [3]float64, error) {
	var dims [3]int
	var spacing [3]float64

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, dims, spacing, fmt.Errorf("codec: parse %s: %w", path, err)
	}
	rows, err := intAttr(&ds, tag.Rows)
	if err != nil {
		return nil, dims, spacing, fmt.Errorf("codec: %s: %w", path, err)
	}
	cols, err := intAttr(&ds, tag.Columns)
	if err != nil {
		return nil, dims, spacing, fmt.Errorf("codec: %s: %w", path, err)
	}
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, dims, spacing, fmt.Errorf("codec: %s: no pixel data: %w", path, err)
	}
	info := dicom.MustGetPixelDataInfo(el.Value)
	if info.IsEncapsulated {
		return nil, dims, spacing, fmt.Errorf("codec: %s: encapsulated transfer syntaxes are not supported", path)
	}
	if len(info.Frames) == 0 {
		return nil, dims, spacing, fmt.Errorf("codec: %s: pixel data has no frames", path)
	}

	dims = [3]int{cols, rows, len(info.Frames)}
	spacing = dicomSpacing(&ds)
	out := make([]int64, 0, cols*rows*len(info.Frames))
	for i, fr := range info.Frames {
		samples, err := frameSamples(fr)
		if err != nil {
			return nil, dims, spacing, fmt.Errorf("codec: %s: frame %d: %w", path, i, err)
		}
		if len(samples) != cols*rows {
			return nil, dims, spacing, fmt.Errorf("codec: %s: frame %d has %d samples, want %d",
				path, i, len(samples), cols*rows)
		}
		out = append(out, samples...)
	}
	return out, dims, spacing, nil
}

// frameSamples widens a native frame's pixels to int64 regardless of the
// stored sample width. Only single-sample (grayscale) frames are accepted.
func frameSamples(fr *frame.Frame) ([]int64, error) {
	if fr.Encapsulated {
		return nil, fmt.Errorf("encapsulated frame")
	}
	switch nf := fr.NativeData.(type) {
	case *frame.NativeFrame[uint8]:
		return widen(nf.RawData), nil
	case *frame.NativeFrame[uint16]:
		return widen(nf.RawData), nil
	case *frame.NativeFrame[uint32]:
		return widen(nf.RawData), nil
	default:
		return nil, fmt.Errorf("unsupported native frame type %T", fr.NativeData)
	}
}

func widen[I uint8 | uint16 | uint32](raw []I) []int64 {
	out := make([]int64, len(raw))
	for i, s := range raw {
		out[i] = int64(s)
	}
	return out
}

func intAttr(ds *dicom.Dataset, t tag.Tag) (int, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, fmt.Errorf("missing tag %v: %w", t, err)
	}
	vals, ok := el.Value.GetValue().([]int)
	if !ok || len(vals) == 0 {
		return 0, fmt.Errorf("tag %v is not an integer attribute", t)
	}
	return vals[0], nil
}

func stringAttr(ds *dicom.Dataset, t tag.Tag) []string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	vals, _ := el.Value.GetValue().([]string)
	return vals
}

// dicomSpacing assembles voxel spacing from PixelSpacing (row, column) and
// the slice interval, defaulting any absent axis to 1mm.
func dicomSpacing(ds *dicom.Dataset) [3]float64 {
	spacing := [3]float64{1, 1, 1}
	if ps := stringAttr(ds, tag.PixelSpacing); len(ps) == 2 {
		if row, err := strconv.ParseFloat(ps[0], 64); err == nil {
			spacing[1] = row
		}
		if col, err := strconv.ParseFloat(ps[1], 64); err == nil {
			spacing[0] = col
		}
	}
	zTags := []tag.Tag{tag.SpacingBetweenSlices, tag.SliceThickness}
	for _, t := range zTags {
		if vs := stringAttr(ds, t); len(vs) == 1 {
			if z, err := strconv.ParseFloat(vs[0], 64); err == nil {
				spacing[2] = z
				break
			}
		}
	}
	return spacing
}
