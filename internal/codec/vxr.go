package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"voxprep/internal/tensor"
)

// vxr is the native artifact tensor format: little-endian, a fixed header
// followed by the raw voxel data.
//
//	magic   "VXR1"
//	rank    uint32 (always 3)
//	dims    3 × uint32
//	spacing 3 × float64
//	dtype   uint8 (1 = float32, 2 = int32)
//	data    rank-major voxels, (z*Y + y)*X + x
//
// The encoding is fully deterministic: identical volumes produce identical
// bytes, which is what makes idempotence checks on artifacts meaningful.

var vxrMagic = [4]byte{'V', 'X', 'R', '1'}

const (
	dtypeFloat32 uint8 = 1
	dtypeInt32   uint8 = 2

	// per-axis and total-voxel bounds on headers read from disk
	maxVXRDim    = 1 << 16
	maxVXRVoxels = 1 << 30
)

type vxrCodec struct{}

func init() {
	Register(vxrCodec{}, ".vxr")
}

func (vxrCodec) Name() string { return "vxr" }

func (vxrCodec) ReadImage(path string) (*tensor.Volume[float32], error) {
	return readVXR[float32](path, dtypeFloat32)
}

func (vxrCodec) ReadLabel(path string) (*tensor.Volume[int32], error) {
	return readVXR[int32](path, dtypeInt32)
}

// WriteImage stores a float32 volume at path in vxr format.
func WriteImage(path string, v *tensor.Volume[float32]) error {
	return writeVXR(path, v, dtypeFloat32)
}

// WriteLabel stores an int32 label volume at path in vxr format.
func WriteLabel(path string, v *tensor.Volume[int32]) error {
	return writeVXR(path, v, dtypeInt32)
}

func writeVXR[T tensor.Scalar](path string, v *tensor.Volume[T], dtype uint8) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := writeHeader(w, v.Dims(), v.Spacing(), dtype); err != nil {
		f.Close()
		return fmt.Errorf("codec: write %s: %w", path, err)
	}
	if err := binary.Write(w, binary.LittleEndian, v.Data()); err != nil {
		f.Close()
		return fmt.Errorf("codec: write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("codec: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("codec: sync %s: %w", path, err)
	}
	return f.Close()
}

func writeHeader(w io.Writer, dims [3]int, spacing [3]float64, dtype uint8) error {
	if _, err := w.Write(vxrMagic[:]); err != nil {
		return err
	}
	fields := []any{
		uint32(3),
		uint32(dims[0]), uint32(dims[1]), uint32(dims[2]),
		spacing[0], spacing[1], spacing[2],
		dtype,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func readVXR[T tensor.Scalar](path string, wantDtype uint8) (*tensor.Volume[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("codec: read %s: %w", path, err)
	}
	if magic != vxrMagic {
		return nil, fmt.Errorf("codec: %s: bad magic %q", path, magic[:])
	}
	var rank uint32
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return nil, fmt.Errorf("codec: read %s: %w", path, err)
	}
	if rank != 3 {
		return nil, fmt.Errorf("codec: %s: unsupported rank %d", path, rank)
	}
	var dims32 [3]uint32
	var spacing [3]float64
	var dtype uint8
	if err := binary.Read(r, binary.LittleEndian, &dims32); err != nil {
		return nil, fmt.Errorf("codec: read %s: %w", path, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &spacing); err != nil {
		return nil, fmt.Errorf("codec: read %s: %w", path, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &dtype); err != nil {
		return nil, fmt.Errorf("codec: read %s: %w", path, err)
	}
	if dtype != wantDtype {
		return nil, fmt.Errorf("codec: %s: dtype tag %d, want %d", path, dtype, wantDtype)
	}
	// header dims come from the file; bound them before allocating
	voxels := uint64(1)
	for i, d := range dims32 {
		if d == 0 || d > maxVXRDim {
			return nil, fmt.Errorf("codec: %s: dimension %d is %d, want 1..%d", path, i, d, maxVXRDim)
		}
		voxels *= uint64(d)
	}
	if voxels > maxVXRVoxels {
		return nil, fmt.Errorf("codec: %s: volume of %d voxels exceeds the %d voxel limit", path, voxels, maxVXRVoxels)
	}
	dims := [3]int{int(dims32[0]), int(dims32[1]), int(dims32[2])}
	v, err := tensor.New[T](dims)
	if err != nil {
		return nil, fmt.Errorf("codec: %s: %w", path, err)
	}
	v.SetSpacing(spacing)
	if err := binary.Read(r, binary.LittleEndian, v.Data()); err != nil {
		return nil, fmt.Errorf("codec: read %s: %w", path, err)
	}
	return v, nil
}
