package codec

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxprep/internal/tensor"
)

func TestVXR_ImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t1.vxr")

	v := tensor.MustNew[float32]([3]int{3, 4, 2})
	v.SetSpacing([3]float64{0.5, 0.5, 1.5})
	for i := range v.Data() {
		v.Data()[i] = float32(i) * 0.25
	}
	require.NoError(t, WriteImage(path, v))

	c, err := ForPath(path)
	require.NoError(t, err)
	got, err := c.ReadImage(path)
	require.NoError(t, err)

	assert.Equal(t, v.Dims(), got.Dims())
	assert.Equal(t, v.Spacing(), got.Spacing())
	if diff := cmp.Diff(v.Data(), got.Data()); diff != "" {
		t.Fatalf("voxel data mismatch:\n%s", diff)
	}
}

func TestVXR_LabelRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg.vxr")

	v := tensor.MustNew[int32]([3]int{2, 2, 3})
	for i := range v.Data() {
		v.Data()[i] = int32(i % 4)
	}
	require.NoError(t, WriteLabel(path, v))

	got, err := vxrCodec{}.ReadLabel(path)
	require.NoError(t, err)
	assert.Equal(t, v.Data(), got.Data())
}

func TestVXR_DeterministicBytes(t *testing.T) {
	dir := t.TempDir()
	v := tensor.MustNew[float32]([3]int{4, 4, 4})
	for i := range v.Data() {
		v.Data()[i] = float32(i)
	}
	p1 := filepath.Join(dir, "a.vxr")
	p2 := filepath.Join(dir, "b.vxr")
	require.NoError(t, WriteImage(p1, v))
	require.NoError(t, WriteImage(p2, v))

	b1, err := os.ReadFile(p1)
	require.NoError(t, err)
	b2, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestVXR_DtypeMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t1.vxr")
	require.NoError(t, WriteImage(path, tensor.MustNew[float32]([3]int{2, 2, 2})))
	_, err := vxrCodec{}.ReadLabel(path)
	require.Error(t, err)
}

func TestVXR_OversizedHeaderDimsRejected(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, dims [3]uint32) string {
		var buf bytes.Buffer
		buf.Write(vxrMagic[:])
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(3)))
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, dims))
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, [3]float64{1, 1, 1}))
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, dtypeFloat32))
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
		return path
	}

	// dims whose product overflows int must be rejected before allocation
	_, err := vxrCodec{}.ReadImage(write("overflow.vxr", [3]uint32{1 << 31, 1 << 31, 1 << 31}))
	require.Error(t, err)

	_, err = vxrCodec{}.ReadImage(write("zero.vxr", [3]uint32{0, 4, 4}))
	require.Error(t, err)

	// individually legal axes whose product exceeds the voxel budget
	_, err = vxrCodec{}.ReadImage(write("huge.vxr", [3]uint32{1 << 16, 1 << 16, 2}))
	require.Error(t, err)
}

func TestVXR_BadMagicRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.vxr")
	require.NoError(t, os.WriteFile(path, []byte("not a volume"), 0o644))
	_, err := vxrCodec{}.ReadImage(path)
	require.Error(t, err)
}

func TestForPath_UnknownExtension(t *testing.T) {
	_, err := ForPath("scan.nii.gz")
	var ue *ErrUnknownExtension
	require.ErrorAs(t, err, &ue)
}
