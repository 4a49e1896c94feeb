package resolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxprep/internal/codec"
	"voxprep/internal/manifest"
	"voxprep/internal/spec"
	"voxprep/internal/tensor"
)

func writeImage(t *testing.T, dir, name string, dims [3]int, spacing [3]float64) string {
	t.Helper()
	v := tensor.MustNew[float32](dims)
	v.SetSpacing(spacing)
	for i := range v.Data() {
		v.Data()[i] = float32(i % 7)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, codec.WriteImage(path, v))
	return path
}

func writeLabel(t *testing.T, dir, name string, dims [3]int) string {
	t.Helper()
	v := tensor.MustNew[int32](dims)
	for i := range v.Data() {
		v.Data()[i] = int32(i % 3)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, codec.WriteLabel(path, v))
	return path
}

func TestResolve_BuildsBundle(t *testing.T) {
	dir := t.TempDir()
	dims := [3]int{4, 4, 3}
	spacing := [3]float64{1, 1, 2}
	row := manifest.Row{
		SubjectID: "sub-001",
		Channels: []manifest.ChannelRef{
			{Name: "t1", Path: writeImage(t, dir, "t1.vxr", dims, spacing)},
			{Name: "t2", Path: writeImage(t, dir, "t2.vxr", dims, spacing)},
		},
		LabelPath: writeLabel(t, dir, "seg.vxr", dims),
		Values:    map[string]string{"ValueToPredict_0": "1"},
	}

	b, err := Resolve(context.Background(), row, spec.Data{Modalities: []string{"t1", "t2"}, SpacingTolerance: 1e-4})
	require.NoError(t, err)
	require.NoError(t, b.Validate())
	assert.Equal(t, "sub-001", b.SubjectID)
	assert.Len(t, b.Channels, 2)
	assert.NotNil(t, b.Label)
	assert.Equal(t, dims, b.Dims())
	assert.Equal(t, spacing, b.Spacing())
	assert.Equal(t, "1", b.Values["ValueToPredict_0"])
}

func TestResolve_MissingFile(t *testing.T) {
	dir := t.TempDir()
	row := manifest.Row{
		SubjectID: "sub-002",
		Channels:  []manifest.ChannelRef{{Name: "t1", Path: filepath.Join(dir, "absent.vxr")}},
	}
	_, err := Resolve(context.Background(), row, spec.Data{})
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, ErrMissingFile)
	assert.Equal(t, "sub-002", re.Subject)
}

func TestResolve_MissingLabelFile(t *testing.T) {
	dir := t.TempDir()
	row := manifest.Row{
		SubjectID: "sub-003",
		Channels:  []manifest.ChannelRef{{Name: "t1", Path: writeImage(t, dir, "t1.vxr", [3]int{2, 2, 2}, [3]float64{1, 1, 1})}},
		LabelPath: filepath.Join(dir, "no-such-seg.vxr"),
	}
	_, err := Resolve(context.Background(), row, spec.Data{})
	assert.ErrorIs(t, err, ErrMissingFile)
}

func TestResolve_ChannelShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	row := manifest.Row{
		SubjectID: "sub-004",
		Channels: []manifest.ChannelRef{
			{Name: "t1", Path: writeImage(t, dir, "t1.vxr", [3]int{4, 4, 4}, [3]float64{1, 1, 1})},
			{Name: "t2", Path: writeImage(t, dir, "t2.vxr", [3]int{4, 4, 5}, [3]float64{1, 1, 1})},
		},
	}
	_, err := Resolve(context.Background(), row, spec.Data{})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestResolve_LabelShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	row := manifest.Row{
		SubjectID: "sub-005",
		Channels:  []manifest.ChannelRef{{Name: "t1", Path: writeImage(t, dir, "t1.vxr", [3]int{4, 4, 4}, [3]float64{1, 1, 1})}},
		LabelPath: writeLabel(t, dir, "seg.vxr", [3]int{4, 4, 3}),
	}
	_, err := Resolve(context.Background(), row, spec.Data{})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestResolve_SpacingDisagreement(t *testing.T) {
	dir := t.TempDir()
	row := manifest.Row{
		SubjectID: "sub-006",
		Channels: []manifest.ChannelRef{
			{Name: "t1", Path: writeImage(t, dir, "t1.vxr", [3]int{4, 4, 4}, [3]float64{1, 1, 1})},
			{Name: "t2", Path: writeImage(t, dir, "t2.vxr", [3]int{4, 4, 4}, [3]float64{1, 1, 2})},
		},
	}
	_, err := Resolve(context.Background(), row, spec.Data{SpacingTolerance: 1e-4})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestResolve_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.nii")
	require.NoError(t, os.WriteFile(path, []byte("nifti"), 0o644))
	row := manifest.Row{
		SubjectID: "sub-007",
		Channels:  []manifest.ChannelRef{{Name: "t1", Path: path}},
	}
	_, err := Resolve(context.Background(), row, spec.Data{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestResolve_ChannelCountAgainstConfig(t *testing.T) {
	dir := t.TempDir()
	row := manifest.Row{
		SubjectID: "sub-008",
		Channels:  []manifest.ChannelRef{{Name: "t1", Path: writeImage(t, dir, "t1.vxr", [3]int{2, 2, 2}, [3]float64{1, 1, 1})}},
	}
	_, err := Resolve(context.Background(), row, spec.Data{Modalities: []string{"t1", "t2"}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestResolve_HonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	row := manifest.Row{
		SubjectID: "sub-009",
		Channels:  []manifest.ChannelRef{{Name: "t1", Path: writeImage(t, dir, "t1.vxr", [3]int{2, 2, 2}, [3]float64{1, 1, 1})}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Resolve(ctx, row, spec.Data{})
	assert.ErrorIs(t, err, context.Canceled)
}
