package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxprep/internal/tensor"
)

func TestZeroCrop_LabelGovernsBox(t *testing.T) {
	dims := [3]int{10, 8, 6}
	b := &tensor.Bundle{
		SubjectID: "sub-001",
		Channels: []tensor.Channel{
			{Name: "t1", Volume: imageVolume(t, dims, func(x, y, z int) float32 { return 1 })},
		},
		Label: labelVolume(t, dims, func(x, y, z int) int32 {
			if x >= 2 && x <= 5 && y >= 1 && y <= 3 && z >= 2 && z <= 4 {
				return 1
			}
			return 0
		}),
	}

	out, rep, err := ZeroCrop(b, 0, 0)
	require.NoError(t, err)
	assert.False(t, rep.Degenerate)
	assert.Equal(t, [3]int{2, 1, 2}, rep.Min)
	assert.Equal(t, [3]int{5, 3, 4}, rep.Max)
	assert.Equal(t, [3]int{4, 3, 3}, out.Dims())
	assert.Equal(t, out.Dims(), out.Label.Dims())
	assert.Equal(t, int32(1), out.Label.At(0, 0, 0))
}

func TestZeroCrop_IntensityGovernsWithoutLabel(t *testing.T) {
	dims := [3]int{6, 6, 6}
	b := &tensor.Bundle{
		SubjectID: "sub-002",
		Channels: []tensor.Channel{
			{Name: "t1", Volume: imageVolume(t, dims, func(x, y, z int) float32 {
				if x == 3 && y == 3 && z == 3 {
					return 5
				}
				return 0
			})},
		},
	}
	out, rep, err := ZeroCrop(b, 0.5, 0)
	require.NoError(t, err)
	assert.False(t, rep.Degenerate)
	assert.Equal(t, [3]int{1, 1, 1}, out.Dims())
	assert.Equal(t, float32(5), out.Channels[0].Volume.At(0, 0, 0))
}

func TestZeroCrop_NoMarginIsNoOp(t *testing.T) {
	dims := [3]int{4, 4, 4}
	b := &tensor.Bundle{
		SubjectID: "sub-003",
		Channels: []tensor.Channel{
			{Name: "t1", Volume: imageVolume(t, dims, func(x, y, z int) float32 { return 1 })},
		},
	}
	out, rep, err := ZeroCrop(b, 0.5, 0)
	require.NoError(t, err)
	assert.False(t, rep.Degenerate)
	assert.Same(t, b, out)
	assert.Equal(t, [3]int{3, 3, 3}, rep.Max)
}

func TestZeroCrop_DegenerateBundleUnchanged(t *testing.T) {
	dims := [3]int{4, 4, 4}
	b := &tensor.Bundle{
		SubjectID: "sub-004",
		Channels: []tensor.Channel{
			{Name: "t1", Volume: tensor.MustNew[float32](dims)},
		},
	}
	out, rep, err := ZeroCrop(b, 0, 0)
	require.NoError(t, err)
	assert.True(t, rep.Degenerate)
	assert.Same(t, b, out)
}
