package transform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"voxprep/internal/tensor"
)

func TestNormalize_ZScoreOverNonzeroVoxels(t *testing.T) {
	dims := [3]int{6, 6, 6}
	b := &tensor.Bundle{
		SubjectID: "sub-001",
		Channels: []tensor.Channel{
			{Name: "t1", Volume: imageVolume(t, dims, func(x, y, z int) float32 {
				if x < 3 {
					return 0 // background excluded from the statistics
				}
				return float32(10 + x + y + z)
			})},
		},
	}
	out, err := Normalize(b, NormalizeZScore)
	require.NoError(t, err)

	var fg []float64
	orig := b.Channels[0].Volume
	norm := out.Channels[0].Volume
	for i, v := range orig.Data() {
		if v != 0 {
			fg = append(fg, float64(norm.Data()[i]))
		}
	}
	mean, std := stat.MeanStdDev(fg, nil)
	assert.InDelta(t, 0, mean, 1e-4)
	assert.InDelta(t, 1, std, 1e-4)
}

func TestNormalize_ZScoreSingleForegroundVoxelStaysFinite(t *testing.T) {
	dims := [3]int{4, 4, 4}
	b := &tensor.Bundle{
		SubjectID: "sub-005",
		Channels: []tensor.Channel{
			{Name: "t1", Volume: imageVolume(t, dims, func(x, y, z int) float32 {
				if x == 1 && y == 1 && z == 1 {
					return 7
				}
				return 0
			})},
		},
	}
	out, err := Normalize(b, NormalizeZScore)
	require.NoError(t, err)

	// sample stddev over one value is undefined; the voxel must still come
	// out finite instead of NaN-flooding the channel
	for i, v := range out.Channels[0].Volume.Data() {
		require.Falsef(t, math.IsNaN(float64(v)), "voxel %d is NaN", i)
	}
	assert.Equal(t, float32(0), out.Channels[0].Volume.At(1, 1, 1))
}

func TestNormalize_MinMaxRange(t *testing.T) {
	dims := [3]int{4, 4, 4}
	b := &tensor.Bundle{
		SubjectID: "sub-002",
		Channels: []tensor.Channel{
			{Name: "t1", Volume: imageVolume(t, dims, func(x, y, z int) float32 {
				return float32(5 + x)
			})},
		},
	}
	out, err := Normalize(b, NormalizeMinMax)
	require.NoError(t, err)
	v := out.Channels[0].Volume
	lo, hi := intensityRange(v)
	assert.InDelta(t, 0, lo, 1e-6)
	assert.InDelta(t, 1, hi, 1e-6)
}

func TestNormalize_NoneReturnsInput(t *testing.T) {
	b := labeledBundle(t, [3]int{3, 3, 3})
	out, err := Normalize(b, NormalizeNone)
	require.NoError(t, err)
	assert.Same(t, b, out)
}

func TestNormalize_LabelUntouched(t *testing.T) {
	b := labeledBundle(t, [3]int{4, 4, 4})
	before := append([]int32(nil), b.Label.Data()...)
	out, err := Normalize(b, NormalizeZScore)
	require.NoError(t, err)
	assert.Equal(t, before, out.Label.Data())
}

func TestParseNormalizeMode(t *testing.T) {
	_, err := ParseNormalizeMode("sigmoid")
	require.Error(t, err)
	m, err := ParseNormalizeMode("minmax")
	require.NoError(t, err)
	assert.Equal(t, NormalizeMinMax, m)
}
