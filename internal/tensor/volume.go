// Package tensor defines the in-memory volume model the pipeline operates
// on: dense 3D grids of scalars plus voxel-spacing metadata. Image channels
// are float32 volumes, label maps are int32 volumes; both share the same
// flat layout so geometric transforms can be written once.
package tensor

import (
	"fmt"
)

// Scalar is the set of voxel types a Volume can hold.
type Scalar interface {
	~float32 | ~int32
}

// Volume is a dense X×Y×Z grid. 2D data is a volume with Z == 1.
// The flat data slice is indexed (z*Y + y)*X + x.
type Volume[T Scalar] struct {
	dims    [3]int
	spacing [3]float64
	data    []T
}

// New allocates a zero-filled volume with unit spacing.
func New[T Scalar](dims [3]int) (*Volume[T], error) {
	for i, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("tensor: dimension %d is %d, want > 0", i, d)
		}
	}
	return &Volume[T]{
		dims:    dims,
		spacing: [3]float64{1, 1, 1},
		data:    make([]T, dims[0]*dims[1]*dims[2]),
	}, nil
}

// NewWithData wraps an existing flat slice. The slice is owned by the
// volume afterwards.
func NewWithData[T Scalar](dims [3]int, data []T) (*Volume[T], error) {
	v, err := New[T](dims)
	if err != nil {
		return nil, err
	}
	if len(data) != len(v.data) {
		return nil, fmt.Errorf("tensor: data length %d does not match dims %v (want %d)",
			len(data), dims, len(v.data))
	}
	v.data = data
	return v, nil
}

// MustNew is New for fixed-size construction in tests and generators.
func MustNew[T Scalar](dims [3]int) *Volume[T] {
	v, err := New[T](dims)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Volume[T]) Dims() [3]int        { return v.dims }
func (v *Volume[T]) Spacing() [3]float64 { return v.spacing }
func (v *Volume[T]) Len() int            { return len(v.data) }

// Data exposes the flat voxel slice for hot loops. Callers must not resize.
func (v *Volume[T]) Data() []T { return v.data }

func (v *Volume[T]) SetSpacing(s [3]float64) { v.spacing = s }

// Index maps grid coordinates to the flat slice offset.
func (v *Volume[T]) Index(x, y, z int) int {
	return (z*v.dims[1]+y)*v.dims[0] + x
}

func (v *Volume[T]) At(x, y, z int) T     { return v.data[v.Index(x, y, z)] }
func (v *Volume[T]) Set(x, y, z int, t T) { v.data[v.Index(x, y, z)] = t }

// Clone deep-copies the volume.
func (v *Volume[T]) Clone() *Volume[T] {
	out := &Volume[T]{dims: v.dims, spacing: v.spacing, data: make([]T, len(v.data))}
	copy(out.data, v.data)
	return out
}

// SameShape reports whether two volumes have identical dims.
func SameShape[A, B Scalar](a *Volume[A], b *Volume[B]) bool {
	return a.dims == b.dims
}

// ShapeError reports disagreement between volume geometries where the
// pipeline requires them to match.
type ShapeError struct {
	Context string
	Want    [3]int
	Got     [3]int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: want %v, got %v", e.Context, e.Want, e.Got)
}

// SpacingAlmostEqual compares voxel spacings within tol on every axis.
func SpacingAlmostEqual(a, b [3]float64, tol float64) bool {
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		if d > tol {
			return false
		}
	}
	return true
}
