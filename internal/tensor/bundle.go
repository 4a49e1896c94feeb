package tensor

import (
	"fmt"
	"sort"
)

// Channel is one named image modality of a subject.
type Channel struct {
	Name   string
	Volume *Volume[float32]
}

// Bundle is one subject's stacked channels plus optional label volume.
// All channels and the label share identical spatial dims; Validate
// enforces the invariant after construction and after every transform.
type Bundle struct {
	SubjectID string
	Channels  []Channel
	Label     *Volume[int32]

	// Values carries scalar prediction columns from the manifest row,
	// passed through to the artifact metadata untouched.
	Values map[string]string
}

// Dims returns the shared spatial dims of the bundle's channels.
func (b *Bundle) Dims() [3]int {
	if len(b.Channels) == 0 {
		return [3]int{}
	}
	return b.Channels[0].Volume.Dims()
}

// Spacing returns the voxel spacing recorded on the first channel.
func (b *Bundle) Spacing() [3]float64 {
	if len(b.Channels) == 0 {
		return [3]float64{1, 1, 1}
	}
	return b.Channels[0].Volume.Spacing()
}

// Validate checks the bundle invariant: at least one channel, identical
// dims across channels, and label dims (when present) matching the images.
func (b *Bundle) Validate() error {
	if len(b.Channels) == 0 {
		return fmt.Errorf("bundle %q: no image channels", b.SubjectID)
	}
	want := b.Channels[0].Volume.Dims()
	for _, c := range b.Channels[1:] {
		if got := c.Volume.Dims(); got != want {
			return &ShapeError{Context: "channel " + c.Name, Want: want, Got: got}
		}
	}
	if b.Label != nil {
		if got := b.Label.Dims(); got != want {
			return &ShapeError{Context: "label", Want: want, Got: got}
		}
	}
	return nil
}

// Clone deep-copies the bundle.
func (b *Bundle) Clone() *Bundle {
	out := &Bundle{SubjectID: b.SubjectID}
	out.Channels = make([]Channel, len(b.Channels))
	for i, c := range b.Channels {
		out.Channels[i] = Channel{Name: c.Name, Volume: c.Volume.Clone()}
	}
	if b.Label != nil {
		out.Label = b.Label.Clone()
	}
	if b.Values != nil {
		out.Values = make(map[string]string, len(b.Values))
		for k, v := range b.Values {
			out.Values[k] = v
		}
	}
	return out
}

// LabelValues returns the sorted set of distinct label classes, or nil
// when the bundle has no label.
func (b *Bundle) LabelValues() []int32 {
	if b.Label == nil {
		return nil
	}
	seen := map[int32]struct{}{}
	for _, v := range b.Label.Data() {
		seen[v] = struct{}{}
	}
	out := make([]int32, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
