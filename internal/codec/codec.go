// Package codec loads and stores volumes in their on-disk formats. Codecs
// self-register by file extension; the resolver picks one per input path
// and the artifact writer always stores in the native vxr format.
package codec

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"voxprep/internal/tensor"
)

// Codec reads one volume file format. Image data decodes to float32,
// labels to int32 without any value remapping.
type Codec interface {
	Name() string
	ReadImage(path string) (*tensor.Volume[float32], error)
	ReadLabel(path string) (*tensor.Volume[int32], error)
}

// ErrUnknownExtension reports a path no registered codec claims.
type ErrUnknownExtension struct {
	Path string
}

func (e *ErrUnknownExtension) Error() string {
	return fmt.Sprintf("codec: no codec for %q (extensions: %s)", e.Path, strings.Join(Extensions(), ", "))
}

var registry = map[string]Codec{}

// Register claims one or more file extensions (with leading dot) for a
// codec. Called from each codec's init.
func Register(c Codec, exts ...string) {
	for _, ext := range exts {
		registry[strings.ToLower(ext)] = c
	}
}

// ForPath returns the codec registered for the path's extension.
func ForPath(path string) (Codec, error) {
	if c, ok := registry[strings.ToLower(filepath.Ext(path))]; ok {
		return c, nil
	}
	return nil, &ErrUnknownExtension{Path: path}
}

// Extensions lists the registered extensions, sorted, for error messages.
func Extensions() []string {
	out := make([]string, 0, len(registry))
	for ext := range registry {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
