// Package artifact persists finalized bundles. Each subject's tensors and
// metadata are staged under a private directory and promoted into place
// with a single rename, so a crash leaves either the prior state or a
// complete artifact, never a partial one.
package artifact

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"voxprep/internal/codec"
	"voxprep/internal/spec"
	"voxprep/internal/tensor"
)

const (
	subjectsDir = "subjects"
	stagingDir  = ".staging"
	metaFile    = "meta.json"
)

// PersistError reports a failed artifact write. The subject's output state
// is guaranteed untouched when one is returned.
type PersistError struct {
	Subject string
	Err     error
}

func (e *PersistError) Error() string { return fmt.Sprintf("persist %s: %v", e.Subject, e.Err) }
func (e *PersistError) Unwrap() error { return e.Err }

// Ref locates one subject's artifact. Paths are relative to the output
// root, matching what the ledger records.
type Ref struct {
	Dir      string
	Channels map[string]string
	Label    string
	Meta     string
}

// Meta is the per-subject metadata record stored beside the tensors.
type Meta struct {
	Subject     string            `json:"subject"`
	RunID       string            `json:"run_id"`
	Shape       [3]int            `json:"shape"`
	Spacing     [3]float64        `json:"spacing"`
	Channels    []string          `json:"channels"`
	LabelValues []int32           `json:"label_values,omitempty"`
	Values      map[string]string `json:"values,omitempty"`
	Flags       spec.RunFlags     `json:"flags"`
	Trace       []string          `json:"trace"`
	Checksums   map[string]uint64 `json:"checksums"`
}

// Writer persists bundles under one output root. It is safe for
// concurrent use; subjects never share paths.
type Writer struct {
	root  string
	runID string
	flags spec.RunFlags
	force bool
}

// NewWriter prepares the output root: creates the subject and staging
// directories and sweeps staging leftovers from interrupted runs.
func NewWriter(root, runID string, flags spec.RunFlags, force bool) (*Writer, error) {
	for _, d := range []string{root, filepath.Join(root, subjectsDir), filepath.Join(root, stagingDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("artifact: output root: %w", err)
		}
	}
	stale, err := os.ReadDir(filepath.Join(root, stagingDir))
	if err != nil {
		return nil, fmt.Errorf("artifact: output root: %w", err)
	}
	for _, e := range stale {
		if err := os.RemoveAll(filepath.Join(root, stagingDir, e.Name())); err != nil {
			return nil, fmt.Errorf("artifact: sweep staging: %w", err)
		}
	}
	return &Writer{root: root, runID: runID, flags: flags, force: force}, nil
}

// Write persists one finalized bundle and returns its artifact reference.
// trace lists the transform stages that produced the bundle, recorded in
// the metadata for provenance.
func (w *Writer) Write(b *tensor.Bundle, trace []string) (Ref, error) {
	fail := func(err error) (Ref, error) {
		return Ref{}, &PersistError{Subject: b.SubjectID, Err: err}
	}

	final := filepath.Join(w.root, subjectsDir, b.SubjectID)
	if _, err := os.Stat(final); err == nil && !w.force {
		return fail(fmt.Errorf("artifact already exists (rerun with force to overwrite)"))
	}

	stage := filepath.Join(w.root, stagingDir, b.SubjectID+"."+uuid.NewString())
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return fail(err)
	}
	// staging is discarded on any failure so no partial artifact survives
	defer os.RemoveAll(stage)

	ref := Ref{
		Dir:      filepath.Join(subjectsDir, b.SubjectID),
		Channels: map[string]string{},
	}
	meta := Meta{
		Subject:   b.SubjectID,
		RunID:     w.runID,
		Shape:     b.Dims(),
		Spacing:   b.Spacing(),
		Values:    b.Values,
		Flags:     w.flags,
		Trace:     trace,
		Checksums: map[string]uint64{},
	}

	for _, c := range b.Channels {
		name := c.Name + ".vxr"
		path := filepath.Join(stage, name)
		if err := codec.WriteImage(path, c.Volume); err != nil {
			return fail(err)
		}
		sum, err := checksum(path)
		if err != nil {
			return fail(err)
		}
		meta.Channels = append(meta.Channels, c.Name)
		meta.Checksums[name] = sum
		ref.Channels[c.Name] = filepath.Join(ref.Dir, name)
	}
	sort.Strings(meta.Channels)

	if b.Label != nil {
		path := filepath.Join(stage, "label.vxr")
		if err := codec.WriteLabel(path, b.Label); err != nil {
			return fail(err)
		}
		sum, err := checksum(path)
		if err != nil {
			return fail(err)
		}
		meta.LabelValues = b.LabelValues()
		meta.Checksums["label.vxr"] = sum
		ref.Label = filepath.Join(ref.Dir, "label.vxr")
	}

	raw, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return fail(err)
	}
	if err := os.WriteFile(filepath.Join(stage, metaFile), raw, 0o644); err != nil {
		return fail(err)
	}
	ref.Meta = filepath.Join(ref.Dir, metaFile)

	if w.force {
		if err := os.RemoveAll(final); err != nil {
			return fail(err)
		}
	}
	if err := os.Rename(stage, final); err != nil {
		return fail(err)
	}
	return ref, nil
}

// RefFromMeta reconstructs an artifact reference from a stored metadata
// record, for adopting artifacts whose ledger entry was lost to a crash.
func RefFromMeta(subjectID string, m Meta) Ref {
	ref := Ref{
		Dir:      filepath.Join(subjectsDir, subjectID),
		Channels: map[string]string{},
	}
	for _, name := range m.Channels {
		ref.Channels[name] = filepath.Join(ref.Dir, name+".vxr")
	}
	if _, ok := m.Checksums["label.vxr"]; ok {
		ref.Label = filepath.Join(ref.Dir, "label.vxr")
	}
	ref.Meta = filepath.Join(ref.Dir, metaFile)
	return ref
}

// ReadMeta loads a subject's metadata record from under the output root.
func ReadMeta(root, subjectID string) (Meta, error) {
	var m Meta
	raw, err := os.ReadFile(filepath.Join(root, subjectsDir, subjectID, metaFile))
	if err != nil {
		return m, fmt.Errorf("artifact: read meta for %s: %w", subjectID, err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("artifact: parse meta for %s: %w", subjectID, err)
	}
	return m, nil
}

// Exists reports whether a complete artifact directory is present for the
// subject.
func Exists(root, subjectID string) bool {
	_, err := os.Stat(filepath.Join(root, subjectsDir, subjectID, metaFile))
	return err == nil
}

func checksum(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	h := fnv.New64a()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
