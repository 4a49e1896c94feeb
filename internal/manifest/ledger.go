package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"voxprep/internal/spec"
)

const (
	// LedgerFile is the output manifest at the output root. A subject
	// listed here has a durably complete artifact.
	LedgerFile = "manifest.yaml"

	// RebuiltFile is the tabular companion downstream loaders consume.
	RebuiltFile = "processed.csv"
)

// Ledger is the output manifest. It is the single shared mutable resource
// of a run; Record serializes all writers and rewrites the file atomically,
// so an interrupted run always leaves a loadable document listing exactly
// the subjects whose artifacts completed.
type Ledger struct {
	root string

	mu   sync.Mutex
	doc  spec.LedgerDoc
	byID map[string]struct{}
}

// OpenLedger loads the ledger at root, or starts an empty one stamped with
// runID and flags when none exists yet.
func OpenLedger(root, runID string, flags spec.RunFlags) (*Ledger, error) {
	l := &Ledger{root: root, byID: map[string]struct{}{}}
	raw, err := os.ReadFile(filepath.Join(root, LedgerFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		l.doc = spec.LedgerDoc{SchemaVersion: spec.SupportedSchema, RunID: runID, Flags: flags}
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("manifest: read ledger: %w", err)
	}
	if err := yaml.Unmarshal(raw, &l.doc); err != nil {
		return nil, fmt.Errorf("manifest: parse ledger: %w", err)
	}
	if l.doc.SchemaVersion != spec.SupportedSchema {
		return nil, fmt.Errorf("manifest: ledger schema_version %q not supported (want %q)",
			l.doc.SchemaVersion, spec.SupportedSchema)
	}
	for _, e := range l.doc.Subjects {
		l.byID[e.Subject] = struct{}{}
	}
	return l, nil
}

// Reset discards all recorded subjects and restamps the run, for forced
// reruns over an existing output root.
func (l *Ledger) Reset(runID string, flags spec.RunFlags) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.doc = spec.LedgerDoc{SchemaVersion: spec.SupportedSchema, RunID: runID, Flags: flags}
	l.byID = map[string]struct{}{}
}

// SetConfigDigest stamps the fingerprint of the configuration driving this
// run. Persisted with the next Record.
func (l *Ledger) SetConfigDigest(d string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.doc.ConfigDigest = d
}

// Flags returns the provenance the ledger was produced under.
func (l *Ledger) Flags() spec.RunFlags {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.Flags
}

// Has reports whether a subject already completed in a prior (or this) run.
func (l *Ledger) Has(subjectID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byID[subjectID]
	return ok
}

// Len returns the number of recorded subjects.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.doc.Subjects)
}

// Record adds one completed subject and flushes the ledger and the rebuilt
// CSV durably before returning. Entries are kept sorted by input-row index,
// so the on-disk document is byte-stable regardless of which worker
// finished first.
func (l *Ledger) Record(e spec.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.byID[e.Subject]; dup {
		return fmt.Errorf("manifest: subject %q already recorded", e.Subject)
	}
	l.doc.Subjects = append(l.doc.Subjects, e)
	sort.SliceStable(l.doc.Subjects, func(i, j int) bool {
		return l.doc.Subjects[i].Row < l.doc.Subjects[j].Row
	})
	l.byID[e.Subject] = struct{}{}
	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.rebuildLocked()
}

// Entries returns a copy of the recorded subjects in row order.
func (l *Ledger) Entries() []spec.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]spec.LedgerEntry(nil), l.doc.Subjects...)
}

func (l *Ledger) flushLocked() error {
	raw, err := yaml.Marshal(&l.doc)
	if err != nil {
		return fmt.Errorf("manifest: marshal ledger: %w", err)
	}
	return atomicWrite(filepath.Join(l.root, LedgerFile), raw)
}

// rebuildLocked regenerates processed.csv from the ledger: one row per
// completed subject, channel and label columns pointing at artifact paths
// relative to the output root.
func (l *Ledger) rebuildLocked() error {
	channelNames := map[string]struct{}{}
	hasLabel := false
	for _, e := range l.doc.Subjects {
		for name := range e.Channels {
			channelNames[name] = struct{}{}
		}
		if e.Label != "" {
			hasLabel = true
		}
	}
	names := make([]string, 0, len(channelNames))
	for n := range channelNames {
		names = append(names, n)
	}
	sort.Strings(names)

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	header := append([]string{"SubjectID"}, names...)
	if hasLabel {
		header = append(header, "Label")
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, e := range l.doc.Subjects {
		rec := make([]string, 0, len(header))
		rec = append(rec, e.Subject)
		for _, n := range names {
			rec = append(rec, e.Channels[n])
		}
		if hasLabel {
			rec = append(rec, e.Label)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("manifest: rebuild csv: %w", err)
	}
	return atomicWrite(filepath.Join(l.root, RebuiltFile), []byte(sb.String()))
}

// atomicWrite stages content next to the target and renames it into place,
// fsyncing first, so readers never observe a torn file.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("manifest: stage %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest: stage %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("manifest: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("manifest: promote %s: %w", path, err)
	}
	return nil
}
