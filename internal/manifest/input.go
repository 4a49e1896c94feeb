// Package manifest handles the tabular bookkeeping at both ends of the
// pipeline: parsing the input subject manifest (CSV) and maintaining the
// output ledger (YAML, rewritten atomically) plus its rebuilt tabular
// companion for downstream loaders.
package manifest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ChannelRef is one image modality column of a row.
type ChannelRef struct {
	Name string
	Path string
}

// Row is one subject's record from the input manifest. Paths are absolute
// after parsing (relative entries resolve against the manifest's directory).
type Row struct {
	Index     int
	SubjectID string
	Channels  []ChannelRef
	LabelPath string            // empty when the row declares no label
	Values    map[string]string // scalar prediction columns, passed through
}

type columnKind int

const (
	colSubject columnKind = iota
	colChannel
	colLabel
	colValue
)

type column struct {
	kind columnKind
	name string
}

// ParseInput reads the subject manifest. Column roles are detected from the
// header: a subject-identifier column, one or more channel columns (either
// channel_*/modality_* or names from the configured modality list), an
// optional label column, and optional value columns passed through verbatim.
func ParseInput(path string, modalities []string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("manifest: %s: need a header row and at least one subject", path)
	}

	cols, err := classifyHeader(records[0], modalities)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}

	base := filepath.Dir(path)
	rows := make([]Row, 0, len(records)-1)
	seen := map[string]int{}
	for i, rec := range records[1:] {
		if len(rec) != len(cols) {
			return nil, fmt.Errorf("manifest: %s: row %d has %d fields, want %d", path, i+1, len(rec), len(cols))
		}
		row := Row{Index: i, Values: map[string]string{}}
		for c, cell := range rec {
			cell = strings.TrimSpace(cell)
			switch cols[c].kind {
			case colSubject:
				row.SubjectID = cell
			case colChannel:
				if cell == "" {
					return nil, fmt.Errorf("manifest: %s: row %d: channel %q has no path", path, i+1, cols[c].name)
				}
				row.Channels = append(row.Channels, ChannelRef{Name: cols[c].name, Path: resolvePath(base, cell)})
			case colLabel:
				if cell != "" {
					row.LabelPath = resolvePath(base, cell)
				}
			case colValue:
				row.Values[cols[c].name] = cell
			}
		}
		if row.SubjectID == "" {
			return nil, fmt.Errorf("manifest: %s: row %d has an empty subject identifier", path, i+1)
		}
		if prev, dup := seen[row.SubjectID]; dup {
			return nil, fmt.Errorf("manifest: %s: subject %q appears in rows %d and %d", path, row.SubjectID, prev, i+1)
		}
		seen[row.SubjectID] = i + 1
		if len(row.Channels) == 0 {
			return nil, fmt.Errorf("manifest: %s: row %d declares no image channels", path, i+1)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func classifyHeader(header []string, modalities []string) ([]column, error) {
	known := map[string]bool{}
	for _, m := range modalities {
		known[normalizeHeader(m)] = true
	}
	cols := make([]column, len(header))
	haveSubject := false
	channels := 0
	for i, h := range header {
		n := normalizeHeader(h)
		name := strings.TrimSpace(h)
		switch {
		case n == "subjectid" || n == "patientid" || n == "subject" || n == "id":
			if haveSubject {
				return nil, fmt.Errorf("duplicate subject-identifier column %q", h)
			}
			haveSubject = true
			cols[i] = column{kind: colSubject, name: name}
		case strings.HasPrefix(n, "channel") || strings.HasPrefix(n, "modality") || known[n]:
			channels++
			cols[i] = column{kind: colChannel, name: name}
		case n == "label" || n == "mask" || n == "segmentation":
			cols[i] = column{kind: colLabel, name: name}
		case strings.HasPrefix(n, "valuetopredict"):
			cols[i] = column{kind: colValue, name: name}
		default:
			return nil, fmt.Errorf("unrecognized column %q", h)
		}
	}
	if !haveSubject {
		return nil, fmt.Errorf("no subject-identifier column (want SubjectID or PatientID)")
	}
	if channels == 0 {
		return nil, fmt.Errorf("no image channel columns")
	}
	return cols, nil
}

// normalizeHeader lowercases and strips separators so Channel_0, channel-0
// and "Channel 0" classify the same.
func normalizeHeader(h string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(h)))
}

func resolvePath(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
