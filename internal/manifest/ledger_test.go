package manifest

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voxprep/internal/spec"
)

var testFlags = spec.RunFlags{Mode: "train", LabelPadMode: "constant", ZeroCrop: true, Normalize: "none"}

func entry(subject string, row int) spec.LedgerEntry {
	return spec.LedgerEntry{
		Subject:  subject,
		Row:      row,
		Channels: map[string]string{"t1": "subjects/" + subject + "/t1.vxr"},
		Label:    "subjects/" + subject + "/label.vxr",
		Meta:     "subjects/" + subject + "/meta.json",
	}
}

func TestLedger_RecordAndReload(t *testing.T) {
	root := t.TempDir()
	l, err := OpenLedger(root, "run-1", testFlags)
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	l.SetConfigDigest("00000000deadbeef")
	if err := l.Record(entry("s1", 0)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(entry("s2", 1)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	re, err := OpenLedger(root, "run-2", spec.RunFlags{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !re.Has("s1") || !re.Has("s2") || re.Has("s3") {
		t.Fatal("reloaded ledger lost or invented subjects")
	}
	if got := re.Flags(); got.Mode != "train" || !got.ZeroCrop {
		t.Fatalf("reloaded flags = %+v", got)
	}
	if re.Len() != 2 {
		t.Fatalf("Len = %d", re.Len())
	}
	if re.doc.ConfigDigest != "00000000deadbeef" {
		t.Fatalf("config digest = %q", re.doc.ConfigDigest)
	}
}

func TestLedger_RowOrderIsStableAcrossCompletionOrder(t *testing.T) {
	rootA, rootB := t.TempDir(), t.TempDir()

	a, err := OpenLedger(rootA, "run", testFlags)
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	b, err := OpenLedger(rootB, "run", testFlags)
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	// same subjects, opposite completion order
	for _, i := range []int{0, 1, 2} {
		if err := a.Record(entry([]string{"s1", "s2", "s3"}[i], i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	for _, i := range []int{2, 1, 0} {
		if err := b.Record(entry([]string{"s1", "s2", "s3"}[i], i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	rawA, err := os.ReadFile(filepath.Join(rootA, LedgerFile))
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	rawB, err := os.ReadFile(filepath.Join(rootB, LedgerFile))
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if string(rawA) != string(rawB) {
		t.Fatalf("ledger bytes depend on completion order:\n%s\n----\n%s", rawA, rawB)
	}
}

func TestLedger_DuplicateRecordRejected(t *testing.T) {
	l, err := OpenLedger(t.TempDir(), "run", testFlags)
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	if err := l.Record(entry("s1", 0)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(entry("s1", 0)); err == nil {
		t.Fatal("expected duplicate-record error")
	}
}

func TestLedger_RebuildsProcessedCSV(t *testing.T) {
	root := t.TempDir()
	l, err := OpenLedger(root, "run", testFlags)
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	if err := l.Record(entry("s2", 1)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(entry("s1", 0)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	f, err := os.Open(filepath.Join(root, RebuiltFile))
	if err != nil {
		t.Fatalf("open rebuilt csv: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse rebuilt csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records", len(records))
	}
	if got := strings.Join(records[0], ","); got != "SubjectID,t1,Label" {
		t.Fatalf("header = %q", got)
	}
	// rows come back in manifest order, not completion order
	if records[1][0] != "s1" || records[2][0] != "s2" {
		t.Fatalf("row order = %v, %v", records[1], records[2])
	}
	if records[1][1] != "subjects/s1/t1.vxr" {
		t.Fatalf("artifact path = %q", records[1][1])
	}
}

func TestLedger_ResetClearsSubjects(t *testing.T) {
	root := t.TempDir()
	l, err := OpenLedger(root, "run-1", testFlags)
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	if err := l.Record(entry("s1", 0)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	l.Reset("run-2", testFlags)
	if l.Has("s1") || l.Len() != 0 {
		t.Fatal("Reset did not clear recorded subjects")
	}
}
