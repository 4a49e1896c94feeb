package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestParseInput_HeaderDetectionAndPathResolution(t *testing.T) {
	path := writeManifest(t, `SubjectID,Channel_0,Channel_1,Label,ValueToPredict_0
sub-001,imgs/a_t1.vxr,imgs/a_t2.vxr,segs/a.vxr,0.7
sub-002,/abs/b_t1.vxr,imgs/b_t2.vxr,,0.1
`)
	rows, err := ParseInput(path, nil)
	if err != nil {
		t.Fatalf("ParseInput: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	base := filepath.Dir(path)
	r := rows[0]
	if r.SubjectID != "sub-001" || len(r.Channels) != 2 {
		t.Fatalf("row 0 = %+v", r)
	}
	if want := filepath.Join(base, "imgs/a_t1.vxr"); r.Channels[0].Path != want {
		t.Fatalf("relative path not resolved: %q", r.Channels[0].Path)
	}
	if want := filepath.Join(base, "segs/a.vxr"); r.LabelPath != want {
		t.Fatalf("label path = %q", r.LabelPath)
	}
	if r.Values["ValueToPredict_0"] != "0.7" {
		t.Fatalf("values = %v", r.Values)
	}
	if rows[1].Channels[0].Path != "/abs/b_t1.vxr" {
		t.Fatalf("absolute path mangled: %q", rows[1].Channels[0].Path)
	}
	if rows[1].LabelPath != "" {
		t.Fatalf("empty label cell should mean no label, got %q", rows[1].LabelPath)
	}
}

func TestParseInput_ModalityNamedColumns(t *testing.T) {
	path := writeManifest(t, `PatientID,T1,T2,Mask
p1,a.vxr,b.vxr,m.vxr
`)
	rows, err := ParseInput(path, []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("ParseInput: %v", err)
	}
	if got := len(rows[0].Channels); got != 2 {
		t.Fatalf("channels = %d, want 2", got)
	}
	if rows[0].LabelPath == "" {
		t.Fatal("Mask column not detected as label")
	}
}

func TestParseInput_DuplicateSubjectRejected(t *testing.T) {
	path := writeManifest(t, `SubjectID,Channel_0
s1,a.vxr
s1,b.vxr
`)
	_, err := ParseInput(path, nil)
	if err == nil || !strings.Contains(err.Error(), "s1") {
		t.Fatalf("want duplicate-subject error naming s1, got %v", err)
	}
}

func TestParseInput_UnrecognizedColumn(t *testing.T) {
	path := writeManifest(t, `SubjectID,Channel_0,Comment
s1,a.vxr,hello
`)
	if _, err := ParseInput(path, nil); err == nil {
		t.Fatal("expected error for unrecognized column")
	}
}

func TestParseInput_MissingSubjectColumn(t *testing.T) {
	path := writeManifest(t, `Channel_0,Label
a.vxr,m.vxr
`)
	if _, err := ParseInput(path, nil); err == nil {
		t.Fatal("expected error for missing subject column")
	}
}
