package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestBandFor(t *testing.T) {
	tests := []struct {
		age   int
		label string
		ok    bool
	}{
		{0, "Younger Brain", true},
		{40, "Younger Brain", true},
		{41, "Normal Brain Aging", true},
		{60, "Normal Brain Aging", true},
		{61, "Mildly Older Brain", true},
		{75, "Mildly Older Brain", true},
		{76, "Older Brain (Accelerated Aging)", true},
		{120, "Older Brain (Accelerated Aging)", true},
		{121, "", false},
		{-1, "", false},
	}

	for _, tt := range tests {
		band, ok := BandFor(tt.age)
		if ok != tt.ok || band.Label != tt.label {
			t.Errorf("BandFor(%d) = %q, %v; expected %q, %v", tt.age, band.Label, ok, tt.label, tt.ok)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestOrganize(t *testing.T) {
	root := t.TempDir()
	csvPath := filepath.Join(root, "IXI.csv")
	slices := filepath.Join(root, "image_slice_T1")
	out := filepath.Join(root, "dataset")

	writeFile(t, csvPath, strings.Join([]string{
		"IXI_ID,SEX_ID,AGE",
		"2,1,35.8",
		"12,2,36.2",
		"13,1,",
		"14,1,NaN",
		"15,2,130",
		"16,1,64",
		"17,1,40.5",
	}, "\n"))

	writeFile(t, filepath.Join(slices, "IXI002-Guys-0828-T1", "slice_01.png"), "a")
	writeFile(t, filepath.Join(slices, "IXI002-Guys-0828-T1", "slice_02.png"), "b")
	writeFile(t, filepath.Join(slices, "IXI002-Guys-0828-T1", "notes.txt"), "skip")
	writeFile(t, filepath.Join(slices, "IXI012-HH-1211-T1", "slice_01.png"), "c")
	writeFile(t, filepath.Join(slices, "IXI017-IOP-0000-T1", "slice_01.png"), "d")
	// IXI016 has no folder.

	report, err := Organize(Options{CSVPath: csvPath, SlicesDir: slices, DatasetDir: out})
	if err != nil {
		t.Fatalf("Organize: %v", err)
	}

	for _, b := range Bands {
		if _, err := os.Stat(filepath.Join(out, b.Label)); err != nil {
			t.Errorf("label folder %q missing: %v", b.Label, err)
		}
	}

	// 35.8 and 36.2 both round to 36 and share a counter; 40.5 rounds half to even.
	got := listDir(t, filepath.Join(out, "Younger Brain"))
	want := []string{"36.1.png", "36.2.png", "36.png", "40.png"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Younger Brain = %v, expected %v", got, want)
	}
	data, err := os.ReadFile(filepath.Join(out, "Younger Brain", "36.2.png"))
	if err != nil || string(data) != "c" {
		t.Errorf("36.2.png content = %q, %v", data, err)
	}

	if report.Subjects != 7 || report.Copied != 4 || report.PerLabel["Younger Brain"] != 4 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(report.Warnings) != 4 {
		t.Errorf("warnings = %v, expected 4 (two missing ages, one out of range, one missing folder)", report.Warnings)
	}
}

func TestOrganize_BadTable(t *testing.T) {
	root := t.TempDir()
	slices := filepath.Join(root, "slices")
	if err := os.MkdirAll(slices, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"missing columns": "ID,AGE\n1,30\n",
		"bad id":          "IXI_ID,AGE\nabc,30\n",
	}
	for name, content := range tests {
		csvPath := filepath.Join(root, name+".csv")
		writeFile(t, csvPath, content)
		if _, err := Organize(Options{CSVPath: csvPath, SlicesDir: slices, DatasetDir: filepath.Join(root, "out")}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := Organize(Options{CSVPath: filepath.Join(root, "absent.csv"), SlicesDir: slices, DatasetDir: filepath.Join(root, "out")}); err == nil {
		t.Error("expected error for missing table")
	}
}
