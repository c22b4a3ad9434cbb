// Package dataset sorts IXI slice exports into age-labelled training folders.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"brainage-api/internal/logger"
)

// Band is an inclusive chronological age range and its folder label.
type Band struct {
	Label string
	Min   int
	Max   int
}

// Bands are the training labels, youngest first.
var Bands = []Band{
	{Label: "Younger Brain", Min: 0, Max: 40},
	{Label: "Normal Brain Aging", Min: 41, Max: 60},
	{Label: "Mildly Older Brain", Min: 61, Max: 75},
	{Label: "Older Brain (Accelerated Aging)", Min: 76, Max: 120},
}

// BandFor returns the band containing age.
func BandFor(age int) (Band, bool) {
	for _, b := range Bands {
		if age >= b.Min && age <= b.Max {
			return b, true
		}
	}
	return Band{}, false
}

type Options struct {
	CSVPath    string // subject table with IXI_ID and AGE columns
	SlicesDir  string // one folder per subject, name containing IXI<id>
	DatasetDir string // output root
}

type Report struct {
	Subjects int
	Copied   int
	PerLabel map[string]int
	Warnings []string
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Organize copies every subject's PNG slices into the folder of its age band,
// renaming them <age>.png, <age>.1.png, <age>.2.png and so on.
func Organize(opts Options) (*Report, error) {
	log := logger.WithComponent("dataset")

	for _, b := range Bands {
		if err := os.MkdirAll(filepath.Join(opts.DatasetDir, b.Label), 0o755); err != nil {
			return nil, fmt.Errorf("create label folder: %w", err)
		}
	}

	subjects, err := readSubjects(opts.CSVPath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(opts.SlicesDir)
	if err != nil {
		return nil, fmt.Errorf("read slices dir: %w", err)
	}
	var folders []string
	for _, e := range entries {
		if e.IsDir() {
			folders = append(folders, e.Name())
		}
	}

	report := &Report{PerLabel: make(map[string]int)}
	counters := make(map[string]map[int]int)

	for _, s := range subjects {
		report.Subjects++
		if s.age == nil {
			report.warn("age missing for IXI %d", s.id)
			continue
		}
		age := int(math.RoundToEven(*s.age))

		band, ok := BandFor(age)
		if !ok {
			report.warn("age %d for IXI %d does not fit any label range", age, s.id)
			continue
		}

		folder := findFolder(folders, s.id)
		if folder == "" {
			report.warn("folder not found for IXI %d", s.id)
			continue
		}

		if counters[band.Label] == nil {
			counters[band.Label] = make(map[int]int)
		}
		copied, err := copySlices(
			filepath.Join(opts.SlicesDir, folder),
			filepath.Join(opts.DatasetDir, band.Label),
			age, counters[band.Label],
		)
		if err != nil {
			return report, fmt.Errorf("copy slices for IXI %d: %w", s.id, err)
		}
		report.Copied += copied
		report.PerLabel[band.Label] += copied

		log.WithFields(logrus.Fields{
			"ixi_id": s.id,
			"age":    age,
			"label":  band.Label,
			"files":  copied,
		}).Debug("subject organized")
	}

	return report, nil
}

type subject struct {
	id  int
	age *float64
}

func readSubjects(path string) ([]subject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open subject table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	head, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read subject table header: %w", err)
	}
	idCol, ageCol := -1, -1
	for i, name := range head {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case "IXI_ID":
			idCol = i
		case "AGE":
			ageCol = i
		}
	}
	if idCol < 0 || ageCol < 0 {
		return nil, errors.New("subject table needs IXI_ID and AGE columns")
	}

	var subjects []subject
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read subject table: %w", err)
		}
		if idCol >= len(rec) {
			return nil, fmt.Errorf("line %d: missing IXI_ID", line)
		}
		id, err := strconv.ParseFloat(strings.TrimSpace(rec[idCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid IXI_ID %q", line, rec[idCol])
		}

		s := subject{id: int(id)}
		if ageCol < len(rec) {
			if age, err := strconv.ParseFloat(strings.TrimSpace(rec[ageCol]), 64); err == nil && !math.IsNaN(age) {
				s.age = &age
			}
		}
		subjects = append(subjects, s)
	}
	return subjects, nil
}

func findFolder(folders []string, id int) string {
	needle := fmt.Sprintf("IXI%03d", id)
	for _, name := range folders {
		if strings.Contains(name, needle) {
			return name
		}
	}
	return ""
}

func copySlices(src, dst string, age int, counter map[int]int) (int, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		counter[age]++
		name := fmt.Sprintf("%d.png", age)
		if n := counter[age]; n > 1 {
			name = fmt.Sprintf("%d.%d.png", age, n-1)
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, name)); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
