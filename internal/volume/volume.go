package volume

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// epsilon keeps the min-max denominator non-zero for uniform scans.
const epsilon = 1e-8

// ErrDecode marks uploads that are not a readable NIfTI volume.
var ErrDecode = errors.New("invalid NIfTI volume")

// Scan is a decoded volume with header scaling applied, before normalization.
// Voxels are stored in C order: index (x*Y+y)*Z+z.
type Scan struct {
	Shape  [3]int
	Voxels []float64
}

// Volume is a normalized scan ready for inference. Data holds float32
// intensities in [0, 1] in the same C order as Scan.
type Volume struct {
	Shape [3]int
	Data  []float32
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return v.Shape[0] * v.Shape[1] * v.Shape[2]
}

// TensorShape returns the batch-of-one, channel-of-one shape fed to the model.
func (v *Volume) TensorShape() []int64 {
	return []int64{1, 1, int64(v.Shape[0]), int64(v.Shape[1]), int64(v.Shape[2])}
}

// Load decodes raw NIfTI bytes and min-max normalizes the whole volume.
func Load(raw []byte) (*Volume, error) {
	scan, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return Normalize(scan)
}

// Normalize rescales every voxel with (v - min) / (max - min + 1e-8) over the
// entire volume and casts the result to float32.
func Normalize(scan *Scan) (*Volume, error) {
	if scan == nil || len(scan.Voxels) == 0 {
		return nil, fmt.Errorf("%w: empty voxel data", ErrDecode)
	}
	for i, v := range scan.Voxels {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite intensity at voxel %d", ErrDecode, i)
		}
	}

	lo := floats.Min(scan.Voxels)
	hi := floats.Max(scan.Voxels)
	denom := hi - lo + epsilon

	data := make([]float32, len(scan.Voxels))
	for i, v := range scan.Voxels {
		data[i] = float32((v - lo) / denom)
	}
	return &Volume{Shape: scan.Shape, Data: data}, nil
}

// Stats summarizes a normalized volume for diagnostics.
type Stats struct {
	Voxels int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Summarize computes intensity statistics over v.
func Summarize(v *Volume) Stats {
	if v == nil || len(v.Data) == 0 {
		return Stats{}
	}
	xs := make([]float64, len(v.Data))
	for i, d := range v.Data {
		xs[i] = float64(d)
	}
	mean, std := stat.MeanStdDev(xs, nil)
	return Stats{
		Voxels: len(xs),
		Min:    floats.Min(xs),
		Max:    floats.Max(xs),
		Mean:   mean,
		StdDev: std,
	}
}
