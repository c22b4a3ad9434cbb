// Command phantom writes a synthetic brain-like NIfTI volume for smoke
// testing the /predict endpoint:
//
//	phantom -out phantom.nii.gz -size 64,64,64
//	curl -F file=@phantom.nii.gz http://localhost:8000/predict
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"brainage-api/internal/logger"
	"brainage-api/internal/volume"
)

func main() {
	out := flag.String("out", "phantom.nii.gz", "Output file (.nii or .nii.gz)")
	size := flag.String("size", "64,64,64", "Volume shape X,Y,Z")
	flag.Parse()

	log := logger.WithComponent("phantom")

	shape, err := parseShape(*size)
	if err != nil {
		log.WithError(err).Fatal("invalid -size")
	}

	f, err := os.Create(*out)
	if err != nil {
		log.WithError(err).Fatal("create output")
	}
	compress := strings.HasSuffix(*out, ".gz")
	if err := volume.Encode(f, shape, ellipsoid(shape), compress); err != nil {
		f.Close()
		log.WithError(err).Fatal("encode volume")
	}
	if err := f.Close(); err != nil {
		log.WithError(err).Fatal("close output")
	}

	log.WithField("path", *out).WithField("shape", shape).Info("phantom written")
}

func parseShape(s string) ([3]int, error) {
	var shape [3]int
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return shape, fmt.Errorf("expected three comma-separated sizes, got %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return shape, fmt.Errorf("invalid size %q", p)
		}
		shape[i] = n
	}
	return shape, nil
}

// ellipsoid draws a bright shell around a dimmer core on a dark background,
// a rough stand-in for cortex, white matter and air.
func ellipsoid(shape [3]int) []float32 {
	nx, ny, nz := shape[0], shape[1], shape[2]
	data := make([]float32, nx*ny*nz)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				dx := (float64(x) - float64(nx-1)/2) / (float64(nx) / 2)
				dy := (float64(y) - float64(ny-1)/2) / (float64(ny) / 2)
				dz := (float64(z) - float64(nz-1)/2) / (float64(nz) / 2)
				r := dx*dx + dy*dy + dz*dz

				var v float32
				switch {
				case r < 0.45:
					v = 600
				case r < 0.7:
					v = 900
				}
				data[(x*ny+y)*nz+z] = v
			}
		}
	}
	return data
}
