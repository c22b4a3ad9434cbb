package volume

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// niiVoxOffset is the data offset of a single-file NIfTI-1 with an empty extension block.
const niiVoxOffset = 352

// Encode writes data (C order, shape X*Y*Z) as a little-endian float32
// single-file NIfTI-1 volume. With compress set the output is gzip-wrapped,
// matching a .nii.gz file.
func Encode(w io.Writer, shape [3]int, data []float32, compress bool) error {
	nx, ny, nz := shape[0], shape[1], shape[2]
	if nx <= 0 || ny <= 0 || nz <= 0 || nx > math.MaxInt16 || ny > math.MaxInt16 || nz > math.MaxInt16 {
		return fmt.Errorf("invalid shape %v", shape)
	}
	if len(data) != nx*ny*nz {
		return fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}

	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(w)
		w = zw
	}
	bw := bufio.NewWriter(w)

	hdr := make([]byte, niiVoxOffset)
	le := binary.LittleEndian
	le.PutUint32(hdr[0:], nifti1HeaderSize)
	le.PutUint16(hdr[40:], 3)
	le.PutUint16(hdr[42:], uint16(nx))
	le.PutUint16(hdr[44:], uint16(ny))
	le.PutUint16(hdr[46:], uint16(nz))
	for i := 4; i <= 7; i++ {
		le.PutUint16(hdr[40+2*i:], 1)
	}
	le.PutUint16(hdr[70:], dtFloat32)
	le.PutUint16(hdr[72:], 32)
	for i := 0; i < 8; i++ {
		le.PutUint32(hdr[76+4*i:], math.Float32bits(1))
	}
	le.PutUint32(hdr[108:], math.Float32bits(niiVoxOffset))
	le.PutUint32(hdr[112:], math.Float32bits(1))
	copy(hdr[344:], "n+1\x00")

	if _, err := bw.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, 4)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				le.PutUint32(buf, math.Float32bits(data[(x*ny+y)*nz+z]))
				if _, err := bw.Write(buf); err != nil {
					return err
				}
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}
