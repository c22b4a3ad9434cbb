package volume

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	nifti1HeaderSize = 348
	nifti2HeaderSize = 540
)

// NIfTI datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
	dtInt64   = 1024
	dtUint64  = 1280
)

var bytesPerVoxel = map[int16]int{
	dtUint8:   1,
	dtInt8:    1,
	dtInt16:   2,
	dtUint16:  2,
	dtInt32:   4,
	dtUint32:  4,
	dtFloat32: 4,
	dtInt64:   8,
	dtUint64:  8,
	dtFloat64: 8,
}

type header struct {
	order     binary.ByteOrder
	size      int64
	dims      []int64
	datatype  int16
	voxOffset int64
	slope     float64
	inter     float64
}

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrDecode}, args...)...)
}

// Decode parses a single-file NIfTI-1 or NIfTI-2 volume, gzip-compressed or
// not, and returns its voxels with scl_slope/scl_inter applied.
func Decode(raw []byte) (*Scan, error) {
	data, err := maybeGunzip(raw)
	if err != nil {
		return nil, err
	}

	hdr, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	// A zero or NaN slope means the stored values are used as-is.
	if hdr.slope == 0 || math.IsNaN(hdr.slope) {
		hdr.slope, hdr.inter = 1, 0
	}
	if math.IsNaN(hdr.inter) {
		hdr.inter = 0
	}

	shape, count, err := spatialShape(hdr.dims, len(data))
	if err != nil {
		return nil, err
	}

	size, ok := bytesPerVoxel[hdr.datatype]
	if !ok {
		return nil, decodeErr("unsupported datatype code %d", hdr.datatype)
	}
	if hdr.voxOffset < hdr.size || hdr.voxOffset > int64(len(data)) {
		return nil, decodeErr("vox_offset %d outside file of %d bytes", hdr.voxOffset, len(data))
	}
	need := int64(count) * int64(size)
	have := int64(len(data)) - hdr.voxOffset
	if have < need {
		return nil, decodeErr("truncated voxel data (need %d bytes, have %d)", need, have)
	}

	read := voxelReader(hdr.datatype, hdr.order)
	payload := data[hdr.voxOffset : hdr.voxOffset+need]

	nx, ny, nz := shape[0], shape[1], shape[2]
	voxels := make([]float64, count)
	src := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				v := read(payload[src*size:])
				voxels[(x*ny+y)*nz+z] = v*hdr.slope + hdr.inter
				src++
			}
		}
	}

	return &Scan{Shape: shape, Voxels: voxels}, nil
}

func maybeGunzip(raw []byte) ([]byte, error) {
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, decodeErr("gzip header: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, decodeErr("gzip stream: %v", err)
	}
	return out, nil
}

func parseHeader(b []byte) (*header, error) {
	if len(b) < 4 {
		return nil, decodeErr("file too short (%d bytes)", len(b))
	}

	le := int32(binary.LittleEndian.Uint32(b[:4]))
	be := int32(binary.BigEndian.Uint32(b[:4]))
	switch {
	case le == nifti1HeaderSize:
		return parseNIfTI1(b, binary.LittleEndian)
	case be == nifti1HeaderSize:
		return parseNIfTI1(b, binary.BigEndian)
	case le == nifti2HeaderSize:
		return parseNIfTI2(b, binary.LittleEndian)
	case be == nifti2HeaderSize:
		return parseNIfTI2(b, binary.BigEndian)
	}
	return nil, decodeErr("unrecognized header size field")
}

func parseNIfTI1(b []byte, order binary.ByteOrder) (*header, error) {
	if len(b) < nifti1HeaderSize {
		return nil, decodeErr("truncated NIfTI-1 header")
	}
	switch string(b[344:347]) {
	case "n+1":
	case "ni1":
		return nil, decodeErr("header-only NIfTI-1 (.hdr/.img pair) is not supported")
	default:
		return nil, decodeErr("missing NIfTI-1 magic")
	}

	ndim := int16(order.Uint16(b[40:]))
	if ndim < 1 || ndim > 7 {
		return nil, decodeErr("invalid dim[0] %d", ndim)
	}
	dims := make([]int64, ndim)
	for i := range dims {
		dims[i] = int64(int16(order.Uint16(b[42+2*i:])))
	}

	return &header{
		order:     order,
		size:      nifti1HeaderSize,
		dims:      dims,
		datatype:  int16(order.Uint16(b[70:])),
		voxOffset: int64(math.Float32frombits(order.Uint32(b[108:]))),
		slope:     float64(math.Float32frombits(order.Uint32(b[112:]))),
		inter:     float64(math.Float32frombits(order.Uint32(b[116:]))),
	}, nil
}

func parseNIfTI2(b []byte, order binary.ByteOrder) (*header, error) {
	if len(b) < nifti2HeaderSize {
		return nil, decodeErr("truncated NIfTI-2 header")
	}
	switch string(b[4:7]) {
	case "n+2":
	case "ni2":
		return nil, decodeErr("header-only NIfTI-2 (.hdr/.img pair) is not supported")
	default:
		return nil, decodeErr("missing NIfTI-2 magic")
	}

	ndim := int64(order.Uint64(b[16:]))
	if ndim < 1 || ndim > 7 {
		return nil, decodeErr("invalid dim[0] %d", ndim)
	}
	dims := make([]int64, ndim)
	for i := range dims {
		dims[i] = int64(order.Uint64(b[24+8*i:]))
	}

	return &header{
		order:     order,
		size:      nifti2HeaderSize,
		dims:      dims,
		datatype:  int16(order.Uint16(b[12:])),
		voxOffset: int64(order.Uint64(b[168:])),
		slope:     math.Float64frombits(order.Uint64(b[176:])),
		inter:     math.Float64frombits(order.Uint64(b[184:])),
	}, nil
}

// spatialShape checks that the volume is 3-D (extra axes must be singleton)
// and that its voxel count cannot exceed the payload.
func spatialShape(dims []int64, fileLen int) ([3]int, int, error) {
	var shape [3]int
	if len(dims) < 3 {
		return shape, 0, decodeErr("expected a 3-D volume, got %d dimension(s)", len(dims))
	}
	for i, d := range dims[3:] {
		if d > 1 {
			return shape, 0, decodeErr("dim[%d] = %d; only single-frame 3-D volumes are supported", i+4, d)
		}
	}
	count := int64(1)
	for i := 0; i < 3; i++ {
		d := dims[i]
		if d <= 0 {
			return shape, 0, decodeErr("dim[%d] = %d is not positive", i+1, d)
		}
		if d > int64(fileLen) {
			return shape, 0, decodeErr("dim[%d] = %d exceeds file size", i+1, d)
		}
		count *= d
		if count > int64(fileLen) {
			return shape, 0, decodeErr("voxel count exceeds file size")
		}
		shape[i] = int(d)
	}
	return shape, int(count), nil
}

func voxelReader(datatype int16, order binary.ByteOrder) func([]byte) float64 {
	switch datatype {
	case dtUint8:
		return func(b []byte) float64 { return float64(b[0]) }
	case dtInt8:
		return func(b []byte) float64 { return float64(int8(b[0])) }
	case dtInt16:
		return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }
	case dtUint16:
		return func(b []byte) float64 { return float64(order.Uint16(b)) }
	case dtInt32:
		return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }
	case dtUint32:
		return func(b []byte) float64 { return float64(order.Uint32(b)) }
	case dtInt64:
		return func(b []byte) float64 { return float64(int64(order.Uint64(b))) }
	case dtUint64:
		return func(b []byte) float64 { return float64(order.Uint64(b)) }
	case dtFloat32:
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }
	default:
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }
	}
}
