package vectorstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// The vectors artifact is a NumPy .npy file holding a C-ordered 2-D array so
// it stays readable by numpy.load.

var npyMagic = []byte("\x93NUMPY")

var (
	npyDescrRe   = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	npyFortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	npyShapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

func encodeNPY(vectors [][]float32, dim int) []byte {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(vectors), dim)
	// magic(6) + version(2) + header length(2) + header, padded to 64 bytes
	// and terminated by a newline.
	total := 10 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Grow(10 + len(header) + 4*len(vectors)*dim)
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	row := make([]byte, 4*dim)
	for _, v := range vectors {
		for j := 0; j < dim; j++ {
			binary.LittleEndian.PutUint32(row[j*4:], math.Float32bits(v[j]))
		}
		buf.Write(row)
	}
	return buf.Bytes()
}

func decodeNPY(data []byte) ([][]float32, int, error) {
	if len(data) < 10 || !bytes.Equal(data[:6], npyMagic) {
		return nil, 0, errors.New("npy: bad magic")
	}
	var headerLen, off int
	switch data[6] {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		off = 10
	case 2, 3:
		if len(data) < 12 {
			return nil, 0, errors.New("npy: truncated header")
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		off = 12
	default:
		return nil, 0, fmt.Errorf("npy: unsupported version %d.%d", data[6], data[7])
	}
	if off+headerLen > len(data) {
		return nil, 0, errors.New("npy: truncated header")
	}
	header := string(data[off : off+headerLen])
	body := data[off+headerLen:]

	m := npyDescrRe.FindStringSubmatch(header)
	if m == nil {
		return nil, 0, errors.New("npy: missing descr")
	}
	descr := m[1]
	if descr != "<f4" && descr != "<f8" {
		return nil, 0, fmt.Errorf("npy: unsupported dtype %q", descr)
	}
	if f := npyFortranRe.FindStringSubmatch(header); f != nil && f[1] == "True" {
		return nil, 0, errors.New("npy: fortran order not supported")
	}
	s := npyShapeRe.FindStringSubmatch(header)
	if s == nil {
		return nil, 0, errors.New("npy: missing shape")
	}
	var shape []int
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, 0, fmt.Errorf("npy: bad shape %q: %w", s[1], err)
		}
		shape = append(shape, v)
	}
	if len(shape) != 2 {
		return nil, 0, fmt.Errorf("npy: expected 2-D array, got shape %v", shape)
	}
	rows, dim := shape[0], shape[1]
	if rows < 0 || dim < 0 || (rows > 0 && dim == 0) {
		return nil, 0, fmt.Errorf("npy: invalid shape %v", shape)
	}
	width := 4
	if descr == "<f8" {
		width = 8
	}
	// rows is bounded by the body before multiplying so the product cannot overflow.
	if dim > 0 && (rows > len(body)/(dim*width) || len(body) != rows*dim*width) {
		return nil, 0, fmt.Errorf("npy: body has %d bytes, does not fit shape %v", len(body), shape)
	}
	if dim == 0 && len(body) != 0 {
		return nil, 0, fmt.Errorf("npy: %d trailing bytes for empty array", len(body))
	}
	vectors := make([][]float32, rows)
	p := 0
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			if width == 4 {
				v[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[p:]))
			} else {
				v[j] = float32(math.Float64frombits(binary.LittleEndian.Uint64(body[p:])))
			}
			p += width
		}
		vectors[i] = v
	}
	return vectors, dim, nil
}
