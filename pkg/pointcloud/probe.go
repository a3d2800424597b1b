// Package pointcloud probes a preview point-cloud file's PCD header and
// samples enough points to estimate the captured volume's physical
// extent, without loading the entire cloud into memory.
package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Status classifies the probed bounding box against the expected
// capture volume for a MetaCam scan.
type Status string

const (
	StatusOptimal       Status = "optimal"
	StatusWarningSmall  Status = "warning_small"
	StatusWarningLarge  Status = "warning_large"
	StatusWarningNarrow Status = "warning_narrow"
	StatusErrorTooSmall Status = "error_too_small"
	StatusErrorTooLarge Status = "error_too_large"
	StatusNotFound      Status = "not_found"
	StatusError         Status = "error"
)

// maxPointsScanned bounds how many points are read from the file
// regardless of how many the header declares.
const maxPointsScanned = 100000

// Result is the outcome of probing one PCD file.
type Result struct {
	Status       Status
	WidthM       float64
	HeightM      float64
	DepthM       float64
	AreaSqM      float64
	PointsParsed int
	Error        string
}

// Probe parses the PCD header at path (ASCII or uncompressed
// little-endian binary, v0.7-style), scans up to maxPointsScanned
// points, and classifies the resulting XYZ bounding box.
func Probe(path string) Result {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Status: StatusNotFound, Error: err.Error()}
		}
		return Result{Status: StatusError, Error: err.Error()}
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	hdr, err := parseHeader(r)
	if err != nil {
		return Result{Status: StatusError, Error: err.Error()}
	}

	if hdr.dataMode == dataModeCompressed {
		return Result{Status: StatusError, Error: "compressed binary PCD is not supported"}
	}

	box, n, err := scanBoundingBox(r, hdr)
	if err != nil {
		return Result{Status: StatusError, Error: err.Error()}
	}

	width := box.maxX - box.minX
	height := box.maxY - box.minY
	depth := box.maxZ - box.minZ

	res := Result{
		WidthM:       width,
		HeightM:      height,
		DepthM:       depth,
		AreaSqM:      width * height,
		PointsParsed: n,
	}
	res.Status = classify(width, height)
	return res
}

// classify buckets a bounding box by its max dimension, with narrow-shape
// detection taking precedence. A max dimension in the optimal band whose
// minor dimension sits between 25m and 50m (narrower than ideal but not
// narrow enough to warn) is treated as optimal rather than warned.
func classify(width, height float64) Status {
	maxDim := math.Max(width, height)
	minDim := math.Min(width, height)

	switch {
	case maxDim < 10:
		return StatusErrorTooSmall
	case maxDim > 500:
		return StatusErrorTooLarge
	case minDim < 25 && maxDim >= 50 && maxDim <= 200:
		return StatusWarningNarrow
	case maxDim >= 50 && maxDim <= 200:
		return StatusOptimal
	case maxDim >= 10 && maxDim < 50:
		return StatusWarningSmall
	case maxDim > 200 && maxDim <= 500:
		return StatusWarningLarge
	default:
		return StatusWarningSmall
	}
}

type dataMode int

const (
	dataModeASCII dataMode = iota
	dataModeBinary
	dataModeCompressed
)

type field struct {
	name  string
	size  int
	typ   byte // 'F' float, 'U' unsigned, 'I' signed
	count int
}

type header struct {
	fields     []field
	dataMode   dataMode
	pointBytes int
	xIdx       int
	yIdx       int
	zIdx       int
}

// parseHeader reads PCD header lines terminated by "DATA <mode>" and
// resolves the byte offsets of the X/Y/Z fields.
func parseHeader(r *bufio.Reader) (*header, error) {
	h := &header{xIdx: -1, yIdx: -1, zIdx: -1}
	var fieldNames []string
	var sizes []int
	var types []byte
	var counts []int
	dataLineSeen := false

	for !dataLineSeen {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("unexpected end of file while reading PCD header")
		}
		line = strings.TrimSpace(line)

		if line != "" && !strings.HasPrefix(line, "#") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				key := strings.ToUpper(parts[0])
				vals := parts[1:]

				switch key {
				case "FIELDS":
					fieldNames = vals
				case "SIZE":
					sizes = make([]int, len(vals))
					for i, v := range vals {
						n, err := strconv.Atoi(v)
						if err != nil {
							return nil, fmt.Errorf("parsing SIZE field: %w", err)
						}
						sizes[i] = n
					}
				case "TYPE":
					types = make([]byte, len(vals))
					for i, v := range vals {
						types[i] = strings.ToUpper(v)[0]
					}
				case "COUNT":
					counts = make([]int, len(vals))
					for i, v := range vals {
						n, err := strconv.Atoi(v)
						if err != nil {
							return nil, fmt.Errorf("parsing COUNT field: %w", err)
						}
						counts[i] = n
					}
				case "DATA":
					if len(vals) == 0 {
						return nil, fmt.Errorf("missing DATA mode")
					}
					switch strings.ToLower(vals[0]) {
					case "ascii":
						h.dataMode = dataModeASCII
					case "binary":
						h.dataMode = dataModeBinary
					case "binary_compressed":
						h.dataMode = dataModeCompressed
					default:
						return nil, fmt.Errorf("unrecognized PCD data mode %q", vals[0])
					}
					dataLineSeen = true
				}
			}
		}

		if err != nil && !dataLineSeen {
			break
		}
	}

	if fieldNames == nil {
		return nil, fmt.Errorf("PCD header missing FIELDS line")
	}
	if sizes == nil {
		sizes = make([]int, len(fieldNames))
		for i := range sizes {
			sizes[i] = 4
		}
	}
	if types == nil {
		types = make([]byte, len(fieldNames))
		for i := range types {
			types[i] = 'F'
		}
	}
	if counts == nil {
		counts = make([]int, len(fieldNames))
		for i := range counts {
			counts[i] = 1
		}
	}

	offset := 0
	for i, name := range fieldNames {
		f := field{name: name, size: sizes[i], typ: types[i], count: counts[i]}
		h.fields = append(h.fields, f)
		lower := strings.ToLower(name)
		switch lower {
		case "x":
			h.xIdx = len(h.fields) - 1
		case "y":
			h.yIdx = len(h.fields) - 1
		case "z":
			h.zIdx = len(h.fields) - 1
		}
		offset += f.size * f.count
	}
	h.pointBytes = offset

	if h.xIdx < 0 || h.yIdx < 0 || h.zIdx < 0 {
		return nil, fmt.Errorf("PCD header does not expose X/Y/Z fields")
	}
	return h, nil
}

type boundingBox struct {
	minX, maxX float64
	minY, maxY float64
	minZ, maxZ float64
}

func newBoundingBox() boundingBox {
	return boundingBox{
		minX: math.Inf(1), maxX: math.Inf(-1),
		minY: math.Inf(1), maxY: math.Inf(-1),
		minZ: math.Inf(1), maxZ: math.Inf(-1),
	}
}

func (b *boundingBox) extend(x, y, z float64) {
	b.minX, b.maxX = math.Min(b.minX, x), math.Max(b.maxX, x)
	b.minY, b.maxY = math.Min(b.minY, y), math.Max(b.maxY, y)
	b.minZ, b.maxZ = math.Min(b.minZ, z), math.Max(b.maxZ, z)
}

func scanBoundingBox(r *bufio.Reader, h *header) (boundingBox, int, error) {
	box := newBoundingBox()
	n := 0

	if h.dataMode == dataModeASCII {
		for n < maxPointsScanned {
			line, err := r.ReadString('\n')
			line = strings.TrimSpace(line)
			if line != "" {
				parts := strings.Fields(line)
				if len(parts) > h.xIdx && len(parts) > h.yIdx && len(parts) > h.zIdx {
					x, xerr := strconv.ParseFloat(parts[h.xIdx], 64)
					y, yerr := strconv.ParseFloat(parts[h.yIdx], 64)
					z, zerr := strconv.ParseFloat(parts[h.zIdx], 64)
					if xerr == nil && yerr == nil && zerr == nil {
						box.extend(x, y, z)
						n++
					}
				}
			}
			if err != nil {
				break
			}
		}
	} else {
		buf := make([]byte, h.pointBytes)
		xOff, yOff, zOff := fieldOffset(h, h.xIdx), fieldOffset(h, h.yIdx), fieldOffset(h, h.zIdx)
		for n < maxPointsScanned {
			if _, err := readFull(r, buf); err != nil {
				break
			}
			x := float64frombits32(binary.LittleEndian.Uint32(buf[xOff:]))
			y := float64frombits32(binary.LittleEndian.Uint32(buf[yOff:]))
			z := float64frombits32(binary.LittleEndian.Uint32(buf[zOff:]))
			box.extend(x, y, z)
			n++
		}
	}

	if n == 0 {
		return boundingBox{}, 0, fmt.Errorf("no points parsed from PCD data section")
	}
	return box, n, nil
}

func float64frombits32(bits uint32) float64 {
	return float64(math.Float32frombits(bits))
}

func fieldOffset(h *header, idx int) int {
	off := 0
	for i := 0; i < idx; i++ {
		off += h.fields[i].size * h.fields[i].count
	}
	return off
}

// readFull fills buf completely or returns an error, matching io.ReadFull
// semantics against a bufio.Reader.
func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
