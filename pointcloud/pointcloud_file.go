package pointcloud

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

type pcdHeader struct {
	fields int
	size   []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

// NewFromFile reads a cloud from a .pcd or .xyz file. Clouds from .xyz files have a height of one.
func NewFromFile(fn string) (*Organized, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	switch ext := strings.ToLower(filepath.Ext(fn)); ext {
	case ".pcd":
		return ReadPCD(f)
	case ".xyz", ".txt":
		points, err := ReadXYZ(f)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", fn)
		}
		return NewOrganized(len(points), 1, points)
	default:
		return nil, errors.Errorf("do not know how to read point cloud file %q", ext)
	}
}

// ReadXYZ reads whitespace separated points, one per line. Blank lines and lines starting with #
// are skipped; columns past the third are ignored.
func ReadXYZ(in io.Reader) ([]r3.Vector, error) {
	rows, err := ReadColumns(in, 3)
	if err != nil {
		return nil, err
	}
	points := make([]r3.Vector, len(rows))
	for i, row := range rows {
		points[i] = r3.Vector{X: row[0], Y: row[1], Z: row[2]}
	}
	return points, nil
}

// ReadXYZD reads points followed by one value each, such as a signed distance.
func ReadXYZD(in io.Reader) ([]r3.Vector, []float64, error) {
	rows, err := ReadColumns(in, 4)
	if err != nil {
		return nil, nil, err
	}
	points := make([]r3.Vector, len(rows))
	values := make([]float64, len(rows))
	for i, row := range rows {
		points[i] = r3.Vector{X: row[0], Y: row[1], Z: row[2]}
		values[i] = row[3]
	}
	return points, values, nil
}

// ReadColumns reads at least columns floats from every non blank line.
func ReadColumns(in io.Reader, columns int) ([][]float64, error) {
	scanner := bufio.NewScanner(in)
	var rows [][]float64
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line, _, _ := strings.Cut(scanner.Text(), pcdCommentChar)
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) < columns {
			return nil, errors.Errorf("line %d has %d fields, expected %d", lineNum, len(tokens), columns)
		}
		row := make([]float64, columns)
		for i := range row {
			v, err := strconv.ParseFloat(tokens[i], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d field %d", lineNum, i)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, scanner.Err()
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		if len(tokens) < 3 || tokens[0] != "x" || tokens[1] != "y" || tokens[2] != "z" {
			return errors.Errorf("unsupported pcd fields %s", value)
		}
		header.fields = len(tokens)
	case "SIZE":
		if len(tokens) != header.fields {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
		}
		for i := 0; i < 3; i++ {
			if header.size[i] != 4 {
				return errors.Errorf("only float32 coordinates are supported, got size %d", header.size[i])
			}
		}
	case "TYPE":
		if len(tokens) != header.fields {
			return errors.New("unexpected number of fields in TYPE line")
		}
		for i := 0; i < 3; i++ {
			if tokens[i] != "F" {
				return errors.Errorf("coordinate type must be F, got %s", tokens[i])
			}
		}
	case "COUNT":
		for _, token := range tokens {
			if token != "1" {
				return errors.Errorf("unsupported COUNT field %s", token)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unknown pcd data type %s", value)
		}
	}

	return nil
}

// ReadPCD reads an ascii or binary pcd whose first three fields are float32 x y z. Any other
// fields are skipped and NaN coordinates are kept so organized clouds stay organized.
func ReadPCD(inRaw io.Reader) (*Organized, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}

	var points []r3.Vector
	var err error
	switch header.data {
	case PCDAscii:
		points, err = readPCDAscii(in, header)
	case PCDBinary:
		points, err = readPCDBinary(in, header)
	case PCDCompressed:
		return nil, errors.New("compressed pcd not yet supported")
	default:
		return nil, errors.Errorf("unsupported pcd data type %v", header.data)
	}
	if err != nil {
		return nil, err
	}
	return NewOrganized(int(header.width), int(header.height), points)
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) ([]r3.Vector, error) {
	rows, err := ReadColumns(in, 3)
	if err != nil {
		return nil, err
	}
	if uint64(len(rows)) != header.points {
		return nil, errors.Errorf("expected %d points, read %d", header.points, len(rows))
	}
	points := make([]r3.Vector, len(rows))
	for i, row := range rows {
		points[i] = r3.Vector{X: row[0], Y: row[1], Z: row[2]}
	}
	return points, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) ([]r3.Vector, error) {
	stride := 0
	for _, s := range header.size {
		stride += int(s)
	}
	buf := make([]byte, stride)
	points := make([]r3.Vector, header.points)
	for i := range points {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		points[i] = r3.Vector{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12]))),
		}
	}
	return points, nil
}
