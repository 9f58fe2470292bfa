// Package header reads and writes the metadata record at the top of a block
// file. The record is one line of length-indicated main fields ending in the
// stale flag digit, followed by one line per declared field.
package header

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/KevoDB/seqset/pkg/lenind"
)

const (
	// DefaultFileStructureType names the blocked sequence set layout.
	DefaultFileStructureType = "blocked_sequence_set"
	// DefaultVersion is the current layout version.
	DefaultVersion = "1.0"
	// DefaultBlockSize is the byte budget per block.
	DefaultBlockSize = 512
	// DefaultMinBlockCapacity is the declared fill-factor floor.
	DefaultMinBlockCapacity = 0.5
	// NoRBN marks an empty list head.
	NoRBN = -1
)

var (
	// ErrInvalidHeader is returned when the header breaks its own invariants.
	ErrInvalidHeader = errors.New("invalid header")
	// ErrTruncated is returned when the file ends inside the header.
	ErrTruncated = errors.New("header truncated")
)

// Field describes one record field.
type Field struct {
	Name       string
	TypeSchema string
}

// Record is the file-level metadata of a block file.
type Record struct {
	FileStructureType string
	Version           string
	HeaderSize        int
	RecordSizeBytes   int
	SizeFormatType    string
	BlockSize         int
	MinBlockCapacity  float64
	IndexFileName     string
	IndexFileSchema   string
	RecordCount       int
	BlockCount        int
	FieldCount        int
	PrimaryKeyField   int
	AvailListRBN      int
	ActiveListRBN     int
	IsStale           bool
	Fields            []Field
}

// New returns a header with the default layout settings and no fields.
func New() *Record {
	return &Record{
		FileStructureType: DefaultFileStructureType,
		Version:           DefaultVersion,
		RecordSizeBytes:   lenind.IndicatorLen,
		SizeFormatType:    "ASCII",
		BlockSize:         DefaultBlockSize,
		MinBlockCapacity:  DefaultMinBlockCapacity,
		AvailListRBN:      NoRBN,
		ActiveListRBN:     NoRBN,
	}
}

// AddField appends a field definition and keeps FieldCount in step.
func (h *Record) AddField(name, schema string) {
	h.Fields = append(h.Fields, Field{Name: name, TypeSchema: schema})
	h.FieldCount = len(h.Fields)
}

// KeyField returns the primary key field definition.
func (h *Record) KeyField() (Field, bool) {
	if h.PrimaryKeyField < 0 || h.PrimaryKeyField >= len(h.Fields) {
		return Field{}, false
	}
	return h.Fields[h.PrimaryKeyField], true
}

// LineCount is the number of lines the encoded header occupies.
func (h *Record) LineCount() int {
	return 1 + h.FieldCount
}

// Validate checks the header invariants.
func (h *Record) Validate() error {
	if h.FieldCount != len(h.Fields) {
		return fmt.Errorf("%w: field count %d but %d fields declared",
			ErrInvalidHeader, h.FieldCount, len(h.Fields))
	}
	if h.FieldCount > 0 && (h.PrimaryKeyField < 0 || h.PrimaryKeyField >= h.FieldCount) {
		return fmt.Errorf("%w: primary key field %d outside %d fields",
			ErrInvalidHeader, h.PrimaryKeyField, h.FieldCount)
	}
	if h.BlockSize <= 0 {
		return fmt.Errorf("%w: block size %d", ErrInvalidHeader, h.BlockSize)
	}
	return nil
}

func (h *Record) capacityPercent() int {
	return int(math.Round(h.MinBlockCapacity * 100))
}

// encode renders the header with the given HeaderSize value.
func (h *Record) encode(headerSize int) ([]byte, error) {
	main := []string{
		h.FileStructureType,
		h.Version,
		strconv.Itoa(headerSize),
		strconv.Itoa(h.RecordSizeBytes),
		h.SizeFormatType,
		strconv.Itoa(h.BlockSize),
		strconv.Itoa(h.capacityPercent()),
		h.IndexFileName,
		h.IndexFileSchema,
		strconv.Itoa(h.RecordCount),
		strconv.Itoa(h.BlockCount),
		strconv.Itoa(h.FieldCount),
		strconv.Itoa(h.PrimaryKeyField),
		strconv.Itoa(h.AvailListRBN),
		strconv.Itoa(h.ActiveListRBN),
	}

	var (
		buf []byte
		err error
	)
	for _, v := range main {
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("%w: line break in value %q", ErrInvalidHeader, v)
		}
		if buf, err = lenind.AppendField(buf, v); err != nil {
			return nil, err
		}
	}
	if h.IsStale {
		buf = append(buf, '1')
	} else {
		buf = append(buf, '0')
	}
	buf = append(buf, '\n')

	for _, f := range h.Fields {
		if strings.ContainsAny(f.Name+f.TypeSchema, "\r\n") {
			return nil, fmt.Errorf("%w: line break in field %q", ErrInvalidHeader, f.Name)
		}
		if buf, err = lenind.AppendField(buf, f.Name); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if buf, err = lenind.AppendField(buf, f.TypeSchema); err != nil {
			return nil, fmt.Errorf("field %q schema: %w", f.Name, err)
		}
		buf = append(buf, '\n')
	}

	return buf, nil
}

// Encode renders the header. HeaderSize is set to the exact encoded size,
// which itself appears in the encoding, so the size is iterated to a fixed point.
func (h *Record) Encode() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}

	size := h.HeaderSize
	for i := 0; i < 4; i++ {
		buf, err := h.encode(size)
		if err != nil {
			return nil, err
		}
		if len(buf) == size {
			h.HeaderSize = size
			return buf, nil
		}
		size = len(buf)
	}
	return nil, fmt.Errorf("%w: header size did not settle", ErrInvalidHeader)
}

// Write encodes the header to w.
func (h *Record) Write(w io.Writer) (int, error) {
	buf, err := h.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	if err != nil {
		return n, fmt.Errorf("failed to write header: %w", err)
	}
	return n, nil
}

// Read decodes a header from r, consuming exactly its lines.
func Read(r *bufio.Reader) (*Record, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		if err == io.EOF {
			return nil, ErrTruncated
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	h := &Record{}
	d := lenind.NewDecoder(line)

	strs := []*string{&h.FileStructureType, &h.Version}
	for _, p := range strs {
		if *p, err = d.Field(); err != nil {
			return nil, err
		}
	}
	ints := []*int{&h.HeaderSize, &h.RecordSizeBytes}
	for _, p := range ints {
		if *p, err = d.Int(); err != nil {
			return nil, err
		}
	}
	if h.SizeFormatType, err = d.Field(); err != nil {
		return nil, err
	}
	if h.BlockSize, err = d.Int(); err != nil {
		return nil, err
	}
	percent, err := d.Int()
	if err != nil {
		return nil, err
	}
	h.MinBlockCapacity = float64(percent) / 100
	if h.IndexFileName, err = d.Field(); err != nil {
		return nil, err
	}
	if h.IndexFileSchema, err = d.Field(); err != nil {
		return nil, err
	}
	ints = []*int{&h.RecordCount, &h.BlockCount, &h.FieldCount, &h.PrimaryKeyField, &h.AvailListRBN, &h.ActiveListRBN}
	for _, p := range ints {
		if *p, err = d.Int(); err != nil {
			return nil, err
		}
	}

	switch stale := d.Rest(); stale {
	case "0":
		h.IsStale = false
	case "1":
		h.IsStale = true
	default:
		return nil, &lenind.DecodeError{Kind: lenind.KindBadDelimiter, Pos: d.Pos(), Value: stale}
	}

	if h.FieldCount < 0 {
		return nil, fmt.Errorf("%w: negative field count %d", ErrInvalidHeader, h.FieldCount)
	}

	// FieldCount comes from the file; the field lines themselves bound it.
	for i := 0; i < h.FieldCount; i++ {
		line, err := r.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			if err == io.EOF {
				return nil, fmt.Errorf("%w: %d of %d field lines", ErrTruncated, i, h.FieldCount)
			}
			return nil, fmt.Errorf("failed to read field %d: %w", i, err)
		}

		fd := lenind.NewDecoder(line)
		var f Field
		if f.Name, err = fd.Field(); err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		if f.TypeSchema, err = fd.Field(); err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		h.Fields = append(h.Fields, f)
	}

	return h, nil
}

// ReadFile opens path and decodes the header at its start.
func ReadFile(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Read(bufio.NewReader(f))
}

// SetStaleFlag rewrites the stale digit of the header in path in place.
func SetStaleFlag(path string, stale bool) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read header line: %w", err)
	}
	line = strings.TrimSuffix(line, "\n")
	if line == "" {
		return ErrTruncated
	}
	if last := line[len(line)-1]; last != '0' && last != '1' {
		return &lenind.DecodeError{Kind: lenind.KindBadDelimiter, Pos: len(line) - 1, Value: string(last)}
	}

	digit := []byte{'0'}
	if stale {
		digit[0] = '1'
	}
	if _, err := f.WriteAt(digit, int64(len(line)-1)); err != nil {
		return fmt.Errorf("failed to write stale flag: %w", err)
	}
	return nil
}
