// Package rowsource supplies ordered field rows from delimited text. The first
// row of every source is a header row and is exposed separately from the data.
package rowsource

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Source yields data rows in input order. Next returns io.EOF once exhausted.
type Source interface {
	Header() []string
	Next() ([]string, error)
}

// HeaderText is implemented by sources that keep the header row as it
// appeared in the input.
type HeaderText interface {
	HeaderLine() string
}

// CSV reads comma-separated rows, honouring quoted fields.
type CSV struct {
	r      *csv.Reader
	closer io.Closer
	header []string
	raw    string
	line   int
}

// NewCSV wraps r and consumes its header row, which must fit on one physical
// line. An empty input has no header and no rows.
func NewCSV(r io.Reader) (*CSV, error) {
	br := bufio.NewReader(r)
	raw, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	src := &CSV{r: cr, line: 1}
	if raw == "" {
		return src, nil
	}

	header, err := csv.NewReader(strings.NewReader(raw)).Read()
	if err != nil {
		return nil, fmt.Errorf("failed to parse header row: %w", err)
	}
	src.header = header
	src.raw = strings.TrimRight(raw, "\r\n")
	return src, nil
}

// OpenCSV opens path for reading. The caller must Close the source.
func OpenCSV(path string) (*CSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}

	src, err := NewCSV(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// Header returns the skipped header row.
func (s *CSV) Header() []string {
	return s.header
}

// HeaderLine returns the header row's original text without its line
// terminator.
func (s *CSV) HeaderLine() string {
	return s.raw
}

// Next returns the next data row.
func (s *CSV) Next() ([]string, error) {
	row, err := s.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read row %d: %w", s.line+1, err)
	}
	s.line++
	return row, nil
}

// Close releases the underlying file, if any.
func (s *CSV) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// Slice is an in-memory Source.
type Slice struct {
	header []string
	rows   [][]string
	pos    int
}

// NewSlice returns a Source over rows.
func NewSlice(header []string, rows [][]string) *Slice {
	return &Slice{header: header, rows: rows}
}

// Header returns the header row.
func (s *Slice) Header() []string {
	return s.header
}

// Next returns the next row.
func (s *Slice) Next() ([]string, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

// ReadAll drains src.
func ReadAll(src Source) ([][]string, error) {
	var rows [][]string
	for {
		row, err := src.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}
