package lenind

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/KevoDB/seqset/pkg/common/log"
	"github.com/KevoDB/seqset/pkg/rowsource"
)

// ConvertResult summarizes a conversion.
type ConvertResult struct {
	Rows      int
	Truncated int
	Bytes     int64
}

// ConvertOption configures Convert.
type ConvertOption func(*converter)

type converter struct {
	logger    log.Logger
	normalize bool
}

// WithLogger sets the logger used to report truncated fields.
func WithLogger(logger log.Logger) ConvertOption {
	return func(c *converter) {
		c.logger = logger
	}
}

// WithDecimalNormalization toggles fixed six-decimal formatting of numbers.
func WithDecimalNormalization(enabled bool) ConvertOption {
	return func(c *converter) {
		c.normalize = enabled
	}
}

// Convert writes src as a length-indicated file: the header row passes through
// unmodified, then one encoded line per data row. Fields longer than
// MaxFieldLen are truncated and logged.
func Convert(src rowsource.Source, w io.Writer, opts ...ConvertOption) (ConvertResult, error) {
	c := &converter{logger: log.GetDefaultLogger(), normalize: true}
	for _, opt := range opts {
		opt(c)
	}

	var res ConvertResult
	bw := bufio.NewWriter(w)

	if header, ok := headerRow(src); ok {
		n, err := bw.WriteString(header + "\n")
		res.Bytes += int64(n)
		if err != nil {
			return res, fmt.Errorf("failed to write header row: %w", err)
		}
	}

	for {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}

		fields := row
		if c.normalize {
			fields = make([]string, len(row))
			for i, f := range row {
				fields[i] = NormalizeDecimal(f)
			}
		}

		line, truncated := EncodeRecord(fields)
		for _, i := range truncated {
			c.logger.WithField("row", res.Rows+1).Warn("field %d exceeds %d bytes, truncated", i, MaxFieldLen)
		}
		res.Truncated += len(truncated)

		n, err := bw.WriteString(line + "\n")
		res.Bytes += int64(n)
		if err != nil {
			return res, fmt.Errorf("failed to write record %d: %w", res.Rows+1, err)
		}
		res.Rows++
	}

	if err := bw.Flush(); err != nil {
		return res, fmt.Errorf("failed to flush output: %w", err)
	}
	return res, nil
}

// headerRow returns the source's header row, verbatim when the source kept
// its original text.
func headerRow(src rowsource.Source) (string, bool) {
	if ht, ok := src.(rowsource.HeaderText); ok {
		if line := ht.HeaderLine(); line != "" {
			return line, true
		}
	}
	header := src.Header()
	if header == nil {
		return "", false
	}
	return strings.Join(header, string(FieldDelim)), true
}

// ConvertFile converts the CSV at inputPath into a length-indicated file at
// outputPath, replacing it atomically.
func ConvertFile(inputPath, outputPath string, opts ...ConvertOption) (ConvertResult, error) {
	src, err := rowsource.OpenCSV(inputPath)
	if err != nil {
		return ConvertResult{}, err
	}
	defer src.Close()

	tmpPath := filepath.Join(filepath.Dir(outputPath), fmt.Sprintf(".%s.tmp", filepath.Base(outputPath)))
	out, err := os.Create(tmpPath)
	if err != nil {
		return ConvertResult{}, fmt.Errorf("failed to create temporary file: %w", err)
	}

	res, err := Convert(src, out, opts...)
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		return res, err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return res, fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return res, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return res, nil
}
