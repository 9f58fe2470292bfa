package seqset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/KevoDB/seqset/pkg/common/log"
	"github.com/KevoDB/seqset/pkg/header"
	"github.com/KevoDB/seqset/pkg/rowsource"
	"github.com/KevoDB/seqset/pkg/seqset/block"
)

var (
	// ErrFieldDelimiter is returned when a field holds the record delimiter,
	// which the block line format cannot represent.
	ErrFieldDelimiter = errors.New("field contains record delimiter")
	// ErrRowWidth is returned when a row does not match the header's field count.
	ErrRowWidth = errors.New("row width does not match field count")
)

// FirstRBN is the number given to the first block of a new file.
const FirstRBN = 1

// FileManager handles the temporary file a block file is written through
type FileManager struct {
	path    string
	tmpPath string
	file    *os.File
}

// NewFileManager creates a temporary file next to path
func NewFileManager(path string) (*FileManager, error) {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", filepath.Base(path)))

	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	return &FileManager{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
	}, nil
}

// Write writes data at the current position
func (fm *FileManager) Write(data []byte) (int, error) {
	return fm.file.Write(data)
}

// Close closes the file
func (fm *FileManager) Close() error {
	if fm.file == nil {
		return nil
	}
	err := fm.file.Close()
	fm.file = nil
	return err
}

// FinalizeFile syncs, closes and renames the file to its final path
func (fm *FileManager) FinalizeFile() error {
	if err := fm.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := fm.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(fm.tmpPath, fm.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Cleanup removes the temporary file if writing is aborted
func (fm *FileManager) Cleanup() error {
	if fm.file != nil {
		fm.Close()
	}
	return os.Remove(fm.tmpPath)
}

// Packer groups records into blocks first-fit: a record joins the current
// block while it fits the budget, otherwise the block is closed. Records are
// never split, so a record larger than the budget occupies a block alone.
type Packer struct {
	budget int
	cur    []string
	used   int
	blocks [][]string
}

// NewPacker returns a packer for the given byte budget per block.
func NewPacker(budget int) *Packer {
	return &Packer{budget: budget}
}

// Add places one record.
func (p *Packer) Add(record string) {
	cost := block.RecordCost(record)
	if len(p.cur) > 0 && p.used+cost > p.budget {
		p.flush()
	}
	p.cur = append(p.cur, record)
	p.used += cost
}

func (p *Packer) flush() {
	if len(p.cur) == 0 {
		return
	}
	p.blocks = append(p.blocks, p.cur)
	p.cur = nil
	p.used = 0
}

// Finish closes the partial block and returns all blocks in order.
func (p *Packer) Finish() [][]string {
	p.flush()
	return p.blocks
}

// BuildResult summarizes a block file build.
type BuildResult struct {
	Records int
	Blocks  int
	Bytes   int64
}

// BuildOption configures CreateBlockFile.
type BuildOption func(*builder)

type builder struct {
	logger log.Logger
}

// WithBuildLogger sets the logger used while building.
func WithBuildLogger(logger log.Logger) BuildOption {
	return func(b *builder) {
		b.logger = logger
	}
}

// CreateBlockFile packs every row of src into blocks of h.BlockSize bytes and
// writes the header followed by one "RBN:data" line per block, numbered from
// FirstRBN. When h declares no fields they are taken from the source's header
// row. h is updated with the final counts and active head.
func CreateBlockFile(src rowsource.Source, path string, h *header.Record, opts ...BuildOption) (BuildResult, error) {
	b := &builder{logger: log.GetDefaultLogger()}
	for _, opt := range opts {
		opt(b)
	}

	if h.FieldCount == 0 {
		for _, name := range src.Header() {
			h.AddField(name, "string")
		}
	}

	packer := NewPacker(h.BlockSize)
	records := 0
	for {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return BuildResult{}, fmt.Errorf("failed to read row %d: %w", records+1, err)
		}

		record, err := joinRow(row, h.FieldCount)
		if err != nil {
			return BuildResult{}, fmt.Errorf("row %d: %w", records+1, err)
		}
		packer.Add(record)
		records++
	}
	blocks := packer.Finish()

	h.RecordCount = records
	h.BlockCount = len(blocks)
	h.AvailListRBN = header.NoRBN
	h.ActiveListRBN = header.NoRBN
	if len(blocks) > 0 {
		h.ActiveListRBN = FirstRBN
	}
	h.IsStale = false

	res := BuildResult{Records: records, Blocks: len(blocks)}
	n, err := writeBlockFile(path, h, blocks)
	res.Bytes = n
	if err != nil {
		return res, err
	}

	b.logger.Info("wrote %d records in %d blocks to %s", res.Records, res.Blocks, path)
	return res, nil
}

func joinRow(row []string, fieldCount int) (string, error) {
	if fieldCount > 0 && len(row) != fieldCount {
		return "", fmt.Errorf("%w: got %d, want %d", ErrRowWidth, len(row), fieldCount)
	}
	for i, f := range row {
		if strings.ContainsAny(f, block.RecordDelim+"\r\n") {
			return "", fmt.Errorf("%w: field %d %q", ErrFieldDelimiter, i, f)
		}
	}
	return strings.Join(row, block.RecordDelim), nil
}

func writeBlockFile(path string, h *header.Record, blocks [][]string) (int64, error) {
	fm, err := NewFileManager(path)
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(fm)
	written, err := h.Write(bw)
	total := int64(written)
	if err != nil {
		fm.Cleanup()
		return total, err
	}

	for i, records := range blocks {
		n, err := bw.WriteString(block.EncodeLine(FirstRBN+i, records) + "\n")
		total += int64(n)
		if err != nil {
			fm.Cleanup()
			return total, fmt.Errorf("failed to write block %d: %w", FirstRBN+i, err)
		}
	}

	if err := bw.Flush(); err != nil {
		fm.Cleanup()
		return total, fmt.Errorf("failed to flush block file: %w", err)
	}
	if err := fm.FinalizeFile(); err != nil {
		fm.Cleanup()
		return total, err
	}
	return total, nil
}
