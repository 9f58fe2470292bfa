package seqset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KevoDB/seqset/pkg/header"
	"github.com/KevoDB/seqset/pkg/seqset/block"
)

// LoadResult summarizes a load.
type LoadResult struct {
	Blocks  int
	Records int
	Skipped int
}

// LoadFile replaces the store's contents with the block file at path.
func (s *Store) LoadFile(path string) (LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadResult{}, fmt.Errorf("failed to open block file: %w", err)
	}
	defer f.Close()

	return s.Load(f)
}

// Load reads a header followed by "RBN:data" lines. Links are not persisted
// in this format, so every block comes back unlinked and the active head is
// the first RBN seen. Lines that do not parse are logged and skipped.
func (s *Store) Load(r io.Reader) (LoadResult, error) {
	br := bufio.NewReader(r)

	h, err := header.Read(br)
	if err != nil {
		return LoadResult{}, fmt.Errorf("failed to read header: %w", err)
	}

	s.Reset()
	s.header = h

	var res LoadResult
	lineNo := h.LineCount()
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return res, fmt.Errorf("failed to read block line %d: %w", lineNo+1, err)
		}
		if line != "" {
			lineNo++
			if err := s.loadLine(line, h.FieldCount, &res); err != nil {
				return res, err
			}
		}
		if err == io.EOF {
			break
		}
	}

	if h.BlockCount != res.Blocks || h.RecordCount != res.Records {
		s.logger.Warn("header declares %d blocks and %d records, file holds %d and %d",
			h.BlockCount, h.RecordCount, res.Blocks, res.Records)
	}
	s.logger.Debug("loaded %d blocks, %d records", res.Blocks, res.Records)
	return res, nil
}

func (s *Store) loadLine(line string, fieldCount int, res *LoadResult) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	rbn, records, err := block.DecodeLine(line, fieldCount)
	if errors.Is(err, block.ErrMalformedLine) {
		s.logger.Warn("skipping block line: %v", err)
		res.Skipped++
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.CreateBlock(rbn, false, records, block.None, block.None); err != nil {
		s.logger.Warn("skipping block %d: %v", rbn, err)
		res.Skipped++
		return nil
	}
	res.Blocks++
	res.Records += len(records)
	return nil
}
