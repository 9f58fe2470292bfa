package index

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KevoDB/seqset/pkg/common/log"
	"github.com/KevoDB/seqset/pkg/header"
	"github.com/KevoDB/seqset/pkg/lenind"
	"github.com/KevoDB/seqset/pkg/seqset/block"
)

// BlockHeaderRow is the first column title of a block index.
const BlockHeaderRow = "Block"

// BuildFromBlockFile rebuilds the block index at indexPath from the block file
// at blockPath. The block file's header supplies the record width and key
// position. Lines that are not "RBN:data" are logged and skipped.
func BuildFromBlockFile(blockPath, indexPath string, opts ...Option) (BuildResult, error) {
	o := newOptions(opts)
	logger := o.logger.WithField("index", indexPath)

	f, err := os.Open(blockPath)
	if err != nil {
		return BuildResult{}, fmt.Errorf("failed to open block file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	h, err := header.Read(r)
	if err != nil {
		return BuildResult{}, fmt.Errorf("failed to read block file header: %w", err)
	}

	keyName := "Key"
	if kf, ok := h.KeyField(); ok {
		keyName = kf.Name
	}

	var res BuildResult
	err = createIndex(indexPath, func(w *bufio.Writer) error {
		if _, err := fmt.Fprintf(w, "%s,%s\n", BlockHeaderRow, keyName); err != nil {
			return err
		}

		for {
			line, err := r.ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("failed to read block file: %w", err)
			}
			if strings.TrimSpace(line) != "" {
				if err := indexBlockLine(w, line, h, logger, &res); err != nil {
					return err
				}
			}
			if err == io.EOF {
				return nil
			}
		}
	})
	if err != nil {
		return res, err
	}

	logger.Info("indexed %d keys from %s, skipped %d", res.Entries, blockPath, res.Skipped)
	return res, nil
}

func indexBlockLine(w *bufio.Writer, line string, h *header.Record, logger log.Logger, res *BuildResult) error {
	rbn, records, err := block.DecodeLine(line, h.FieldCount)
	if errors.Is(err, block.ErrMalformedLine) {
		logger.Warn("skipping line: %v", err)
		res.Skipped++
		return nil
	}
	if err != nil {
		return err
	}

	for _, rec := range records {
		key, ok := block.Field(rec, h.PrimaryKeyField)
		if !ok || key == "" {
			logger.Warn("block %d: record %q has no key", rbn, rec)
			res.Skipped++
			continue
		}
		if err := writeEntry(w, key, int64(rbn)); err != nil {
			return fmt.Errorf("failed to write index entry: %w", err)
		}
		res.Entries++
	}
	return nil
}

// BuildFromLengthIndicated rebuilds the offset index at indexPath from the
// length-indicated file at liPath. The file's first line is a plain header
// row. Each record's offset is the sum of the sizes of every line before it,
// where a record line's size is two indicator bytes plus the value for each
// field, plus one delimiter per field.
func BuildFromLengthIndicated(liPath, indexPath string, opts ...Option) (BuildResult, error) {
	o := newOptions(opts)
	logger := o.logger.WithField("index", indexPath)

	f, err := os.Open(liPath)
	if err != nil {
		return BuildResult{}, fmt.Errorf("failed to open length-indicated file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	headerRow, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return BuildResult{}, fmt.Errorf("failed to read header row: %w", err)
	}
	offset := int64(len(headerRow))

	var res BuildResult
	err = createIndex(indexPath, func(w *bufio.Writer) error {
		for {
			line, err := r.ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("failed to read length-indicated file: %w", err)
			}
			if line != "" {
				size, werr := indexRecordLine(w, line, offset, o.keyField, logger, &res)
				if werr != nil {
					return werr
				}
				if size != len(line) && strings.HasSuffix(line, "\n") {
					logger.Warn("record at offset %d: computed size %d, line holds %d bytes", offset, size, len(line))
				}
				offset += int64(len(line))
			}
			if err == io.EOF {
				return nil
			}
		}
	})
	if err != nil {
		return res, err
	}

	logger.Info("indexed %d keys from %s, skipped %d", res.Entries, liPath, res.Skipped)
	return res, nil
}

// indexRecordLine writes the entry for one record and returns its computed size.
func indexRecordLine(w *bufio.Writer, line string, offset int64, keyField int, logger log.Logger, res *BuildResult) (int, error) {
	if strings.TrimSpace(line) == "" {
		return len(line), nil
	}

	fields, err := lenind.DecodeRecord(line)
	if err != nil {
		logger.Warn("skipping record at offset %d: %v", offset, err)
		res.Skipped++
		return len(line), nil
	}
	if keyField < 0 || keyField >= len(fields) || fields[keyField] == "" {
		logger.Warn("record at offset %d has no key", offset)
		res.Skipped++
		return len(line), nil
	}

	if err := writeEntry(w, fields[keyField], offset); err != nil {
		return 0, fmt.Errorf("failed to write index entry: %w", err)
	}
	res.Entries++
	return lenind.RecordSize(fields), nil
}
