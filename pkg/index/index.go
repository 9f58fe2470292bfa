// Package index builds and scans flat key-to-location files. A block index
// maps each key to the RBN of the block holding it. An offset index maps each
// key to the byte offset of its line in a length-indicated file. The two are
// not interchangeable.
package index

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/KevoDB/seqset/pkg/common/log"
)

// Kind identifies what an entry's location means.
type Kind int

const (
	// KindRBN locations are block numbers.
	KindRBN Kind = iota
	// KindOffset locations are byte offsets into a flat file.
	KindOffset
)

func (k Kind) String() string {
	if k == KindOffset {
		return "offset"
	}
	return "rbn"
}

// Entry is one key and where to find it.
type Entry struct {
	Key      string
	Location int64
	Kind     Kind
}

// BuildResult summarizes an index build.
type BuildResult struct {
	Entries int
	Skipped int
}

// Option configures a build.
type Option func(*options)

type options struct {
	logger   log.Logger
	keyField int
}

// WithLogger sets the logger used to report skipped lines.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithKeyField sets the key position for files without a header record.
func WithKeyField(n int) Option {
	return func(o *options) {
		o.keyField = n
	}
}

func newOptions(opts []Option) *options {
	o := &options{logger: log.GetDefaultLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// writeEntry writes "key location".
func writeEntry(w *bufio.Writer, key string, location int64) error {
	_, err := fmt.Fprintf(w, "%s %d\n", key, location)
	return err
}

// parseEntry splits an index line on its last space.
func parseEntry(line string) (string, int64, bool) {
	line = strings.TrimRight(line, "\r\n")
	idx := strings.LastIndexByte(line, ' ')
	if idx <= 0 {
		return "", 0, false
	}
	loc, err := strconv.ParseInt(line[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return line[:idx], loc, true
}

// Lookup scans the index at path for the first entry whose key equals key.
// Lines that are not "key location", such as a header row, are ignored.
func Lookup(path, key string, kind Kind) (Entry, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to open index: %w", err)
	}
	defer f.Close()

	return Scan(f, key, kind)
}

// Scan is Lookup over an open reader.
func Scan(r io.Reader, key string, kind Kind) (Entry, bool, error) {
	var (
		found Entry
		ok    bool
	)
	err := scanEntries(r, kind, func(e Entry) bool {
		if e.Key == key {
			found, ok = e, true
			return false
		}
		return true
	})
	return found, ok, err
}

// ReadAll returns every entry in the index at path, in file order.
func ReadAll(path string, kind Kind) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer f.Close()

	var entries []Entry
	err = scanEntries(f, kind, func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	return entries, err
}

// isHeaderRow reports whether the first line of an index is its title row.
// Keys never contain a comma, so "Block,<name>" cannot be an entry.
func isHeaderRow(line string) bool {
	return strings.HasPrefix(line, BlockHeaderRow+",")
}

// scanEntries calls fn for each entry until fn returns false. A leading
// title row and lines that are not "key location" are ignored.
func scanEntries(r io.Reader, kind Kind, fn func(Entry) bool) error {
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			if isHeaderRow(line) {
				continue
			}
		}
		k, loc, ok := parseEntry(line)
		if !ok {
			continue
		}
		if !fn(Entry{Key: k, Location: loc, Kind: kind}) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to scan index: %w", err)
	}
	return nil
}

// createIndex writes through a temporary file and renames it into place.
func createIndex(path string, fill func(w *bufio.Writer) error) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename index: %w", err)
	}
	return nil
}
