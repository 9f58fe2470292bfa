// Package search resolves keys through an index, then fetches the record
// either from a loaded block store or by seeking into a flat file.
package search

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KevoDB/seqset/pkg/common/log"
	"github.com/KevoDB/seqset/pkg/index"
	"github.com/KevoDB/seqset/pkg/lenind"
	"github.com/KevoDB/seqset/pkg/record"
	"github.com/KevoDB/seqset/pkg/seqset"
	"github.com/KevoDB/seqset/pkg/seqset/block"
)

// DefaultKeyDelimiter separates keys in batch input.
const DefaultKeyDelimiter = "-z"

// Result is the outcome of one key lookup. A key that is absent is a result
// with Found false, not an error.
type Result struct {
	Key      string
	Found    bool
	Kind     index.Kind
	Location int64
	Fields   []string
	Record   record.Postal
}

// Searcher answers key lookups against one index.
type Searcher struct {
	kind      index.Kind
	indexPath string
	store     *seqset.Store
	dataPath  string
	keyField  int
	logger    log.Logger
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger sets the searcher's logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Searcher) {
		s.logger = logger
	}
}

// WithKeyField sets which record field holds the key.
func WithKeyField(n int) Option {
	return func(s *Searcher) {
		s.keyField = n
	}
}

func newSearcher(kind index.Kind, indexPath string, opts []Option) *Searcher {
	s := &Searcher{
		kind:      kind,
		indexPath: indexPath,
		logger:    log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "search")
	return s
}

// NewBlockSearcher resolves keys through a block index and fetches records
// from store.
func NewBlockSearcher(store *seqset.Store, indexPath string, opts ...Option) *Searcher {
	s := newSearcher(index.KindRBN, indexPath, opts)
	s.store = store
	return s
}

// NewOffsetSearcher resolves keys through an offset index and reads records
// from the length-indicated file at dataPath.
func NewOffsetSearcher(dataPath, indexPath string, opts ...Option) *Searcher {
	s := newSearcher(index.KindOffset, indexPath, opts)
	s.dataPath = dataPath
	return s
}

// Search looks up one key.
func (s *Searcher) Search(key string) (Result, error) {
	res := Result{Key: key, Kind: s.kind}

	entry, ok, err := index.Lookup(s.indexPath, key, s.kind)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, nil
	}
	res.Location = entry.Location

	var fields []string
	if s.kind == index.KindOffset {
		fields, err = s.readAt(entry.Location)
	} else {
		fields = s.fromBlock(int(entry.Location), key)
	}
	if err != nil {
		return res, err
	}
	if len(fields) <= s.keyField || fields[s.keyField] != key {
		s.logger.Warn("index entry %s -> %s %d does not hold the key, index may be stale",
			key, s.kind, entry.Location)
		return res, nil
	}

	res.Found = true
	res.Fields = fields
	if p, faults, err := record.Decode(fields); err == nil {
		for _, f := range faults {
			s.logger.Warn("record %s: %v", key, f)
		}
		res.Record = p
	}
	return res, nil
}

// SearchAll looks up each key in order.
func (s *Searcher) SearchAll(keys []string) ([]Result, error) {
	results := make([]Result, 0, len(keys))
	for _, k := range keys {
		r, err := s.Search(k)
		if err != nil {
			return results, fmt.Errorf("search %q: %w", k, err)
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *Searcher) fromBlock(rbn int, key string) []string {
	b, ok := s.store.Block(rbn)
	if !ok {
		return nil
	}
	for _, rec := range b.Records {
		if f, ok := block.Field(rec, s.keyField); ok && f == key {
			return block.Fields(rec)
		}
	}
	return nil
}

func (s *Searcher) readAt(offset int64) ([]string, error) {
	f, err := os.Open(s.dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to %d: %w", offset, err)
	}
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read record at %d: %w", offset, err)
	}
	if line == "" {
		return nil, nil
	}

	fields, err := lenind.DecodeRecord(line)
	if err != nil {
		s.logger.Warn("record at offset %d: %v", offset, err)
		return nil, nil
	}
	return fields, nil
}

// SplitKeys splits batch input on delim, dropping empty and blank segments.
func SplitKeys(text, delim string) []string {
	if delim == "" {
		delim = DefaultKeyDelimiter
	}
	var keys []string
	for _, part := range strings.Split(text, delim) {
		if k := strings.TrimSpace(part); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Format renders a result as one line of console output.
func Format(r Result) string {
	if !r.Found {
		return fmt.Sprintf("%s not found", r.Key)
	}
	where := fmt.Sprintf("block %d", r.Location)
	if r.Kind == index.KindOffset {
		where = fmt.Sprintf("offset %d", r.Location)
	}
	return fmt.Sprintf("%s (%s)", strings.Join(r.Fields, " "), where)
}
