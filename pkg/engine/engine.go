// Package engine ties the sequence set pipeline together over one
// configuration: build a block file from delimited input, load it, rebuild
// its indexes and answer key lookups.
package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/KevoDB/seqset/pkg/archive"
	"github.com/KevoDB/seqset/pkg/common/log"
	"github.com/KevoDB/seqset/pkg/config"
	"github.com/KevoDB/seqset/pkg/header"
	"github.com/KevoDB/seqset/pkg/index"
	"github.com/KevoDB/seqset/pkg/lenind"
	"github.com/KevoDB/seqset/pkg/rowsource"
	"github.com/KevoDB/seqset/pkg/search"
	"github.com/KevoDB/seqset/pkg/seqset"
	"github.com/KevoDB/seqset/pkg/seqset/block"
	"github.com/KevoDB/seqset/pkg/stats"
)

// Engine owns one store, its manifest and its statistics. It is not safe for
// concurrent use.
type Engine struct {
	cfg      *config.Config
	store    *seqset.Store
	manifest *config.Manifest
	stats    stats.Collector
	logger   log.Logger

	loaded bool
	closed atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to every component.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStats sets the statistics collector.
func WithStats(collector stats.Collector) Option {
	return func(e *Engine) {
		e.stats = collector
	}
}

// Open validates cfg, creates its data directory and loads the manifest.
// The block file is not read until Load or the first query.
func Open(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	manifest, err := config.LoadOrCreateManifest(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		manifest: manifest,
		stats:    stats.NewAtomicCollector(),
		logger:   log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.store = seqset.NewStore(seqset.WithLogger(e.logger))
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

func (e *Engine) blockPath() string  { return e.cfg.Path(e.cfg.BlockFile) }
func (e *Engine) blockIndex() string { return e.cfg.Path(e.cfg.BlockIndexFile) }
func (e *Engine) liPath() string     { return e.cfg.Path(e.cfg.LengthIndicatedFile) }
func (e *Engine) offsetIndex() string {
	return e.cfg.Path(e.cfg.OffsetIndexFile)
}

func (e *Engine) check() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) newHeader() *header.Record {
	h := header.New()
	h.FileStructureType = e.cfg.FileStructureType
	h.Version = e.cfg.FormatVersion
	h.BlockSize = e.cfg.BlockSize
	h.MinBlockCapacity = e.cfg.MinBlockCapacity
	h.IndexFileName = e.cfg.BlockIndexFile
	h.IndexFileSchema = e.cfg.IndexSchema
	h.PrimaryKeyField = e.cfg.PrimaryKeyField
	return h
}

// Build packs the delimited file at inputPath into the configured block file.
// The new file is flagged stale until its index is rebuilt.
func (e *Engine) Build(inputPath string) (seqset.BuildResult, error) {
	if err := e.check(); err != nil {
		return seqset.BuildResult{}, err
	}
	start := time.Now()

	src, err := rowsource.OpenCSV(inputPath)
	if err != nil {
		e.stats.TrackError("build_error")
		return seqset.BuildResult{}, err
	}
	defer src.Close()

	if n := len(src.Header()); n != e.cfg.RecordFieldCount {
		e.stats.TrackError("build_error")
		return seqset.BuildResult{}, fmt.Errorf("%w: input has %d columns, configured for %d",
			ErrSchemaMismatch, n, e.cfg.RecordFieldCount)
	}

	res, err := seqset.CreateBlockFile(src, e.blockPath(), e.newHeader(), seqset.WithBuildLogger(e.logger))
	if err != nil {
		e.stats.TrackError("build_error")
		return res, err
	}
	e.stats.TrackSince(stats.OpBuild, start)
	e.stats.TrackBytes(true, uint64(res.Bytes))

	if err := header.SetStaleFlag(e.blockPath(), true); err != nil {
		return res, err
	}
	e.loaded = false
	return res, nil
}

// Convert writes the delimited file at inputPath as the configured
// length-indicated file.
func (e *Engine) Convert(inputPath string) (lenind.ConvertResult, error) {
	if err := e.check(); err != nil {
		return lenind.ConvertResult{}, err
	}
	start := time.Now()

	res, err := lenind.ConvertFile(inputPath, e.liPath(), lenind.WithLogger(e.logger))
	if err != nil {
		e.stats.TrackError("convert_error")
		return res, err
	}
	e.stats.TrackSince(stats.OpConvert, start)
	e.stats.TrackBytes(true, uint64(res.Bytes))
	return res, nil
}

// Load replaces the in-memory store with the block file, threading the
// active chain when the configuration asks for it.
func (e *Engine) Load() (seqset.LoadResult, error) {
	if err := e.check(); err != nil {
		return seqset.LoadResult{}, err
	}
	start := time.Now()

	res, err := e.store.LoadFile(e.blockPath())
	if err != nil {
		e.stats.TrackError("load_error")
		return res, err
	}
	if e.cfg.RelinkOnLoad {
		e.store.Relink()
	}
	e.loaded = true

	e.stats.TrackSince(stats.OpLoad, start)
	e.stats.TrackLoad(uint64(res.Blocks), uint64(res.Records), uint64(res.Skipped))

	if h := e.store.Header(); h != nil && h.IsStale {
		e.logger.Warn("block index is flagged stale, rebuild indexes before searching")
	}
	return res, nil
}

func (e *Engine) ensureLoaded() error {
	if e.loaded {
		return nil
	}
	_, err := e.Load()
	return err
}

// IndexResult reports which indexes were rebuilt.
type IndexResult struct {
	Block       index.BuildResult
	BlockBuilt  bool
	Offset      index.BuildResult
	OffsetBuilt bool
}

// RebuildIndexes rebuilds every index whose data file exists, records the
// data fingerprints in the manifest and clears the block file's stale flag.
func (e *Engine) RebuildIndexes() (IndexResult, error) {
	var res IndexResult
	if err := e.check(); err != nil {
		return res, err
	}
	start := time.Now()
	idxOpts := []index.Option{index.WithLogger(e.logger), index.WithKeyField(e.cfg.PrimaryKeyField)}

	if h, err := header.ReadFile(e.blockPath()); err == nil {
		if res.Block, err = index.BuildFromBlockFile(e.blockPath(), e.blockIndex(), idxOpts...); err != nil {
			e.stats.TrackError("index_error")
			return res, err
		}
		if _, err := e.manifest.Record(e.blockPath(), h.LineCount(), e.cfg.BlockIndexFile); err != nil {
			return res, err
		}
		if err := header.SetStaleFlag(e.blockPath(), false); err != nil {
			return res, err
		}
		res.BlockBuilt = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return res, err
	}

	if _, err := os.Stat(e.liPath()); err == nil {
		if res.Offset, err = index.BuildFromLengthIndicated(e.liPath(), e.offsetIndex(), idxOpts...); err != nil {
			e.stats.TrackError("index_error")
			return res, err
		}
		if _, err := e.manifest.Record(e.liPath(), 1, e.cfg.OffsetIndexFile); err != nil {
			return res, err
		}
		res.OffsetBuilt = true
	}

	if !res.BlockBuilt && !res.OffsetBuilt {
		return res, ErrNoData
	}
	if err := e.manifest.Save(); err != nil {
		return res, err
	}

	// The store's copy of the header still carries the old flag
	e.loaded = false
	e.stats.TrackSince(stats.OpIndex, start)
	return res, nil
}

// Stale reports whether the block file changed since its index was built.
// A stale file gets its header flag set; nothing is rebuilt.
func (e *Engine) Stale() (bool, error) {
	if err := e.check(); err != nil {
		return false, err
	}

	stale, err := e.manifest.Stale(e.blockPath())
	if err != nil {
		return false, err
	}
	if stale {
		e.logger.Warn("%s changed since its index was built", e.cfg.BlockFile)
		if err := header.SetStaleFlag(e.blockPath(), true); err != nil {
			return true, err
		}
	}
	return stale, nil
}

// Search resolves keys through the block index.
func (e *Engine) Search(keys ...string) ([]search.Result, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if err := e.ensureLoaded(); err != nil {
		return nil, err
	}

	keyField := e.cfg.PrimaryKeyField
	if h := e.store.Header(); h != nil {
		keyField = h.PrimaryKeyField
	}
	s := search.NewBlockSearcher(e.store, e.blockIndex(),
		search.WithLogger(e.logger), search.WithKeyField(keyField))
	return e.runSearch(s, keys)
}

// SearchOffset resolves keys through the offset index and the
// length-indicated file.
func (e *Engine) SearchOffset(keys ...string) ([]search.Result, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	s := search.NewOffsetSearcher(e.liPath(), e.offsetIndex(),
		search.WithLogger(e.logger), search.WithKeyField(e.cfg.PrimaryKeyField))
	return e.runSearch(s, keys)
}

// SearchBatch splits text on the configured key delimiter and searches each key.
func (e *Engine) SearchBatch(text string) ([]search.Result, error) {
	return e.Search(search.SplitKeys(text, e.cfg.KeyDelimiter)...)
}

func (e *Engine) runSearch(s *search.Searcher, keys []string) ([]search.Result, error) {
	results := make([]search.Result, 0, len(keys))
	for _, k := range keys {
		start := time.Now()
		r, err := s.Search(k)
		if err != nil {
			e.stats.TrackError("search_error")
			return results, err
		}
		e.stats.TrackSince(stats.OpSearch, start)
		e.stats.TrackSearch(r.Found)
		results = append(results, r)
	}
	return results, nil
}

// DumpPhysical prints the loaded blocks in RBN order.
func (e *Engine) DumpPhysical(w io.Writer) error {
	return e.dump(func() error { return e.store.DumpPhysical(w) })
}

// DumpLogical prints the active chain.
func (e *Engine) DumpLogical(w io.Writer) error {
	return e.dump(func() error { return e.store.DumpLogical(w) })
}

// ListMost prints the per-group extremes.
func (e *Engine) ListMost(w io.Writer) error {
	return e.dump(func() error { return e.store.ListMost(w) })
}

// Describe prints one block's details.
func (e *Engine) Describe(w io.Writer, rbn int) (bool, error) {
	var found bool
	err := e.dump(func() error {
		var err error
		found, err = e.store.Describe(w, rbn)
		return err
	})
	return found, err
}

func (e *Engine) dump(fn func() error) error {
	if err := e.check(); err != nil {
		return err
	}
	if err := e.ensureLoaded(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if errors.Is(err, seqset.ErrCorruption) {
			e.stats.TrackError("corruption")
		}
		return err
	}
	e.stats.TrackOperation(stats.OpDump)
	return nil
}

// Block returns a loaded block.
func (e *Engine) Block(rbn int) (block.Block, bool, error) {
	if err := e.check(); err != nil {
		return block.Block{}, false, err
	}
	if err := e.ensureLoaded(); err != nil {
		return block.Block{}, false, err
	}
	b, ok := e.store.Block(rbn)
	return b, ok, nil
}

// Header reads the block file's header.
func (e *Engine) Header() (*header.Record, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	return header.ReadFile(e.blockPath())
}

// Validate checks the loaded chains.
func (e *Engine) Validate() (seqset.ChainReport, error) {
	if err := e.check(); err != nil {
		return seqset.ChainReport{}, err
	}
	if err := e.ensureLoaded(); err != nil {
		return seqset.ChainReport{}, err
	}
	return e.store.Validate()
}

func (e *Engine) dataFiles() []string {
	return []string{
		e.blockPath(),
		e.blockIndex(),
		e.liPath(),
		e.offsetIndex(),
		filepath.Join(e.cfg.DataDir, config.DefaultManifestFileName),
	}
}

// Archive snapshots every existing data file into dst using the configured codec.
func (e *Engine) Archive(dst string) (archive.Stats, error) {
	if err := e.check(); err != nil {
		return archive.Stats{}, err
	}
	codec, err := archive.ParseCodec(e.cfg.ArchiveCodec)
	if err != nil {
		return archive.Stats{}, err
	}

	st, missing, err := archive.WriteFiles(dst, e.dataFiles(), codec)
	if err != nil {
		e.stats.TrackError("archive_error")
		return st, err
	}
	if st.Entries == 0 {
		os.Remove(dst)
		return st, ErrNoData
	}
	for _, m := range missing {
		e.logger.Debug("archive: %s not present, skipped", m)
	}

	e.stats.TrackOperation(stats.OpArchive)
	e.stats.TrackBytes(true, uint64(st.StoredSize))
	e.logger.Info("archived %d files, %d bytes as %d with %s", st.Entries, st.RawBytes, st.StoredSize, codec)
	return st, nil
}

// Restore extracts an archive into the data directory and reloads the manifest.
func (e *Engine) Restore(src string) ([]string, error) {
	if err := e.check(); err != nil {
		return nil, err
	}

	written, err := archive.RestoreFiles(src, e.cfg.DataDir)
	if err != nil {
		e.stats.TrackError("restore_error")
		return written, err
	}

	manifest, err := config.LoadOrCreateManifest(e.cfg.DataDir)
	if err != nil {
		return written, err
	}
	e.manifest = manifest
	e.loaded = false

	e.stats.TrackOperation(stats.OpRestore)
	return written, nil
}

// Stats returns the collected statistics.
func (e *Engine) Stats() map[string]interface{} {
	return e.stats.GetStats()
}

// Close marks the engine closed. Files are opened per operation, so there is
// nothing else to release.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return ErrEngineClosed
	}
	return nil
}
