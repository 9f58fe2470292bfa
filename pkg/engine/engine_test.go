package engine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KevoDB/seqset/pkg/common/log"
	"github.com/KevoDB/seqset/pkg/config"
	"github.com/KevoDB/seqset/pkg/search"
)

const postalCSV = `zip_code,place_name,state,county,latitude,longitude
10001,X,A,C,5.0,1.0
10002,X,A,C,-5.0,9.0
10003,X,B,C,2.0,2.0
`

func setupEngine(t *testing.T, mutate func(*config.Config)) (*Engine, string) {
	t.Helper()

	dir := t.TempDir()
	input := filepath.Join(dir, "input.csv")
	if err := os.WriteFile(input, []byte(postalCSV), 0644); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}

	cfg := config.NewDefaultConfig(filepath.Join(dir, "data"))
	cfg.BlockSize = 45
	if mutate != nil {
		mutate(cfg)
	}

	e, err := Open(cfg, WithLogger(log.NewNopLogger()))
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, input
}

func foundKeys(results []search.Result) []string {
	var out []string
	for _, r := range results {
		if r.Found {
			out = append(out, r.Key)
		}
	}
	return out
}

func TestEngine_BuildIndexSearch(t *testing.T) {
	e, input := setupEngine(t, nil)

	res, err := e.Build(input)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if res.Records != 3 || res.Blocks != 2 {
		t.Errorf("Expected 3 records in 2 blocks, got %+v", res)
	}

	h, err := e.Header()
	if err != nil {
		t.Fatalf("Header failed: %v", err)
	}
	if !h.IsStale {
		t.Errorf("Expected a freshly built file to be flagged stale")
	}

	idx, err := e.RebuildIndexes()
	if err != nil {
		t.Fatalf("RebuildIndexes failed: %v", err)
	}
	if !idx.BlockBuilt || idx.OffsetBuilt {
		t.Errorf("Expected only the block index, got %+v", idx)
	}
	if idx.Block.Entries != 3 {
		t.Errorf("Expected 3 index entries, got %d", idx.Block.Entries)
	}

	if h, _ = e.Header(); h.IsStale {
		t.Errorf("Expected stale flag cleared after rebuild")
	}

	results, err := e.SearchBatch("10001 -z 99999-z10003")
	if err != nil {
		t.Fatalf("SearchBatch failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if diff := cmp.Diff([]string{"10001", "10003"}, foundKeys(results)); diff != "" {
		t.Errorf("Found keys mismatch (-want +got):\n%s", diff)
	}
	if results[0].Location != 1 || results[2].Location != 2 {
		t.Errorf("Expected RBNs 1 and 2, got %d and %d", results[0].Location, results[2].Location)
	}
	if got := search.Format(results[1]); got != "99999 not found" {
		t.Errorf("Expected not-found line, got %q", got)
	}

	stats := e.Stats()
	if hits := stats["search_hits"].(uint64); hits != 2 {
		t.Errorf("Expected 2 search hits, got %d", hits)
	}
	if misses := stats["search_misses"].(uint64); misses != 1 {
		t.Errorf("Expected 1 search miss, got %d", misses)
	}
}

func TestEngine_Views(t *testing.T) {
	e, input := setupEngine(t, nil)
	if _, err := e.Build(input); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var buf bytes.Buffer
	if err := e.ListMost(&buf); err != nil {
		t.Fatalf("ListMost failed: %v", err)
	}
	want := "State,Easternmost,Westernmost,Northernmost,Southernmost\n" +
		"A,10002,10001,10001,10002\n" +
		"B,10003,10003,10003,10003\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("ListMost mismatch (-want +got):\n%s", diff)
	}

	buf.Reset()
	if err := e.DumpLogical(&buf); err != nil {
		t.Fatalf("DumpLogical failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || lines[0] != "Dumping Blocks by Logical Order:" {
		t.Errorf("Unexpected logical dump: %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "RBN: 1 10001,") {
		t.Errorf("Expected chain to start at RBN 1, got %q", lines[1])
	}

	found, err := e.Describe(&buf, 7)
	if err != nil || found {
		t.Errorf("Expected RBN 7 to be missing, got found=%v err=%v", found, err)
	}

	b, ok, err := e.Block(2)
	if err != nil || !ok {
		t.Fatalf("Expected block 2, got ok=%v err=%v", ok, err)
	}
	if b.Prev != 1 || b.Next != -1 {
		t.Errorf("Expected block 2 linked after 1, got prev=%d next=%d", b.Prev, b.Next)
	}

	report, err := e.Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2}, report.Active); diff != "" {
		t.Errorf("Active chain mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_OffsetSearch(t *testing.T) {
	e, input := setupEngine(t, nil)

	conv, err := e.Convert(input)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if conv.Rows != 3 {
		t.Errorf("Expected 3 converted rows, got %d", conv.Rows)
	}

	idx, err := e.RebuildIndexes()
	if err != nil {
		t.Fatalf("RebuildIndexes failed: %v", err)
	}
	if idx.BlockBuilt || !idx.OffsetBuilt {
		t.Errorf("Expected only the offset index, got %+v", idx)
	}

	results, err := e.SearchOffset("10002", "00000")
	if err != nil {
		t.Fatalf("SearchOffset failed: %v", err)
	}
	if !results[0].Found || results[1].Found {
		t.Fatalf("Unexpected results: %+v", results)
	}
	if results[0].Record.State != "A" || results[0].Record.Longitude != 9.0 {
		t.Errorf("Unexpected record: %+v", results[0].Record)
	}
}

func TestEngine_SchemaMismatch(t *testing.T) {
	e, input := setupEngine(t, func(c *config.Config) {
		c.RecordFieldCount = 4
	})

	if _, err := e.Build(input); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("Expected ErrSchemaMismatch, got %v", err)
	}
	if _, err := os.Stat(e.blockPath()); !os.IsNotExist(err) {
		t.Errorf("Expected no block file to be written")
	}
}

func TestEngine_Stale(t *testing.T) {
	e, input := setupEngine(t, nil)
	if _, err := e.Build(input); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := e.RebuildIndexes(); err != nil {
		t.Fatalf("RebuildIndexes failed: %v", err)
	}

	stale, err := e.Stale()
	if err != nil || stale {
		t.Fatalf("Expected fresh index, got stale=%v err=%v", stale, err)
	}

	f, err := os.OpenFile(e.blockPath(), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("Failed to open block file: %v", err)
	}
	f.WriteString("3:10004,Y,C,C,1.0,1.0\n")
	f.Close()

	stale, err = e.Stale()
	if err != nil || !stale {
		t.Fatalf("Expected stale index, got stale=%v err=%v", stale, err)
	}
	if h, _ := e.Header(); !h.IsStale {
		t.Errorf("Expected the header stale flag to be set")
	}
}

func TestEngine_NoData(t *testing.T) {
	e, _ := setupEngine(t, nil)

	if _, err := e.RebuildIndexes(); !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData from RebuildIndexes, got %v", err)
	}
	if _, err := e.Archive(filepath.Join(t.TempDir(), "snap.sqsa")); !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData from Archive, got %v", err)
	}
}

func TestEngine_ArchiveRestore(t *testing.T) {
	e, input := setupEngine(t, nil)
	if _, err := e.Build(input); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := e.RebuildIndexes(); err != nil {
		t.Fatalf("RebuildIndexes failed: %v", err)
	}

	snap := filepath.Join(t.TempDir(), "snap.sqsa")
	st, err := e.Archive(snap)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	// block file, block index and manifest
	if st.Entries != 3 {
		t.Errorf("Expected 3 archived files, got %d", st.Entries)
	}

	for _, p := range []string{e.blockPath(), e.blockIndex()} {
		if err := os.Remove(p); err != nil {
			t.Fatalf("Failed to remove %s: %v", p, err)
		}
	}

	written, err := e.Restore(snap)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if len(written) != 3 {
		t.Errorf("Expected 3 restored files, got %v", written)
	}

	results, err := e.Search("10003")
	if err != nil {
		t.Fatalf("Search after restore failed: %v", err)
	}
	if !results[0].Found {
		t.Errorf("Expected 10003 after restore")
	}
	if stale, _ := e.Stale(); stale {
		t.Errorf("Expected restored manifest to match restored data")
	}
}

func TestEngine_Closed(t *testing.T) {
	e, input := setupEngine(t, nil)

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed on second close, got %v", err)
	}
	if _, err := e.Build(input); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed from Build, got %v", err)
	}
	if _, err := e.Search("10001"); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed from Search, got %v", err)
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.NewDefaultConfig(t.TempDir())
	cfg.BlockSize = 0

	if _, err := Open(cfg); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}
