package seqset

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KevoDB/seqset/pkg/common/log"
	"github.com/KevoDB/seqset/pkg/header"
	"github.com/KevoDB/seqset/pkg/rowsource"
	"github.com/KevoDB/seqset/pkg/seqset/block"
)

var postalColumns = []string{"zip_code", "place_name", "state", "county", "latitude", "longitude"}

func exampleRows() [][]string {
	return [][]string{
		{"10001", "X", "A", "C", "5.0", "1.0"},
		{"10002", "X", "A", "C", "-5.0", "9.0"},
		{"10003", "X", "B", "C", "2.0", "2.0"},
	}
}

func newTestStore() *Store {
	return NewStore(WithLogger(log.NewNopLogger()))
}

func buildFile(t *testing.T, budget int, rows [][]string) (string, *header.Record) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "block.txt")
	h := header.New()
	h.BlockSize = budget
	h.IndexFileName = "index.idx"

	_, err := CreateBlockFile(rowsource.NewSlice(postalColumns, rows), path, h,
		WithBuildLogger(log.NewNopLogger()))
	if err != nil {
		t.Fatalf("CreateBlockFile failed: %v", err)
	}
	return path, h
}

func TestPacker(t *testing.T) {
	p := NewPacker(10)
	for _, r := range []string{"aaaa", "bbbb", "cc", strings.Repeat("x", 20), "d"} {
		p.Add(r)
	}

	want := [][]string{
		{"aaaa", "bbbb"},
		{"cc"},
		{strings.Repeat("x", 20)},
		{"d"},
	}
	if diff := cmp.Diff(want, p.Finish()); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}

	if got := NewPacker(10).Finish(); len(got) != 0 {
		t.Errorf("expected no blocks, got %v", got)
	}
}

func TestSingleBlockExample(t *testing.T) {
	path, h := buildFile(t, 512, exampleRows())

	if h.RecordCount != 3 || h.BlockCount != 1 || h.ActiveListRBN != FirstRBN {
		t.Errorf("unexpected header counts: %+v", h)
	}
	if h.FieldCount != 6 || h.Fields[0].Name != "zip_code" {
		t.Errorf("fields not taken from source header: %+v", h.Fields)
	}

	s := newTestStore()
	res, err := s.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if res.Blocks != 1 || res.Records != 3 || res.Skipped != 0 {
		t.Errorf("unexpected load result: %+v", res)
	}

	b, ok := s.Block(1)
	if !ok {
		t.Fatal("expected block 1")
	}
	if diff := cmp.Diff([]string{
		"10001,X,A,C,5.0,1.0",
		"10002,X,A,C,-5.0,9.0",
		"10003,X,B,C,2.0,2.0",
	}, b.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	var out bytes.Buffer
	if err := s.ListMost(&out); err != nil {
		t.Fatalf("ListMost failed: %v", err)
	}
	want := "State,Easternmost,Westernmost,Northernmost,Southernmost\n" +
		"A,10002,10001,10001,10002\n" +
		"B,10003,10003,10003,10003\n"
	if out.String() != want {
		t.Errorf("ListMost output:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestLoadAndRelink(t *testing.T) {
	// 20 + 21 bytes fit a 45 byte budget, the third record does not
	path, h := buildFile(t, 45, exampleRows())
	if h.BlockCount != 2 {
		t.Fatalf("expected 2 blocks, got %d", h.BlockCount)
	}

	s := newTestStore()
	if _, err := s.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if s.ActiveHead() != 1 || s.AvailHead() != block.None {
		t.Errorf("unexpected heads: active=%d avail=%d", s.ActiveHead(), s.AvailHead())
	}
	if s.Len() != 2 || s.RecordCount() != 3 {
		t.Errorf("unexpected size: %d blocks, %d records", s.Len(), s.RecordCount())
	}
	if s.Header() == nil || s.Header().BlockCount != 2 {
		t.Errorf("header not kept: %+v", s.Header())
	}

	b2, _ := s.Block(2)
	if b2.Prev != block.None || b2.Next != block.None {
		t.Errorf("loaded blocks should be unlinked: %+v", b2)
	}

	var logical bytes.Buffer
	if err := s.DumpLogical(&logical); err != nil {
		t.Fatalf("DumpLogical failed: %v", err)
	}
	if got := strings.Count(logical.String(), "RBN: "); got != 1 {
		t.Errorf("expected only the head before relinking, got %d blocks", got)
	}

	report, err := s.Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if diff := cmp.Diff([]int{2}, report.Unlinked); diff != "" {
		t.Errorf("unlinked mismatch (-want +got):\n%s", diff)
	}

	s.Relink()

	logical.Reset()
	if err := s.DumpLogical(&logical); err != nil {
		t.Fatalf("DumpLogical failed: %v", err)
	}
	var physical bytes.Buffer
	if err := s.DumpPhysical(&physical); err != nil {
		t.Fatalf("DumpPhysical failed: %v", err)
	}

	wantBody := "RBN: 1 10001,X,A,C,5.0,1.0 10002,X,A,C,-5.0,9.0\n" +
		"RBN: 2 10003,X,B,C,2.0,2.0\n"
	if want := "Dumping Blocks by Logical Order:\n" + wantBody; logical.String() != want {
		t.Errorf("logical dump:\n%s\nwant:\n%s", logical.String(), want)
	}
	if want := "Dumping Blocks by Physical Order:\n" + wantBody; physical.String() != want {
		t.Errorf("physical dump:\n%s\nwant:\n%s", physical.String(), want)
	}

	report, err = s.Validate()
	if err != nil {
		t.Fatalf("Validate after relink failed: %v", err)
	}
	if diff := cmp.Diff(ChainReport{Active: []int{1, 2}}, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateBlock(t *testing.T) {
	s := newTestStore()

	if err := s.CreateBlock(-2, false, nil, block.None, block.None); !errors.Is(err, ErrInvalidRBN) {
		t.Errorf("expected ErrInvalidRBN, got %v", err)
	}
	if err := s.CreateBlock(1<<32+1, false, nil, block.None, block.None); !errors.Is(err, ErrInvalidRBN) {
		t.Errorf("expected ErrInvalidRBN above MaxRBN, got %v", err)
	}

	s.CreateBlock(5, false, []string{"a"}, block.None, block.None)
	s.CreateBlock(3, false, []string{"b"}, block.None, block.None)
	s.CreateBlock(9, true, nil, block.None, block.None)

	if s.ActiveHead() != 5 {
		t.Errorf("active head should stay at the first block, got %d", s.ActiveHead())
	}
	if s.AvailHead() != 9 {
		t.Errorf("expected avail head 9, got %d", s.AvailHead())
	}

	// Overwrite keeps the head and replaces the contents
	s.CreateBlock(5, false, []string{"c"}, block.None, block.None)
	b, ok := s.Block(5)
	if !ok || b.Records[0] != "c" {
		t.Errorf("expected overwritten block, got %+v", b)
	}

	if _, ok := s.Block(42); ok {
		t.Error("expected missing block")
	}

	s.Relink()
	if s.ActiveHead() != 3 {
		t.Errorf("relink should start at the lowest active RBN, got %d", s.ActiveHead())
	}
	if b, _ := s.Block(9); b.Next != block.None {
		t.Errorf("avail block should not be relinked: %+v", b)
	}
}

func TestDumpLogicalCorruption(t *testing.T) {
	cases := []struct {
		name  string
		setup func(s *Store)
	}{
		{
			name: "cycle",
			setup: func(s *Store) {
				s.CreateBlock(1, false, nil, block.None, 2)
				s.CreateBlock(2, false, nil, 1, 1)
			},
		},
		{
			name: "self link",
			setup: func(s *Store) {
				s.CreateBlock(1, false, nil, block.None, 1)
			},
		},
		{
			name: "dangling",
			setup: func(s *Store) {
				s.CreateBlock(1, false, nil, block.None, 7)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore()
			tc.setup(s)

			var out bytes.Buffer
			if err := s.DumpLogical(&out); !errors.Is(err, ErrCorruption) {
				t.Errorf("expected ErrCorruption, got %v", err)
			}
			if strings.Count(out.String(), "RBN: 1 ") != 1 {
				t.Errorf("block 1 should print exactly once:\n%s", out.String())
			}
		})
	}
}

func TestEmptyStore(t *testing.T) {
	s := newTestStore()

	var out bytes.Buffer
	if err := s.DumpLogical(&out); err != nil {
		t.Fatalf("DumpLogical failed: %v", err)
	}
	if out.String() != "Dumping Blocks by Logical Order:\n" {
		t.Errorf("unexpected output: %q", out.String())
	}
	if len(s.Extremes()) != 0 {
		t.Error("expected no groups")
	}

	path, h := buildFile(t, 512, nil)
	if h.BlockCount != 0 || h.ActiveListRBN != header.NoRBN {
		t.Errorf("unexpected header for empty input: %+v", h)
	}
	if _, err := s.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if s.Len() != 0 || s.ActiveHead() != block.None {
		t.Errorf("expected empty store, got %d blocks head %d", s.Len(), s.ActiveHead())
	}
}

func TestValidateFaults(t *testing.T) {
	cases := []struct {
		name  string
		setup func(s *Store)
	}{
		{
			name: "wrong list",
			setup: func(s *Store) {
				s.CreateBlock(1, false, nil, block.None, 2)
				s.CreateBlock(2, true, nil, 1, block.None)
			},
		},
		{
			name: "broken back link",
			setup: func(s *Store) {
				s.CreateBlock(1, false, nil, block.None, 2)
				s.CreateBlock(2, false, nil, 3, block.None)
			},
		},
		{
			name: "cycle",
			setup: func(s *Store) {
				s.CreateBlock(1, false, nil, block.None, 2)
				s.CreateBlock(2, false, nil, 1, 1)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore()
			tc.setup(s)
			if _, err := s.Validate(); !errors.Is(err, ErrCorruption) {
				t.Errorf("expected ErrCorruption, got %v", err)
			}
		})
	}
}

func TestCreateBlockFileRejects(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "block.txt")

	rows := [][]string{{"501", "Holtsville, East", "NY", "Suffolk", "40.8", "-73.0"}}
	_, err := CreateBlockFile(rowsource.NewSlice(postalColumns, rows), path, header.New(),
		WithBuildLogger(log.NewNopLogger()))
	if !errors.Is(err, ErrFieldDelimiter) {
		t.Errorf("expected ErrFieldDelimiter, got %v", err)
	}

	rows = [][]string{{"501", "Holtsville"}}
	_, err = CreateBlockFile(rowsource.NewSlice(postalColumns, rows), path, header.New(),
		WithBuildLogger(log.NewNopLogger()))
	if !errors.Is(err, ErrRowWidth) {
		t.Errorf("expected ErrRowWidth, got %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("no block file should be written on failure, stat err %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no leftover files, found %d", len(entries))
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	h := header.New()
	for _, name := range postalColumns {
		h.AddField(name, "string")
	}
	h.RecordCount = 1
	h.BlockCount = 1
	h.ActiveListRBN = 4

	var buf bytes.Buffer
	if _, err := h.Write(&buf); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("garbage\n")
	buf.WriteString("\n")
	buf.WriteString("x:1,2,3,4,5,6\n")
	buf.WriteString("4:10001,X,A,C,5.0,1.0")

	s := newTestStore()
	res, err := s.Load(&buf)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Blocks != 1 || res.Skipped != 2 {
		t.Errorf("unexpected load result: %+v", res)
	}
	if s.ActiveHead() != 4 {
		t.Errorf("expected active head 4, got %d", s.ActiveHead())
	}
}

func TestLoadBadHeader(t *testing.T) {
	s := newTestStore()
	if _, err := s.Load(strings.NewReader("not a header\n")); err == nil {
		t.Error("expected error for malformed header")
	}
	if _, err := s.LoadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExtremesTiesAndFaults(t *testing.T) {
	s := newTestStore()
	s.CreateBlock(2, false, []string{
		"20001,X,A,C,1.0,1.0",
		"20002,X,A,C,1.0,1.0",
	}, block.None, block.None)
	s.CreateBlock(1, false, []string{
		"10001,X,A,C,bad,1.0",
		"short,record",
	}, block.None, block.None)

	got := s.Extremes()
	if len(got) != 1 {
		t.Fatalf("expected one group, got %d", len(got))
	}
	e := got[0]

	// Block 1 is scanned first, its bad latitude counts as zero
	if e.South.Code != "10001" || e.West.Code != "10001" {
		t.Errorf("unexpected south/west: %s/%s", e.South.Code, e.West.Code)
	}
	if e.North.Code != "20001" {
		t.Errorf("expected first of the tied records to win north, got %s", e.North.Code)
	}
	if e.East.Code != "10001" {
		t.Errorf("equal longitudes should keep the first record, got %s", e.East.Code)
	}
}

func TestDescribe(t *testing.T) {
	s := newTestStore()
	s.CreateBlock(1, false, []string{"a", "b"}, block.None, 2)

	var out bytes.Buffer
	ok, err := s.Describe(&out, 1)
	if err != nil || !ok {
		t.Fatalf("Describe failed: ok=%v err=%v", ok, err)
	}
	want := "Details of Block RBN 1:\nAvailable: No\nRecords: a b\nPredecessor RBN: -1\nSuccessor RBN: 2\n"
	if out.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", out.String(), want)
	}

	out.Reset()
	if ok, _ := s.Describe(&out, 9); ok || !strings.Contains(out.String(), "not found") {
		t.Errorf("expected not-found message, got %q", out.String())
	}
}

func TestLargeRBNs(t *testing.T) {
	s := newTestStore()
	if err := s.CreateBlock(1, false, []string{"a"}, block.None, block.None); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateBlock(MaxRBN, false, []string{"b"}, block.None, block.None); err != nil {
		t.Fatalf("MaxRBN should be accepted: %v", err)
	}
	s.Relink()

	var buf bytes.Buffer
	if err := s.DumpLogical(&buf); err != nil {
		t.Fatalf("DumpLogical failed: %v", err)
	}
	if n := strings.Count(buf.String(), "RBN: "); n != 2 {
		t.Errorf("expected 2 blocks in the chain, got %d: %q", n, buf.String())
	}

	report, err := s.Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if diff := cmp.Diff([]int{1, MaxRBN}, report.Active); diff != "" {
		t.Errorf("active chain mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSkipsOutOfRangeRBN(t *testing.T) {
	path, _ := buildFile(t, 512, exampleRows())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("4294967297:10009,Z,C,C,1.0,1.0\n")
	f.Close()

	s := newTestStore()
	res, err := s.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if res.Blocks != 1 || res.Skipped != 1 {
		t.Errorf("expected 1 block and 1 skipped line, got %+v", res)
	}
	if _, ok := s.Block(1<<32 + 1); ok {
		t.Errorf("out of range block should not be stored")
	}
}
