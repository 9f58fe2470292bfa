package index

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KevoDB/seqset/pkg/common/log"
	"github.com/KevoDB/seqset/pkg/header"
	"github.com/KevoDB/seqset/pkg/lenind"
	"github.com/KevoDB/seqset/pkg/rowsource"
	"github.com/KevoDB/seqset/pkg/seqset"
)

var columns = []string{"zip_code", "place_name", "state", "county", "latitude", "longitude"}

func rows() [][]string {
	return [][]string{
		{"10001", "X", "A", "C", "5.0", "1.0"},
		{"10002", "X", "A", "C", "-5.0", "9.0"},
		{"10003", "X", "B", "C", "2.0", "2.0"},
	}
}

func TestBuildFromBlockFile(t *testing.T) {
	dir := t.TempDir()
	blockPath := filepath.Join(dir, "block.txt")
	indexPath := filepath.Join(dir, "index.idx")

	h := header.New()
	h.BlockSize = 45
	if _, err := seqset.CreateBlockFile(rowsource.NewSlice(columns, rows()), blockPath, h,
		seqset.WithBuildLogger(log.NewNopLogger())); err != nil {
		t.Fatalf("CreateBlockFile failed: %v", err)
	}

	res, err := BuildFromBlockFile(blockPath, indexPath, WithLogger(log.NewNopLogger()))
	if err != nil {
		t.Fatalf("BuildFromBlockFile failed: %v", err)
	}
	if res.Entries != 3 || res.Skipped != 0 {
		t.Errorf("unexpected result: %+v", res)
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "Block,zip_code\n10001 1\n10002 1\n10003 2\n"
	if string(data) != want {
		t.Errorf("index contents:\n%s\nwant:\n%s", data, want)
	}

	e, ok, err := Lookup(indexPath, "10003", KindRBN)
	if err != nil || !ok {
		t.Fatalf("Lookup failed: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(Entry{Key: "10003", Location: 2, Kind: KindRBN}, e); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}

	if _, ok, err := Lookup(indexPath, "99999", KindRBN); ok || err != nil {
		t.Errorf("expected miss, got ok=%v err=%v", ok, err)
	}
	// The header row is never a match
	if _, ok, _ := Lookup(indexPath, "Block,zip_code", KindRBN); ok {
		t.Error("header row should not match")
	}
}

func TestBlockIndexHeaderRowNeverAnEntry(t *testing.T) {
	dir := t.TempDir()
	blockPath := filepath.Join(dir, "block.txt")
	indexPath := filepath.Join(dir, "index.idx")

	cols := append([]string{"Code 1"}, columns[1:]...)
	h := header.New()
	if _, err := seqset.CreateBlockFile(rowsource.NewSlice(cols, rows()), blockPath, h,
		seqset.WithBuildLogger(log.NewNopLogger())); err != nil {
		t.Fatalf("CreateBlockFile failed: %v", err)
	}
	if _, err := BuildFromBlockFile(blockPath, indexPath, WithLogger(log.NewNopLogger())); err != nil {
		t.Fatalf("BuildFromBlockFile failed: %v", err)
	}

	entries, err := ReadAll(indexPath, KindRBN)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != len(rows()) {
		t.Errorf("expected %d entries, got %+v", len(rows()), entries)
	}
	if _, ok, _ := Lookup(indexPath, "Block,Code", KindRBN); ok {
		t.Error("title row should not match")
	}
}

func TestBuildFromBlockFileSkipsBadLines(t *testing.T) {
	dir := t.TempDir()
	blockPath := filepath.Join(dir, "block.txt")
	indexPath := filepath.Join(dir, "index.idx")

	h := header.New()
	for _, c := range columns {
		h.AddField(c, "string")
	}

	var buf bytes.Buffer
	if _, err := h.Write(&buf); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("no colon here\n")
	buf.WriteString("abc:10001,X,A,C,5.0,1.0\n")
	buf.WriteString("3:,X,A,C,5.0,1.0,10009,X,A,C,5.0,1.0\n")
	if err := os.WriteFile(blockPath, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	logger := log.NewStandardLogger(log.WithOutput(&logs), log.WithLevel(log.LevelWarn))
	res, err := BuildFromBlockFile(blockPath, indexPath, WithLogger(logger))
	if err != nil {
		t.Fatalf("BuildFromBlockFile failed: %v", err)
	}
	if res.Entries != 1 || res.Skipped != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
	if !strings.Contains(logs.String(), "skipping line") {
		t.Errorf("expected skip warnings, got %q", logs.String())
	}

	entries, err := ReadAll(indexPath, KindRBN)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if diff := cmp.Diff([]Entry{{Key: "10009", Location: 3}}, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildFromLengthIndicated(t *testing.T) {
	dir := t.TempDir()
	liPath := filepath.Join(dir, "postal.csv")
	indexPath := filepath.Join(dir, "offset.idx")

	data := rows()
	data[1][1] = "Comma, Town"

	var buf bytes.Buffer
	if _, err := lenind.Convert(rowsource.NewSlice(columns, data), &buf,
		lenind.WithLogger(log.NewNopLogger())); err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	buf.WriteString("garbage line\n")
	if err := os.WriteFile(liPath, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := BuildFromLengthIndicated(liPath, indexPath, WithLogger(log.NewNopLogger()))
	if err != nil {
		t.Fatalf("BuildFromLengthIndicated failed: %v", err)
	}
	if res.Entries != 3 || res.Skipped != 1 {
		t.Errorf("unexpected result: %+v", res)
	}

	f, err := os.Open(liPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	for _, row := range data {
		e, ok, err := Lookup(indexPath, row[0], KindOffset)
		if err != nil || !ok {
			t.Fatalf("Lookup(%s) failed: ok=%v err=%v", row[0], ok, err)
		}

		// Every offset must land on the start of its record
		if _, err := f.Seek(e.Location, 0); err != nil {
			t.Fatal(err)
		}
		line, err := bufio.NewReader(f).ReadString('\n')
		if err != nil {
			t.Fatalf("read at offset %d: %v", e.Location, err)
		}
		fields, err := lenind.DecodeRecord(line)
		if err != nil {
			t.Fatalf("decode at offset %d: %v", e.Location, err)
		}
		if fields[0] != row[0] || fields[1] != row[1] {
			t.Errorf("offset %d holds %v, want key %s", e.Location, fields, row[0])
		}
	}
}

func TestParseEntry(t *testing.T) {
	cases := []struct {
		line string
		key  string
		loc  int64
		ok   bool
	}{
		{"10001 1", "10001", 1, true},
		{"10001 204\r\n", "10001", 204, true},
		{"Block,Zip Code", "", 0, false},
		{"nospace", "", 0, false},
		{" 5", "", 0, false},
	}
	for _, tc := range cases {
		key, loc, ok := parseEntry(tc.line)
		if key != tc.key || loc != tc.loc || ok != tc.ok {
			t.Errorf("parseEntry(%q) = %q, %d, %v", tc.line, key, loc, ok)
		}
	}
}

func TestLookupMissingIndex(t *testing.T) {
	if _, _, err := Lookup(filepath.Join(t.TempDir(), "none.idx"), "1", KindRBN); err == nil {
		t.Error("expected error for missing index")
	}
}
