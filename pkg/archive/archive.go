// Package archive packs the data files of a sequence set into a single
// compressed snapshot and restores them. Each file is stored as a frame
// carrying its codec, raw length and an xxhash64 checksum of the raw bytes.
package archive

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

const (
	// Magic opens every archive.
	Magic = "SQSA"
	// CurrentVersion is the archive layout version.
	CurrentVersion = uint16(1)

	headerSize = 4 + 2 + 4
	// name length, codec, raw length, checksum, payload length
	frameFixedSize = 2 + 1 + 8 + 8 + 8
	maxNameLen     = 1<<16 - 1
	maxEntrySize   = 1 << 32
)

var (
	// ErrCorrupt is returned for archives that fail structural or checksum checks.
	ErrCorrupt = errors.New("archive corrupt")
	// ErrBadName is returned for entry names that cannot be restored safely.
	ErrBadName = errors.New("invalid entry name")
)

// Entry is one archived file.
type Entry struct {
	Name string
	Data []byte
}

// Stats summarizes an archive write.
type Stats struct {
	Entries    int
	RawBytes   int64
	StoredSize int64
}

// Write encodes entries to w, compressing each payload with codec.
func Write(w io.Writer, entries []Entry, codec Codec) (Stats, error) {
	comp, err := NewCompressor()
	if err != nil {
		return Stats{}, err
	}
	defer comp.Close()

	var st Stats
	hdr := make([]byte, headerSize)
	copy(hdr[0:4], Magic)
	binary.LittleEndian.PutUint16(hdr[4:6], CurrentVersion)
	binary.LittleEndian.PutUint32(hdr[6:10], uint32(len(entries)))
	if _, err := w.Write(hdr); err != nil {
		return st, fmt.Errorf("failed to write archive header: %w", err)
	}
	st.StoredSize += headerSize

	for _, e := range entries {
		if err := checkName(e.Name); err != nil {
			return st, err
		}

		payload, used, err := comp.Compress(e.Data, codec)
		if err != nil {
			return st, fmt.Errorf("entry %s: %w", e.Name, err)
		}

		frame := make([]byte, frameFixedSize+len(e.Name))
		pos := 0
		binary.LittleEndian.PutUint16(frame[pos:], uint16(len(e.Name)))
		pos += 2
		pos += copy(frame[pos:], e.Name)
		frame[pos] = byte(used)
		pos++
		binary.LittleEndian.PutUint64(frame[pos:], uint64(len(e.Data)))
		pos += 8
		binary.LittleEndian.PutUint64(frame[pos:], xxhash.Sum64(e.Data))
		pos += 8
		binary.LittleEndian.PutUint64(frame[pos:], uint64(len(payload)))

		if _, err := w.Write(frame); err != nil {
			return st, fmt.Errorf("failed to write frame %s: %w", e.Name, err)
		}
		if _, err := w.Write(payload); err != nil {
			return st, fmt.Errorf("failed to write payload %s: %w", e.Name, err)
		}

		st.Entries++
		st.RawBytes += int64(len(e.Data))
		st.StoredSize += int64(len(frame) + len(payload))
	}
	return st, nil
}

// Read decodes every entry from r and verifies its checksum.
func Read(r io.Reader) ([]Entry, error) {
	comp, err := NewCompressor()
	if err != nil {
		return nil, err
	}
	defer comp.Close()

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}
	if string(hdr[0:4]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, hdr[0:4])
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	count := binary.LittleEndian.Uint32(hdr[6:10])

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		e, err := readEntry(r, comp)
		if err != nil {
			return entries, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func readEntry(r io.Reader, comp *Compressor) (Entry, error) {
	var nameLen [2]byte
	if _, err := io.ReadFull(r, nameLen[:]); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	rest := make([]byte, int(binary.LittleEndian.Uint16(nameLen[:]))+frameFixedSize-2)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	n := len(rest) - (frameFixedSize - 2)
	name := string(rest[:n])
	codec := Codec(rest[n])
	rawLen := binary.LittleEndian.Uint64(rest[n+1:])
	checksum := binary.LittleEndian.Uint64(rest[n+9:])
	payloadLen := binary.LittleEndian.Uint64(rest[n+17:])

	if err := checkName(name); err != nil {
		return Entry{}, err
	}
	if rawLen > maxEntrySize || payloadLen > maxEntrySize {
		return Entry{}, fmt.Errorf("%w: %s: implausible size", ErrCorrupt, name)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Entry{}, fmt.Errorf("%w: payload %s: %v", ErrCorrupt, name, err)
	}

	data, err := comp.Decompress(payload, codec, int(rawLen))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	if uint64(len(data)) != rawLen {
		return Entry{}, fmt.Errorf("%w: %s: length %d, want %d", ErrCorrupt, name, len(data), rawLen)
	}
	if xxhash.Sum64(data) != checksum {
		return Entry{}, fmt.Errorf("%w: %s: checksum mismatch", ErrCorrupt, name)
	}
	return Entry{Name: name, Data: data}, nil
}

func checkName(name string) error {
	if name == "" || len(name) > maxNameLen || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}

// WriteFiles archives the files at paths into dst, replacing it atomically.
// Entries are named by base name. Missing files are skipped and returned.
func WriteFiles(dst string, paths []string, codec Codec) (Stats, []string, error) {
	var (
		entries []Entry
		missing []string
	)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			missing = append(missing, p)
			continue
		}
		if err != nil {
			return Stats{}, missing, fmt.Errorf("failed to read %s: %w", p, err)
		}
		entries = append(entries, Entry{Name: filepath.Base(p), Data: data})
	}

	tmpPath := filepath.Join(filepath.Dir(dst), fmt.Sprintf(".%s.tmp", filepath.Base(dst)))
	f, err := os.Create(tmpPath)
	if err != nil {
		return Stats{}, missing, fmt.Errorf("failed to create temporary file: %w", err)
	}

	bw := bufio.NewWriter(f)
	st, err := Write(bw, entries, codec)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return st, missing, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return st, missing, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return st, missing, nil
}

// RestoreFiles extracts the archive at src into dir and returns the written
// paths. Nothing is written unless every entry verifies.
func RestoreFiles(src, dir string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	entries, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}

	written := make([]string, 0, len(entries))
	for _, e := range entries {
		path := filepath.Join(dir, e.Name)
		tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", e.Name))
		if err := os.WriteFile(tmpPath, e.Data, 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", e.Name, err)
		}
		if err := os.Rename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			return written, fmt.Errorf("failed to rename %s: %w", e.Name, err)
		}
		written = append(written, path)
	}
	return written, nil
}
