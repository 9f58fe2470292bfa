package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
)

// FileState is the fingerprint of a data file taken when its index was last
// rebuilt. Only the body is hashed so that header bookkeeping such as the
// stale flag does not change it.
type FileState struct {
	Checksum    uint64 `json:"checksum"`
	BodyBytes   int64  `json:"body_bytes"`
	SkipLines   int    `json:"skip_lines"`
	IndexedAt   int64  `json:"indexed_at"`
	IndexedFile string `json:"indexed_file"`
}

// Manifest records, per data file, the fingerprint its index was built from.
type Manifest struct {
	Version int                  `json:"version"`
	Files   map[string]FileState `json:"files"`

	path string
}

// NewManifest creates an empty manifest stored in dir.
func NewManifest(dir string) *Manifest {
	return &Manifest{
		Version: CurrentConfigVersion,
		Files:   make(map[string]FileState),
		path:    filepath.Join(dir, DefaultManifestFileName),
	}
}

// LoadManifest loads the manifest stored in dir.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, DefaultManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m := &Manifest{path: path}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.Files == nil {
		m.Files = make(map[string]FileState)
	}

	return m, nil
}

// LoadOrCreateManifest loads the manifest in dir, or returns an empty one.
func LoadOrCreateManifest(dir string) (*Manifest, error) {
	m, err := LoadManifest(dir)
	if err == ErrManifestNotFound {
		return NewManifest(dir), nil
	}
	return m, err
}

// Save persists the manifest to disk
func (m *Manifest) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tempPath := m.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}

// Record fingerprints dataPath (skipping skipLines header lines) and stores
// it as the state indexFile was built from.
func (m *Manifest) Record(dataPath string, skipLines int, indexFile string) (FileState, error) {
	state, err := Fingerprint(dataPath, skipLines)
	if err != nil {
		return FileState{}, err
	}
	state.IndexedAt = time.Now().Unix()
	state.IndexedFile = indexFile
	m.Files[filepath.Base(dataPath)] = state
	return state, nil
}

// Stale reports whether dataPath changed since its index was recorded. A file
// that was never recorded is stale.
func (m *Manifest) Stale(dataPath string) (bool, error) {
	recorded, ok := m.Files[filepath.Base(dataPath)]
	if !ok {
		return true, nil
	}

	current, err := Fingerprint(dataPath, recorded.SkipLines)
	if err != nil {
		return false, err
	}

	return current.Checksum != recorded.Checksum || current.BodyBytes != recorded.BodyBytes, nil
}

// Fingerprint hashes everything after the first skipLines lines of path.
func Fingerprint(path string, skipLines int) (FileState, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileState{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for i := 0; i < skipLines; i++ {
		if _, err := r.ReadString('\n'); err != nil {
			if err == io.EOF {
				break
			}
			return FileState{}, fmt.Errorf("failed to skip header of %s: %w", path, err)
		}
	}

	h := xxhash.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return FileState{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return FileState{Checksum: h.Sum64(), BodyBytes: n, SkipLines: skipLines}, nil
}
