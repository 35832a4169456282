// Package store manages the on-disk layout of a snapshot's manifest and
// chunks: writing verified chunks to disk, serving them back out of a
// bounded read cache, and extracting the completed chunk set into a chain
// data directory.
package store

import (
	"archive/tar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/ZclassicCommunity/zclassic/cache"
	"github.com/ZclassicCommunity/zclassic/cache/memory"
	"github.com/ZclassicCommunity/zclassic/snapshot"
)

const (
	manifestFileName = "manifest.bin"
	chunksDirName    = "chunks"

	// defaultCacheSize bounds the number of decoded chunks held in memory
	// at once; a chunk is ChunkSize bytes, so this trades a bounded amount
	// of memory for avoiding repeat disk reads of recently-served chunks.
	defaultCacheSize = 8
)

// Config configures a ChunkStore.
type Config struct {
	// DataDir is the root directory the store owns: it contains the
	// manifest file and the chunks subdirectory.
	DataDir string

	// CacheSize is the number of chunks kept in the in-memory read cache.
	// Zero selects defaultCacheSize.
	CacheSize int

	Logger *slog.Logger
}

// ChunkStore owns the manifest and chunk files for a single snapshot
// download, mediating all disk access behind a mutex so a caller never
// observes a half-written chunk.
type ChunkStore struct {
	mu       sync.RWMutex
	dataDir  string
	manifest *snapshot.Manifest
	cache    cache.ChunkCache
	log      *slog.Logger
}

// New creates a ChunkStore rooted at cfg.DataDir. It does not require a
// manifest to already exist; call Initialize or LoadManifest next.
func New(cfg Config) (*ChunkStore, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required")
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}

	chunkCache, err := memory.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk cache: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(filepath.Join(cfg.DataDir, chunksDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunks directory: %w", err)
	}

	return &ChunkStore{
		dataDir: cfg.DataDir,
		cache:   chunkCache,
		log:     log,
	}, nil
}

// Initialize pins m as the manifest for this store, persisting it to disk.
// It rejects an invalid manifest before touching the filesystem.
func (s *ChunkStore) Initialize(m *snapshot.Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("refusing to initialize with invalid manifest: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, s.manifestPath()); err != nil {
		return fmt.Errorf("failed to commit manifest: %w", err)
	}

	s.manifest = m
	s.log.Info("snapshot manifest initialized", "height", m.Height, "chunks", m.ChunkCount(), "totalSize", m.TotalSize)
	return nil
}

// LoadManifest reads and validates the manifest previously written by
// Initialize, caching it on the store for subsequent calls.
func (s *ChunkStore) LoadManifest() (*snapshot.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.manifestPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := snapshot.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if !m.IsValid() {
		return nil, fmt.Errorf("manifest on disk is invalid")
	}

	s.manifest = m
	return m, nil
}

// Manifest returns the currently pinned manifest, or nil if none has been
// set via Initialize or LoadManifest.
func (s *ChunkStore) Manifest() *snapshot.Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest
}

// HasChunk reports whether chunk index is present on disk.
func (s *ChunkStore) HasChunk(index uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.chunkPath(index))
	return err == nil
}

// SaveChunk verifies data against the pinned manifest and, on success,
// writes it to disk atomically and warms the read cache.
func (s *ChunkStore) SaveChunk(index uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manifest == nil {
		return fmt.Errorf("no manifest loaded")
	}
	if !snapshot.VerifyChunk(s.manifest, index, data) {
		return fmt.Errorf("chunk %d failed verification", index)
	}

	path := s.chunkPath(index)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit chunk %d: %w", index, err)
	}

	if err := s.cache.Put(index, data); err != nil {
		return fmt.Errorf("failed to warm cache for chunk %d: %w", index, err)
	}
	return nil
}

// LoadChunk returns the bytes of chunk index, from the read cache if
// present, otherwise from disk.
func (s *ChunkStore) LoadChunk(index uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := s.cache.Get(index); ok {
		return data, nil
	}

	data, err := os.ReadFile(s.chunkPath(index))
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", index, err)
	}

	if err := s.cache.Put(index, data); err != nil {
		return nil, fmt.Errorf("failed to warm cache for chunk %d: %w", index, err)
	}
	return data, nil
}

// ExtractSnapshot concatenates every chunk in order, gzip-decompresses and
// untars the resulting stream directly into destDir, without shelling out
// to an external archive tool.
func (s *ChunkStore) ExtractSnapshot(destDir string) error {
	s.mu.RLock()
	m := s.manifest
	s.mu.RUnlock()

	if m == nil {
		return fmt.Errorf("no manifest loaded")
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.streamChunks(m, pw))
	}()

	gz, err := gzip.NewReader(pr)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	if err := extractTar(gz, destDir); err != nil {
		return fmt.Errorf("failed to extract snapshot: %w", err)
	}

	s.log.Info("snapshot extracted", "destDir", destDir, "height", m.Height)
	return nil
}

// streamChunks writes every chunk's bytes, in index order, to w.
func (s *ChunkStore) streamChunks(m *snapshot.Manifest, w io.Writer) error {
	for i := uint32(0); i < m.ChunkCount(); i++ {
		data, err := s.LoadChunk(i)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// extractTar walks a tar stream, writing regular files and directories
// under destDir. Entries whose resolved path would escape destDir are
// rejected.
func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, hdr.Name)
		if !isWithinDir(destDir, target) {
			return fmt.Errorf("tar entry %q escapes destination directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)|0o600)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}

func isWithinDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CleanupChunks recursively removes the store's entire data directory
// (manifest and chunk files alike), freeing disk space after a successful
// extraction. The store is unusable afterward; a caller that wants to keep
// using it must call Initialize or LoadManifest again first.
func (s *ChunkStore) CleanupChunks() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dataDir); err != nil {
		return fmt.Errorf("failed to remove snapshot directory: %w", err)
	}

	s.manifest = nil
	if err := s.cache.Clear(); err != nil {
		return fmt.Errorf("failed to clear chunk cache: %w", err)
	}
	return nil
}

func (s *ChunkStore) manifestPath() string {
	return filepath.Join(s.dataDir, manifestFileName)
}

func (s *ChunkStore) chunkPath(index uint32) string {
	return filepath.Join(s.dataDir, chunksDirName, fmt.Sprintf("chunk_%08d.dat", index))
}
