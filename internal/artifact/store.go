package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/veldtlabs/veldt/pkg/types"
)

// Store persists and retrieves artifact documents by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys under a prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
	Name() string
}

// NewStore builds a Store from artifact configuration.
func NewStore(cfg types.ArtifactConfig) (Store, error) {
	switch cfg.Type {
	case types.ArtifactFile:
		return NewFileStore(cfg.Dir)
	case types.ArtifactS3:
		return NewS3Store(cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown artifact type %q", cfg.Type)
	}
}

// FileStore keeps artifacts under a local directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed artifact store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Name returns the store identifier.
func (s *FileStore) Name() string { return "file" }

// Put writes an artifact atomically: temp file then rename, so readers
// never observe a partial document.
func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating artifact subdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("closing artifact: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Get reads an artifact by key.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(key)))
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", key, err)
	}
	return data, nil
}

// List returns the keys under a prefix, sorted.
func (s *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !strings.HasPrefix(filepath.Base(key), ".tmp-") {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
