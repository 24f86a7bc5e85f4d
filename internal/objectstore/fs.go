package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"clothseg/internal/models"
)

// FSStore keeps objects on local disk under a base directory. The HTTP
// server exposes the directory at /files, so URLs are baseURL + /files/key.
type FSStore struct {
	base    string
	baseURL string
}

func NewFSStore(base, baseURL string) (*FSStore, error) {
	const op = "objectstore.NewFSStore"
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &FSStore{base: base, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the directory the server should serve at /files.
func (s *FSStore) Dir() string { return s.base }

func (s *FSStore) path(key string) string {
	return filepath.Join(s.base, filepath.FromSlash(key))
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	const op = "objectstore.FSStore.Put"
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("%s: %w: %v", op, models.ErrStorage, err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", fmt.Errorf("%s: %w: %v", op, models.ErrStorage, err)
	}
	return s.url(key), nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "objectstore.FSStore.Get"
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrStorage, err)
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	const op = "objectstore.FSStore.Delete"
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w: %v", op, models.ErrStorage, err)
	}
	return nil
}

func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("objectstore.FSStore.Exists: %w: %v", models.ErrStorage, err)
	}
	return true, nil
}

func (s *FSStore) URL(ctx context.Context, key string) (string, error) {
	return s.url(key), nil
}

func (s *FSStore) url(key string) string {
	return s.baseURL + "/files/" + key
}

var _ Store = (*FSStore)(nil)
