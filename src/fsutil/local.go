package fsutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LocalFileStore implements FileStore on a directory of the local filesystem
type LocalFileStore struct {
	root string
}

// NewLocalFileStore creates the root directory if needed
func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", root, err)
	}
	return &LocalFileStore{root: root}, nil
}

func (fs *LocalFileStore) path(name string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(fs.root, name), nil
}

// Save writes to a temporary file first so a crash never leaves a truncated upload
func (fs *LocalFileStore) Save(_ context.Context, name string, data []byte) (string, error) {
	path, err := fs.path(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(fs.root, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to store %s: %w", name, err)
	}
	return path, nil
}

func (fs *LocalFileStore) Load(_ context.Context, name string) ([]byte, error) {
	path, err := fs.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (fs *LocalFileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
