package invoice

import (
	"fmt"
	"os"
	"path/filepath"
)

// Archive keeps the source document of every stored invoice
type Archive interface {
	// Put stores data under name and returns the name to retrieve it by
	Put(name string, data []byte) (string, error)

	// Get returns the document stored under name
	Get(name string) ([]byte, error)

	// Delete removes the document stored under name
	Delete(name string) error
}

// DirArchive is an Archive backed by a directory
type DirArchive struct {
	dir string
}

// NewDirArchive creates dir if needed and returns an archive rooted there
func NewDirArchive(dir string) (*DirArchive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &DirArchive{dir: dir}, nil
}

// path confines name to the archive directory
func (a *DirArchive) path(name string) (string, error) {
	base := filepath.Base(name)
	if base != name || base == "." || base == ".." {
		return "", fmt.Errorf("invalid archive name %q", name)
	}
	return filepath.Join(a.dir, base), nil
}

func (a *DirArchive) Put(name string, data []byte) (string, error) {
	path, err := a.path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

func (a *DirArchive) Get(name string) ([]byte, error) {
	path, err := a.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

func (a *DirArchive) Delete(name string) error {
	path, err := a.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
