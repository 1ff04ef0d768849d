package asset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// LocalStorage keeps assets as flat files in one upload directory.
type LocalStorage struct {
	dir string
}

// NewLocalStorage creates dir if needed and stores assets in it.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &LocalStorage{dir: dir}, nil
}

func (s *LocalStorage) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	ref, err := newRef(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, ref)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	log.Debugf("[Asset] stored %s", ref)
	return ref, nil
}

// Delete removes the file. A file that is already gone is not an error.
func (s *LocalStorage) Delete(ctx context.Context, ref string) error {
	if !validRef(ref) {
		return ErrInvalidRef
	}
	err := os.Remove(filepath.Join(s.dir, ref))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Retrieve opens the file behind ref. Missing files map to ErrNotFound.
func (s *LocalStorage) Retrieve(ctx context.Context, ref string) (io.ReadCloser, error) {
	if !validRef(ref) {
		return nil, ErrInvalidRef
	}
	f, err := os.Open(filepath.Join(s.dir, ref))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}
