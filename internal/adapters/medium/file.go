package medium

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"syscall"

	"github.com/bft-labs/perfship/internal/domain"
)

const fileSuffix = ".json"

// File is a persistent-scoped medium storing each key in its own file under dir.
type File struct {
	dir string
}

// NewFile creates a File medium rooted at dir. The directory is created lazily.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

// GetItem reads the file for key.
// Returns "", false and nil error if no file exists.
func (f *File) GetItem(key string) (string, bool, error) {
	data, err := os.ReadFile(f.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// SetItem persists value atomically (write to temp file, then rename).
// A full or over-quota filesystem surfaces as domain.ErrQuotaExceeded.
func (f *File) SetItem(key, value string) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return err
	}

	path := f.Path(key)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		_ = os.Remove(tmp)
		return mapQuota(err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return mapQuota(err)
	}
	return nil
}

// RemoveItem deletes the file for key.
func (f *File) RemoveItem(key string) error {
	err := os.Remove(f.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Path returns the full path of the file backing key.
func (f *File) Path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+fileSuffix)
}

func mapQuota(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", domain.ErrQuotaExceeded, err)
	}
	return err
}
