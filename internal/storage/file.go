package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"maxrelay/internal/constants"
	"maxrelay/internal/security"
)

// FileDocument stores a document as a single file, replaced atomically on save.
type FileDocument struct {
	path string
}

func NewFileDocument(path string) (*FileDocument, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid document path: %w", err)
	}
	return &FileDocument{path: filepath.Clean(path)}, nil
}

func (f *FileDocument) Name() string {
	return f.path
}

func (f *FileDocument) Load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	return data, nil
}

// Save writes to a temp file in the same directory and renames it over the
// target, so readers never observe a half-written document.
func (f *FileDocument) Save(data []byte) error {
	err := security.EnsureParentDir(f.path, func(dir string) error {
		return os.MkdirAll(dir, constants.DefaultDirectoryPermissions)
	})
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", f.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, constants.DefaultFilePermissions); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}
