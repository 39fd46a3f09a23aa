package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrPathEscapes  = errors.New("path escapes working directory")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
)

// PathValidator confines file operations to one directory tree using the
// os.Root API. Export and import files go through it.
type PathValidator struct {
	root     *os.Root
	rootPath string
}

// New creates a PathValidator rooted at dir.
func New(dir string) (*PathValidator, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open root: %w", err)
	}

	return &PathValidator{
		root:     root,
		rootPath: absPath,
	}, nil
}

// Close releases resources held by the PathValidator.
func (pv *PathValidator) Close() error {
	if pv.root != nil {
		return pv.root.Close()
	}
	return nil
}

// ValidateAndNormalize validates a user-provided path and returns it cleaned
// and relative to the root. It rejects:
// - Empty paths
// - Absolute paths
// - Paths that escape the root (using ..)
// - Windows reserved names (CON, NUL, etc.)
func (pv *PathValidator) ValidateAndNormalize(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}

	// filepath.IsLocal rejects absolute paths, escaping paths and reserved names
	if !filepath.IsLocal(userPath) {
		if filepath.IsAbs(userPath) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, userPath)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	cleanPath := filepath.Clean(userPath)

	relPath, err := filepath.Rel(pv.rootPath, filepath.Join(pv.rootPath, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	return relPath, nil
}

// WriteFileAtomic writes data to path inside the root. The data goes to a
// temporary file in the same directory first, which is then renamed over
// path, so readers never see a partial file.
func (pv *PathValidator) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	rel, err := pv.ValidateAndNormalize(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	// Resolving the parent through the root rejects symlinks leading out
	dir := filepath.Dir(rel)
	if info, err := pv.root.Stat(dir); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("invalid path: %s is not a directory", dir)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(rel)+"."+uuid.NewString()[:8]+".tmp")
	f, err := pv.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		pv.root.Remove(tmp)
		return fmt.Errorf("failed to write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		pv.root.Remove(tmp)
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err := f.Close(); err != nil {
		pv.root.Remove(tmp)
		return err
	}

	if err := os.Rename(filepath.Join(pv.rootPath, tmp), filepath.Join(pv.rootPath, rel)); err != nil {
		pv.root.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", rel, err)
	}
	return nil
}

// ReadFileInRoot reads a file inside the root.
func (pv *PathValidator) ReadFileInRoot(path string) ([]byte, error) {
	rel, err := pv.ValidateAndNormalize(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return pv.root.ReadFile(rel)
}
