package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorage implements ObjectStorage on a directory tree, one
// subdirectory per bucket. It backs development runs and tests.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a local storage rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{basePath: abs}, nil
}

func (s *LocalStorage) fullPath(path string) (string, error) {
	bucket, key, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.basePath, bucket, filepath.FromSlash(key))
	if !strings.HasPrefix(full, s.basePath) {
		return "", fmt.Errorf("%w: %q escapes base path", ErrInvalidPath, path)
	}
	return full, nil
}

// List returns the files whose key starts with the prefix, sorted by name.
func (s *LocalStorage) List(_ context.Context, path string) ([]ObjectInfo, error) {
	bucket, prefix, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	bucketDir := filepath.Join(s.basePath, bucket)

	var objects []ObjectInfo
	err = filepath.WalkDir(bucketDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(bucketDir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{
			Bucket:       bucket,
			Name:         name,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ObjectInfo{}, nil
		}
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Name < objects[j].Name
	})
	return objects, nil
}

// Exists checks whether a local file exists.
func (s *LocalStorage) Exists(_ context.Context, path string) (bool, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return !info.IsDir(), nil
}

// Download opens the local file at path.
func (s *LocalStorage) Download(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	return f, nil
}

// Upload writes reader to the local file at path, creating parent directories.
func (s *LocalStorage) Upload(_ context.Context, path string, reader io.Reader, _ int64, _ string) error {
	full, err := s.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return f.Close()
}

// Delete removes a local file. Missing files are not an error.
func (s *LocalStorage) Delete(_ context.Context, path string) error {
	full, err := s.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetURL returns a file:// URL for the object.
func (s *LocalStorage) GetURL(path string) string {
	full, err := s.fullPath(path)
	if err != nil {
		return ""
	}
	u := &url.URL{Scheme: "file", Path: full}
	return u.String()
}
