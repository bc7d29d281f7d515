package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DownloadFile copies the remote object to localPath. The file is written
// to a temporary sibling first and renamed once complete.
func DownloadFile(ctx context.Context, s ObjectStorage, remotePath, localPath string) error {
	rc, err := s.Download(ctx, remotePath)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", localPath, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), filepath.Base(localPath)+".part-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", localPath, err)
	}
	return nil
}

// UploadFile uploads the file at localPath to remotePath.
func UploadFile(ctx context.Context, s ObjectStorage, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	return s.Upload(ctx, remotePath, f, info.Size(), "application/octet-stream")
}
