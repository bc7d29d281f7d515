package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned for paths without a bucket segment.
var ErrInvalidPath = errors.New("storage: invalid object path")

// SplitPath splits "bucket/key/..." into the bucket and the remaining key.
// The key may be empty when path names only a bucket.
func SplitPath(path string) (bucket, key string, err error) {
	path = strings.TrimPrefix(path, "/")
	bucket, key, _ = strings.Cut(path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return bucket, key, nil
}

// JoinPath joins path segments with "/", dropping empty segments and
// duplicate separators.
func JoinPath(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}
