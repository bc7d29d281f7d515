package embedding

import (
	"path/filepath"

	"github.com/timmy/voicecat/internal/storage"
)

// Layout resolves the local and remote locations used for one source.
type Layout struct {
	EmbeddingsPath string // bucket/prefix holding shard folders per source
	ProcessedPath  string // bucket/prefix holding merged artifacts per source
	StagingDir     string
	Extension      string
}

// SourceDir is the local staging directory of source.
func (l Layout) SourceDir(source string) string {
	return filepath.Join(l.StagingDir, source)
}

// ShardDir is where downloaded shards of source are written.
func (l Layout) ShardDir(source string) string {
	return filepath.Join(l.SourceDir(source), "embeddings")
}

// MergedFileName is the file name of the merged artifact.
func (l Layout) MergedFileName(source string) string {
	return source + "_embed_file" + l.Extension
}

// LocalMergedPath is the local merged artifact of source.
func (l Layout) LocalMergedPath(source string) string {
	return filepath.Join(l.SourceDir(source), l.MergedFileName(source))
}

// RemoteMergedPath is the canonical remote copy of the merged artifact.
func (l Layout) RemoteMergedPath(source string) string {
	return storage.JoinPath(l.ProcessedPath, source, l.MergedFileName(source))
}

// ShardPrefix is the remote listing prefix of source's shards. The trailing
// slash keeps sources sharing a name prefix apart.
func (l Layout) ShardPrefix(source string) string {
	return storage.JoinPath(l.EmbeddingsPath, source) + "/"
}
