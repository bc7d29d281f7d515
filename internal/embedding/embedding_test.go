package embedding

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sbinet/npyio/npz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/storage"
)

// countingStore records calls made against a LocalStorage.
type countingStore struct {
	*storage.LocalStorage
	lists     atomic.Int32
	downloads atomic.Int32
	uploads   atomic.Int32
	failPut   bool
}

func (c *countingStore) List(ctx context.Context, path string) ([]storage.ObjectInfo, error) {
	c.lists.Add(1)
	return c.LocalStorage.List(ctx, path)
}

func (c *countingStore) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	c.downloads.Add(1)
	return c.LocalStorage.Download(ctx, path)
}

func (c *countingStore) Upload(ctx context.Context, path string, r io.Reader, size int64, ct string) error {
	c.uploads.Add(1)
	if c.failPut {
		return errors.New("bucket is read-only")
	}
	return c.LocalStorage.Upload(ctx, path, r, size, ct)
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return &countingStore{LocalStorage: local}
}

func writeShard(t *testing.T, dir, name string, art Artifact) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, WriteArtifact(p, art))
	return p
}

func putShard(t *testing.T, s storage.ObjectStorage, remote string, art Artifact) {
	t.Helper()
	local := writeShard(t, t.TempDir(), filepath.Base(remote), art)
	require.NoError(t, storage.UploadFile(context.Background(), s, local, remote))
}

func newTestAggregator(s storage.ObjectStorage, staging string) *Aggregator {
	return NewAggregator(s, AggregatorConfig{
		Layout: Layout{
			EmbeddingsPath: "speech/embeddings",
			ProcessedPath:  "speech/processed",
			StagingDir:     staging,
			Extension:      ".npz",
		},
		Workers:       2,
		MaxRetries:    1,
		RetryInterval: time.Millisecond,
	})
}

func TestArtifact_WriteRead(t *testing.T) {
	art := Artifact{
		"u2.wav": {0.5, -1, 2},
		"u1.wav": {1, 2, 3},
	}
	p := writeShard(t, t.TempDir(), "a.npz", art)

	got, err := ReadArtifact(p)
	require.NoError(t, err)
	assert.Equal(t, art, got)

	keys, err := ReadKeys(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1.wav", "u2.wav"}, keys)
}

func TestMerge_CompleteAndOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	a := writeShard(t, dir, "a.npz", Artifact{"u1.wav": {1}, "u2.wav": {2}})
	b := writeShard(t, dir, "b.npz", Artifact{"u3.wav": {3}})
	c := writeShard(t, dir, "c.npz", Artifact{"u4.wav": {4}, "u5.wav": {5}})

	forward, err := Merge([]string{a, b, c})
	require.NoError(t, err)
	backward, err := Merge([]string{c, b, a})
	require.NoError(t, err)

	assert.Len(t, forward, 5)
	assert.Equal(t, forward, backward)
	assert.Equal(t, Member{F32: []float32{3}}, forward["u3.wav"])
}

// writeWideShard writes a shard whose members are stored as f8.
func writeWideShard(t *testing.T, dir, name string, members map[string][]float64) string {
	t.Helper()
	p := filepath.Join(dir, name)
	w, err := npz.Create(p)
	require.NoError(t, err)
	for key, vec := range members {
		require.NoError(t, w.Write(key+".npy", vec))
	}
	require.NoError(t, w.Close())
	return p
}

func readWide(t *testing.T, path, key string) []float64 {
	t.Helper()
	r, err := npz.Open(path)
	require.NoError(t, err)
	defer r.Close()
	var vec []float64
	require.NoError(t, r.Read(key+".npy", &vec))
	return vec
}

func TestMerge_KeepsDtypeAndValues(t *testing.T) {
	dir := t.TempDir()
	wideVec := []float64{0.1234567890123, 1e-50}
	wide := writeWideShard(t, dir, "wide.npz", map[string][]float64{"u1.wav": wideVec})
	narrow := writeShard(t, dir, "narrow.npz", Artifact{"u2.wav": {0.5, 2}})

	merged, err := Merge([]string{wide, narrow})
	require.NoError(t, err)
	assert.Equal(t, Member{F64: wideVec}, merged["u1.wav"])
	assert.Equal(t, Member{F32: []float32{0.5, 2}}, merged["u2.wav"])

	out := filepath.Join(dir, "merged.npz")
	require.NoError(t, WriteMembers(out, merged))

	assert.Equal(t, wideVec, readWide(t, out, "u1.wav"))

	reread, err := ReadMembers(out)
	require.NoError(t, err)
	assert.Equal(t, merged, reread)

	art, err := ReadArtifact(out)
	require.NoError(t, err)
	assert.Equal(t, []float32{float32(0.1234567890123), 0}, art["u1.wav"])
	assert.Equal(t, []float32{0.5, 2}, art["u2.wav"])
}

func TestReadMembers_RejectsOtherDtypes(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ints.npz")
	w, err := npz.Create(p)
	require.NoError(t, err)
	require.NoError(t, w.Write("u1.wav.npy", []int32{1, 2}))
	require.NoError(t, w.Close())

	_, err = ReadMembers(p)
	assert.ErrorContains(t, err, "expected f4 or f8 array")
}

func TestMerge_DuplicateKey(t *testing.T) {
	dir := t.TempDir()
	a := writeShard(t, dir, "a.npz", Artifact{"u1.wav": {1}})
	b := writeShard(t, dir, "b.npz", Artifact{"u1.wav": {9}})

	_, err := Merge([]string{a, b})

	var integrity *domain.AggregationIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "u1.wav", integrity.Key)
	assert.Equal(t, a, integrity.FirstShard)
	assert.Equal(t, b, integrity.SecondShard)
}

func TestMerge_NoShards(t *testing.T) {
	_, err := Merge(nil)
	assert.ErrorIs(t, err, domain.ErrNoShards)
}

func TestAggregate_MergesAndCaches(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	putShard(t, s, "speech/embeddings/src/w1.npz", Artifact{"u1.wav": {1, 1}})
	putShard(t, s, "speech/embeddings/src/w2.npz", Artifact{"u2.wav": {2, 2}, "u3.wav": {3, 3}})
	putShard(t, s, "speech/embeddings/src/notes.txt", Artifact{"ignored.wav": {0}})
	putShard(t, s, "speech/embeddings/src2/w9.npz", Artifact{"other.wav": {9}})
	s.uploads.Store(0)

	staging := t.TempDir()
	res, err := newTestAggregator(s, staging).Aggregate(ctx, "src")
	require.NoError(t, err)

	assert.False(t, res.FromCache)
	assert.True(t, res.Cached)
	assert.NoError(t, res.CacheErr)
	assert.Equal(t, 2, res.ShardCount)
	assert.Equal(t, 3, res.EmbeddingCount)
	assert.Equal(t, "speech/processed/src/src_embed_file.npz", res.RemotePath)
	assert.Equal(t, filepath.Join(staging, "src", "src_embed_file.npz"), res.LocalPath)
	assert.Equal(t, int32(1), s.uploads.Load())

	exists, err := s.Exists(ctx, res.RemotePath)
	require.NoError(t, err)
	assert.True(t, exists)

	merged, err := ReadArtifact(res.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, Artifact{"u1.wav": {1, 1}, "u2.wav": {2, 2}, "u3.wav": {3, 3}}, merged)

	_, err = os.Stat(filepath.Join(staging, "src", "embeddings", "w1.npz"))
	assert.NoError(t, err)
}

func TestAggregate_KeepsWideShards(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	wideVec := []float64{0.1234567890123, 1e-50, -3.5}
	local := writeWideShard(t, t.TempDir(), "w1.npz", map[string][]float64{"u1.wav": wideVec})
	require.NoError(t, storage.UploadFile(ctx, s, local, "speech/embeddings/src/w1.npz"))
	putShard(t, s, "speech/embeddings/src/w2.npz", Artifact{"u2.wav": {2}})

	res, err := newTestAggregator(s, t.TempDir()).Aggregate(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, 2, res.EmbeddingCount)

	assert.Equal(t, wideVec, readWide(t, res.LocalPath, "u1.wav"))
	members, err := ReadMembers(res.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, Member{F32: []float32{2}}, members["u2.wav"])
}

func TestAggregate_IdempotentFromCache(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	putShard(t, s, "speech/embeddings/src/w1.npz", Artifact{"u1.wav": {1}})
	putShard(t, s, "speech/embeddings/src/w2.npz", Artifact{"u2.wav": {2}})

	first, err := newTestAggregator(s, t.TempDir()).Aggregate(ctx, "src")
	require.NoError(t, err)
	firstArt, err := ReadArtifact(first.LocalPath)
	require.NoError(t, err)

	// A new shard appearing later is ignored while the cached copy exists.
	putShard(t, s, "speech/embeddings/src/w3.npz", Artifact{"u3.wav": {3}})
	s.lists.Store(0)
	s.downloads.Store(0)
	s.uploads.Store(0)

	second, err := newTestAggregator(s, t.TempDir()).Aggregate(ctx, "src")
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, 2, second.EmbeddingCount)
	assert.Equal(t, int32(0), s.lists.Load())
	assert.Equal(t, int32(1), s.downloads.Load())
	assert.Equal(t, int32(0), s.uploads.Load())

	secondArt, err := ReadArtifact(second.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, firstArt, secondArt)
}

func TestAggregate_UploadFailureIsNotFatal(t *testing.T) {
	s := newStore(t)
	putShard(t, s, "speech/embeddings/src/w1.npz", Artifact{"u1.wav": {1}})
	s.failPut = true

	res, err := newTestAggregator(s, t.TempDir()).Aggregate(context.Background(), "src")
	require.NoError(t, err)

	var cacheErr *domain.RemoteCacheWriteError
	require.ErrorAs(t, res.CacheErr, &cacheErr)
	assert.Equal(t, "speech/processed/src/src_embed_file.npz", cacheErr.Path)
	assert.False(t, res.Cached)

	_, statErr := os.Stat(res.LocalPath)
	assert.NoError(t, statErr)
}

func TestAggregate_DuplicateAcrossShards(t *testing.T) {
	s := newStore(t)
	putShard(t, s, "speech/embeddings/src/w1.npz", Artifact{"u1.wav": {1}})
	putShard(t, s, "speech/embeddings/src/w2.npz", Artifact{"u1.wav": {2}})
	s.uploads.Store(0)

	_, err := newTestAggregator(s, t.TempDir()).Aggregate(context.Background(), "src")

	var integrity *domain.AggregationIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "u1.wav", integrity.Key)
	assert.Equal(t, int32(0), s.uploads.Load())
}

func TestAggregate_NoShards(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Upload(context.Background(), "speech/embeddings/src/readme.txt", strings.NewReader("x"), 1, "text/plain"))

	_, err := newTestAggregator(s, t.TempDir()).Aggregate(context.Background(), "src")
	assert.ErrorIs(t, err, domain.ErrNoShards)
}

func TestAggregate_BaseNameCollisionKeepsLastListed(t *testing.T) {
	s := newStore(t)
	putShard(t, s, "speech/embeddings/src/a/w.npz", Artifact{"u1.wav": {1}})
	putShard(t, s, "speech/embeddings/src/b/w.npz", Artifact{"u2.wav": {2}})

	res, err := newTestAggregator(s, t.TempDir()).Aggregate(context.Background(), "src")
	require.NoError(t, err)

	assert.Equal(t, 1, res.ShardCount)
	merged, err := ReadArtifact(res.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, Artifact{"u2.wav": {2}}, merged)
}
