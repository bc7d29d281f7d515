package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/logger"
	"github.com/timmy/voicecat/internal/storage"
)

const (
	defaultWorkers    = 4
	defaultMaxRetries = 3
)

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	Layout        Layout
	Workers       int           // parallel shard downloads
	MaxRetries    uint          // attempts per shard download
	RetryInterval time.Duration // first backoff interval, library default when zero
}

// AggregateResult describes the merged artifact produced for a source.
type AggregateResult struct {
	Source         string
	LocalPath      string
	RemotePath     string
	FromCache      bool // the remote merged copy already existed
	Cached         bool // a remote merged copy exists after the call
	ShardCount     int
	EmbeddingCount int
	CacheErr       error // *domain.RemoteCacheWriteError when the upload failed
}

// Aggregator merges per-worker embedding shards into one artifact per source,
// keeping a canonical merged copy in the blob store.
type Aggregator struct {
	store storage.ObjectStorage
	cfg   AggregatorConfig
}

// NewAggregator creates an Aggregator over store.
func NewAggregator(store storage.ObjectStorage, cfg AggregatorConfig) *Aggregator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Layout.Extension == "" {
		cfg.Layout.Extension = ".npz"
	}
	return &Aggregator{store: store, cfg: cfg}
}

// Layout returns the path layout used by the aggregator.
func (a *Aggregator) Layout() Layout {
	return a.cfg.Layout
}

// Aggregate produces the merged artifact of source at its local path.
//
// When the remote merged copy exists it is downloaded and nothing else is
// read or written. Otherwise every shard under the source prefix is
// downloaded, merged and the result uploaded as the remote copy. An upload
// failure is reported in CacheErr and does not fail the call.
func (a *Aggregator) Aggregate(ctx context.Context, source string) (*AggregateResult, error) {
	start := time.Now()
	layout := a.cfg.Layout
	res := &AggregateResult{
		Source:     source,
		LocalPath:  layout.LocalMergedPath(source),
		RemotePath: layout.RemoteMergedPath(source),
	}

	if err := os.MkdirAll(layout.ShardDir(source), 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	exists, err := a.store.Exists(ctx, res.RemotePath)
	if err != nil {
		return nil, fmt.Errorf("check merged artifact %s: %w", res.RemotePath, err)
	}
	if exists {
		logger.CtxInfo(ctx, "Merged artifact already present at %s, downloading", res.RemotePath)
		if err := a.download(ctx, res.RemotePath, res.LocalPath); err != nil {
			return nil, fmt.Errorf("download merged artifact: %w", err)
		}
		keys, err := ReadKeys(res.LocalPath)
		if err != nil {
			return nil, err
		}
		res.FromCache = true
		res.Cached = true
		res.EmbeddingCount = len(keys)
		logger.With(logger.Fields{logger.FieldCount: res.EmbeddingCount}).
			WithDuration(start).Info(ctx, "Loaded merged artifact from cache")
		return res, nil
	}

	shards, err := a.fetchShards(ctx, source)
	if err != nil {
		return nil, err
	}
	res.ShardCount = len(shards)

	merged, err := Merge(shards)
	if err != nil {
		return nil, err
	}
	res.EmbeddingCount = len(merged)

	if err := WriteMembers(res.LocalPath, merged); err != nil {
		return nil, err
	}

	if err := storage.UploadFile(ctx, a.store, res.LocalPath, res.RemotePath); err != nil {
		res.CacheErr = &domain.RemoteCacheWriteError{Path: res.RemotePath, Err: err}
		logger.FromContext(ctx).WithError(err).Errorf("npz file could not be uploaded to %s", res.RemotePath)
	} else {
		res.Cached = true
		logger.CtxInfo(ctx, "npz file uploaded to %s", res.RemotePath)
	}

	logger.With(logger.Fields{
		logger.FieldCount: res.EmbeddingCount,
		"shards":          res.ShardCount,
	}).WithDuration(start).Info(ctx, "Merged embedding shards")
	return res, nil
}

// fetchShards downloads the source's shards concurrently and returns their
// local paths in listing order.
func (a *Aggregator) fetchShards(ctx context.Context, source string) ([]string, error) {
	layout := a.cfg.Layout
	prefix := layout.ShardPrefix(source)

	objects, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list shards under %s: %w", prefix, err)
	}

	// Shards sharing a base name land on the same local file; the last listed wins.
	remoteByLocal := make(map[string]string)
	var locals []string
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Name, layout.Extension) {
			continue
		}
		local := filepath.Join(layout.ShardDir(source), path.Base(obj.Name))
		if prev, ok := remoteByLocal[local]; ok {
			logger.CtxWarn(ctx, "Shard %s overwrites %s at %s", obj.Path(), prev, local)
		} else {
			locals = append(locals, local)
		}
		remoteByLocal[local] = obj.Path()
	}

	if len(locals) == 0 {
		return nil, fmt.Errorf("%w under %s", domain.ErrNoShards, prefix)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for _, local := range locals {
		remote := remoteByLocal[local]
		g.Go(func() error {
			if err := a.download(gctx, remote, local); err != nil {
				return fmt.Errorf("download shard %s: %w", remote, err)
			}
			logger.CtxDebug(gctx, "Downloaded shard %s", remote)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.With(logger.Fields{logger.FieldCount: len(locals)}).Info(ctx, "Downloaded embedding shards from %s", prefix)
	return locals, nil
}

// download copies remote to local, retrying with exponential backoff.
func (a *Aggregator) download(ctx context.Context, remote, local string) error {
	policy := backoff.NewExponentialBackOff()
	if a.cfg.RetryInterval > 0 {
		policy.InitialInterval = a.cfg.RetryInterval
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := storage.DownloadFile(ctx, a.store, remote, local)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(a.cfg.MaxRetries))
	return err
}
