// Package app wires configuration into the storage, catalogue, adapters and
// analysis service shared by the command line and the API server.
package app

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/voicecat/internal/analysis"
	"github.com/timmy/voicecat/internal/config"
	"github.com/timmy/voicecat/internal/embedding"
	"github.com/timmy/voicecat/internal/logger"
	"github.com/timmy/voicecat/internal/repository"
	"github.com/timmy/voicecat/internal/service"
	"github.com/timmy/voicecat/internal/storage"
)

// App holds the long-lived components of a process.
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Store      storage.ObjectStorage
	Catalogue  *repository.CatalogueRepository
	Runs       *repository.RunRepository
	Index      *repository.VoiceIndex // nil unless voice indexing is enabled
	Aggregator *embedding.Aggregator
	Analysis   *service.AudioAnalysisService
}

// New connects every dependency named by cfg. The registry resolves the
// adapters of the enabled analyses; nil uses analysis.NewRegistry().
func New(ctx context.Context, cfg *config.Config, registry *analysis.Registry) (*App, error) {
	if registry == nil {
		registry = analysis.NewRegistry()
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	store, err := storage.NewStorage(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	a := &App{
		Config:    cfg,
		DB:        db,
		Store:     store,
		Catalogue: repository.NewCatalogueRepository(db),
		Runs:      repository.NewRunRepository(db),
	}

	aa := cfg.AudioAnalysis
	if aa.Options.VoiceIndex {
		a.Index, err = repository.NewVoiceIndex(&repository.QdrantConnectionConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("initialize voice index: %w", err), a.Close())
		}
	}

	clustering, gender, err := registry.Resolve(aa, cfg.Adapters)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	a.Aggregator = embedding.NewAggregator(store, embedding.AggregatorConfig{
		Layout: embedding.Layout{
			EmbeddingsPath: aa.PathForEmbeddings,
			ProcessedPath:  aa.RemoteProcessedFilePath,
			StagingDir:     aa.StagingDir,
			Extension:      aa.EmbeddingExtension,
		},
		Workers: aa.DownloadWorkers,
	})

	deps := service.AudioAnalysisDeps{
		Aggregator: a.Aggregator,
		Catalogue:  a.Catalogue,
		Clustering: clustering,
		Gender:     gender,
		Runs:       a.Runs,
	}
	if a.Index != nil {
		deps.Index = a.Index
	}

	a.Analysis, err = service.NewAudioAnalysisService(aa, deps)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	logger.With(logger.Fields{
		"storage":          cfg.Storage.Type,
		"database":         cfg.Database.Driver,
		"speaker_analysis": aa.Options.SpeakerAnalysis,
		"gender_analysis":  aa.Options.GenderAnalysis,
		"voice_index":      aa.Options.VoiceIndex,
	}).Info(ctx, "Application initialized")
	return a, nil
}

// PingDB checks the database connection.
func (a *App) PingDB(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the voice index connection and the database pool.
func (a *App) Close() error {
	var errs []error
	if a.Index != nil {
		errs = append(errs, a.Index.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
