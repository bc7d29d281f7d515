package service

import (
	"context"

	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/repository"
)

// CatalogueGateway is the persistent catalogue of speakers and utterances.
// FindSpeaker returns domain.ErrSpeakerNotFound when no row matches. Both
// bulk updates are no-ops on empty input.
type CatalogueGateway interface {
	FindSpeaker(ctx context.Context, source, speakerName string) (*domain.Speaker, error)
	InsertSpeaker(ctx context.Context, source, speakerName string) (*domain.Speaker, error)
	BulkUpdateUtteranceSpeaker(ctx context.Context, source, speakerName string, fileNames []string, wasNoise bool) (int64, error)
	BulkUpdateUtteranceGender(ctx context.Context, fileNames []string, gender string) (int64, error)
}

// RunRecorder persists analysis run progress.
type RunRecorder interface {
	Create(ctx context.Context, run *domain.AnalysisRun) error
	Update(ctx context.Context, run *domain.AnalysisRun) error
}

// VoiceIndexer stores utterance embeddings for similar-voice search.
type VoiceIndexer interface {
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, points []repository.VoicePoint) (int, error)
}

var (
	_ CatalogueGateway = (*repository.CatalogueRepository)(nil)
	_ RunRecorder      = (*repository.RunRepository)(nil)
	_ VoiceIndexer     = (*repository.VoiceIndex)(nil)
)
