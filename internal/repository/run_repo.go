package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/timmy/voicecat/internal/domain"
)

// RunRepository persists analysis runs.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run record.
func (r *RunRepository) Create(ctx context.Context, run *domain.AnalysisRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Update saves every field of run.
func (r *RunRepository) Update(ctx context.Context, run *domain.AnalysisRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// GetByID retrieves a run by its ID. Returns domain.ErrRunNotFound when absent.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.AnalysisRun, error) {
	var run domain.AnalysisRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// ListBySource returns the most recent runs of source, newest first.
// An empty source lists every run.
func (r *RunRepository) ListBySource(ctx context.Context, source string, limit int) ([]domain.AnalysisRun, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if source != "" {
		query = query.Where("source = ?", source)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []domain.AnalysisRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
