package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/voicecat/internal/domain"
)

// updateChunkSize bounds the IN list of a single bulk UPDATE.
const updateChunkSize = 500

// CatalogueRepository reads and writes speakers and utterance assignments.
type CatalogueRepository struct {
	db *gorm.DB
}

// NewCatalogueRepository creates a new CatalogueRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *CatalogueRepository: repository instance bound to db.
func NewCatalogueRepository(db *gorm.DB) *CatalogueRepository {
	return &CatalogueRepository{db: db}
}

// FindSpeaker looks up a speaker by source and name.
// Returns domain.ErrSpeakerNotFound when no row matches.
func (r *CatalogueRepository) FindSpeaker(ctx context.Context, source, speakerName string) (*domain.Speaker, error) {
	var speaker domain.Speaker
	err := r.db.WithContext(ctx).
		Where("source = ? AND speaker_name = ?", source, speakerName).
		First(&speaker).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSpeakerNotFound
		}
		return nil, err
	}
	return &speaker, nil
}

// InsertSpeaker creates a speaker row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - source: source the speaker belongs to.
//   - speakerName: cluster label.
//
// Returns:
//   - *domain.Speaker: the inserted row with its id.
//   - error: non-nil if the insert fails, including a duplicate (source, name).
func (r *CatalogueRepository) InsertSpeaker(ctx context.Context, source, speakerName string) (*domain.Speaker, error) {
	speaker := &domain.Speaker{Source: source, SpeakerName: speakerName}
	if err := r.db.WithContext(ctx).Create(speaker).Error; err != nil {
		return nil, err
	}
	return speaker, nil
}

// BulkUpdateUtteranceSpeaker points the named utterances at the speaker
// (source, speakerName) and sets their noise flag. Empty input is a no-op.
// Returns the number of rows updated.
func (r *CatalogueRepository) BulkUpdateUtteranceSpeaker(ctx context.Context, source, speakerName string, fileNames []string, wasNoise bool) (int64, error) {
	if len(fileNames) == 0 {
		return 0, nil
	}

	speakerID := gorm.Expr("(SELECT speaker_id FROM speaker WHERE source = ? AND speaker_name = ? LIMIT 1)", source, speakerName)
	return r.updateInChunks(ctx, fileNames, map[string]interface{}{
		"speaker_id": speakerID,
		"was_noise":  wasNoise,
	})
}

// BulkUpdateUtteranceGender sets speaker_gender on the named utterances.
// Empty input is a no-op. Returns the number of rows updated.
func (r *CatalogueRepository) BulkUpdateUtteranceGender(ctx context.Context, fileNames []string, gender string) (int64, error) {
	if len(fileNames) == 0 {
		return 0, nil
	}
	return r.updateInChunks(ctx, fileNames, map[string]interface{}{
		"speaker_gender": gender,
	})
}

func (r *CatalogueRepository) updateInChunks(ctx context.Context, fileNames []string, values map[string]interface{}) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(fileNames); start += updateChunkSize {
			end := min(start+updateChunkSize, len(fileNames))
			res := tx.Model(&domain.Utterance{}).
				Where("clipped_utterance_file_name IN ?", fileNames[start:end]).
				Updates(values)
			if res.Error != nil {
				return fmt.Errorf("update utterances %d-%d: %w", start, end, res.Error)
			}
			total += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ListSpeakers returns the speakers of source with their utterance counts,
// ordered by name.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - source: source to filter by.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
//
// Returns:
//   - []domain.SpeakerSummary: matching speakers.
//   - error: non-nil if the query fails.
func (r *CatalogueRepository) ListSpeakers(ctx context.Context, source string, limit, offset int) ([]domain.SpeakerSummary, error) {
	query := r.db.WithContext(ctx).
		Table("speaker AS s").
		Select(`s.speaker_id, s.source, s.speaker_name, s.created_at,
			COUNT(m.id) AS utterance_count,
			COALESCE(SUM(CASE WHEN m.was_noise THEN 1 ELSE 0 END), 0) AS noise_count`).
		Joins("LEFT JOIN media_speaker_mapping AS m ON m.speaker_id = s.speaker_id").
		Where("s.source = ?", source).
		Group("s.speaker_id, s.source, s.speaker_name, s.created_at").
		Order("s.speaker_name")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var speakers []domain.SpeakerSummary
	if err := query.Offset(offset).Scan(&speakers).Error; err != nil {
		return nil, err
	}
	return speakers, nil
}

// UtteranceQuery filters ListUtteranceDetails.
type UtteranceQuery struct {
	Source        string
	Language      string   // optional
	Statuses      []string // optional, e.g. Clean, Rejected
	IsTranscribed *bool    // optional; false also matches rows never transcribed
	Limit         int
	Offset        int
}

// ListUtteranceDetails joins utterances of a source with their media
// metadata and speaker name.
func (r *CatalogueRepository) ListUtteranceDetails(ctx context.Context, q UtteranceQuery) ([]domain.UtteranceDetail, error) {
	query := r.db.WithContext(ctx).
		Table("media_speaker_mapping AS msp").
		Select(`msp.audio_id, msp.clipped_utterance_file_name, msp.clipped_utterance_duration,
			msp.snr, msp.status, mms.source, mms.source_url, mms.source_website, mms.language,
			s.speaker_name, msp.speaker_gender, msp.was_noise`).
		Joins("INNER JOIN media_metadata_staging AS mms ON msp.audio_id = mms.audio_id").
		Joins("LEFT OUTER JOIN speaker AS s ON s.speaker_id = msp.speaker_id").
		Where("mms.source = ?", q.Source)

	if q.Language != "" {
		query = query.Where("mms.language = ?", q.Language)
	}
	if len(q.Statuses) > 0 {
		query = query.Where("msp.status IN ?", q.Statuses)
	}
	if q.IsTranscribed != nil {
		if *q.IsTranscribed {
			query = query.Where("msp.is_transcribed = ?", true)
		} else {
			query = query.Where("(msp.is_transcribed = ? OR msp.is_transcribed IS NULL)", false)
		}
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var details []domain.UtteranceDetail
	if err := query.Order("msp.clipped_utterance_file_name").Offset(q.Offset).Scan(&details).Error; err != nil {
		return nil, err
	}
	return details, nil
}
