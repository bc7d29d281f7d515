package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/logger"
	"github.com/timmy/voicecat/internal/metrics"
)

// SpeakerReconcileStats summarizes one speaker reconciliation.
type SpeakerReconcileStats struct {
	Created           int   `json:"created"`
	Reused            int   `json:"reused"`
	Skipped           int   `json:"skipped"`
	UtterancesUpdated int64 `json:"utterances_updated"`
	// Warnings holds the *domain.SpeakerPersistenceError of each skipped label.
	Warnings []error `json:"-"`
}

// SpeakerReconciler upserts speakers from a cluster assignment and points
// their utterances at them.
type SpeakerReconciler struct {
	catalogue CatalogueGateway
}

// NewSpeakerReconciler creates a SpeakerReconciler over catalogue.
func NewSpeakerReconciler(catalogue CatalogueGateway) *SpeakerReconciler {
	return &SpeakerReconciler{catalogue: catalogue}
}

// Reconcile walks the clusters in assignment order. For each label the
// speaker (source, label) is reused or created; a failed insert skips the
// label. Utterances recovered from noise and fitted utterances are updated
// with separate bulk writes, each only when non-empty.
//
// Lookup and update failures do not stop the remaining labels; they are
// returned joined.
func (r *SpeakerReconciler) Reconcile(ctx context.Context, assignment domain.ClusterAssignment, source string) (*SpeakerReconcileStats, error) {
	stats := &SpeakerReconcileStats{}
	var errs []error

	for _, cluster := range assignment {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		lctx := logger.WithField(ctx, logger.FieldSpeaker, cluster.Label)

		ok, err := r.ensureSpeaker(lctx, source, cluster.Label, stats)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}

		clean, noise := cluster.Partition()
		if err := r.assign(lctx, source, cluster.Label, noise, true, stats); err != nil {
			errs = append(errs, err)
		}
		if err := r.assign(lctx, source, cluster.Label, clean, false, stats); err != nil {
			errs = append(errs, err)
		}
	}

	logger.With(logger.Fields{
		"created":            stats.Created,
		"reused":             stats.Reused,
		"skipped":            stats.Skipped,
		"utterances_updated": stats.UtterancesUpdated,
	}).Info(ctx, "Speaker reconciliation finished for %d labels", len(assignment))

	return stats, errors.Join(errs...)
}

// ensureSpeaker reports whether the label's speaker exists after the call.
// A failed insert is recorded as a warning, not an error.
func (r *SpeakerReconciler) ensureSpeaker(ctx context.Context, source, label string, stats *SpeakerReconcileStats) (bool, error) {
	_, err := r.catalogue.FindSpeaker(ctx, source, label)
	if err == nil {
		logger.CtxInfo(ctx, "Speaker already exists: %s", label)
		stats.Reused++
		return true, nil
	}
	if !errors.Is(err, domain.ErrSpeakerNotFound) {
		return false, fmt.Errorf("find speaker %q: %w", label, err)
	}

	_, err = r.catalogue.InsertSpeaker(ctx, source, label)
	metrics.RecordCatalogueWrite("insert_speaker", 0, err)
	if err != nil {
		perr := &domain.SpeakerPersistenceError{Source: source, SpeakerName: label, Err: err}
		logger.FromContext(ctx).WithError(err).Errorf("Skipping speaker %s: %v", label, perr)
		stats.Skipped++
		stats.Warnings = append(stats.Warnings, perr)
		return false, nil
	}

	stats.Created++
	return true, nil
}

func (r *SpeakerReconciler) assign(ctx context.Context, source, label string, fileNames []string, wasNoise bool, stats *SpeakerReconcileStats) error {
	if len(fileNames) == 0 {
		return nil
	}

	n, err := r.catalogue.BulkUpdateUtteranceSpeaker(ctx, source, label, fileNames, wasNoise)
	metrics.RecordCatalogueWrite("update_speaker", n, err)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Failed to update utterances %v of speaker %s (was_noise=%t)", fileNames, label, wasNoise)
		return fmt.Errorf("update utterances of speaker %q: %w", label, err)
	}

	logger.CtxDebug(ctx, "Updated %d utterances of speaker %s (was_noise=%t): %v", n, label, wasNoise, fileNames)
	stats.UtterancesUpdated += n
	return nil
}
