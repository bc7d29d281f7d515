package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/logger"
	"github.com/timmy/voicecat/internal/metrics"
)

// GenderReconcileStats summarizes one gender reconciliation.
type GenderReconcileStats struct {
	Male       int   `json:"male"`
	Female     int   `json:"female"`
	Unexpected int   `json:"unexpected"` // labels other than m/f, written as female
	Updated    int64 `json:"updated"`
}

// GenderReconciler writes a gender assignment to the catalogue.
type GenderReconciler struct {
	catalogue CatalogueGateway
}

// NewGenderReconciler creates a GenderReconciler over catalogue.
func NewGenderReconciler(catalogue CatalogueGateway) *GenderReconciler {
	return &GenderReconciler{catalogue: catalogue}
}

// Reconcile splits the assignment into male ("m") and everything else,
// keyed by the last path segment of each entry, and issues at most one bulk
// update per gender. Labels other than "m" and "f" are stored as female and
// logged.
func (r *GenderReconciler) Reconcile(ctx context.Context, assignment domain.GenderAssignment) (*GenderReconcileStats, error) {
	stats := &GenderReconcileStats{}

	paths := make([]string, 0, len(assignment))
	for p := range assignment {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var male, female []string
	for _, p := range paths {
		name := domain.UtteranceFileName(p)
		switch label := assignment[p]; label {
		case domain.GenderMale:
			male = append(male, name)
		case domain.GenderFemale:
			female = append(female, name)
		default:
			logger.CtxWarn(ctx, "Unexpected gender label %q for %s, storing as female", label, p)
			stats.Unexpected++
			female = append(female, name)
		}
	}
	stats.Male, stats.Female = len(male), len(female)

	var errs []error
	for _, batch := range []struct {
		gender string
		files  []string
	}{
		{domain.GenderMale, male},
		{domain.GenderFemale, female},
	} {
		if len(batch.files) == 0 {
			continue
		}
		n, err := r.catalogue.BulkUpdateUtteranceGender(ctx, batch.files, batch.gender)
		metrics.RecordCatalogueWrite("update_gender", n, err)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Failed to set gender %s on %v", batch.gender, batch.files)
			errs = append(errs, fmt.Errorf("update gender %s: %w", batch.gender, err))
			continue
		}
		logger.CtxInfo(ctx, "Updated %d utterances with gender %s: %v", n, batch.gender, batch.files)
		stats.Updated += n
	}

	return stats, errors.Join(errs...)
}
