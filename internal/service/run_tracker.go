package service

import (
	"context"
	"time"

	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/logger"
	"github.com/timmy/voicecat/internal/metrics"
)

// runTracker moves a run through its states and mirrors each transition
// into the run record. Recording is best effort: a run is never failed
// because its record could not be written.
type runTracker struct {
	runs   RunRecorder
	run    *domain.AnalysisRun
	report *RunReport
}

func (s *AudioAnalysisService) newTracker(ctx context.Context, report *RunReport) *runTracker {
	started := report.StartedAt
	t := &runTracker{
		runs:   s.runs,
		report: report,
		run: &domain.AnalysisRun{
			ID:              report.RunID,
			Source:          report.Source,
			State:           domain.RunStateInit,
			SpeakerAnalysis: s.options.SpeakerAnalysis,
			GenderAnalysis:  s.options.GenderAnalysis,
			StartedAt:       &started,
		},
	}

	if t.runs != nil {
		if err := t.runs.Create(context.WithoutCancel(ctx), t.run); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Could not record analysis run, continuing without it")
			t.runs = nil
		}
	}
	return t
}

func (t *runTracker) transition(ctx context.Context, state domain.RunState) {
	logger.CtxInfo(ctx, "Run state %s -> %s", t.report.State, state)
	t.report.State = state
	t.run.State = state
	t.persist(ctx)
}

func (t *runTracker) fail(ctx context.Context, state domain.RunState, err error) (*RunReport, error) {
	t.run.ErrorLog = err.Error()
	logger.FromContext(ctx).WithError(err).Errorf("Run failed in state %s", t.report.State)
	return t.finish(ctx, state, err)
}

func (t *runTracker) finish(ctx context.Context, state domain.RunState, err error) (*RunReport, error) {
	completed := time.Now()
	t.report.CompletedAt = completed
	t.run.CompletedAt = &completed
	t.run.Warnings = domain.StringArray(t.report.Warnings)
	t.transition(ctx, state)
	metrics.RecordRun(string(state))

	logger.With(logger.Fields{
		logger.FieldStatus: string(state),
		"warnings":         len(t.report.Warnings),
	}).WithDuration(t.report.StartedAt).Info(ctx, "Audio analysis finished")
	return t.report, err
}

func (t *runTracker) persist(ctx context.Context) {
	if t.runs == nil {
		return
	}
	if err := t.runs.Update(context.WithoutCancel(ctx), t.run); err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("Could not record run state %s", t.run.State)
	}
}
