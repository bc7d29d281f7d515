package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/voicecat/internal/analysis"
	"github.com/timmy/voicecat/internal/config"
	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/embedding"
	"github.com/timmy/voicecat/internal/logger"
	"github.com/timmy/voicecat/internal/metrics"
	"github.com/timmy/voicecat/internal/repository"
)

// Aggregator produces the merged embedding artifact of a source.
type Aggregator interface {
	Aggregate(ctx context.Context, source string) (*embedding.AggregateResult, error)
	Layout() embedding.Layout
}

// AudioAnalysisDeps are the collaborators of an AudioAnalysisService.
// Clustering and Gender may be nil when their analysis is disabled; Runs
// and Index are optional.
type AudioAnalysisDeps struct {
	Aggregator Aggregator
	Catalogue  CatalogueGateway
	Clustering analysis.ClusteringAdapter
	Gender     analysis.GenderAdapter
	Runs       RunRecorder
	Index      VoiceIndexer
}

// AudioAnalysisService runs the speaker and gender analysis of one source:
// stage, aggregate embeddings, call the enabled adapters and reconcile their
// results into the catalogue.
type AudioAnalysisService struct {
	aggregator Aggregator
	clustering analysis.ClusteringAdapter
	gender     analysis.GenderAdapter
	speakers   *SpeakerReconciler
	genders    *GenderReconciler
	runs       RunRecorder
	index      VoiceIndexer
	options    config.AnalysisOptions
	params     analysis.ClusterParams
}

// NewAudioAnalysisService validates cfg against deps and builds the service.
// Unset parameters take their defaults here, once.
func NewAudioAnalysisService(cfg config.AudioAnalysisConfig, deps AudioAnalysisDeps) (*AudioAnalysisService, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.RequireLocations(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPrecondition, err)
	}

	if deps.Aggregator == nil || deps.Catalogue == nil {
		return nil, fmt.Errorf("aggregator and catalogue are required")
	}
	if cfg.Options.SpeakerAnalysis && deps.Clustering == nil {
		return nil, fmt.Errorf("speaker analysis is enabled but no clustering adapter is configured")
	}
	if cfg.Options.GenderAnalysis && deps.Gender == nil {
		return nil, fmt.Errorf("gender analysis is enabled but no gender adapter is configured")
	}

	return &AudioAnalysisService{
		aggregator: deps.Aggregator,
		clustering: deps.Clustering,
		gender:     deps.Gender,
		speakers:   NewSpeakerReconciler(deps.Catalogue),
		genders:    NewGenderReconciler(deps.Catalogue),
		runs:       deps.Runs,
		index:      deps.Index,
		options:    cfg.Options,
		params: analysis.ClusterParams{
			MinClusterSize:       cfg.Parameters.MinClusterSize,
			PartialSetSize:       cfg.Parameters.PartialSetSize,
			MinSamples:           cfg.Parameters.MinSamples,
			FitNoiseOnSimilarity: cfg.Parameters.Similarity(),
		},
	}, nil
}

// Options returns the analyses enabled at construction.
func (s *AudioAnalysisService) Options() config.AnalysisOptions {
	return s.options
}

// Params returns the resolved clustering parameters.
func (s *AudioAnalysisService) Params() analysis.ClusterParams {
	return s.params
}

// RunRequest selects the source to analyse. RunID is generated when empty.
type RunRequest struct {
	Source string
	RunID  string
}

// RunReport is the outcome of a run. Clusters and Genders are nil when the
// analysis was disabled or its adapter failed.
type RunReport struct {
	RunID         string                     `json:"run_id"`
	Source        string                     `json:"source"`
	State         domain.RunState            `json:"state"`
	Aggregate     *embedding.AggregateResult `json:"-"`
	Clusters      domain.ClusterAssignment   `json:"-"`
	Genders       domain.GenderAssignment    `json:"-"`
	Speakers      *SpeakerReconcileStats     `json:"speakers,omitempty"`
	Gender        *GenderReconcileStats      `json:"gender,omitempty"`
	IndexedPoints int                        `json:"indexed_points"`
	Warnings      []string                   `json:"warnings,omitempty"`
	StartedAt     time.Time                  `json:"started_at"`
	CompletedAt   time.Time                  `json:"completed_at"`
}

func (r *RunReport) warn(err error) {
	r.Warnings = append(r.Warnings, err.Error())
}

// ValidateSource checks that source can name a staging directory and
// remote prefix.
func ValidateSource(source string) error {
	switch {
	case strings.TrimSpace(source) == "":
		return fmt.Errorf("%w: source is required", domain.ErrPrecondition)
	case strings.ContainsAny(source, `/\`), source == ".", source == "..":
		return fmt.Errorf("%w: invalid source %q", domain.ErrPrecondition, source)
	}
	return nil
}

// Run executes one analysis of req.Source.
//
// The returned report is non-nil once the source passes validation, also
// when an error is returned. The run ends in done, aggregation_failed or
// reconciliation_failed; adapter and reconciler failures of one analysis do
// not stop the other.
func (s *AudioAnalysisService) Run(ctx context.Context, req RunRequest) (*RunReport, error) {
	if err := ValidateSource(req.Source); err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	ctx = logger.SetRunID(ctx, runID)
	ctx = logger.SetSource(ctx, req.Source)
	ctx = logger.SetComponent(ctx, "audio_analysis")

	report := &RunReport{RunID: runID, Source: req.Source, State: domain.RunStateInit, StartedAt: time.Now()}
	tracker := s.newTracker(ctx, report)

	logger.CtxInfo(ctx, "Starting audio analysis (speaker=%t gender=%t)", s.options.SpeakerAnalysis, s.options.GenderAnalysis)

	if err := s.stage(report.Source); err != nil {
		return tracker.fail(ctx, domain.RunStateAggregationFailed, err)
	}
	tracker.transition(ctx, domain.RunStateStagingReady)

	agg, err := s.aggregate(ctx, report)
	if err != nil {
		return tracker.fail(ctx, domain.RunStateAggregationFailed, err)
	}
	tracker.run.FromCache = agg.FromCache
	tracker.run.ShardCount = agg.ShardCount
	tracker.run.EmbeddingCount = agg.EmbeddingCount
	tracker.transition(ctx, domain.RunStateEmbeddingsAggregated)

	var failures []error
	if err := s.analyse(ctx, report, tracker); err != nil {
		failures = append(failures, err)
	}
	if err := s.reconcile(ctx, report, tracker); err != nil {
		failures = append(failures, err)
	}
	if len(failures) > 0 {
		return tracker.fail(ctx, domain.RunStateReconciliationFailed, errors.Join(failures...))
	}
	tracker.transition(ctx, domain.RunStateReconciled)

	if s.options.VoiceIndex && s.index != nil {
		if err := s.indexVoices(ctx, report); err != nil {
			logger.FromContext(ctx).WithError(err).Error("Voice indexing failed")
			report.warn(err)
		} else {
			tracker.transition(ctx, domain.RunStateIndexed)
		}
	}

	return tracker.finish(ctx, domain.RunStateDone, nil)
}

// stage creates the per-source staging directories.
func (s *AudioAnalysisService) stage(source string) error {
	layout := s.aggregator.Layout()
	for _, dir := range []string{layout.SourceDir(source), layout.ShardDir(source)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure staging directory %s: %w", dir, err)
		}
	}
	return nil
}

func (s *AudioAnalysisService) aggregate(ctx context.Context, report *RunReport) (*embedding.AggregateResult, error) {
	start := time.Now()
	agg, err := s.aggregator.Aggregate(ctx, report.Source)
	metrics.RecordStage("aggregate", start, err)
	if err != nil {
		return nil, fmt.Errorf("aggregate embeddings: %w", err)
	}

	report.Aggregate = agg
	switch {
	case agg.FromCache:
		metrics.RecordMerge("cache_hit")
	case agg.CacheErr != nil:
		metrics.RecordMerge("upload_failed")
		report.warn(agg.CacheErr)
	default:
		metrics.RecordMerge("merged")
	}
	return agg, nil
}

// analyse calls the enabled adapters. An adapter failure leaves its result
// nil and is returned after the other adapter ran.
func (s *AudioAnalysisService) analyse(ctx context.Context, report *RunReport, tracker *runTracker) error {
	artifact := report.Aggregate.LocalPath
	var errs []error

	if s.options.SpeakerAnalysis {
		start := time.Now()
		clusters, err := s.clustering.Cluster(ctx, artifact, report.Source, s.params)
		metrics.RecordStage("clustering", start, err)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Speaker clustering failed for %s", artifact)
			errs = append(errs, fmt.Errorf("speaker clustering: %w", err))
		} else {
			report.Clusters = clusters
			logger.With(logger.Fields{logger.FieldCount: len(clusters)}).
				WithDuration(start).Info(ctx, "Speaker clustering finished with %d utterances", clusters.UtteranceCount())
			tracker.transition(ctx, domain.RunStateClusteringDone)
		}
	}

	if s.options.GenderAnalysis {
		start := time.Now()
		genders, err := s.gender.Classify(ctx, artifact)
		metrics.RecordStage("gender", start, err)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Gender classification failed for %s", artifact)
			errs = append(errs, fmt.Errorf("gender classification: %w", err))
		} else {
			report.Genders = genders
			logger.With(logger.Fields{logger.FieldCount: len(genders)}).
				WithDuration(start).Info(ctx, "Gender classification finished")
			tracker.transition(ctx, domain.RunStateGenderDone)
		}
	}

	return errors.Join(errs...)
}

// reconcile writes whichever results exist. Both reconcilers run even when
// the first fails.
func (s *AudioAnalysisService) reconcile(ctx context.Context, report *RunReport, tracker *runTracker) error {
	var errs []error

	if report.Clusters != nil {
		start := time.Now()
		stats, err := s.speakers.Reconcile(ctx, report.Clusters, report.Source)
		metrics.RecordStage("speaker_reconcile", start, err)
		report.Speakers = stats
		for _, w := range stats.Warnings {
			report.warn(w)
		}
		tracker.run.SpeakersCreated = stats.Created
		tracker.run.SpeakersReused = stats.Reused
		tracker.run.UtterancesUpdated = stats.UtterancesUpdated
		if err != nil {
			errs = append(errs, fmt.Errorf("speaker reconciliation: %w", err))
		}
	}

	if report.Genders != nil {
		start := time.Now()
		stats, err := s.genders.Reconcile(ctx, report.Genders)
		metrics.RecordStage("gender_reconcile", start, err)
		report.Gender = stats
		tracker.run.GenderUpdated = stats.Updated
		if err != nil {
			errs = append(errs, fmt.Errorf("gender reconciliation: %w", err))
		}
	}

	return errors.Join(errs...)
}

// indexVoices upserts every utterance embedding with its speaker and gender.
func (s *AudioAnalysisService) indexVoices(ctx context.Context, report *RunReport) error {
	start := time.Now()

	art, err := embedding.ReadArtifact(report.Aggregate.LocalPath)
	if err != nil {
		metrics.RecordStage("voice_index", start, err)
		return err
	}
	points := buildVoicePoints(report.Source, art, report.Clusters, report.Genders)
	if len(points) == 0 {
		return nil
	}

	err = s.index.EnsureCollection(ctx, len(points[0].Vector))
	if err == nil {
		report.IndexedPoints, err = s.index.Upsert(ctx, points)
	}
	metrics.RecordStage("voice_index", start, err)
	if err != nil {
		return fmt.Errorf("index voices: %w", err)
	}

	logger.With(logger.Fields{logger.FieldCount: report.IndexedPoints}).
		WithDuration(start).Info(ctx, "Indexed utterance voices")
	return nil
}

func buildVoicePoints(source string, art embedding.Artifact, clusters domain.ClusterAssignment, genders domain.GenderAssignment) []repository.VoicePoint {
	type label struct {
		speaker  string
		wasNoise bool
	}
	speakers := make(map[string]label)
	for _, c := range clusters {
		for _, u := range c.Utterances {
			speakers[u.FileName] = label{speaker: c.Label, wasNoise: u.WasNoise}
		}
	}
	genderByName := make(map[string]string, len(genders))
	for p, g := range genders {
		genderByName[domain.UtteranceFileName(p)] = g
	}

	points := make([]repository.VoicePoint, 0, len(art))
	for _, name := range art.Keys() {
		l := speakers[name]
		points = append(points, repository.VoicePoint{
			Source:    source,
			Utterance: name,
			Speaker:   l.speaker,
			WasNoise:  l.wasNoise,
			Gender:    genderByName[name],
			Vector:    art[name],
		})
	}
	return points
}
