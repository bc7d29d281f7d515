package service

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/voicecat/internal/analysis"
	"github.com/timmy/voicecat/internal/config"
	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/embedding"
)

type harness struct {
	cfg        config.AudioAnalysisConfig
	aggregator *fakeAggregator
	catalogue  *fakeCatalogue
	clustering *fakeClustering
	gender     *fakeGender
	runs       *fakeRuns
	index      *fakeIndex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	layout := embedding.Layout{
		EmbeddingsPath: "bucket/embeddings",
		ProcessedPath:  "bucket/processed",
		StagingDir:     t.TempDir(),
		Extension:      ".npz",
	}
	return &harness{
		cfg: config.AudioAnalysisConfig{
			PathForEmbeddings:       layout.EmbeddingsPath,
			RemoteProcessedFilePath: layout.ProcessedPath,
			StagingDir:              layout.StagingDir,
			Options:                 config.AnalysisOptions{SpeakerAnalysis: true, GenderAnalysis: true},
		},
		aggregator: &fakeAggregator{
			layout: layout,
			result: &embedding.AggregateResult{
				LocalPath:      layout.LocalMergedPath("show"),
				RemotePath:     layout.RemoteMergedPath("show"),
				Cached:         true,
				ShardCount:     2,
				EmbeddingCount: 3,
			},
		},
		catalogue: newFakeCatalogue(),
		clustering: &fakeClustering{result: domain.ClusterAssignment{
			cluster("A", utt("u1.wav", true), utt("u2.wav", false)),
			cluster("B", utt("u3.wav", false)),
		}},
		gender: &fakeGender{result: domain.GenderAssignment{
			"clips/u1.wav": "m",
			"clips/u2.wav": "m",
			"clips/u3.wav": "f",
		}},
		runs:  &fakeRuns{},
		index: &fakeIndex{},
	}
}

func (h *harness) service(t *testing.T) *AudioAnalysisService {
	t.Helper()
	svc, err := NewAudioAnalysisService(h.cfg, AudioAnalysisDeps{
		Aggregator: h.aggregator,
		Catalogue:  h.catalogue,
		Clustering: h.clustering,
		Gender:     h.gender,
		Runs:       h.runs,
		Index:      h.index,
	})
	require.NoError(t, err)
	return svc
}

func TestNewAudioAnalysisService_Validation(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*harness, *AudioAnalysisDeps)
		precondition bool
	}{
		{
			name:         "missing embedding locations",
			mutate:       func(h *harness, _ *AudioAnalysisDeps) { h.cfg.PathForEmbeddings = "" },
			precondition: true,
		},
		{
			name:   "speaker analysis without adapter",
			mutate: func(_ *harness, d *AudioAnalysisDeps) { d.Clustering = nil },
		},
		{
			name:   "gender analysis without adapter",
			mutate: func(_ *harness, d *AudioAnalysisDeps) { d.Gender = nil },
		},
		{
			name:   "missing catalogue",
			mutate: func(_ *harness, d *AudioAnalysisDeps) { d.Catalogue = nil },
		},
		{
			name: "invalid similarity threshold",
			mutate: func(h *harness, _ *AudioAnalysisDeps) {
				similarity := 1.5
				h.cfg.Parameters.FitNoiseOnSimilarity = &similarity
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			deps := AudioAnalysisDeps{
				Aggregator: h.aggregator,
				Catalogue:  h.catalogue,
				Clustering: h.clustering,
				Gender:     h.gender,
			}
			tt.mutate(h, &deps)

			_, err := NewAudioAnalysisService(h.cfg, deps)
			require.Error(t, err)
			assert.Equal(t, tt.precondition, errors.Is(err, domain.ErrPrecondition))
		})
	}
}

func TestNewAudioAnalysisService_DisabledAnalysisNeedsNoAdapter(t *testing.T) {
	h := newHarness(t)
	h.cfg.Options = config.AnalysisOptions{}

	_, err := NewAudioAnalysisService(h.cfg, AudioAnalysisDeps{Aggregator: h.aggregator, Catalogue: h.catalogue})
	assert.NoError(t, err)
}

func TestNewAudioAnalysisService_DefaultParams(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t)

	assert.Equal(t, analysis.ClusterParams{
		MinClusterSize:       5,
		PartialSetSize:       11122,
		MinSamples:           1,
		FitNoiseOnSimilarity: 0.80,
	}, svc.Params())
}

func TestRun_MissingSourceFailsBeforeAnyCall(t *testing.T) {
	for _, source := range []string{"", "  ", "a/b", "..", `a\b`} {
		t.Run(source, func(t *testing.T) {
			h := newHarness(t)
			svc := h.service(t)

			report, err := svc.Run(context.Background(), RunRequest{Source: source})

			require.ErrorIs(t, err, domain.ErrPrecondition)
			assert.Nil(t, report)
			assert.Zero(t, h.aggregator.calls)
			assert.Zero(t, h.clustering.calls)
			assert.Zero(t, h.gender.calls)
			assert.Empty(t, h.catalogue.calls)
			assert.Empty(t, h.runs.created)
		})
	}
}

func TestRun_FullPipeline(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t)

	report, err := svc.Run(context.Background(), RunRequest{Source: "show", RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStateDone, report.State)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, h.aggregator.result.LocalPath, h.clustering.lastPath)
	assert.Equal(t, svc.Params(), h.clustering.lastParams)

	assert.Equal(t, []speakerUpdate{
		{Source: "show", Speaker: "A", Files: []string{"u1.wav"}, WasNoise: true},
		{Source: "show", Speaker: "A", Files: []string{"u2.wav"}},
		{Source: "show", Speaker: "B", Files: []string{"u3.wav"}},
	}, h.catalogue.speakerUpdates)
	assert.Equal(t, []genderUpdate{
		{Files: []string{"u1.wav", "u2.wav"}, Gender: domain.GenderMale},
		{Files: []string{"u3.wav"}, Gender: domain.GenderFemale},
	}, h.catalogue.genderUpdates)

	require.NotNil(t, report.Speakers)
	assert.Equal(t, 2, report.Speakers.Created)
	require.NotNil(t, report.Gender)
	assert.Equal(t, int64(3), report.Gender.Updated)

	assert.Equal(t, []domain.RunState{
		domain.RunStateStagingReady,
		domain.RunStateEmbeddingsAggregated,
		domain.RunStateClusteringDone,
		domain.RunStateGenderDone,
		domain.RunStateReconciled,
		domain.RunStateDone,
	}, h.runs.states)
	require.Len(t, h.runs.created, 1)
	assert.Equal(t, "show", h.runs.created[0].Source)
	assert.Equal(t, domain.RunStateDone, h.runs.last.State)
	assert.Equal(t, 2, h.runs.last.ShardCount)
	assert.Equal(t, 2, h.runs.last.SpeakersCreated)
	assert.Equal(t, int64(3), h.runs.last.UtterancesUpdated)
	assert.NotNil(t, h.runs.last.CompletedAt)

	info, err := os.Stat(h.aggregator.layout.ShardDir("show"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRun_GeneratesRunID(t *testing.T) {
	h := newHarness(t)
	report, err := h.service(t).Run(context.Background(), RunRequest{Source: "show"})
	require.NoError(t, err)
	assert.Len(t, report.RunID, 36)
}

func TestRun_DisabledAnalysisIsNotInvoked(t *testing.T) {
	tests := []struct {
		name    string
		options config.AnalysisOptions
		speaker bool
		gender  bool
	}{
		{name: "speaker only", options: config.AnalysisOptions{SpeakerAnalysis: true}, speaker: true},
		{name: "gender only", options: config.AnalysisOptions{GenderAnalysis: true}, gender: true},
		{name: "none", options: config.AnalysisOptions{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.cfg.Options = tt.options
			report, err := h.service(t).Run(context.Background(), RunRequest{Source: "show"})
			require.NoError(t, err)

			assert.Equal(t, domain.RunStateDone, report.State)
			assert.Equal(t, tt.speaker, h.clustering.calls == 1)
			assert.Equal(t, tt.gender, h.gender.calls == 1)
			assert.Equal(t, tt.speaker, len(h.catalogue.speakerUpdates) > 0)
			assert.Equal(t, tt.gender, len(h.catalogue.genderUpdates) > 0)
			if !tt.speaker {
				assert.Nil(t, report.Clusters)
				assert.Nil(t, report.Speakers)
			}
			if !tt.gender {
				assert.Nil(t, report.Genders)
				assert.Nil(t, report.Gender)
			}
		})
	}
}

func TestRun_AggregationFailure(t *testing.T) {
	h := newHarness(t)
	h.aggregator.err = &domain.AggregationIntegrityError{Key: "u1.wav", FirstShard: "a.npz", SecondShard: "b.npz"}

	report, err := h.service(t).Run(context.Background(), RunRequest{Source: "show"})

	var integrity *domain.AggregationIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, domain.RunStateAggregationFailed, report.State)
	assert.Zero(t, h.clustering.calls)
	assert.Zero(t, h.gender.calls)
	assert.Empty(t, h.catalogue.calls)
	assert.Equal(t, domain.RunStateAggregationFailed, h.runs.last.State)
	assert.Contains(t, h.runs.last.ErrorLog, "u1.wav")
}

func TestRun_AdapterFailureKeepsOtherAnalysis(t *testing.T) {
	h := newHarness(t)
	h.clustering.err = errBoom

	report, err := h.service(t).Run(context.Background(), RunRequest{Source: "show"})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, domain.RunStateReconciliationFailed, report.State)
	assert.Empty(t, h.catalogue.speakerUpdates)
	assert.Len(t, h.catalogue.genderUpdates, 2)
	assert.Contains(t, h.runs.states, domain.RunStateGenderDone)
	assert.NotContains(t, h.runs.states, domain.RunStateClusteringDone)
}

func TestRun_ReconcilerFailureDoesNotStopOther(t *testing.T) {
	h := newHarness(t)
	h.catalogue.updateErr = errBoom

	report, err := h.service(t).Run(context.Background(), RunRequest{Source: "show"})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, domain.RunStateReconciliationFailed, report.State)
	assert.Len(t, h.catalogue.genderUpdates, 2)
}

func TestRun_InsertFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	h.catalogue.insertErr["B"] = errBoom

	report, err := h.service(t).Run(context.Background(), RunRequest{Source: "show"})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStateDone, report.State)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], `"B"`)
	assert.Equal(t, domain.StringArray(report.Warnings), h.runs.last.Warnings)
	for _, u := range h.catalogue.speakerUpdates {
		assert.NotEqual(t, "B", u.Speaker)
	}
}

func TestRun_CacheWriteFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	h.aggregator.result.Cached = false
	h.aggregator.result.CacheErr = &domain.RemoteCacheWriteError{Path: "bucket/processed/show/show_embed_file.npz", Err: errBoom}

	report, err := h.service(t).Run(context.Background(), RunRequest{Source: "show"})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStateDone, report.State)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "show_embed_file.npz")
	assert.Equal(t, 1, h.clustering.calls)
}

func TestRun_RunRecorderFailureIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.runs.createErr = errBoom

	report, err := h.service(t).Run(context.Background(), RunRequest{Source: "show"})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStateDone, report.State)
	assert.Empty(t, h.runs.states)
}

func TestRun_IndexesVoices(t *testing.T) {
	h := newHarness(t)
	h.cfg.Options.VoiceIndex = true
	layout := h.aggregator.layout
	require.NoError(t, os.MkdirAll(layout.SourceDir("show"), 0o755))
	require.NoError(t, embedding.WriteArtifact(layout.LocalMergedPath("show"), embedding.Artifact{
		"u1.wav": {0.1, 0.2},
		"u2.wav": {0.3, 0.4},
		"u3.wav": {0.5, 0.6},
	}))

	report, err := h.service(t).Run(context.Background(), RunRequest{Source: "show"})
	require.NoError(t, err)

	assert.Equal(t, domain.RunStateDone, report.State)
	assert.Equal(t, 3, report.IndexedPoints)
	assert.Equal(t, 2, h.index.dim)
	require.Len(t, h.index.points, 3)

	first := h.index.points[0]
	assert.Equal(t, "u1.wav", first.Utterance)
	assert.Equal(t, "A", first.Speaker)
	assert.True(t, first.WasNoise)
	assert.Equal(t, domain.GenderMale, first.Gender)
	assert.Equal(t, "show", first.Source)
	assert.Contains(t, h.runs.states, domain.RunStateIndexed)
}

func TestRun_IndexFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	h.cfg.Options.VoiceIndex = true

	report, err := h.service(t).Run(context.Background(), RunRequest{Source: "show"})
	require.NoError(t, err, "the artifact is missing, indexing fails")

	assert.Equal(t, domain.RunStateDone, report.State)
	assert.Len(t, report.Warnings, 1)
	assert.NotContains(t, h.runs.states, domain.RunStateIndexed)
}
