package service

import (
	"context"
	"errors"
	"sync"

	"github.com/timmy/voicecat/internal/analysis"
	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/embedding"
	"github.com/timmy/voicecat/internal/repository"
)

type speakerUpdate struct {
	Source   string
	Speaker  string
	Files    []string
	WasNoise bool
}

type genderUpdate struct {
	Files  []string
	Gender string
}

// fakeCatalogue is an in-memory CatalogueGateway recording every call.
type fakeCatalogue struct {
	mu sync.Mutex

	speakers  map[string]*domain.Speaker // source/name
	nextID    int64
	insertErr map[string]error // by speaker name
	findErr   error
	updateErr error
	genderErr map[string]error // by gender

	calls          []string
	speakerUpdates []speakerUpdate
	genderUpdates  []genderUpdate
}

func newFakeCatalogue() *fakeCatalogue {
	return &fakeCatalogue{
		speakers:  make(map[string]*domain.Speaker),
		insertErr: make(map[string]error),
		genderErr: make(map[string]error),
	}
}

func (f *fakeCatalogue) FindSpeaker(_ context.Context, source, name string) (*domain.Speaker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "find:"+name)
	if f.findErr != nil {
		return nil, f.findErr
	}
	sp, ok := f.speakers[source+"/"+name]
	if !ok {
		return nil, domain.ErrSpeakerNotFound
	}
	return sp, nil
}

func (f *fakeCatalogue) InsertSpeaker(_ context.Context, source, name string) (*domain.Speaker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "insert:"+name)
	if err := f.insertErr[name]; err != nil {
		return nil, err
	}
	f.nextID++
	sp := &domain.Speaker{SpeakerID: f.nextID, Source: source, SpeakerName: name}
	f.speakers[source+"/"+name] = sp
	return sp, nil
}

func (f *fakeCatalogue) BulkUpdateUtteranceSpeaker(_ context.Context, source, name string, files []string, wasNoise bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "update_speaker:"+name)
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	f.speakerUpdates = append(f.speakerUpdates, speakerUpdate{Source: source, Speaker: name, Files: files, WasNoise: wasNoise})
	return int64(len(files)), nil
}

func (f *fakeCatalogue) BulkUpdateUtteranceGender(_ context.Context, files []string, gender string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "update_gender:"+gender)
	if err := f.genderErr[gender]; err != nil {
		return 0, err
	}
	f.genderUpdates = append(f.genderUpdates, genderUpdate{Files: files, Gender: gender})
	return int64(len(files)), nil
}

func (f *fakeCatalogue) speakerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.speakers)
}

type fakeAggregator struct {
	layout embedding.Layout
	result *embedding.AggregateResult
	err    error
	calls  int
}

func (f *fakeAggregator) Aggregate(_ context.Context, source string) (*embedding.AggregateResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.Source = source
	return &res, nil
}

func (f *fakeAggregator) Layout() embedding.Layout {
	return f.layout
}

type fakeClustering struct {
	result     domain.ClusterAssignment
	err        error
	calls      int
	lastParams analysis.ClusterParams
	lastPath   string
}

func (f *fakeClustering) Cluster(_ context.Context, artifactPath, _ string, params analysis.ClusterParams) (domain.ClusterAssignment, error) {
	f.calls++
	f.lastParams = params
	f.lastPath = artifactPath
	return f.result, f.err
}

type fakeGender struct {
	result domain.GenderAssignment
	err    error
	calls  int
}

func (f *fakeGender) Classify(_ context.Context, _ string) (domain.GenderAssignment, error) {
	f.calls++
	return f.result, f.err
}

// fakeRuns keeps the state sequence of each recorded run.
type fakeRuns struct {
	created   []domain.AnalysisRun
	states    []domain.RunState
	last      domain.AnalysisRun
	createErr error
}

func (f *fakeRuns) Create(_ context.Context, run *domain.AnalysisRun) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, *run)
	f.last = *run
	return nil
}

func (f *fakeRuns) Update(_ context.Context, run *domain.AnalysisRun) error {
	f.states = append(f.states, run.State)
	f.last = *run
	return nil
}

type fakeIndex struct {
	dim    int
	points []repository.VoicePoint
	err    error
}

func (f *fakeIndex) EnsureCollection(_ context.Context, dim int) error {
	f.dim = dim
	return f.err
}

func (f *fakeIndex) Upsert(_ context.Context, points []repository.VoicePoint) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.points = append(f.points, points...)
	return len(points), nil
}

var errBoom = errors.New("boom")
