package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/voicecat/internal/domain"
)

func cluster(label string, utterances ...domain.ClusteredUtterance) domain.SpeakerCluster {
	return domain.SpeakerCluster{Label: label, Utterances: utterances}
}

func utt(name string, wasNoise bool) domain.ClusteredUtterance {
	return domain.ClusteredUtterance{FileName: name, WasNoise: wasNoise}
}

func TestSpeakerReconciler_NoisePartitioning(t *testing.T) {
	cat := newFakeCatalogue()
	r := NewSpeakerReconciler(cat)

	stats, err := r.Reconcile(context.Background(), domain.ClusterAssignment{
		cluster("A", utt("u1.wav", true), utt("u2.wav", false)),
	}, "show")
	require.NoError(t, err)

	assert.Equal(t, []speakerUpdate{
		{Source: "show", Speaker: "A", Files: []string{"u1.wav"}, WasNoise: true},
		{Source: "show", Speaker: "A", Files: []string{"u2.wav"}, WasNoise: false},
	}, cat.speakerUpdates)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, int64(2), stats.UtterancesUpdated)
}

func TestSpeakerReconciler_SkipsEmptyPartitions(t *testing.T) {
	cat := newFakeCatalogue()
	r := NewSpeakerReconciler(cat)

	_, err := r.Reconcile(context.Background(), domain.ClusterAssignment{
		cluster("A", utt("u1.wav", false), utt("u2.wav", false)),
		cluster("B", utt("u3.wav", true)),
		cluster("C"),
	}, "show")
	require.NoError(t, err)

	require.Len(t, cat.speakerUpdates, 2)
	assert.Equal(t, speakerUpdate{Source: "show", Speaker: "A", Files: []string{"u1.wav", "u2.wav"}}, cat.speakerUpdates[0])
	assert.Equal(t, speakerUpdate{Source: "show", Speaker: "B", Files: []string{"u3.wav"}, WasNoise: true}, cat.speakerUpdates[1])
	assert.Equal(t, 3, cat.speakerCount(), "a label without utterances is still registered")
}

func TestSpeakerReconciler_DedupAcrossRuns(t *testing.T) {
	cat := newFakeCatalogue()
	r := NewSpeakerReconciler(cat)
	assignment := domain.ClusterAssignment{cluster("A", utt("u1.wav", false))}

	first, err := r.Reconcile(context.Background(), assignment, "show")
	require.NoError(t, err)
	second, err := r.Reconcile(context.Background(), assignment, "show")
	require.NoError(t, err)

	assert.Equal(t, 1, cat.speakerCount())
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Reused)
	assert.Equal(t, []string{
		"find:A", "insert:A", "update_speaker:A",
		"find:A", "update_speaker:A",
	}, cat.calls)
}

func TestSpeakerReconciler_SameLabelOtherSourceIsNewSpeaker(t *testing.T) {
	cat := newFakeCatalogue()
	r := NewSpeakerReconciler(cat)
	assignment := domain.ClusterAssignment{cluster("A", utt("u1.wav", false))}

	_, err := r.Reconcile(context.Background(), assignment, "show")
	require.NoError(t, err)
	stats, err := r.Reconcile(context.Background(), assignment, "podcast")
	require.NoError(t, err)

	assert.Equal(t, 2, cat.speakerCount())
	assert.Equal(t, 1, stats.Created)
}

func TestSpeakerReconciler_InsertFailureSkipsLabel(t *testing.T) {
	cat := newFakeCatalogue()
	cat.insertErr["B"] = errBoom
	r := NewSpeakerReconciler(cat)

	stats, err := r.Reconcile(context.Background(), domain.ClusterAssignment{
		cluster("A", utt("a1.wav", false)),
		cluster("B", utt("b1.wav", false), utt("b2.wav", true)),
		cluster("C", utt("c1.wav", true)),
	}, "show")
	require.NoError(t, err, "a failed insert is a warning")

	for _, u := range cat.speakerUpdates {
		assert.NotEqual(t, "B", u.Speaker)
	}
	assert.Len(t, cat.speakerUpdates, 2)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Created)

	require.Len(t, stats.Warnings, 1)
	var perr *domain.SpeakerPersistenceError
	require.True(t, errors.As(stats.Warnings[0], &perr))
	assert.Equal(t, "B", perr.SpeakerName)
	assert.ErrorIs(t, perr, errBoom)
}

func TestSpeakerReconciler_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeCatalogue)
		updates int
	}{
		{
			name:  "lookup failure skips every label",
			setup: func(c *fakeCatalogue) { c.findErr = errBoom },
		},
		{
			name:  "update failure is returned",
			setup: func(c *fakeCatalogue) { c.updateErr = errBoom },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := newFakeCatalogue()
			tt.setup(cat)
			r := NewSpeakerReconciler(cat)

			stats, err := r.Reconcile(context.Background(), domain.ClusterAssignment{
				cluster("A", utt("a1.wav", false)),
				cluster("B", utt("b1.wav", false)),
			}, "show")

			require.Error(t, err)
			assert.ErrorIs(t, err, errBoom)
			require.NotNil(t, stats)
			assert.Len(t, cat.speakerUpdates, tt.updates)
		})
	}
}

func TestSpeakerReconciler_StopsOnCancelledContext(t *testing.T) {
	cat := newFakeCatalogue()
	r := NewSpeakerReconciler(cat)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Reconcile(ctx, domain.ClusterAssignment{cluster("A", utt("a1.wav", false))}, "show")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, cat.calls)
}

func TestGenderReconciler_BulkSplit(t *testing.T) {
	cat := newFakeCatalogue()
	r := NewGenderReconciler(cat)

	stats, err := r.Reconcile(context.Background(), domain.GenderAssignment{
		"path/u1.wav": "m",
		"path/u2.wav": "f",
		"path/u3.wav": "m",
	})
	require.NoError(t, err)

	assert.Equal(t, []genderUpdate{
		{Files: []string{"u1.wav", "u3.wav"}, Gender: domain.GenderMale},
		{Files: []string{"u2.wav"}, Gender: domain.GenderFemale},
	}, cat.genderUpdates)
	assert.Equal(t, 2, stats.Male)
	assert.Equal(t, 1, stats.Female)
	assert.Equal(t, int64(3), stats.Updated)
}

func TestGenderReconciler_EmptyBucketSuppression(t *testing.T) {
	tests := []struct {
		name       string
		assignment domain.GenderAssignment
		want       []string
	}{
		{name: "only male", assignment: domain.GenderAssignment{"a/u1.wav": "m"}, want: []string{"update_gender:m"}},
		{name: "only female", assignment: domain.GenderAssignment{"a/u1.wav": "f"}, want: []string{"update_gender:f"}},
		{name: "empty", assignment: domain.GenderAssignment{}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := newFakeCatalogue()
			_, err := NewGenderReconciler(cat).Reconcile(context.Background(), tt.assignment)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cat.calls)
		})
	}
}

func TestGenderReconciler_UnexpectedLabelIsFemale(t *testing.T) {
	cat := newFakeCatalogue()

	stats, err := NewGenderReconciler(cat).Reconcile(context.Background(), domain.GenderAssignment{
		"x/u1.wav": "unknown",
		"x/u2.wav": "f",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Unexpected)
	assert.Equal(t, []genderUpdate{{Files: []string{"u1.wav", "u2.wav"}, Gender: domain.GenderFemale}}, cat.genderUpdates)
}

func TestGenderReconciler_FailureDoesNotStopOtherBucket(t *testing.T) {
	cat := newFakeCatalogue()
	cat.genderErr[domain.GenderMale] = errBoom

	stats, err := NewGenderReconciler(cat).Reconcile(context.Background(), domain.GenderAssignment{
		"x/u1.wav": "m",
		"x/u2.wav": "f",
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"update_gender:m", "update_gender:f"}, cat.calls)
	assert.Equal(t, int64(1), stats.Updated)
}
