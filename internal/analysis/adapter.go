package analysis

import (
	"context"

	"github.com/timmy/voicecat/internal/domain"
)

// ClusterParams are the tuning parameters forwarded to a clustering backend.
type ClusterParams struct {
	MinClusterSize       int     `json:"min_cluster_size"`
	PartialSetSize       int     `json:"partial_set_size"`
	MinSamples           int     `json:"min_samples"`
	FitNoiseOnSimilarity float64 `json:"fit_noise_on_similarity"`
}

// ClusteringAdapter groups the utterances of a merged artifact into speakers.
type ClusteringAdapter interface {
	Cluster(ctx context.Context, artifactPath, source string, params ClusterParams) (domain.ClusterAssignment, error)
}

// GenderAdapter predicts a gender label per utterance of a merged artifact.
type GenderAdapter interface {
	Classify(ctx context.Context, artifactPath string) (domain.GenderAssignment, error)
}
