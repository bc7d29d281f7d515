package config

import (
	"errors"
	"fmt"
	"strings"
)

// Defaults applied to parameters left unset in configuration.
const (
	DefaultMinSamples           = 1
	DefaultMinClusterSize       = 5
	DefaultPartialSetSize       = 11122
	DefaultFitNoiseOnSimilarity = 0.80

	DefaultStagingDir         = "./data/staging"
	DefaultEmbeddingExtension = ".npz"
	DefaultDownloadWorkers    = 4
)

// AudioAnalysisConfig is the audio_analysis_config section.
type AudioAnalysisConfig struct {
	PathForEmbeddings       string           `mapstructure:"path_for_embeddings"`
	RemoteProcessedFilePath string           `mapstructure:"remote_processed_file_path"`
	StagingDir              string           `mapstructure:"staging_dir"`
	EmbeddingExtension      string           `mapstructure:"embedding_extension"`
	DownloadWorkers         int              `mapstructure:"download_workers"`
	Options                 AnalysisOptions  `mapstructure:"analysis_options"`
	Parameters              AnalysisParams   `mapstructure:"parameters"`
	Adapters                AnalysisAdapters `mapstructure:"adapters"`
}

// AnalysisOptions toggles each analysis. Values such as 1/0 are accepted by
// viper's weak decoding.
type AnalysisOptions struct {
	SpeakerAnalysis bool `mapstructure:"speaker_analysis"`
	GenderAnalysis  bool `mapstructure:"gender_analysis"`
	VoiceIndex      bool `mapstructure:"voice_index"`
}

// AnalysisParams are forwarded to the clustering adapter as configured.
// FitNoiseOnSimilarity is a pointer so an explicit 0 is kept.
type AnalysisParams struct {
	MinClusterSize       int      `mapstructure:"min_cluster_size"`
	PartialSetSize       int      `mapstructure:"partial_set_size"`
	MinSamples           int      `mapstructure:"min_samples"`
	FitNoiseOnSimilarity *float64 `mapstructure:"fit_noise_on_similarity"`
}

// Similarity returns the noise refit threshold, or the default when unset.
func (p AnalysisParams) Similarity() float64 {
	if p.FitNoiseOnSimilarity == nil {
		return DefaultFitNoiseOnSimilarity
	}
	return *p.FitNoiseOnSimilarity
}

// AnalysisAdapters names the registry entries selected for each analysis.
// Empty names fall back to the top-level adapters section.
type AnalysisAdapters struct {
	Clustering string `mapstructure:"clustering"`
	Gender     string `mapstructure:"gender"`
}

// ApplyDefaults fills zero values with the package defaults.
func (c *AudioAnalysisConfig) ApplyDefaults() {
	if c.StagingDir == "" {
		c.StagingDir = DefaultStagingDir
	}
	if c.EmbeddingExtension == "" {
		c.EmbeddingExtension = DefaultEmbeddingExtension
	}
	if !strings.HasPrefix(c.EmbeddingExtension, ".") {
		c.EmbeddingExtension = "." + c.EmbeddingExtension
	}
	if c.DownloadWorkers <= 0 {
		c.DownloadWorkers = DefaultDownloadWorkers
	}
	if c.Parameters.MinSamples <= 0 {
		c.Parameters.MinSamples = DefaultMinSamples
	}
	if c.Parameters.MinClusterSize <= 0 {
		c.Parameters.MinClusterSize = DefaultMinClusterSize
	}
	if c.Parameters.PartialSetSize <= 0 {
		c.Parameters.PartialSetSize = DefaultPartialSetSize
	}
	if c.Parameters.FitNoiseOnSimilarity == nil {
		similarity := DefaultFitNoiseOnSimilarity
		c.Parameters.FitNoiseOnSimilarity = &similarity
	}
}

// Validate reports the first invalid field.
// Storage locations are only checked for shape here; their presence is
// required at run time by the aggregator.
func (c *AudioAnalysisConfig) Validate() error {
	if sim := c.Parameters.Similarity(); sim < 0 || sim > 1 {
		return fmt.Errorf("audio_analysis_config: fit_noise_on_similarity must be within [0, 1], got %v", sim)
	}
	for name, p := range map[string]string{
		"path_for_embeddings":        c.PathForEmbeddings,
		"remote_processed_file_path": c.RemoteProcessedFilePath,
	} {
		if strings.HasPrefix(p, "/") {
			return fmt.Errorf("audio_analysis_config: %s must be bucket/prefix, got %q", name, p)
		}
	}
	return nil
}

// ErrMissingLocation is returned by RequireLocations.
var ErrMissingLocation = errors.New("audio_analysis_config: embedding locations are not configured")

// RequireLocations checks that both remote locations are set.
func (c *AudioAnalysisConfig) RequireLocations() error {
	if c.PathForEmbeddings == "" || c.RemoteProcessedFilePath == "" {
		return ErrMissingLocation
	}
	return nil
}
