package analysis

import (
	"fmt"
	"sort"
	"sync"

	"github.com/timmy/voicecat/internal/config"
)

// ClusteringFactory builds a clustering adapter from its configuration.
type ClusteringFactory func(cfg config.AdapterConfig) (ClusteringAdapter, error)

// GenderFactory builds a gender adapter from its configuration.
type GenderFactory func(cfg config.AdapterConfig) (GenderAdapter, error)

// Registry maps adapter names to factories. The "http" entries are
// registered by NewRegistry.
type Registry struct {
	mu         sync.RWMutex
	clustering map[string]ClusteringFactory
	gender     map[string]GenderFactory
}

// NewRegistry creates a registry with the HTTP adapters registered.
func NewRegistry() *Registry {
	r := &Registry{
		clustering: make(map[string]ClusteringFactory),
		gender:     make(map[string]GenderFactory),
	}
	r.RegisterClustering("http", func(cfg config.AdapterConfig) (ClusteringAdapter, error) {
		a, err := NewHTTPClusteringAdapter(HTTPConfig{BaseURL: cfg.URL, Timeout: cfg.Timeout})
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	r.RegisterGender("http", func(cfg config.AdapterConfig) (GenderAdapter, error) {
		a, err := NewHTTPGenderAdapter(HTTPConfig{BaseURL: cfg.URL, Timeout: cfg.Timeout})
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	return r
}

// RegisterClustering adds or replaces a clustering factory.
func (r *Registry) RegisterClustering(name string, f ClusteringFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clustering[name] = f
}

// RegisterGender adds or replaces a gender factory.
func (r *Registry) RegisterGender(name string, f GenderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gender[name] = f
}

// Clustering builds the clustering adapter registered as cfg.Name.
func (r *Registry) Clustering(cfg config.AdapterConfig) (ClusteringAdapter, error) {
	r.mu.RLock()
	f, ok := r.clustering[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown clustering adapter %q (registered: %v)", cfg.Name, r.names(true))
	}
	return f(cfg)
}

// Gender builds the gender adapter registered as cfg.Name.
func (r *Registry) Gender(cfg config.AdapterConfig) (GenderAdapter, error) {
	r.mu.RLock()
	f, ok := r.gender[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown gender adapter %q (registered: %v)", cfg.Name, r.names(false))
	}
	return f(cfg)
}

func (r *Registry) names(clustering bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	if clustering {
		for n := range r.clustering {
			names = append(names, n)
		}
	} else {
		for n := range r.gender {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Resolve builds the adapters selected for the enabled analyses. A disabled
// analysis yields a nil adapter. Names under audio_analysis_config.adapters
// take precedence over the adapters section.
func (r *Registry) Resolve(aa config.AudioAnalysisConfig, adapters config.AdaptersConfig) (ClusteringAdapter, GenderAdapter, error) {
	var (
		clustering ClusteringAdapter
		gender     GenderAdapter
		err        error
	)

	if aa.Options.SpeakerAnalysis {
		cfg := adapters.Clustering
		if aa.Adapters.Clustering != "" {
			cfg.Name = aa.Adapters.Clustering
		}
		if clustering, err = r.Clustering(cfg); err != nil {
			return nil, nil, err
		}
	}

	if aa.Options.GenderAnalysis {
		cfg := adapters.Gender
		if aa.Adapters.Gender != "" {
			cfg.Name = aa.Adapters.Gender
		}
		if gender, err = r.Gender(cfg); err != nil {
			return nil, nil, err
		}
	}

	return clustering, gender, nil
}
