package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/voicecat/internal/domain"
)

const artifactFormField = "embeddings"

// HTTPConfig configures an HTTP analysis backend.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func newClient(cfg HTTPConfig) (*resty.Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("analysis backend url is required")
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/"))
	client.SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return client, nil
}

// postArtifact uploads the artifact as multipart form data and returns the raw body.
func postArtifact(ctx context.Context, client *resty.Client, endpoint, artifactPath string, form map[string]string) ([]byte, error) {
	httpResp, err := client.R().
		SetContext(ctx).
		SetFile(artifactFormField, artifactPath).
		SetFormData(form).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", endpoint, err)
	}

	if httpResp.StatusCode() != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(httpResp.Body(), &apiErr) == nil {
			if msg := apiErr.Detail + apiErr.Error; msg != "" {
				return nil, fmt.Errorf("%s error: %s", endpoint, msg)
			}
		}
		return nil, fmt.Errorf("%s error: status %d", endpoint, httpResp.StatusCode())
	}

	return httpResp.Body(), nil
}

// HTTPClusteringAdapter calls a clustering service at <base>/cluster.
type HTTPClusteringAdapter struct {
	client *resty.Client
}

// NewHTTPClusteringAdapter creates a clustering adapter for the service at cfg.BaseURL.
func NewHTTPClusteringAdapter(cfg HTTPConfig) (*HTTPClusteringAdapter, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &HTTPClusteringAdapter{client: client}, nil
}

// Cluster posts the artifact with source and params as form fields.
func (a *HTTPClusteringAdapter) Cluster(ctx context.Context, artifactPath, source string, params ClusterParams) (domain.ClusterAssignment, error) {
	body, err := postArtifact(ctx, a.client, "/cluster", artifactPath, map[string]string{
		"source":                  source,
		"min_cluster_size":        strconv.Itoa(params.MinClusterSize),
		"partial_set_size":        strconv.Itoa(params.PartialSetSize),
		"min_samples":             strconv.Itoa(params.MinSamples),
		"fit_noise_on_similarity": strconv.FormatFloat(params.FitNoiseOnSimilarity, 'f', -1, 64),
	})
	if err != nil {
		return nil, err
	}

	var assignment domain.ClusterAssignment
	if err := json.Unmarshal(body, &assignment); err != nil {
		return nil, fmt.Errorf("failed to decode cluster assignment: %w", err)
	}
	return assignment, nil
}

// HTTPGenderAdapter calls a gender classification service at <base>/gender.
type HTTPGenderAdapter struct {
	client *resty.Client
}

// NewHTTPGenderAdapter creates a gender adapter for the service at cfg.BaseURL.
func NewHTTPGenderAdapter(cfg HTTPConfig) (*HTTPGenderAdapter, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &HTTPGenderAdapter{client: client}, nil
}

// Classify posts the artifact and decodes a path-to-label object.
func (a *HTTPGenderAdapter) Classify(ctx context.Context, artifactPath string) (domain.GenderAssignment, error) {
	body, err := postArtifact(ctx, a.client, "/gender", artifactPath, nil)
	if err != nil {
		return nil, err
	}

	var assignment domain.GenderAssignment
	if err := json.Unmarshal(body, &assignment); err != nil {
		return nil, fmt.Errorf("failed to decode gender assignment: %w", err)
	}
	return assignment, nil
}
