package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/repository"
)

// VoiceSearcher finds utterances with a similar voice.
type VoiceSearcher interface {
	Vector(ctx context.Context, source, utterance string) ([]float32, error)
	Search(ctx context.Context, vector []float32, topK int, filters repository.VoiceFilters) ([]repository.VoiceMatch, error)
}

// VoiceHandler handles similar-voice search.
type VoiceHandler struct {
	index VoiceSearcher
}

// NewVoiceHandler creates a new voice handler.
// Parameters:
//   - index: voice index to query.
//
// Returns:
//   - *VoiceHandler: initialized handler.
func NewVoiceHandler(index VoiceSearcher) *VoiceHandler {
	return &VoiceHandler{index: index}
}

// VoiceSearchRequest selects the query utterance and filters.
type VoiceSearchRequest struct {
	Source    string `json:"source" binding:"required"`
	Utterance string `json:"utterance" binding:"required"`
	TopK      int    `json:"top_k" binding:"omitempty,min=1,max=100"`
	Gender    string `json:"gender" binding:"omitempty,oneof=m f"`
	AnySource bool   `json:"any_source"`
}

// VoiceSearchResponse lists the matches, best first.
type VoiceSearchResponse struct {
	Query   string                  `json:"query"`
	Results []repository.VoiceMatch `json:"results"`
	Total   int                     `json:"total"`
}

// SearchSimilar handles POST /api/v1/voices/search. The query utterance
// itself is left out of the results.
func (h *VoiceHandler) SearchSimilar(c *gin.Context) {
	var req VoiceSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if req.TopK == 0 {
		req.TopK = 10
	}

	ctx := c.Request.Context()
	vector, err := h.index.Vector(ctx, req.Source, req.Utterance)
	if errors.Is(err, domain.ErrNotIndexed) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed: " + err.Error()})
		return
	}

	filters := repository.VoiceFilters{Gender: req.Gender}
	if !req.AnySource {
		filters.Source = req.Source
	}

	matches, err := h.index.Search(ctx, vector, req.TopK+1, filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed: " + err.Error()})
		return
	}

	results := make([]repository.VoiceMatch, 0, len(matches))
	for _, m := range matches {
		if m.Source == req.Source && m.Utterance == req.Utterance {
			continue
		}
		if len(results) == req.TopK {
			break
		}
		results = append(results, m)
	}

	c.JSON(http.StatusOK, VoiceSearchResponse{Query: req.Utterance, Results: results, Total: len(results)})
}
