package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/repository"
)

// CatalogueReader lists the reconciled catalogue.
type CatalogueReader interface {
	ListSpeakers(ctx context.Context, source string, limit, offset int) ([]domain.SpeakerSummary, error)
	ListUtteranceDetails(ctx context.Context, q repository.UtteranceQuery) ([]domain.UtteranceDetail, error)
}

// CatalogueHandler handles speaker and utterance listings.
type CatalogueHandler struct {
	catalogue CatalogueReader
}

// NewCatalogueHandler creates a new catalogue handler.
func NewCatalogueHandler(catalogue CatalogueReader) *CatalogueHandler {
	return &CatalogueHandler{catalogue: catalogue}
}

func pagination(c *gin.Context) (limit, offset int, ok bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return 0, 0, false
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return 0, 0, false
	}
	return limit, offset, true
}

// ListSpeakers handles GET /api/v1/sources/:source/speakers.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *CatalogueHandler) ListSpeakers(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	speakers, err := h.catalogue.ListSpeakers(c.Request.Context(), c.Param("source"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list speakers: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"speakers": speakers, "count": len(speakers)})
}

// ListUtterances handles GET /api/v1/sources/:source/utterances with the
// optional filters language, status (comma separated) and transcribed.
func (h *CatalogueHandler) ListUtterances(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	q := repository.UtteranceQuery{
		Source:   c.Param("source"),
		Language: c.Query("language"),
		Limit:    limit,
		Offset:   offset,
	}
	if status := c.Query("status"); status != "" {
		q.Statuses = strings.Split(status, ",")
	}
	if raw := c.Query("transcribed"); raw != "" {
		transcribed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "transcribed must be a boolean"})
			return
		}
		q.IsTranscribed = &transcribed
	}

	utterances, err := h.catalogue.ListUtteranceDetails(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list utterances: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"utterances": utterances, "count": len(utterances)})
}
