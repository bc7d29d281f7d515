package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/timmy/voicecat/internal/domain"
	"github.com/timmy/voicecat/internal/logger"
	"github.com/timmy/voicecat/internal/service"
)

// Runner executes one analysis run.
type Runner interface {
	Run(ctx context.Context, req service.RunRequest) (*service.RunReport, error)
}

// RunStore reads recorded analysis runs.
type RunStore interface {
	GetByID(ctx context.Context, id string) (*domain.AnalysisRun, error)
	ListBySource(ctx context.Context, source string, limit int) ([]domain.AnalysisRun, error)
}

// maxLastReports bounds the finished reports kept for SourceStatus.
const maxLastReports = 256

// RunHandler starts analysis runs in the background and reports on them.
// At most one run per source is in flight; two concurrent runs of the same
// source would share its staging directory.
type RunHandler struct {
	runner Runner
	runs   RunStore

	// ctx outlives requests and is cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	active    map[string]string // source -> run id
	last      map[string]*service.RunReport
	lastOrder []string // sources of last, oldest first
	wg        sync.WaitGroup
}

// NewRunHandler creates a new run handler.
// Parameters:
//   - runner: analysis service executing runs.
//   - runs: store of recorded runs.
//
// Returns:
//   - *RunHandler: initialized handler.
func NewRunHandler(runner Runner, runs RunStore) *RunHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &RunHandler{
		runner: runner,
		runs:   runs,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]string),
		last:   make(map[string]*service.RunReport),
	}
}

// StartRunRequest is the body of POST /api/v1/runs.
type StartRunRequest struct {
	Source string `json:"source" binding:"required"`
}

// StartRunResponse acknowledges an accepted run.
type StartRunResponse struct {
	RunID  string          `json:"run_id"`
	Source string          `json:"source"`
	State  domain.RunState `json:"state"`
}

// StartRun handles POST /api/v1/runs.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes 202 with the run id, 400 on an invalid source, 409
// when the source already has a run in flight).
func (h *RunHandler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if err := service.ValidateSource(req.Source); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	if runID, busy := h.active[req.Source]; busy {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{
			"error":  "An analysis of this source is already running",
			"run_id": runID,
		})
		return
	}
	runID := uuid.New().String()
	h.active[req.Source] = runID
	h.wg.Add(1)
	h.mu.Unlock()

	// The run outlives the request but keeps its logger fields. It is
	// cancelled only by Shutdown.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	stop := context.AfterFunc(h.ctx, cancel)
	go func() {
		defer cancel()
		defer stop()
		h.execute(ctx, service.RunRequest{Source: req.Source, RunID: runID})
	}()

	logger.CtxInfo(c.Request.Context(), "Accepted analysis run %s for source %s", runID, req.Source)
	c.JSON(http.StatusAccepted, StartRunResponse{RunID: runID, Source: req.Source, State: domain.RunStateInit})
}

func (h *RunHandler) execute(ctx context.Context, req service.RunRequest) {
	defer h.wg.Done()

	report, err := h.runner.Run(ctx, req)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Analysis run %s of %s failed", req.RunID, req.Source)
	}

	h.mu.Lock()
	delete(h.active, req.Source)
	if report != nil {
		h.remember(req.Source, report)
	}
	h.mu.Unlock()
}

// remember stores the last report of source, dropping the oldest source
// once maxLastReports is exceeded. Callers hold h.mu.
func (h *RunHandler) remember(source string, report *service.RunReport) {
	if _, ok := h.last[source]; ok {
		for i, s := range h.lastOrder {
			if s == source {
				h.lastOrder = append(h.lastOrder[:i], h.lastOrder[i+1:]...)
				break
			}
		}
	}
	h.last[source] = report
	h.lastOrder = append(h.lastOrder, source)

	for len(h.lastOrder) > maxLastReports {
		delete(h.last, h.lastOrder[0])
		h.lastOrder = h.lastOrder[1:]
	}
}

// Wait blocks until every accepted run has finished.
func (h *RunHandler) Wait() {
	h.wg.Wait()
}

// Shutdown cancels every run in flight and waits for them to return, or for
// ctx to be done.
func (h *RunHandler) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetRun handles GET /api/v1/runs/:id.
func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.runs.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load run: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListRuns handles GET /api/v1/runs?source=&limit=.
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
		return
	}

	runs, err := h.runs.ListBySource(c.Request.Context(), c.Query("source"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

// SourceStatusResponse describes the in-flight and last finished run of a source.
type SourceStatusResponse struct {
	Source    string             `json:"source"`
	IsRunning bool               `json:"is_running"`
	RunID     string             `json:"run_id,omitempty"`
	LastRun   *service.RunReport `json:"last_run,omitempty"`
}

// SourceStatus handles GET /api/v1/sources/:source/status.
func (h *RunHandler) SourceStatus(c *gin.Context) {
	source := c.Param("source")

	h.mu.Lock()
	defer h.mu.Unlock()

	runID, running := h.active[source]
	c.JSON(http.StatusOK, SourceStatusResponse{
		Source:    source,
		IsRunning: running,
		RunID:     runID,
		LastRun:   h.last[source],
	})
}
