// Package api exposes runs over HTTP.
package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/enrichment/internal/exporter"
	"github.com/jonesrussell/north-cloud/enrichment/internal/notifier"
	"github.com/jonesrussell/north-cloud/enrichment/internal/service"
	infrajwt "github.com/jonesrussell/north-cloud/infrastructure/jwt"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/infrastructure/sse"
)

// Pagination bounds for item listings.
const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// anonymousOwner owns runs created while auth is disabled.
const anonymousOwner = "anonymous"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler serves the /api/v1/runs endpoints.
type Handler struct {
	runs   *service.RunService
	events sse.Subscriber
	logger infralogger.Logger
}

// NewHandler creates a Handler. events may be nil, which disables the
// progress stream.
func NewHandler(runs *service.RunService, events sse.Subscriber, logger infralogger.Logger) *Handler {
	if logger == nil {
		logger = infralogger.NewNop()
	}
	return &Handler{runs: runs, events: events, logger: logger}
}

type startRequest struct {
	Concurrency int `json:"concurrency"`
}

type retryRequest struct {
	IncludePartial bool `json:"include_partial"`
	AutoStart      bool `json:"auto_start"`
}

// CreateRun handles POST /api/v1/runs
func (h *Handler) CreateRun(c *gin.Context) {
	var req service.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.runs.Create(c.Request.Context(), owner(c), req)
	if err != nil {
		h.writeError(c, "create run", err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

// ListRuns handles GET /api/v1/runs
func (h *Handler) ListRuns(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	filter := domain.RunFilter{
		Owner:  c.Query("owner"),
		Status: domain.RunStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	if sub := infrajwt.Subject(c); sub != "" {
		filter.Owner = sub
	}

	runs, err := h.runs.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, "list runs", err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetRun handles GET /api/v1/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "progress": run.Progress()})
}

// ListItems handles GET /api/v1/runs/:id/items
func (h *Handler) ListItems(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultPageSize
	}

	filter := domain.ItemFilter{Limit: limit, Offset: offset}
	if raw := c.Query("status"); raw != "" {
		for part := range strings.SplitSeq(raw, ",") {
			st, err := domain.ParseItemStatus(part)
			if err != nil {
				h.writeError(c, "list items", err)
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	items, total, err := h.runs.ListItems(c.Request.Context(), run.ID, filter)
	if err != nil {
		h.writeError(c, "list items", err)
		return
	}
	if items == nil {
		items = []*domain.Item{}
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// StartRun handles POST /api/v1/runs/:id/start
func (h *Handler) StartRun(c *gin.Context) {
	current, ok := h.loadRun(c)
	if !ok {
		return
	}
	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	run, started, err := h.runs.Start(c.Request.Context(), current.ID, req.Concurrency)
	if err != nil {
		h.writeError(c, "start run", err)
		return
	}
	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"run": run, "started": started})
}

// CancelRun handles POST /api/v1/runs/:id/cancel
func (h *Handler) CancelRun(c *gin.Context) {
	current, ok := h.loadRun(c)
	if !ok {
		return
	}
	run, err := h.runs.Cancel(c.Request.Context(), current.ID)
	if err != nil {
		h.writeError(c, "cancel run", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// RetryFailed handles POST /api/v1/runs/:id/retry-failed
func (h *Handler) RetryFailed(c *gin.Context) {
	current, ok := h.loadRun(c)
	if !ok {
		return
	}
	var req retryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	run, err := h.runs.RetryFailed(c.Request.Context(), current.ID, req.IncludePartial, req.AutoStart)
	if err != nil {
		h.writeError(c, "retry failed items", err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

// DeleteRun handles DELETE /api/v1/runs/:id
func (h *Handler) DeleteRun(c *gin.Context) {
	current, ok := h.loadRun(c)
	if !ok {
		return
	}
	if err := h.runs.Delete(c.Request.Context(), current.ID); err != nil {
		h.writeError(c, "delete run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "run deleted"})
}

// ExportRun handles GET /api/v1/runs/:id/export?format=json|csv|xlsx
func (h *Handler) ExportRun(c *gin.Context) {
	current, ok := h.loadRun(c)
	if !ok {
		return
	}
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	if format != "json" && format != "csv" && format != "xlsx" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json, csv or xlsx", "field": "format"})
		return
	}

	run, table, err := h.runs.Export(c.Request.Context(), current.ID)
	if err != nil {
		h.writeError(c, "export run", err)
		return
	}

	if format == "json" {
		c.JSON(http.StatusOK, gin.H{
			"run_id":  run.ID,
			"status":  run.Status,
			"columns": table.Columns,
			"rows":    table.Objects(),
		})
		return
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	if format == "csv" {
		contentType = "text/csv; charset=utf-8"
		err = exporter.WriteCSV(&buf, table)
	} else {
		contentType = xlsxContentType
		err = exporter.WriteXLSX(&buf, table)
	}
	if err != nil {
		h.writeError(c, "export run", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="enrichment-%s.%s"`, run.ID, format))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// StreamEvents handles GET /api/v1/runs/:id/events
func (h *Handler) StreamEvents(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "progress stream disabled"})
		return
	}
	current, ok := h.loadRun(c)
	if !ok {
		return
	}
	runID := current.ID
	snapshot := func(ctx context.Context) (sse.Event, error) {
		run, err := h.runs.Get(ctx, runID)
		if err != nil {
			return sse.Event{}, err
		}
		return notifier.ToSSE(notifier.Snapshot(run)), nil
	}
	sse.Handler(h.events, h.log(c), sse.HandlerOptions{Snapshot: snapshot}, sse.WithTopicFilter(runID))(c)
}

// loadRun fetches the :id run and hides runs owned by someone else.
func (h *Handler) loadRun(c *gin.Context) (*domain.Run, bool) {
	id := c.Param("id")
	run, err := h.runs.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "get run", err)
		return nil, false
	}
	if sub := infrajwt.Subject(c); sub != "" && run.Owner != sub {
		h.writeError(c, "get run", &domain.NotFoundError{Resource: "run", ID: id})
		return nil, false
	}
	return run, true
}

func owner(c *gin.Context) string {
	if sub := infrajwt.Subject(c); sub != "" {
		return sub
	}
	return anonymousOwner
}

// pagination reads limit and offset, writing a 400 when either is invalid.
func pagination(c *gin.Context) (limit, offset int, ok bool) {
	var err error
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer", "field": "limit"})
			return 0, 0, false
		}
		limit = min(limit, maxPageSize)
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer", "field": "offset"})
			return 0, 0, false
		}
	}
	return limit, offset, true
}
