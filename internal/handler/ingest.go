package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wowmarket/internal/repository"
	"wowmarket/internal/service"
)

// JobRunner starts one full ingestion.
type JobRunner interface {
	Run(ctx context.Context, trigger string) (service.RunReport, error)
}

type IngestHandler struct {
	Job    JobRunner
	Store  repository.IngestRepository
	Logger *zap.Logger
	// BaseCtx outlives the triggering request; runs are cancelled with it.
	BaseCtx context.Context

	running atomic.Bool
}

func (h *IngestHandler) Register(r *gin.Engine) {
	group := r.Group("/api/ingest")
	group.POST("/run", h.triggerRun)
	group.GET("/runs", h.listRuns)
	group.GET("/sync-state", h.listSyncState)
	group.GET("/commodities", h.listCommodities)
	group.GET("/realms/:id/auctions", h.listActiveAuctions)
}

// triggerRun starts a run in the background and answers 202, or 409 when one
// is already running in this process.
func (h *IngestHandler) triggerRun(c *gin.Context) {
	if h.Job == nil {
		Error(c, http.StatusInternalServerError, "ingest job unavailable", nil)
		return
	}
	if !h.running.CompareAndSwap(false, true) {
		Error(c, http.StatusConflict, service.ErrRunInProgress.Error(), nil)
		return
	}
	base := h.BaseCtx
	if base == nil {
		base = context.Background()
	}
	go func() {
		defer h.running.Store(false)
		report, err := h.Job.Run(base, "api")
		if h.Logger == nil {
			return
		}
		if err != nil {
			if errors.Is(err, service.ErrRunInProgress) {
				h.Logger.Info("api run skipped, another run holds the lock")
				return
			}
			h.Logger.Warn("api run failed", zap.String("run_id", report.RunID), zap.Error(err))
			return
		}
		h.Logger.Info("api run finished", zap.String("run_id", report.RunID), zap.Bool("success", report.Success))
	}()
	Accepted(c, map[string]any{"trigger": "api"})
}

func (h *IngestHandler) listRuns(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "store unavailable", nil)
		return
	}
	params := repository.ListIngestionRunsParams{
		Limit:  intQuery(c, "limit", 20),
		Offset: intQuery(c, "offset", 0),
	}
	if since := strings.TrimSpace(c.Query("since")); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			Error(c, http.StatusBadRequest, "since must be RFC3339", nil)
			return
		}
		params.Since = &t
	}
	runs, err := h.Store.ListIngestionRuns(c.Request.Context(), params)
	if err != nil {
		h.warn("list ingestion runs failed", err)
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, runs, pageMeta(params.Limit, params.Offset, len(runs)))
}

func (h *IngestHandler) listSyncState(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "store unavailable", nil)
		return
	}
	states, err := h.Store.ListSyncStates(c.Request.Context())
	if err != nil {
		h.warn("list sync state failed", err)
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, states, nil)
}

func (h *IngestHandler) listCommodities(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "store unavailable", nil)
		return
	}
	params := repository.ListCommoditiesParams{
		Limit:  intQuery(c, "limit", 200),
		Offset: intQuery(c, "offset", 0),
		ItemID: int64QueryPtr(c, "item_id"),
	}
	rows, err := h.Store.ListCommodities(c.Request.Context(), params)
	if err != nil {
		h.warn("list commodities failed", err)
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, rows, pageMeta(params.Limit, params.Offset, len(rows)))
}

// listActiveAuctions takes the surrogate realm id.
func (h *IngestHandler) listActiveAuctions(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "store unavailable", nil)
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		Error(c, http.StatusBadRequest, "invalid realm id", nil)
		return
	}
	rows, err := h.Store.ListActiveAuctions(c.Request.Context(), id)
	if err != nil {
		h.warn("list active auctions failed", err)
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, rows, map[string]any{"count": len(rows)})
}

func (h *IngestHandler) warn(msg string, err error) {
	if h.Logger != nil {
		h.Logger.Warn(msg, zap.Error(err))
	}
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func int64QueryPtr(c *gin.Context, key string) *int64 {
	if val := c.Query(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return &i
		}
	}
	return nil
}
