package api

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"raffleScope/internal/indexer"
	"raffleScope/internal/ledger"
	"raffleScope/internal/scheduler"
	"raffleScope/internal/settlement"
)

// Indexer is the part of the indexer the operator surface drives.
type Indexer interface {
	Status(ctx context.Context) (indexer.Status, error)
	Reprocess(ctx context.Context, from, to uint64) (indexer.ProjectionReport, error)
}

// Settlement is the part of the settlement controller the operator surface drives.
type Settlement interface {
	RunOnce(ctx context.Context) (settlement.PassReport, error)
	Busy() bool
	EligibleCount(ctx context.Context) (int, error)
	SignerReady() bool
}

// Loops starts and stops the scheduled task groups.
type Loops interface {
	Start(name string) error
	Stop(name string) error
	Status() map[string]bool
}

// Pinger checks the store connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemInfo is static process information reported by the status endpoint.
type SystemInfo struct {
	ChainID       string
	Contract      string
	SenderAddress string
}

type SystemHandler struct {
	Info         SystemInfo
	Indexer      Indexer
	Settlement   Settlement
	Loops        Loops
	Store        Pinger
	LagThreshold uint64
	Logger       *zap.Logger
}

type processRequest struct {
	FromHeight uint64 `json:"fromHeight"`
	ToHeight   uint64 `json:"toHeight"`
}

type systemStatus struct {
	ChainID       string          `json:"chain_id"`
	Contract      string          `json:"contract"`
	CurrentHeight uint64          `json:"current_height"`
	LastProcessed uint64          `json:"last_processed_height"`
	Lag           uint64          `json:"lag"`
	SignerReady   bool            `json:"signer_ready"`
	SignerAddress string          `json:"signer_address,omitempty"`
	Eligible      int             `json:"eligible_raffles"`
	Busy          bool            `json:"settlement_busy"`
	Loops         map[string]bool `json:"loops"`
}

func (h *SystemHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)

	g := r.Group("/api/system")
	g.GET("/status", h.status)
	g.POST("/indexer/start", h.startLoop(scheduler.GroupIndexer))
	g.POST("/indexer/stop", h.stopLoop(scheduler.GroupIndexer))
	g.POST("/indexer/process", h.process)
	g.POST("/settlement/start", h.startLoop(scheduler.GroupSettlement))
	g.POST("/settlement/stop", h.stopLoop(scheduler.GroupSettlement))
	g.POST("/settlement/run", h.runSettlement)
}

func (h *SystemHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *SystemHandler) health(c *gin.Context) {
	ctx := c.Request.Context()

	st, err := h.Indexer.Status(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "height query failed: " + err.Error()})
		return
	}
	if err := h.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "store unreachable: " + err.Error()})
		return
	}

	var reasons []string
	if st.Lag > h.LagThreshold {
		reasons = append(reasons, "cursor_lag")
	}
	if !h.Settlement.SignerReady() {
		reasons = append(reasons, "signer_not_ready")
	}
	var stopped []string
	for name, running := range h.Loops.Status() {
		if !running {
			stopped = append(stopped, name+"_stopped")
		}
	}
	sort.Strings(stopped)
	reasons = append(reasons, stopped...)

	status := "ok"
	if len(reasons) > 0 {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "lag": st.Lag, "reasons": reasons})
}

func (h *SystemHandler) status(c *gin.Context) {
	ctx := c.Request.Context()

	st, err := h.Indexer.Status(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	eligible, err := h.Settlement.EligibleCount(ctx)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	Ok(c, systemStatus{
		ChainID:       h.Info.ChainID,
		Contract:      h.Info.Contract,
		CurrentHeight: st.CurrentHeight,
		LastProcessed: st.LastProcessed,
		Lag:           st.Lag,
		SignerReady:   h.Settlement.SignerReady(),
		SignerAddress: h.Info.SenderAddress,
		Eligible:      eligible,
		Busy:          h.Settlement.Busy(),
		Loops:         h.Loops.Status(),
	}, nil)
}

func (h *SystemHandler) startLoop(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.Loops.Start(name); err != nil {
			Error(c, http.StatusInternalServerError, err.Error(), nil)
			return
		}
		h.logger().Info("loop started by operator", zap.String("group", name))
		Ok(c, gin.H{"group": name, "running": true}, nil)
	}
}

func (h *SystemHandler) stopLoop(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.Loops.Stop(name); err != nil {
			Error(c, http.StatusInternalServerError, err.Error(), nil)
			return
		}
		h.logger().Info("loop stopped by operator", zap.String("group", name))
		Ok(c, gin.H{"group": name, "running": false}, nil)
	}
}

func (h *SystemHandler) process(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.FromHeight == 0 || req.ToHeight == 0 {
		Error(c, http.StatusBadRequest, "fromHeight and toHeight are required", nil)
		return
	}
	if req.FromHeight > req.ToHeight {
		Error(c, http.StatusBadRequest, "fromHeight must be less than or equal to toHeight", nil)
		return
	}

	report, err := h.Indexer.Reprocess(c.Request.Context(), req.FromHeight, req.ToHeight)
	if err != nil {
		h.logger().Warn("manual reprocess failed",
			zap.Uint64("from", req.FromHeight),
			zap.Uint64("to", req.ToHeight),
			zap.Error(err),
		)
		Error(c, failureStatus(err), err.Error(), map[string]any{"report": report})
		return
	}
	Ok(c, report, nil)
}

func (h *SystemHandler) runSettlement(c *gin.Context) {
	if !h.Settlement.SignerReady() {
		Error(c, http.StatusPreconditionFailed, ledger.ErrSigningNotReady.Error(), nil)
		return
	}

	report, err := h.Settlement.RunOnce(c.Request.Context())
	switch {
	case err == nil:
		Ok(c, report, nil)
	case errors.Is(err, settlement.ErrBusy):
		Error(c, http.StatusConflict, err.Error(), nil)
	default:
		h.logger().Warn("manual settlement pass failed", zap.Error(err))
		Error(c, failureStatus(err), err.Error(), map[string]any{"report": report})
	}
}

// failureStatus maps precondition failures to 412 and everything else to 502.
func failureStatus(err error) int {
	if ledger.IsPrecondition(err) {
		return http.StatusPreconditionFailed
	}
	return http.StatusBadGateway
}
