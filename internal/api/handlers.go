package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
	"github.com/RitaChen0/QuantLab-sub000/internal/lifecycle"
	"github.com/RitaChen0/QuantLab-sub000/internal/logging"
	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// BacktestRequest carries the user-editable fields of a backtest
type BacktestRequest struct {
	OwnerID        string             `json:"owner_id"`
	Name           string             `json:"name"`
	StrategySource string             `json:"strategy_source"`
	Symbol         string             `json:"symbol"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        time.Time          `json:"end_time"`
	Interval       string             `json:"interval"`
	InitialCapital float64            `json:"initial_capital"`
	CommissionRate float64            `json:"commission_rate"`
	MinCommission  float64            `json:"min_commission"`
	TaxRate        float64            `json:"tax_rate"`
	SlippageRate   float64            `json:"slippage_rate"`
	Params         map[string]float64 `json:"params,omitempty"`
}

func (r *BacktestRequest) apply(b *lifecycle.Backtest) {
	b.OwnerID = r.OwnerID
	b.Name = r.Name
	b.StrategySource = r.StrategySource
	b.Symbol = r.Symbol
	b.StartTime = r.StartTime
	b.EndTime = r.EndTime
	b.Interval = kline.Interval(r.Interval)
	b.InitialCapital = r.InitialCapital
	b.CommissionRate = r.CommissionRate
	b.MinCommission = r.MinCommission
	b.TaxRate = r.TaxRate
	b.SlippageRate = r.SlippageRate
	b.Params = r.Params
}

// BacktestHandler handles backtest lifecycle requests
type BacktestHandler struct {
	repo    lifecycle.Repository
	manager *lifecycle.Manager
	logger  *logging.Logger
}

// NewBacktestHandler creates a new backtest handler
func NewBacktestHandler(repo lifecycle.Repository, manager *lifecycle.Manager, logger *logging.Logger) *BacktestHandler {
	return &BacktestHandler{
		repo:    repo,
		manager: manager,
		logger:  logger,
	}
}

// Create registers a new backtest in PENDING state
// @Router /api/v1/backtests [post]
func (h *BacktestHandler) Create(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	now := time.Now().UTC()
	b := &lifecycle.Backtest{
		ID:        uuid.New().String(),
		Status:    lifecycle.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.apply(b)

	if err := b.ValidateRequest(); err != nil {
		c.Error(err)
		return
	}
	if err := h.repo.Create(c.Request.Context(), b); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: b})
}

// List returns the backtests of an owner
// @Router /api/v1/backtests [get]
func (h *BacktestHandler) List(c *gin.Context) {
	ownerID := c.Query("owner_id")

	var (
		items []*lifecycle.Backtest
		err   error
	)
	if status := c.Query("status"); status != "" {
		s := lifecycle.Status(status)
		if !s.Valid() {
			c.Error(apperrors.Newf(apperrors.ErrCodeValidation, "unknown status %q", status))
			return
		}
		items, err = h.repo.ListByStatus(c.Request.Context(), s)
	} else {
		items, err = h.repo.List(c.Request.Context(), ownerID)
	}
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: items})
}

// Get returns a single backtest
// @Router /api/v1/backtests/{id} [get]
func (h *BacktestHandler) Get(c *gin.Context) {
	b, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: b})
}

// Update rewrites the request parameters of a PENDING backtest
// @Router /api/v1/backtests/{id} [put]
func (h *BacktestHandler) Update(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid request body"))
		return
	}

	b, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	req.apply(b)
	b.UpdatedAt = time.Now().UTC()

	if err := b.ValidateRequest(); err != nil {
		c.Error(err)
		return
	}
	if err := h.repo.Update(c.Request.Context(), b); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: b})
}

// Delete removes a backtest and its stored results
// @Router /api/v1/backtests/{id} [delete]
func (h *BacktestHandler) Delete(c *gin.Context) {
	if err := h.repo.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "backtest deleted"})
}

// Submit hands a PENDING backtest to the execution engine
// @Router /api/v1/backtests/{id}/submit [post]
func (h *BacktestHandler) Submit(c *gin.Context) {
	taskID, err := h.manager.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, Response{
		Success: true,
		Data: gin.H{
			"backtest_id": c.Param("id"),
			"task_id":     taskID,
			"status":      lifecycle.StatusRunning,
		},
	})
}

// Poll reports execution progress of a submitted backtest
// @Router /api/v1/backtests/{id}/tasks/{task_id} [get]
func (h *BacktestHandler) Poll(c *gin.Context) {
	result, err := h.manager.Poll(c.Request.Context(), c.Param("id"), c.Param("task_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// Cancel stops a pending or running backtest
// @Router /api/v1/backtests/{id}/cancel [post]
func (h *BacktestHandler) Cancel(c *gin.Context) {
	if err := h.manager.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"backtest_id": c.Param("id"), "status": lifecycle.StatusCancelled},
	})
}

// Result returns the stored metrics, trades and equity curve
// @Router /api/v1/backtests/{id}/result [get]
func (h *BacktestHandler) Result(c *gin.Context) {
	result, err := h.repo.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}
