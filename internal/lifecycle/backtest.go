package lifecycle

import (
	"time"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
)

// Backtest represents one requested simulation and its lifecycle state
type Backtest struct {
	ID             string             `json:"id"`
	OwnerID        string             `json:"owner_id"`
	Name           string             `json:"name"`
	StrategySource string             `json:"strategy_source"`
	Symbol         string             `json:"symbol"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        time.Time          `json:"end_time"`
	Interval       kline.Interval     `json:"interval"`
	InitialCapital float64            `json:"initial_capital"`
	CommissionRate float64            `json:"commission_rate"`
	MinCommission  float64            `json:"min_commission"`
	TaxRate        float64            `json:"tax_rate"`
	SlippageRate   float64            `json:"slippage_rate"`
	Params         map[string]float64 `json:"params,omitempty"`
	Status         Status             `json:"status"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	TaskID         string             `json:"task_id,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
}

// ValidateRequest checks the request parameters of a backtest before it
// may be submitted for execution
func (b *Backtest) ValidateRequest() error {
	if b.Symbol == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "symbol is required", nil)
	}
	if b.StrategySource == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "strategy source is required", nil)
	}
	if !b.EndTime.After(b.StartTime) {
		return apperrors.New(apperrors.ErrCodeValidation, "end time must be after start time", nil)
	}
	if b.InitialCapital <= 0 {
		return apperrors.New(apperrors.ErrCodeValidation, "initial capital must be positive", nil)
	}
	if !b.Interval.Valid() {
		return apperrors.Newf(apperrors.ErrCodeValidation, "unknown interval %q", b.Interval)
	}
	if b.CommissionRate < 0 || b.TaxRate < 0 || b.SlippageRate < 0 {
		return apperrors.New(apperrors.ErrCodeValidation, "rates must not be negative", nil)
	}
	return nil
}
