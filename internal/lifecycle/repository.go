package lifecycle

import (
	"context"

	"github.com/RitaChen0/QuantLab-sub000/internal/backtest"
)

// Repository persists backtests and their results
type Repository interface {
	Create(ctx context.Context, b *Backtest) error
	Get(ctx context.Context, id string) (*Backtest, error)
	List(ctx context.Context, ownerID string) ([]*Backtest, error)
	ListByStatus(ctx context.Context, status Status) ([]*Backtest, error)
	Update(ctx context.Context, b *Backtest) error
	Delete(ctx context.Context, id string) error

	// UpdateStatus flips the status, recording an optional error summary
	// and the task id when present
	UpdateStatus(ctx context.Context, id string, status Status, errorMessage, taskID string) error

	// SaveResult writes metrics, trades, equity points and the COMPLETED
	// status as a single transaction
	SaveResult(ctx context.Context, id string, result *backtest.Result) error

	// GetResult fetches the persisted result of a completed backtest
	GetResult(ctx context.Context, id string) (*backtest.Result, error)
}
