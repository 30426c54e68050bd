package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/RitaChen0/QuantLab-sub000/internal/backtest"
	"github.com/RitaChen0/QuantLab-sub000/internal/database"
	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
	"github.com/RitaChen0/QuantLab-sub000/internal/lifecycle"
	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
)

const (
	writeAttempts = 3
	writeBaseWait = 100 * time.Millisecond
)

// Repository persists backtests and their results in Postgres
type Repository struct {
	db *database.DB
}

// NewRepository creates a repository over an open connection pool
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// withRetry runs a write with bounded exponential backoff. Context
// cancellation stops the retry loop immediately.
func (r *Repository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		appErr := apperrors.AsAppError(err)
		if appErr != nil && !appErr.IsRetryable() {
			return err
		}
		select {
		case <-time.After(writeBaseWait << attempt):
		case <-ctx.Done():
			return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeDBQuery, "write abandoned")
		}
	}
	return err
}

const backtestColumns = `
	id, owner_id, name, strategy_source, symbol, start_time, end_time,
	interval, initial_capital, commission_rate, min_commission, tax_rate,
	slippage_rate, params, status, error_message, task_id, created_at,
	updated_at, completed_at
`

// Create inserts a new backtest record
func (r *Repository) Create(ctx context.Context, b *lifecycle.Backtest) error {
	params, err := json.Marshal(b.Params)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "params not serializable")
	}

	query := `
		INSERT INTO backtests (` + backtestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	return r.withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query,
			b.ID, b.OwnerID, b.Name, b.StrategySource, b.Symbol,
			b.StartTime, b.EndTime, string(b.Interval), b.InitialCapital,
			b.CommissionRate, b.MinCommission, b.TaxRate, b.SlippageRate,
			params, string(b.Status), b.ErrorMessage, b.TaskID,
			b.CreatedAt, b.UpdatedAt, b.CompletedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to create backtest")
		}
		return nil
	})
}

func scanBacktest(row interface{ Scan(...interface{}) error }) (*lifecycle.Backtest, error) {
	b := &lifecycle.Backtest{}
	var interval, status string
	var params []byte
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.Name, &b.StrategySource, &b.Symbol,
		&b.StartTime, &b.EndTime, &interval, &b.InitialCapital,
		&b.CommissionRate, &b.MinCommission, &b.TaxRate, &b.SlippageRate,
		&params, &status, &b.ErrorMessage, &b.TaskID,
		&b.CreatedAt, &b.UpdatedAt, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	b.Interval = kline.Interval(interval)
	b.Status = lifecycle.Status(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &b.Params); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "stored params corrupt")
		}
	}
	return b, nil
}

// Get fetches one backtest by id
func (r *Repository) Get(ctx context.Context, id string) (*lifecycle.Backtest, error) {
	query := `SELECT ` + backtestColumns + ` FROM backtests WHERE id = $1`
	b, err := scanBacktest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "backtest %s not found", id)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to get backtest")
	}
	return b, nil
}

// List fetches all backtests owned by ownerID, newest first
func (r *Repository) List(ctx context.Context, ownerID string) ([]*lifecycle.Backtest, error) {
	query := `SELECT ` + backtestColumns + ` FROM backtests WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to list backtests")
	}
	defer rows.Close()

	var out []*lifecycle.Backtest
	for rows.Next() {
		b, err := scanBacktest(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to scan backtest")
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to list backtests")
	}
	return out, nil
}

// ListByStatus fetches all backtests currently in the given status
func (r *Repository) ListByStatus(ctx context.Context, status lifecycle.Status) ([]*lifecycle.Backtest, error) {
	query := `SELECT ` + backtestColumns + ` FROM backtests WHERE status = $1`
	rows, err := r.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to list backtests")
	}
	defer rows.Close()

	var out []*lifecycle.Backtest
	for rows.Next() {
		b, err := scanBacktest(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to scan backtest")
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to list backtests")
	}
	return out, nil
}

// Update rewrites the mutable request fields of a backtest. Records past
// PENDING are frozen.
func (r *Repository) Update(ctx context.Context, b *lifecycle.Backtest) error {
	params, err := json.Marshal(b.Params)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "params not serializable")
	}

	query := `
		UPDATE backtests SET
			name = $2, strategy_source = $3, symbol = $4, start_time = $5,
			end_time = $6, interval = $7, initial_capital = $8,
			commission_rate = $9, min_commission = $10, tax_rate = $11,
			slippage_rate = $12, params = $13, updated_at = $14
		WHERE id = $1 AND status = $15
	`
	return r.withRetry(ctx, func() error {
		res, err := r.db.ExecContext(ctx, query,
			b.ID, b.Name, b.StrategySource, b.Symbol, b.StartTime,
			b.EndTime, string(b.Interval), b.InitialCapital,
			b.CommissionRate, b.MinCommission, b.TaxRate, b.SlippageRate,
			params, time.Now(), string(lifecycle.StatusPending))
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to update backtest")
		}
		return r.expectRow(ctx, res, b.ID, "backtest is no longer editable")
	})
}

// Delete removes a backtest and its attached results
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.withRetry(ctx, func() error {
		res, err := r.db.ExecContext(ctx, `DELETE FROM backtests WHERE id = $1`, id)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to delete backtest")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to delete backtest")
		}
		if n == 0 {
			return apperrors.Newf(apperrors.ErrCodeNotFound, "backtest %s not found", id)
		}
		return nil
	})
}

// statusPriors lists the statuses a transition may start from
func statusPriors(next lifecycle.Status) []string {
	var out []string
	for _, s := range []lifecycle.Status{
		lifecycle.StatusPending, lifecycle.StatusRunning,
		lifecycle.StatusCompleted, lifecycle.StatusFailed, lifecycle.StatusCancelled,
	} {
		if s.CanTransitionTo(next) {
			out = append(out, string(s))
		}
	}
	return out
}

// UpdateStatus flips the status under the state machine guard. An invalid
// transition surfaces as a conflict, a missing record as not found.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status lifecycle.Status, errorMessage, taskID string) error {
	query := `
		UPDATE backtests SET
			status = $2,
			error_message = $3,
			task_id = CASE WHEN $4 <> '' THEN $4 ELSE task_id END,
			updated_at = $5,
			completed_at = CASE WHEN $6 THEN $5 ELSE completed_at END
		WHERE id = $1 AND status = ANY($7)
	`
	return r.withRetry(ctx, func() error {
		res, err := r.db.ExecContext(ctx, query,
			id, string(status), errorMessage, taskID, time.Now(),
			status.IsTerminal(), pq.Array(statusPriors(status)))
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to update status")
		}
		return r.expectRow(ctx, res, id, "status transition not allowed")
	})
}

// expectRow converts a zero-row write into NotFound or Conflict depending
// on whether the record exists at all
func (r *Repository) expectRow(ctx context.Context, res sql.Result, id, conflictMsg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to read write result")
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM backtests WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to check backtest")
	}
	if !exists {
		return apperrors.Newf(apperrors.ErrCodeNotFound, "backtest %s not found", id)
	}
	return apperrors.New(apperrors.ErrCodeConflict, conflictMsg, nil)
}

// SaveResult attaches a completed run's output in one transaction: the
// status flip, the metrics row, all trades and all equity points commit
// together or not at all.
func (r *Repository) SaveResult(ctx context.Context, id string, result *backtest.Result) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBTransaction, "failed to begin transaction")
		}
		defer tx.Rollback()

		now := time.Now()
		res, err := tx.ExecContext(ctx, `
			UPDATE backtests SET status = $2, error_message = '', updated_at = $3, completed_at = $3
			WHERE id = $1 AND status = $4
		`, id, string(lifecycle.StatusCompleted), now, string(lifecycle.StatusRunning))
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBTransaction, "failed to complete backtest")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBTransaction, "failed to complete backtest")
		}
		if n == 0 {
			return apperrors.New(apperrors.ErrCodeConflict, "backtest is not running", nil)
		}

		m := result.Metrics
		series, err := json.Marshal(result.Series)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBTransaction, "derived series not serializable")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO backtest_metrics (
				backtest_id, total_return, total_pnl, win_rate, profit_factor,
				sharpe_ratio, max_drawdown, max_drawdown_pct, total_trades,
				winning_trades, losing_trades, avg_win, avg_loss,
				avg_holding_days, final_value, derived_series, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`, id, m.TotalReturn, m.TotalPnL, m.WinRate, m.ProfitFactor,
			m.SharpeRatio, m.MaxDrawdown, m.MaxDrawdownPct, m.TotalTrades,
			m.WinningTrades, m.LosingTrades, m.AvgWin, m.AvgLoss,
			m.AvgHoldingDays, m.FinalValue, series, now)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBTransaction, "failed to save metrics")
		}

		tradeStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO backtest_trades (
				backtest_id, seq, symbol, entry_time, entry_price, exit_time,
				exit_price, size, commission, pnl, pnl_net, holding_days
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBTransaction, "failed to prepare trade insert")
		}
		defer tradeStmt.Close()
		for i, tr := range result.Trades {
			if _, err := tradeStmt.ExecContext(ctx, id, i, tr.Symbol,
				tr.EntryTime, tr.EntryPrice, tr.ExitTime, tr.ExitPrice,
				tr.Size, tr.Commission, tr.PnL, tr.PnLNet, tr.HoldingDays); err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeDBTransaction, "failed to save trade")
			}
		}

		equityStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO backtest_equity (backtest_id, seq, time, total, cash, position_value)
			VALUES ($1, $2, $3, $4, $5, $6)
		`)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBTransaction, "failed to prepare equity insert")
		}
		defer equityStmt.Close()
		for i, p := range result.Equity {
			if _, err := equityStmt.ExecContext(ctx, id, i, p.Time, p.Total, p.Cash, p.PositionValue); err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeDBTransaction, "failed to save equity point")
			}
		}

		if err := tx.Commit(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBTransaction, "failed to commit result")
		}
		return nil
	})
}

// GetResult loads the persisted output of a completed backtest
func (r *Repository) GetResult(ctx context.Context, id string) (*backtest.Result, error) {
	m := &backtest.PerformanceMetrics{}
	var series []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT total_return, total_pnl, win_rate, profit_factor, sharpe_ratio,
		       max_drawdown, max_drawdown_pct, total_trades, winning_trades,
		       losing_trades, avg_win, avg_loss, avg_holding_days, final_value,
		       derived_series
		FROM backtest_metrics WHERE backtest_id = $1
	`, id).Scan(
		&m.TotalReturn, &m.TotalPnL, &m.WinRate, &m.ProfitFactor, &m.SharpeRatio,
		&m.MaxDrawdown, &m.MaxDrawdownPct, &m.TotalTrades, &m.WinningTrades,
		&m.LosingTrades, &m.AvgWin, &m.AvgLoss, &m.AvgHoldingDays, &m.FinalValue,
		&series)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "no result for backtest %s", id)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to get metrics")
	}

	result := &backtest.Result{Metrics: m}
	if len(series) > 0 {
		if err := json.Unmarshal(series, &result.Series); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "stored series corrupt")
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, entry_time, entry_price, exit_time, exit_price,
		       size, commission, pnl, pnl_net, holding_days
		FROM backtest_trades WHERE backtest_id = $1 ORDER BY seq
	`, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to get trades")
	}
	defer rows.Close()
	for rows.Next() {
		var tr backtest.TradeRecord
		if err := rows.Scan(&tr.Symbol, &tr.EntryTime, &tr.EntryPrice,
			&tr.ExitTime, &tr.ExitPrice, &tr.Size, &tr.Commission,
			&tr.PnL, &tr.PnLNet, &tr.HoldingDays); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to scan trade")
		}
		result.Trades = append(result.Trades, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to get trades")
	}

	eqRows, err := r.db.QueryContext(ctx, `
		SELECT time, total, cash, position_value
		FROM backtest_equity WHERE backtest_id = $1 ORDER BY seq
	`, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to get equity curve")
	}
	defer eqRows.Close()
	for eqRows.Next() {
		var p backtest.EquityPoint
		if err := eqRows.Scan(&p.Time, &p.Total, &p.Cash, &p.PositionValue); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to scan equity point")
		}
		result.Equity = append(result.Equity, p)
	}
	if err := eqRows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to get equity curve")
	}

	return result, nil
}
