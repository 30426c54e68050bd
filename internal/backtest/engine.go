package backtest

import (
	"context"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
	"github.com/RitaChen0/QuantLab-sub000/internal/strategy/sdk"
)

// ProgressFunc reports completed and total bar counts during a run
type ProgressFunc func(done, total int)

// Engine drives one strategy over one bar series
type Engine struct {
	cfg      Config
	broker   *Broker
	strategy sdk.Strategy
	progress ProgressFunc
}

// NewEngine creates an engine for the given run configuration
func NewEngine(cfg Config, strategy sdk.Strategy) *Engine {
	return &Engine{
		cfg:      cfg,
		broker:   NewBroker(cfg),
		strategy: strategy,
	}
}

// OnProgress sets an optional per-bar progress callback
func (e *Engine) OnProgress(fn ProgressFunc) {
	e.progress = fn
}

// Run executes the full simulation and returns its result. Cancellation
// is checked at every bar boundary; a cancelled run returns ctx.Err()
// wrapped as an execution error and produces no result.
func (e *Engine) Run(ctx context.Context, bars []kline.Kline, params map[string]float64) (*Result, error) {
	if len(bars) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeDataUnavailable, "no bars to simulate", nil)
	}

	sctx := &sdk.Context{
		Symbol: e.cfg.Symbol,
		Params: params,
		Broker: e.broker,
	}
	if err := e.strategy.Initialize(ctx, sctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeExecution, "strategy initialize failed")
	}

	total := len(bars)
	for i, bar := range bars {
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeExecution, "run cancelled")
		default:
		}

		e.broker.setBar(bar)
		if err := e.strategy.OnBar(ctx, bar); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeExecution, "strategy on_bar failed")
		}

		// Force the ledger closed on the final bar
		if i == total-1 {
			if err := e.broker.CloseAll(); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeExecution, "final liquidation failed")
			}
		}

		e.broker.MarkToMarket()
		if e.progress != nil {
			e.progress(i+1, total)
		}
	}

	if err := e.strategy.Finish(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeExecution, "strategy finish failed")
	}

	finalValue := e.broker.Equity()
	metrics := Analyze(e.cfg.InitialCapital, finalValue, e.broker.Trades(), e.broker.EquityCurve())
	return &Result{
		Metrics: metrics,
		Trades:  e.broker.Trades(),
		Equity:  e.broker.EquityCurve(),
		Series:  Derive(e.broker.Trades(), e.broker.EquityCurve()),
	}, nil
}
