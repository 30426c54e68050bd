package sdk

import (
	"context"

	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
)

// Broker is the order surface a strategy sees during simulation. All fills
// route through the simulated broker's bookkeeping; a strategy cannot trade
// outside it.
type Broker interface {
	// Buy opens a position using the given fraction of available cash.
	// A no-op while a position is already open.
	Buy(fraction float64) error
	// Sell closes the open position. A no-op while flat.
	Sell() error

	Cash() float64
	Equity() float64
	Position() float64
	EntryPrice() float64
	BarsHeld() int
}

// Context carries the run-scoped state handed to a strategy at initialization
type Context struct {
	Symbol string
	Params map[string]float64
	Broker Broker
}

// Strategy is the shape every executable strategy must satisfy. The
// execution host wraps submitted source in an adapter implementing this
// interface; nothing else is accepted by the engine.
type Strategy interface {
	Initialize(ctx context.Context, sctx *Context) error
	OnBar(ctx context.Context, bar kline.Kline) error
	Finish(ctx context.Context) error
}
