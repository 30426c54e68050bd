package backtest

import (
	"time"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
)

// openState tracks an open position until the closing fill
type openState struct {
	entryTime  time.Time
	entryPrice float64
	size       float64
	commission float64
}

// Broker simulates a single-instrument cash account stepping once per bar.
// Fills happen at the close of the current bar adjusted for slippage, and
// every closed round trip emits a TradeRecord.
type Broker struct {
	cfg      Config
	cash     float64
	open     map[string]*openState
	trades   []TradeRecord
	equity   []EquityPoint
	bar      kline.Kline
	hasBar   bool
	barsHeld int
}

// NewBroker creates a broker with the configured starting capital
func NewBroker(cfg Config) *Broker {
	return &Broker{
		cfg:  cfg,
		cash: cfg.InitialCapital,
	}
}

// openStates returns the bookkeeping map, creating it on first use
func (b *Broker) openStates() map[string]*openState {
	if b.open == nil {
		b.open = make(map[string]*openState)
	}
	return b.open
}

// setBar advances the broker to the given bar
func (b *Broker) setBar(bar kline.Kline) {
	b.bar = bar
	b.hasBar = true
	if b.holding() {
		b.barsHeld++
	}
}

func (b *Broker) holding() bool {
	_, ok := b.openStates()[b.cfg.Symbol]
	return ok
}

func (b *Broker) commission(notional float64) float64 {
	if b.cfg.CommissionRate <= 0 {
		return 0
	}
	c := notional * b.cfg.CommissionRate
	if c < b.cfg.MinCommission {
		c = b.cfg.MinCommission
	}
	return c
}

// Buy opens a position spending the given fraction of available cash.
// A second buy while a position is open is ignored.
func (b *Broker) Buy(fraction float64) error {
	if !b.hasBar {
		return apperrors.New(apperrors.ErrCodeExecution, "buy before first bar", nil)
	}
	if fraction <= 0 || fraction > 1 {
		return apperrors.Newf(apperrors.ErrCodeValidation, "buy fraction %v out of range", fraction)
	}
	if b.holding() {
		return nil
	}

	fillPrice := b.bar.Close * (1 + b.cfg.SlippageRate)
	if fillPrice <= 0 {
		return apperrors.New(apperrors.ErrCodeDataInvalid, "non-positive fill price", nil)
	}

	size := b.cash * fraction / fillPrice
	if size <= 0 {
		return nil
	}

	notional := size * fillPrice
	fee := b.commission(notional)
	if notional+fee > b.cash {
		// Shrink the fill so cash never goes negative
		size = (b.cash - fee) / fillPrice
		if size <= 0 {
			return nil
		}
		notional = size * fillPrice
	}

	b.cash -= notional + fee
	b.openStates()[b.cfg.Symbol] = &openState{
		entryTime:  b.bar.OpenTime,
		entryPrice: fillPrice,
		size:       size,
		commission: fee,
	}
	b.barsHeld = 0
	return nil
}

// Sell closes the open position. Selling while flat is a no-op.
func (b *Broker) Sell() error {
	if !b.hasBar {
		return apperrors.New(apperrors.ErrCodeExecution, "sell before first bar", nil)
	}
	state, ok := b.openStates()[b.cfg.Symbol]
	if !ok {
		return nil
	}

	fillPrice := b.bar.Close * (1 - b.cfg.SlippageRate)
	notional := state.size * fillPrice
	fee := b.commission(notional)
	tax := notional * b.cfg.TaxRate

	b.cash += notional - fee - tax

	pnl := (fillPrice - state.entryPrice) * state.size
	totalCommission := state.commission + fee + tax
	b.trades = append(b.trades, TradeRecord{
		Symbol:      b.cfg.Symbol,
		EntryTime:   state.entryTime,
		EntryPrice:  state.entryPrice,
		ExitTime:    b.bar.OpenTime,
		ExitPrice:   fillPrice,
		Size:        state.size,
		Commission:  totalCommission,
		PnL:         pnl,
		PnLNet:      pnl - totalCommission,
		HoldingDays: calendarDays(state.entryTime, b.bar.OpenTime),
	})

	delete(b.openStates(), b.cfg.Symbol)
	b.barsHeld = 0
	return nil
}

// MarkToMarket appends one equity point for the current bar
func (b *Broker) MarkToMarket() {
	positionValue := 0.0
	if state, ok := b.openStates()[b.cfg.Symbol]; ok {
		positionValue = state.size * b.bar.Close
	}
	b.equity = append(b.equity, EquityPoint{
		Time:          b.bar.OpenTime,
		Total:         b.cash + positionValue,
		Cash:          b.cash,
		PositionValue: positionValue,
	})
}

// CloseAll liquidates any open position at the current bar
func (b *Broker) CloseAll() error {
	if b.holding() {
		return b.Sell()
	}
	return nil
}

// Cash returns the free cash balance
func (b *Broker) Cash() float64 { return b.cash }

// Equity returns cash plus the marked value of the open position
func (b *Broker) Equity() float64 {
	if state, ok := b.openStates()[b.cfg.Symbol]; ok && b.hasBar {
		return b.cash + state.size*b.bar.Close
	}
	return b.cash
}

// Position returns the size of the open position, 0 when flat
func (b *Broker) Position() float64 {
	if state, ok := b.openStates()[b.cfg.Symbol]; ok {
		return state.size
	}
	return 0
}

// EntryPrice returns the fill price of the open position, 0 when flat
func (b *Broker) EntryPrice() float64 {
	if state, ok := b.openStates()[b.cfg.Symbol]; ok {
		return state.entryPrice
	}
	return 0
}

// BarsHeld returns the number of bars since the position opened
func (b *Broker) BarsHeld() int {
	if !b.holding() {
		return 0
	}
	return b.barsHeld
}

// Trades returns the closed round trips in execution order
func (b *Broker) Trades() []TradeRecord { return b.trades }

// EquityCurve returns the per-bar equity points
func (b *Broker) EquityCurve() []EquityPoint { return b.equity }

// calendarDays returns the whole calendar days between two instants
func calendarDays(from, to time.Time) int {
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	days := int(toDay.Sub(fromDay).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
