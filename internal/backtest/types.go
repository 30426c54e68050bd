package backtest

import (
	"time"
)

// Config represents the parameters of a single simulation run
type Config struct {
	Symbol         string
	InitialCapital float64
	CommissionRate float64
	MinCommission  float64
	TaxRate        float64
	SlippageRate   float64
}

// TradeRecord represents one closed round trip
type TradeRecord struct {
	Symbol      string    `json:"symbol"`
	EntryTime   time.Time `json:"entry_time"`
	EntryPrice  float64   `json:"entry_price"`
	ExitTime    time.Time `json:"exit_time"`
	ExitPrice   float64   `json:"exit_price"`
	Size        float64   `json:"size"`
	Commission  float64   `json:"commission"`
	PnL         float64   `json:"pnl"`
	PnLNet      float64   `json:"pnl_net"`
	HoldingDays int       `json:"holding_days"`
}

// EquityPoint represents one point of the equity curve
type EquityPoint struct {
	Time          time.Time `json:"time"`
	Total         float64   `json:"total"`
	Cash          float64   `json:"cash"`
	PositionValue float64   `json:"position_value"`
}

// PerformanceMetrics represents the summary statistics of a completed run
type PerformanceMetrics struct {
	TotalReturn    float64 `json:"total_return"`
	TotalPnL       float64 `json:"total_pnl"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	AvgHoldingDays float64 `json:"avg_holding_days"`
	FinalValue     float64 `json:"final_value"`
}

// Result represents everything a completed run produces
type Result struct {
	Metrics *PerformanceMetrics `json:"metrics"`
	Trades  []TradeRecord       `json:"trades"`
	Equity  []EquityPoint       `json:"equity"`
	Series  *DerivedSeries      `json:"series,omitempty"`
}
