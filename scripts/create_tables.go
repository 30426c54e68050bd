package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		connStr = "host=localhost port=5432 user=postgres dbname=quantlab sslmode=disable"
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to open connection: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	fmt.Println("Connected to database successfully")

	createTables := []string{
		`CREATE TABLE IF NOT EXISTS backtests (
			id UUID PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL DEFAULT '',
			name VARCHAR(255) NOT NULL DEFAULT '',
			strategy_source TEXT NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			start_time TIMESTAMP WITH TIME ZONE NOT NULL,
			end_time TIMESTAMP WITH TIME ZONE NOT NULL,
			interval VARCHAR(8) NOT NULL,
			initial_capital DECIMAL(20,8) NOT NULL,
			commission_rate DECIMAL(10,6) NOT NULL DEFAULT 0,
			min_commission DECIMAL(20,8) NOT NULL DEFAULT 0,
			tax_rate DECIMAL(10,6) NOT NULL DEFAULT 0,
			slippage_rate DECIMAL(10,6) NOT NULL DEFAULT 0,
			params JSONB NOT NULL DEFAULT '{}',
			status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
			error_message TEXT NOT NULL DEFAULT '',
			task_id VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMP WITH TIME ZONE
		)`,

		`CREATE TABLE IF NOT EXISTS backtest_metrics (
			backtest_id UUID PRIMARY KEY REFERENCES backtests(id) ON DELETE CASCADE,
			total_return DECIMAL(20,8) NOT NULL DEFAULT 0,
			total_pnl DECIMAL(20,8) NOT NULL DEFAULT 0,
			win_rate DECIMAL(10,6) NOT NULL DEFAULT 0,
			profit_factor DECIMAL(20,8) NOT NULL DEFAULT 0,
			sharpe_ratio DECIMAL(20,8) NOT NULL DEFAULT 0,
			max_drawdown DECIMAL(20,8) NOT NULL DEFAULT 0,
			max_drawdown_pct DECIMAL(10,6) NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0,
			losing_trades INTEGER NOT NULL DEFAULT 0,
			avg_win DECIMAL(20,8) NOT NULL DEFAULT 0,
			avg_loss DECIMAL(20,8) NOT NULL DEFAULT 0,
			avg_holding_days DECIMAL(10,4) NOT NULL DEFAULT 0,
			final_value DECIMAL(20,8) NOT NULL DEFAULT 0,
			derived_series JSONB,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS backtest_trades (
			backtest_id UUID NOT NULL REFERENCES backtests(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			entry_time TIMESTAMP WITH TIME ZONE NOT NULL,
			entry_price DECIMAL(20,8) NOT NULL,
			exit_time TIMESTAMP WITH TIME ZONE NOT NULL,
			exit_price DECIMAL(20,8) NOT NULL,
			size DECIMAL(20,8) NOT NULL,
			commission DECIMAL(20,8) NOT NULL DEFAULT 0,
			pnl DECIMAL(20,8) NOT NULL DEFAULT 0,
			pnl_net DECIMAL(20,8) NOT NULL DEFAULT 0,
			holding_days INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (backtest_id, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS backtest_equity (
			backtest_id UUID NOT NULL REFERENCES backtests(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			time TIMESTAMP WITH TIME ZONE NOT NULL,
			total DECIMAL(20,8) NOT NULL,
			cash DECIMAL(20,8) NOT NULL,
			position_value DECIMAL(20,8) NOT NULL,
			PRIMARY KEY (backtest_id, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS klines (
			symbol VARCHAR(20) NOT NULL,
			interval VARCHAR(8) NOT NULL,
			open_time TIMESTAMP WITH TIME ZONE NOT NULL,
			open DECIMAL(20,8) NOT NULL,
			high DECIMAL(20,8) NOT NULL,
			low DECIMAL(20,8) NOT NULL,
			close DECIMAL(20,8) NOT NULL,
			volume DECIMAL(30,8) NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, interval, open_time)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_backtests_owner ON backtests(owner_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_backtests_status ON backtests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_klines_lookup ON klines(symbol, interval, open_time)`,
	}

	for i, query := range createTables {
		fmt.Printf("Executing statement %d/%d...\n", i+1, len(createTables))
		if _, err := db.Exec(query); err != nil {
			log.Fatalf("Failed to execute statement %d: %v", i+1, err)
		}
	}

	fmt.Println("All tables created successfully")
}
