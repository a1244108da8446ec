package risk

// DailyStats aggregates closed-trade results for one calendar day.
// Balances are in the reference asset and only track live-filled trades.
type DailyStats struct {
	Date            string  `json:"date"`
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	TotalProfitPct  float64 `json:"total_profit_pct"`
	TotalProfit     float64 `json:"total_profit"`
	StartingBalance float64 `json:"starting_balance"`
	CurrentBalance  float64 `json:"current_balance"`
	Paused          bool    `json:"paused"`
	PauseReason     string  `json:"pause_reason,omitempty"`
}

// WinRate is the share of winning trades in percent
func (d DailyStats) WinRate() float64 {
	if d.TotalTrades == 0 {
		return 0
	}
	return float64(d.WinningTrades) / float64(d.TotalTrades) * 100
}

func (d DailyStats) BalanceChange() float64 {
	return d.CurrentBalance - d.StartingBalance
}

// BalanceChangePct is the day's balance change in percent, 0 without a starting balance
func (d DailyStats) BalanceChangePct() float64 {
	if d.StartingBalance <= 0 {
		return 0
	}
	return d.BalanceChange() / d.StartingBalance * 100
}
