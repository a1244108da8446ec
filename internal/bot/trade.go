package bot

import (
	"time"

	"whale-spot-bot/internal/binance"
	"whale-spot-bot/internal/market"
)

type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

type CloseReason string

const (
	ReasonTakeProfit CloseReason = "take-profit"
	ReasonStopLoss   CloseReason = "stop-loss"
	ReasonTimeLimit  CloseReason = "time-limit"
	ReasonManual     CloseReason = "manual"
)

// Source records what opened a trade
const (
	SourceAutoSelected = "auto-selected"
	SourceWhaleAuto    = "whale-auto"
	SourceWhaleFollow  = "whale-follow"
	SourceManual       = "manual"
)

// Trade is one position from open to close. Once Status is CLOSED it is never modified.
type Trade struct {
	ID         string       `json:"id"`
	Pair       string       `json:"pair"`
	BaseAsset  string       `json:"base_asset"`
	QuoteAsset string       `json:"quote_asset"`
	Side       binance.Side `json:"side"`
	Status     TradeStatus  `json:"status"`

	EntryPrice      float64   `json:"entry_price"`
	Quantity        float64   `json:"quantity"`
	BNBValue        float64   `json:"bnb_value"` // 0 when the pair does not involve BNB
	TakeProfitPct   float64   `json:"take_profit_pct"`
	StopLossPct     float64   `json:"stop_loss_pct"`
	TakeProfitPrice float64   `json:"take_profit_price"`
	StopLossPrice   float64   `json:"stop_loss_price"`
	MaxHoldSecs     int       `json:"max_hold_seconds"`
	OpenedAt        time.Time `json:"opened_at"`
	Mode            string    `json:"mode"`
	Source          string    `json:"source"`
	WhaleID         int64     `json:"whale_id,omitempty"`
	Rationale       string    `json:"rationale,omitempty"`
	ChatID          int64     `json:"chat_id,omitempty"`

	OrderID      int64  `json:"order_id,omitempty"`
	LiveOpened   bool   `json:"live_opened"`
	LiveFilled   bool   `json:"live_filled"`
	OpenRejected bool   `json:"open_rejected"`
	OrderError   string `json:"order_error,omitempty"`

	ExitPrice         float64     `json:"exit_price,omitempty"`
	ClosedAt          time.Time   `json:"closed_at,omitempty"`
	ResultPct         float64     `json:"result_pct"`
	Profit            float64     `json:"profit"`
	Reason            CloseReason `json:"reason,omitempty"`
	CloseOrderID      int64       `json:"close_order_id,omitempty"`
	ExitEstimated     bool        `json:"exit_estimated"`
	ProfitApproximate bool        `json:"profit_approximate"`
}

// Closing is the state a trade gains on its close transition
type Closing struct {
	ExitPrice         float64
	ClosedAt          time.Time
	ResultPct         float64
	Profit            float64
	Reason            CloseReason
	CloseOrderID      int64
	ExitEstimated     bool
	ProfitApproximate bool
}

func (t Trade) MaxHold() time.Duration {
	return time.Duration(t.MaxHoldSecs) * time.Second
}

func (t Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// exitPrices returns the take-profit and stop-loss prices around entry
func exitPrices(entry, tpPct, slPct float64, side binance.Side) (float64, float64) {
	if side == binance.SideSell {
		return entry * (1 - tpPct/100), entry * (1 + slPct/100)
	}
	return entry * (1 + tpPct/100), entry * (1 - slPct/100)
}

// setEntry sets the entry price and recomputes the exit prices from the stored percentages
func (t *Trade) setEntry(price float64) {
	t.EntryPrice = price
	t.TakeProfitPrice, t.StopLossPrice = exitPrices(price, t.TakeProfitPct, t.StopLossPct, t.Side)
}

// exitCondition checks take-profit, stop-loss and the time limit, in that order
func (t Trade) exitCondition(price float64, now time.Time) (CloseReason, bool) {
	buy := t.Side == binance.SideBuy
	switch {
	case buy && price >= t.TakeProfitPrice, !buy && price <= t.TakeProfitPrice:
		return ReasonTakeProfit, true
	case buy && price <= t.StopLossPrice, !buy && price >= t.StopLossPrice:
		return ReasonStopLoss, true
	case now.Sub(t.OpenedAt) >= t.MaxHold():
		return ReasonTimeLimit, true
	}
	return "", false
}

// resultPct is the direction-aware percent move from entry to exit
func (t Trade) resultPct(exit float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	if t.Side == binance.SideSell {
		return (t.EntryPrice - exit) / t.EntryPrice * 100
	}
	return (exit - t.EntryPrice) / t.EntryPrice * 100
}

// profit in BNB. Exact when BNB is the quote asset; when BNB is the base it is
// approximated as result% of the quantity. Without a BNB leg there is no conversion,
// so the zero is flagged approximate too.
func (t Trade) profit(exit, resultPct float64) (float64, bool) {
	switch {
	case t.QuoteAsset == market.ReferenceAsset:
		delta := exit - t.EntryPrice
		if t.Side == binance.SideSell {
			delta = -delta
		}
		return delta * t.Quantity, false
	case t.BaseAsset == market.ReferenceAsset:
		return resultPct / 100 * t.Quantity, true
	}
	return 0, true
}
