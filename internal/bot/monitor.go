package bot

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/events"
	"whale-spot-bot/internal/logging"
)

const minSimulatedPrice = 1e-8

func (e *Engine) runMonitor(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.MonitorTick(ctx)
		}
	}
}

// MonitorTick evaluates every open trade once and closes those that hit an exit.
// It returns how many trades were closed.
func (e *Engine) MonitorTick(ctx context.Context) int {
	closed := 0
	for _, t := range e.store.OpenTrades() {
		if ctx.Err() != nil {
			return closed
		}
		if e.monitorOne(ctx, t) {
			closed++
		}
	}
	return closed
}

// monitorOne isolates a single trade so a failure there does not stop the others
func (e *Engine) monitorOne(ctx context.Context, t Trade) (closed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("trade_id", t.ID).Interface("panic", r).Msg("Monitoring a trade panicked")
			e.bus.PublishError("monitor", fmt.Sprintf("trade %s: %v", t.ID, r))
			closed = false
		}
	}()

	now := e.now()
	price := e.currentPrice(ctx, t, now)
	_, closed = e.checkTrade(ctx, t, price, now)
	return closed
}

// currentPrice reads the ticker for live-filled trades and simulates everything else
func (e *Engine) currentPrice(ctx context.Context, t Trade, now time.Time) float64 {
	if t.LiveFilled && e.settings.Get().UseRealTrading {
		p, err := e.client.GetTickerPrice(ctx, t.Pair)
		if err == nil && p > 0 {
			return p
		}
		e.logger.Warn().Err(err).Str("trade_id", t.ID).Str("pair", t.Pair).Msg("Ticker unavailable, simulating price")
	}
	return e.simulatePrice(t, now)
}

// simulatePrice draws a price whose spread around entry widens as the trade ages
func (e *Engine) simulatePrice(t Trade, now time.Time) float64 {
	tf := 1.0
	if hold := t.MaxHold(); hold > 0 {
		tf = math.Min(now.Sub(t.OpenedAt).Seconds()/hold.Seconds(), 1)
	}
	if tf < 0 {
		tf = 0
	}
	bound := 1.5 * tf * config.VolatilityFor(t.Mode)

	e.rngMu.Lock()
	change := (e.rng.Float64()*2 - 1) * bound
	e.rngMu.Unlock()

	return math.Max(t.EntryPrice*(1+change/100), minSimulatedPrice)
}

// checkTrade closes t if price or age meets an exit condition
func (e *Engine) checkTrade(ctx context.Context, t Trade, price float64, now time.Time) (Trade, bool) {
	reason, hit := t.exitCondition(price, now)
	if !hit {
		return Trade{}, false
	}
	return e.closeTrade(ctx, t.ID, price, reason)
}

// CloseTrade closes an open trade at the current price
func (e *Engine) CloseTrade(ctx context.Context, id string) (Trade, error) {
	t, ok := e.store.Get(id)
	if !ok || !t.IsOpen() {
		return Trade{}, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
	}
	price := e.currentPrice(ctx, t, e.now())
	closed, ok := e.closeTrade(ctx, id, price, ReasonManual)
	if !ok {
		return Trade{}, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
	}
	return closed, nil
}

// closeTrade performs the close transition exactly once per trade. Live-filled trades send an
// opposite-side order and use its fill as the exit; a failed order keeps the estimate.
func (e *Engine) closeTrade(ctx context.Context, id string, estimate float64, reason CloseReason) (Trade, bool) {
	t, ok := e.store.BeginClose(id)
	if !ok {
		return Trade{}, false
	}
	finished := false
	defer func() {
		// Hand the trade back to the monitor if the close did not complete
		if !finished {
			e.store.AbortClose(id)
		}
	}()
	log := logging.TradeContext(e.logger, t.ID, t.Pair, string(t.Side))

	c := Closing{ExitPrice: estimate, Reason: reason}
	if t.LiveFilled {
		if e.settings.Get().UseRealTrading {
			e.closeLive(ctx, t, &c, log)
		} else {
			c.ExitEstimated = true
			log.Warn().Int64("order_id", t.OrderID).Msg("Real trading is off, exchange position left open; closing at estimate")
		}
	}
	c.ClosedAt = e.now()
	c.ResultPct = t.resultPct(c.ExitPrice)
	c.Profit, c.ProfitApproximate = t.profit(c.ExitPrice, c.ResultPct)

	closed, ok := e.store.FinishClose(id, c)
	finished = true
	if !ok {
		return Trade{}, false
	}

	liveResult := closed.LiveFilled || (closed.CloseOrderID != 0 && closed.LiveOpened)
	e.limiter.RecordClose(closed.ResultPct, closed.Profit, liveResult)

	log.Info().
		Str("reason", string(reason)).
		Float64("entry", closed.EntryPrice).
		Float64("exit", closed.ExitPrice).
		Float64("result_pct", closed.ResultPct).
		Float64("profit", closed.Profit).
		Bool("exit_estimated", closed.ExitEstimated).
		Msg("Trade closed")
	e.publishClosed(closed)
	return closed, true
}

// closeLive sends the closing order. Any failure, a panic included, leaves the estimate in c.
func (e *Engine) closeLive(ctx context.Context, t Trade, c *Closing, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			c.ExitEstimated = true
			log.Error().Interface("panic", r).Float64("estimate", c.ExitPrice).Msg("Close order panicked, using estimated exit")
			e.bus.PublishError("close_order", fmt.Sprintf("%s %s: %v", t.Pair, t.ID, r))
		}
	}()
	result, err := e.client.PlaceMarketOrder(ctx, t.Pair, t.Side.Opposite(), t.Quantity)
	if err != nil {
		c.ExitEstimated = true
		log.Error().Err(err).Float64("estimate", c.ExitPrice).Msg("Close order failed, using estimated exit")
		e.bus.PublishError("close_order", fmt.Sprintf("%s %s: %v", t.Pair, t.ID, err))
		return
	}
	c.CloseOrderID = result.OrderID
	if avg, qty := result.AverageFill(); avg > 0 && qty > 0 {
		c.ExitPrice = avg
		return
	}
	c.ExitEstimated = true
	log.Warn().Int64("order_id", result.OrderID).Str("status", string(result.Status)).Msg("Close order has no fills, using estimated exit")
}

func (e *Engine) publishClosed(t Trade) {
	data := map[string]interface{}{
		"trade_id":           t.ID,
		"pair":               t.Pair,
		"side":               string(t.Side),
		"entry_price":        t.EntryPrice,
		"exit_price":         t.ExitPrice,
		"result_pct":         t.ResultPct,
		"profit":             t.Profit,
		"profit_approximate": t.ProfitApproximate,
		"exit_estimated":     t.ExitEstimated,
		"reason":             string(t.Reason),
		"duration":           int64(t.ClosedAt.Sub(t.OpenedAt).Seconds()),
		"rationale":          t.Rationale,
		"live":               t.LiveFilled,
	}
	if t.ChatID != 0 {
		data[events.KeyChatID] = t.ChatID
	}
	e.bus.Publish(events.Event{Type: events.EventTradeClosed, Data: data})
}
