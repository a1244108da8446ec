package notification

import (
	"fmt"
	"html"
	"strings"

	"github.com/rs/zerolog"

	"whale-spot-bot/internal/events"
)

const (
	FollowWhalePrefix = "follow_whale_"
	IgnoreWhalePrefix = "ignore_whale_"
)

// Enqueuer accepts items for delivery
type Enqueuer interface {
	Enqueue(item Item) error
}

// Bridge turns engine events into chat messages
type Bridge struct {
	out    Enqueuer
	logger zerolog.Logger
}

func NewBridge(out Enqueuer, logger zerolog.Logger) *Bridge {
	return &Bridge{
		out:    out,
		logger: logger.With().Str("component", "NotificationBridge").Logger(),
	}
}

// Attach subscribes the bridge to every event on the bus
func (b *Bridge) Attach(bus *events.EventBus) {
	bus.SubscribeAll(b.Handle)
}

// Handle formats and enqueues one event; events without a message are ignored
func (b *Bridge) Handle(ev events.Event) {
	item, ok := Format(ev)
	if !ok {
		return
	}
	if chatID := ev.ChatID(); chatID != 0 {
		item.ChatIDs = []int64{chatID}
	}
	if err := b.out.Enqueue(item); err != nil {
		b.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("Notification not queued")
	}
}

// Format renders an event as HTML text with optional buttons
func Format(ev events.Event) (Item, bool) {
	switch ev.Type {
	case events.EventTradeOpened:
		return Item{Text: formatTradeOpened(ev)}, true
	case events.EventTradeClosed:
		return Item{Text: formatTradeClosed(ev)}, true
	case events.EventTradeFailed:
		return Item{Text: fmt.Sprintf("⚠️ <b>Trade failed</b> %s %s\n%s",
			esc(ev.Str("side")), esc(ev.Str("pair")), esc(ev.Str("error")))}, true
	case events.EventWhaleDetected:
		if !ev.Bool("notify") {
			return Item{}, false
		}
		return formatWhale(ev), true
	case events.EventAdviceUpdated:
		return Item{Text: fmt.Sprintf("🤖 <b>AI parameters updated</b> for %s\nTP %.2f%% | SL %.2f%% | Max hold %ds\n<i>%s</i>",
			esc(ev.Str("pair")), ev.Float("take_profit"), ev.Float("stop_loss"), ev.Int64("max_hold"), esc(ev.Str("rationale")))}, true
	case events.EventDailyLimitReached:
		return Item{Text: formatDailyLimit(ev)}, true
	case events.EventBotStarted:
		mode := "simulation"
		if ev.Bool("live") {
			mode = "LIVE"
		}
		return Item{Text: fmt.Sprintf("▶️ <b>Trading engine started</b> (%s, %s)", esc(ev.Str("trading_mode")), mode)}, true
	case events.EventBotStopped:
		return Item{Text: fmt.Sprintf("⏹ <b>Trading engine stopped</b>, %d trade(s) still open", ev.Int64("open_trades"))}, true
	case events.EventError:
		return Item{Text: fmt.Sprintf("❗ <b>%s</b>: %s", esc(ev.Str("source")), esc(ev.Str("message")))}, true
	}
	return Item{}, false
}

func formatTradeOpened(ev events.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>Trade opened</b> %s %s\n", sideEmoji(ev.Str("side")), esc(ev.Str("side")), esc(ev.Str("pair")))
	fmt.Fprintf(&sb, "Entry: %.8f\n", ev.Float("entry_price"))
	fmt.Fprintf(&sb, "Quantity: %.8f (%.6f BNB)\n", ev.Float("quantity"), ev.Float("amount"))
	fmt.Fprintf(&sb, "TP: %.8f (%.2f%%) | SL: %.8f (%.2f%%)\n",
		ev.Float("take_profit_price"), ev.Float("take_profit_pct"), ev.Float("stop_loss_price"), ev.Float("stop_loss_pct"))
	fmt.Fprintf(&sb, "Max hold: %ds | Mode: %s", ev.Int64("max_hold"), esc(ev.Str("mode")))
	if ev.Bool("live") {
		fmt.Fprintf(&sb, "\nOrder: %d", ev.Int64("order_id"))
	} else {
		sb.WriteString("\n<i>simulated</i>")
	}
	if r := ev.Str("rationale"); r != "" {
		fmt.Fprintf(&sb, "\nAI: <i>%s</i>", esc(r))
	}
	return sb.String()
}

func formatTradeClosed(ev events.Event) string {
	result := ev.Float("result_pct")
	emoji := "✅"
	if result <= 0 {
		emoji = "❌"
	}
	exit := fmt.Sprintf("%.8f", ev.Float("exit_price"))
	if ev.Bool("exit_estimated") {
		exit += " (estimated)"
	}
	profit := fmt.Sprintf("%+.8f BNB", ev.Float("profit"))
	if ev.Bool("profit_approximate") {
		profit = "≈" + profit
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>Trade closed</b> %s %s\n", emoji, esc(ev.Str("side")), esc(ev.Str("pair")))
	fmt.Fprintf(&sb, "Entry: %.8f → Exit: %s\n", ev.Float("entry_price"), exit)
	fmt.Fprintf(&sb, "Result: %+.2f%% (%s)\n", result, profit)
	fmt.Fprintf(&sb, "Reason: %s | Held %ds", esc(ev.Str("reason")), ev.Int64("duration"))
	if r := ev.Str("rationale"); r != "" {
		fmt.Fprintf(&sb, "\nAI: <i>%s</i>", esc(r))
	}
	return sb.String()
}

func formatWhale(ev events.Event) Item {
	id := ev.Int64("whale_id")
	text := fmt.Sprintf("🐋 <b>Whale alert</b>\nPair: %s\nAmount: %.2f\nValue: $%.2f\nType: %s\n\nPotential impact: %s",
		esc(ev.Str("pair")), ev.Float("amount"), ev.Float("value"), esc(ev.Str("side")), esc(ev.Str("impact")))
	return Item{
		Text: text,
		Buttons: [][]Button{
			{{Text: "Follow whale", Data: fmt.Sprintf("%s%d", FollowWhalePrefix, id)}},
			{{Text: "Ignore", Data: fmt.Sprintf("%s%d", IgnoreWhalePrefix, id)}},
		},
	}
}

func formatDailyLimit(ev events.Event) string {
	if ev.Str("reason") == "profit_target" {
		return fmt.Sprintf("🎯 <b>Daily profit target reached</b>: %+.2f%% (target %.2f%%). Auto-trading disabled.",
			ev.Float("change_percent"), ev.Float("limit"))
	}
	return fmt.Sprintf("🛑 <b>Daily loss limit reached</b>: %+.2f%% (limit %.2f%%). Auto-trading disabled.",
		ev.Float("change_percent"), ev.Float("limit"))
}

func sideEmoji(side string) string {
	if side == "SELL" {
		return "🔴"
	}
	return "🟢"
}

func esc(s string) string {
	return html.EscapeString(s)
}
