package whale

import (
	"time"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/binance"
)

// Impact is the qualitative price-impact tier of a whale transaction
type Impact string

const (
	ImpactHigh   Impact = "HIGH"
	ImpactMedium Impact = "MEDIUM"
	ImpactLow    Impact = "LOW"
)

const (
	highImpactValue   = 1_000_000.0
	mediumImpactValue = 500_000.0
)

// ClassifyImpact bands a transaction by its quote value
func ClassifyImpact(value float64) Impact {
	switch {
	case value > highImpactValue:
		return ImpactHigh
	case value > mediumImpactValue:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// Description is the human-readable impact hint shown in alerts
func (i Impact) Description() string {
	switch i {
	case ImpactHigh:
		return "HIGH - Likely significant price movement"
	case ImpactMedium:
		return "MEDIUM - Possible price impact"
	default:
		return "LOW"
	}
}

// Event is an immutable record of one large transaction
type Event struct {
	ID        int64        `json:"id"`
	Pair      string       `json:"pair"`
	Side      binance.Side `json:"side"`
	Amount    float64      `json:"amount"`
	Price     float64      `json:"price"`
	Value     float64      `json:"value"`
	Impact    Impact       `json:"impact"`
	Timestamp time.Time    `json:"timestamp"`
}

// TradeSide maps a whale's side to the side we trade under the given strategy
func TradeSide(strategy string, whaleSide binance.Side) binance.Side {
	if strategy == config.StrategyCounterWhale {
		return whaleSide.Opposite()
	}
	return whaleSide
}
