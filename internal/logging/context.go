package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TradeContext creates a logger for a single trade
func TradeContext(l zerolog.Logger, tradeID, pair, side string) zerolog.Logger {
	return l.With().
		Str("trade_id", tradeID).
		Str("pair", pair).
		Str("side", side).
		Logger()
}

// OrderContext creates a logger for exchange order operations
func OrderContext(l zerolog.Logger, orderID int64, pair, side string) zerolog.Logger {
	return l.With().
		Int64("order_id", orderID).
		Str("pair", pair).
		Str("side", side).
		Logger()
}

// NotificationContext creates a logger for a delivery attempt
func NotificationContext(l zerolog.Logger, provider string, recipient int64) zerolog.Logger {
	return l.With().
		Str("provider", provider).
		Int64("recipient", recipient).
		Logger()
}

// GinMiddleware logs each request with a trace id, status and duration
func GinMiddleware(l zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Header("X-Trace-ID", traceID)

		c.Next()

		evt := l.Info()
		if c.Writer.Status() >= 500 {
			evt = l.Error()
		}
		evt.Str("trace_id", traceID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status_code", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	}
}
