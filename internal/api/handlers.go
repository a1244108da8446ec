package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/auth"
	"whale-spot-bot/internal/binance"
	"whale-spot-bot/internal/bot"
	"whale-spot-bot/internal/market"
	"whale-spot-bot/internal/whale"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	engineStopWait   = 10 * time.Second
)

// statusFor maps engine errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, bot.ErrInvalidPrice), errors.Is(err, bot.ErrInvalidSide), errors.Is(err, bot.ErrInvalidSize),
		errors.Is(err, config.ErrUnknownOption), errors.Is(err, config.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, bot.ErrTradeNotFound), errors.Is(err, whale.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, bot.ErrPairBusy), errors.Is(err, bot.ErrConcurrencyLimit),
		errors.Is(err, bot.ErrAlreadyRunning), errors.Is(err, bot.ErrNotRunning),
		errors.Is(err, bot.ErrTradingDisabled), errors.Is(err, bot.ErrWhaleIgnored):
		return http.StatusConflict
	case errors.Is(err, bot.ErrMissingCredentials), errors.Is(err, bot.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	errorResponse(c, status, err.Error())
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// GET /api/status
func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.engine.Status())
}

// POST /api/engine/start
func (s *Server) handleEngineStart(c *gin.Context) {
	if err := s.engine.Start(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info().Str("principal", principal(c)).Msg("Engine started via API")
	successResponse(c, s.engine.Status())
}

// POST /api/engine/stop
func (s *Server) handleEngineStop(c *gin.Context) {
	if err := s.engine.Stop(seconds(s.config.ShutdownTimeout, int(engineStopWait.Seconds()))); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info().Str("principal", principal(c)).Msg("Engine stopped via API")
	successResponse(c, s.engine.Status())
}

// GET /api/trades?status=open|closed&limit=N
func (s *Server) handleListTrades(c *gin.Context) {
	limit := limitParam(c)
	switch c.DefaultQuery("status", "all") {
	case "open":
		successResponse(c, gin.H{"open": s.engine.OpenTrades()})
	case "closed":
		successResponse(c, gin.H{"completed": s.engine.CompletedTrades(limit)})
	case "all":
		successResponse(c, gin.H{
			"open":      s.engine.OpenTrades(),
			"completed": s.engine.CompletedTrades(limit),
		})
	default:
		errorResponse(c, http.StatusBadRequest, "status must be open, closed or all")
	}
}

// GET /api/trades/:id
func (s *Server) handleGetTrade(c *gin.Context) {
	id := c.Param("id")
	for _, t := range s.engine.OpenTrades() {
		if t.ID == id {
			successResponse(c, t)
			return
		}
	}
	for _, t := range s.engine.CompletedTrades(maxListLimit) {
		if t.ID == id {
			successResponse(c, t)
			return
		}
	}
	errorResponse(c, http.StatusNotFound, bot.ErrTradeNotFound.Error())
}

type createTradeRequest struct {
	Pair  string  `json:"pair" binding:"required"`
	Side  string  `json:"side" binding:"required"`
	Price float64 `json:"price"`
}

// POST /api/trades
func (s *Server) handleCreateTrade(c *gin.Context) {
	var req createTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	side, ok := binance.ParseSide(req.Side)
	if !ok {
		errorResponse(c, http.StatusBadRequest, bot.ErrInvalidSide.Error())
		return
	}

	t, err := s.engine.CreateTrade(c.Request.Context(), bot.Request{
		Pair:   req.Pair,
		Side:   side,
		Price:  req.Price,
		Source: bot.SourceManual,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": t})
}

// POST /api/trades/:id/close
func (s *Server) handleCloseTrade(c *gin.Context) {
	t, err := s.engine.CloseTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	successResponse(c, t)
}

// GET /api/stats
func (s *Server) handleStats(c *gin.Context) {
	stats := s.engine.DailyStats()
	successResponse(c, gin.H{
		"daily":              stats,
		"win_rate":           stats.WinRate(),
		"balance_change":     stats.BalanceChange(),
		"balance_change_pct": stats.BalanceChangePct(),
	})
}

// GET /api/whales?limit=N
func (s *Server) handleListWhales(c *gin.Context) {
	successResponse(c, s.engine.RecentEvents(limitParam(c)))
}

func whaleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		errorResponse(c, http.StatusBadRequest, "invalid whale id")
		return 0, false
	}
	return id, true
}

// POST /api/whales/:id/follow
func (s *Server) handleFollowWhale(c *gin.Context) {
	id, ok := whaleID(c)
	if !ok {
		return
	}
	var chatID int64
	if claims := auth.GetClaims(c); claims != nil {
		chatID = claims.TelegramID
	}
	if err := s.engine.FollowWhale(c.Request.Context(), id, chatID); err != nil {
		s.fail(c, err)
		return
	}
	successResponse(c, gin.H{"whale_id": id, "followed": true})
}

// POST /api/whales/:id/ignore
func (s *Server) handleIgnoreWhale(c *gin.Context) {
	id, ok := whaleID(c)
	if !ok {
		return
	}
	if err := s.engine.IgnoreWhale(id); err != nil {
		s.fail(c, err)
		return
	}
	successResponse(c, gin.H{"whale_id": id, "ignored": true})
}

// GET /api/config
func (s *Server) handleGetConfig(c *gin.Context) {
	successResponse(c, gin.H{
		"settings":      s.engine.Settings(),
		"options":       config.OptionNames(),
		"trading_modes": config.TradingModes,
	})
}

type setOptionRequest struct {
	Option string `json:"option" binding:"required"`
	Value  string `json:"value" binding:"required"`
}

// POST /api/config
func (s *Server) handleSetConfig(c *gin.Context) {
	var req setOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	settings, err := s.engine.SetOption(req.Option, req.Value)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info().Str("principal", principal(c)).Str("option", req.Option).Msg("Setting changed via API")
	successResponse(c, settings)
}

// GET /api/pairs?min_volume=&min_change=&limit=
func (s *Server) handleListPairs(c *gin.Context) {
	filter := market.Filter{}
	if v, err := strconv.ParseFloat(c.Query("min_volume"), 64); err == nil {
		filter.MinVolume = v
	}
	if v, err := strconv.ParseFloat(c.Query("min_change"), 64); err == nil {
		filter.MinPriceChange = v
	}
	successResponse(c, gin.H{
		"pairs":       s.pairs.Query(filter, limitParam(c)),
		"last_update": s.pairs.LastUpdate(),
	})
}
