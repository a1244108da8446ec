package notification

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// WhaleActions are the engine operations behind the whale alert buttons
type WhaleActions interface {
	FollowWhale(ctx context.Context, whaleID, chatID int64) error
	IgnoreWhale(whaleID int64) error
}

// CallbackRouter authorizes and dispatches inline button presses
type CallbackRouter struct {
	actions WhaleActions
	admins  map[int64]bool
	logger  zerolog.Logger
}

// NewCallbackRouter creates a router; an empty admin list allows nobody
func NewCallbackRouter(actions WhaleActions, adminIDs []int64, logger zerolog.Logger) *CallbackRouter {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &CallbackRouter{
		actions: actions,
		admins:  admins,
		logger:  logger.With().Str("component", "CallbackRouter").Logger(),
	}
}

// Handle runs the action named by data and returns the short reply shown to the user
func (r *CallbackRouter) Handle(ctx context.Context, data string, fromID, chatID int64) string {
	if !r.admins[fromID] {
		r.logger.Warn().Int64("user_id", fromID).Str("data", data).Msg("Callback from unauthorized user")
		return "Not authorized"
	}

	switch {
	case strings.HasPrefix(data, FollowWhalePrefix):
		id, ok := parseWhaleID(data, FollowWhalePrefix)
		if !ok {
			return "Invalid whale id"
		}
		if err := r.actions.FollowWhale(ctx, id, chatID); err != nil {
			r.logger.Info().Err(err).Int64("whale_id", id).Msg("Follow whale refused")
			return "Cannot follow: " + err.Error()
		}
		return "Following whale trade"

	case strings.HasPrefix(data, IgnoreWhalePrefix):
		id, ok := parseWhaleID(data, IgnoreWhalePrefix)
		if !ok {
			return "Invalid whale id"
		}
		if err := r.actions.IgnoreWhale(id); err != nil {
			return "Cannot ignore: " + err.Error()
		}
		return "Whale alert ignored"
	}
	return "Unknown action"
}

func parseWhaleID(data, prefix string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
	return id, err == nil
}
