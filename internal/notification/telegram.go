package notification

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramSender is the primary path, backed by the Bot API client
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	logger zerolog.Logger
}

// NewTelegramSender authorizes the bot token against baseURL
func NewTelegramSender(baseURL, token string, logger zerolog.Logger) (*TelegramSender, error) {
	endpoint := tgbotapi.APIEndpoint
	if baseURL != "" {
		endpoint = strings.TrimRight(baseURL, "/") + "/bot%s/%s"
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram bot: %w", err)
	}

	s := &TelegramSender{
		bot:    bot,
		logger: logger.With().Str("component", "telegram").Logger(),
	}
	s.logger.Info().Str("account", bot.Self.UserName).Msg("Authorized telegram bot")
	return s, nil
}

func (t *TelegramSender) Name() string {
	return "telegram"
}

// Send ignores ctx; the dispatcher bounds the wait
func (t *TelegramSender) Send(ctx context.Context, chatID int64, item Item) error {
	msg := tgbotapi.NewMessage(chatID, item.Text)
	msg.ParseMode = tgbotapi.ModeHTML
	if len(item.Buttons) > 0 {
		msg.ReplyMarkup = keyboard(item.Buttons)
	}
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d failed: %w", chatID, err)
	}
	return nil
}

func keyboard(buttons [][]Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		r := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			r = append(r, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(r...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ListenCallbacks polls updates and routes inline button presses until ctx is done
func (t *TelegramSender) ListenCallbacks(ctx context.Context, router *CallbackRouter) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	t.logger.Info().Msg("Listening for button callbacks")
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			cq := update.CallbackQuery
			if cq == nil || cq.From == nil {
				continue
			}
			var chatID int64
			if cq.Message != nil && cq.Message.Chat != nil {
				chatID = cq.Message.Chat.ID
			}

			reply := router.Handle(ctx, cq.Data, cq.From.ID, chatID)
			if _, err := t.bot.Request(tgbotapi.NewCallback(cq.ID, reply)); err != nil {
				t.logger.Warn().Err(err).Str("data", cq.Data).Msg("Failed to answer callback")
			}
		}
	}
}
