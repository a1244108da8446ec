// Package notification delivers chat messages through an ordered queue with a primary and a fallback path.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Button is an inline keyboard button carrying callback data
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// Item is one queued message. Empty ChatIDs means every admin.
type Item struct {
	Text    string
	Buttons [][]Button
	ChatIDs []int64
}

// Sender delivers one message to one chat
type Sender interface {
	Send(ctx context.Context, chatID int64, item Item) error
	Name() string
}

// HTTPSender posts directly to the Bot API sendMessage endpoint
type HTTPSender struct {
	baseURL  string
	botToken string
	client   *http.Client
}

// NewHTTPSender creates the fallback sender; baseURL defaults to https://api.telegram.org
func NewHTTPSender(baseURL, botToken string, timeout time.Duration) *HTTPSender {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &HTTPSender{
		baseURL:  strings.TrimRight(baseURL, "/"),
		botToken: botToken,
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *HTTPSender) Name() string {
	return "telegram-http"
}

func (h *HTTPSender) Send(ctx context.Context, chatID int64, item Item) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       item.Text,
		"parse_mode": "HTML",
	}
	if len(item.Buttons) > 0 {
		payload["reply_markup"] = map[string]interface{}{
			"inline_keyboard": item.Buttons,
		}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", h.baseURL, h.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
