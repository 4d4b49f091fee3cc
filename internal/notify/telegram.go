package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// eventEmoji prefixes each alert so the severity is readable at a glance in
// a chat client.
var eventEmoji = map[Event]string{
	EventEngineStarted:  "▶️", // play
	EventEngineStopped:  "⏹️", // stop
	EventCircuitOpen:    "\U0001f6d1",   // stop sign
	EventRiskModeChange: "⚠️", // warning
	EventOrderPlaced:    "\U0001f4b0",   // money bag
	EventOrderFailed:    "❌",       // cross mark
	EventError:          "\U0001f525",   // fire
}

// TelegramSender delivers alerts to a Telegram chat through the Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat ID. Deliveries time out after 10 seconds.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert via the sendMessage API with a bold title and an
// event-specific emoji prefix.
func (t *TelegramSender) Send(ctx context.Context, n Notification) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	text := fmt.Sprintf("*%s*\n%s", n.Title, n.Body)
	if emoji, ok := eventEmoji[n.Event]; ok {
		text = emoji + " " + text
	}

	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
