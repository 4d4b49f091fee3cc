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

// Embed sidebar colors per event, so a glance at the channel separates
// routine trade activity from safety trips.
const (
	colorGreen  = 0x2ecc71
	colorYellow = 0xf1c40f
	colorRed    = 0xe74c3c
	colorGrey   = 0x95a5a6
)

var eventColor = map[Event]int{
	EventEngineStarted:  colorGreen,
	EventEngineStopped:  colorGrey,
	EventCircuitOpen:    colorRed,
	EventRiskModeChange: colorYellow,
	EventOrderPlaced:    colorGreen,
	EventOrderFailed:    colorRed,
	EventError:          colorRed,
}

// DiscordSender delivers alerts to a Discord channel through a webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
// Deliveries time out after 10 seconds.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Send posts the alert to the webhook as a single embed, colored by event.
func (d *DiscordSender) Send(ctx context.Context, n Notification) error {
	color, ok := eventColor[n.Event]
	if !ok {
		color = colorGrey
	}

	payload := discordPayload{
		Embeds: []discordEmbed{{
			Title:       n.Title,
			Description: n.Body,
			Color:       color,
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
