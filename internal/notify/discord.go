package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// DiscordSender posts embeds to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender with a 10s HTTP timeout.
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
	Timestamp   string `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

var severityColors = map[domain.Severity]int{
	domain.SeverityCritical: 0xE74C3C,
	domain.SeverityHigh:     0xE67E22,
	domain.SeverityMedium:   0xF1C40F,
	domain.SeverityLow:      0x95A5A6,
}

func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(discordPayload{
		Username: "insiderwatch",
		Embeds: []discordEmbed{{
			Title:       msg.Title,
			Description: msg.Body,
			Color:       severityColors[msg.Severity],
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	})
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

	// 204 on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
