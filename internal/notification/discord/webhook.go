// Package discord posts risk alerts to a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"leverage-core/internal/risk"
	"leverage-core/pkg/errors"
)

const footer = "leverage-core"

// Client sends webhook messages.
type Client struct {
	webhookURL string
	http       *http.Client
	log        *zap.Logger
}

// NewClient returns a client posting to webhookURL.
func NewClient(webhookURL string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		webhookURL: webhookURL,
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        log.Named("discord"),
	}
}

// Name implements monitor.AlertSink.
func (c *Client) Name() string { return "discord" }

// Send posts a as a single embed.
func (c *Client) Send(ctx context.Context, a risk.RiskAlert) error {
	embed := NewEmbed().
		SetTitle(fmt.Sprintf("Risk alert: %s", a.Type)).
		SetDescription(a.Message).
		SetColor(colorFor(a.Level)).
		AddField("Level", string(a.Level), true).
		SetFooter(footer).
		SetTimestamp(a.Timestamp)
	if sym, err := a.Symbol.Take(); err == nil {
		embed.AddField("Symbol", sym, true)
	}
	if v, err := a.CurrentValue.Take(); err == nil {
		embed.AddField("Value", fmt.Sprintf("%.4f", v), true)
	}
	if v, err := a.Threshold.Take(); err == nil {
		embed.AddField("Threshold", fmt.Sprintf("%.4f", v), true)
	}
	return c.send(ctx, WebhookMessage{Embeds: []Embed{*embed}})
}

// SendInfo posts a plain informational message.
func (c *Client) SendInfo(ctx context.Context, message string) error {
	embed := NewEmbed().
		SetDescription(message).
		SetColor(ColorInfo).
		SetFooter(footer).
		SetTimestamp(time.Now())
	return c.send(ctx, WebhookMessage{Embeds: []Embed{*embed}})
}

func (c *Client) send(ctx context.Context, msg WebhookMessage) error {
	if c.webhookURL == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "discord webhook url is empty")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "encode webhook message", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCodeExchangeUnavailable, "post webhook", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf(errors.ErrCodeExchangeRequestFailed, "webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	c.log.Debug("webhook delivered", zap.Int("embeds", len(msg.Embeds)))
	return nil
}

func colorFor(l risk.RiskLevel) int {
	switch l {
	case risk.LevelCritical:
		return ColorCritical
	case risk.LevelHigh:
		return ColorHigh
	case risk.LevelMedium:
		return ColorMedium
	default:
		return ColorInfo
	}
}
