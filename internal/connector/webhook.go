// Package connector delivers bridge notifications to external services.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconbridge/internal/config"
	"github.com/energizer-project/rconbridge/internal/events"
	"github.com/energizer-project/rconbridge/internal/util"
)

const webhookTimeout = 10 * time.Second

// Notification is one admin message.
type Notification struct {
	Title   string
	Message string
	Level   string
}

// WebhookNotifier posts admin notifications as Discord-compatible embeds.
type WebhookNotifier struct {
	cfg    config.WebhookConfig
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier creates a notifier. It fails when no URL is configured.
func NewWebhookNotifier(cfg config.WebhookConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is not configured")
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: webhookTimeout},
		logger: log.With().Str("component", "webhook").Logger(),
	}, nil
}

// Attach subscribes the notifier to the events enabled in its config.
func (w *WebhookNotifier) Attach(bus *events.EventBus) {
	if w.cfg.NotifyOnDisk {
		bus.Subscribe(events.EventDiskAlert, "webhook.disk", w.onDiskAlert)
	}
	if w.cfg.NotifyOnSwapFailure {
		bus.Subscribe(events.EventSaveLoaded, "webhook.swap", w.onSaveLoaded)
	}
	if w.cfg.NotifyOnServerDown {
		bus.Subscribe(events.EventStateChanged, "webhook.state", w.onStateChanged)
	}
}

// Send posts a notification.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	var color int
	switch n.Level {
	case "critical", "error":
		color = 0xFF0000
	case "warning":
		color = 0xFFAA00
	default:
		color = 0x00FF00
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       n.Title,
				"description": n.Message,
				"color":       color,
				"timestamp":   time.Now().Format(time.RFC3339),
				"footer": map[string]string{
					"text": util.AppName,
				},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	w.logger.Debug().Str("title", n.Title).Msg("webhook notification sent")
	return nil
}

func (w *WebhookNotifier) onDiskAlert(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.DiskAlertPayload)
	if !ok {
		return nil
	}
	return w.Send(ctx, Notification{
		Title:   "Disk Space Alert",
		Message: payload.Message,
		Level:   payload.Level,
	})
}

func (w *WebhookNotifier) onSaveLoaded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SaveLoadedPayload)
	if !ok || payload.Success {
		return nil
	}
	return w.Send(ctx, Notification{
		Title:   "Save Load Failed",
		Message: fmt.Sprintf("Loading %q failed after %s: %s", payload.Save, payload.Duration.Round(time.Second), payload.Error),
		Level:   "error",
	})
}

// onStateChanged reports the server going away or coming back outside a swap.
func (w *WebhookNotifier) onStateChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.StateChangedPayload)
	if !ok || payload.OperationID != "" {
		return nil
	}

	switch {
	case payload.From == events.StateRunning && payload.To == events.StateStopped:
		return w.Send(ctx, Notification{
			Title:   "Server Unreachable",
			Message: "The game server stopped answering RCON logins.",
			Level:   "warning",
		})
	case payload.From == events.StateStopped && payload.To == events.StateRunning:
		return w.Send(ctx, Notification{
			Title:   "Server Reachable",
			Message: "The game server is accepting RCON logins again.",
			Level:   "info",
		})
	}
	return nil
}
