package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"naming_events/pkg/config"
	"naming_events/pkg/data"
	"naming_events/pkg/event"
)

const serviceName = "notifier"

// DestinationLookup resolves where a tenant's announcements go
type DestinationLookup interface {
	GetDestination(ctx context.Context, tenantID string) (*data.Destination, error)
}

type webhookPayload struct {
	Tenant    string `json:"tenant"`
	ChannelID string `json:"channel_id"`
	RoleID    string `json:"role_id"`
	Content   string `json:"content"`
}

// WebhookNotifier posts announcements as JSON to the tenant's webhook URL,
// falling back to the configured default. Tenants with neither are skipped.
type WebhookNotifier struct {
	client     *http.Client
	defaultURL string
	dests      DestinationLookup
	logger     *zap.Logger
}

func NewWebhookNotifier(cfg config.NotifierConfig, dests DestinationLookup, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		client:     &http.Client{Timeout: cfg.Timeout},
		defaultURL: cfg.WebhookURL,
		dests:      dests,
		logger:     logger,
	}
}

func (n *WebhookNotifier) Announce(ctx context.Context, tenantID, text string) error {
	payload := webhookPayload{Tenant: tenantID, Content: text}
	target := n.defaultURL

	dest, err := n.dests.GetDestination(ctx, tenantID)
	switch {
	case err == nil:
		payload.ChannelID = dest.ChannelID
		payload.RoleID = dest.RoleID
		if dest.WebhookURL != "" {
			target = dest.WebhookURL
		}
	case errors.Is(err, data.ErrNotFound):
	default:
		return event.NewExternal(serviceName, fmt.Errorf("looking up destination: %w", err))
	}

	if target == "" {
		n.logger.Debug("No webhook configured, skipping announcement", zap.String("tenant", tenantID))
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding announcement: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return event.NewExternal(serviceName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return event.NewExternal(serviceName, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return event.NewExternal(serviceName, fmt.Errorf("webhook returned %s", resp.Status))
	}
	return nil
}
