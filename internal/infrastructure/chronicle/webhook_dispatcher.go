package chronicle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"campaign-session/internal/domain"
)

// WebhookDispatcher posts narrative content to the external chat platform
// under an arbitrary display identity via its webhook endpoint.
type WebhookDispatcher struct {
	webhookURL string
	client     *http.Client
}

func NewWebhookDispatcher(webhookURL string) *WebhookDispatcher {
	return &WebhookDispatcher{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

type webhookPayload struct {
	ChannelID string `json:"channelId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Content   string `json:"content"`
}

func (d *WebhookDispatcher) Post(ctx context.Context, channelID string, persona domain.Persona, content string) error {
	if d.webhookURL == "" {
		return fmt.Errorf("no narrative webhook configured")
	}

	body, err := json.Marshal(webhookPayload{
		ChannelID: channelID,
		Username:  persona.DisplayName,
		AvatarURL: persona.AvatarURL,
		Content:   content,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("narrative webhook returned %d", resp.StatusCode)
	}
	return nil
}
