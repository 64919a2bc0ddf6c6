package notification

import (
	"context"
	"log"
	"net/http"
	"time"
)

// WebhookNotifier posts dispatch summaries as JSON to an arbitrary endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: newHTTPClient()}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	err := postJSON(ctx, w.client, "webhook", w.url, map[string]any{
		"level":   alert.Level,
		"title":   alert.Title,
		"message": alert.Message,
		"fields":  alert.Fields,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	log.Printf("[webhook] delivered %q", alert.Title)
	return nil
}
