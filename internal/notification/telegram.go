package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
)

// TelegramNotifier delivers alerts to one chat through the Bot API.
type TelegramNotifier struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		baseURL:  "https://api.telegram.org",
		botToken: botToken,
		chatID:   chatID,
		client:   newHTTPClient(),
	}
}

var levelBadge = map[AlertLevel]string{
	AlertInfo:     "🟢",
	AlertWarning:  "🟠",
	AlertCritical: "🔴",
}

// format renders the alert as a MarkdownV2 message: bold title, body, then
// the sorted key/value fields.
func (t *TelegramNotifier) format(alert Alert) string {
	var b strings.Builder
	b.WriteString(levelBadge[alert.Level])
	b.WriteString(" *")
	b.WriteString(escapeMarkdown(alert.Title))
	b.WriteString("*")
	if alert.Message != "" {
		b.WriteString("\n\n")
		b.WriteString(escapeMarkdown(alert.Message))
	}
	if len(alert.Fields) > 0 {
		b.WriteString("\n\n")
		b.WriteString(escapeMarkdown(strings.Join(sortedFields(alert.Fields), "\n")))
	}
	return b.String()
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	err := postJSON(ctx, t.client, "telegram", url, map[string]any{
		"chat_id":    t.chatID,
		"text":       t.format(alert),
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return err
	}
	log.Printf("[telegram] delivered %q", alert.Title)
	return nil
}

var markdownEscaper = func() *strings.Replacer {
	var pairs []string
	for _, c := range "_*[]()~`>#+-=|{}.!" {
		pairs = append(pairs, string(c), `\`+string(c))
	}
	return strings.NewReplacer(pairs...)
}()

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
