package alert

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
)

// TelegramNotifier delivers alerts through the Telegram Bot API as
// MarkdownV2 messages.
type TelegramNotifier struct {
	api    string // base URL, overridable in tests
	token  string
	chatID string
	client *http.Client
}

// NewTelegramNotifier creates a notifier for the given bot token (from
// @BotFather) and target chat, group or channel ID.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		api:    "https://api.telegram.org",
		token:  botToken,
		chatID: chatID,
		client: newHTTPClient(),
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       renderTelegramText(alert),
		"parse_mode": "MarkdownV2",
	}

	url := t.api + "/bot" + t.token + "/sendMessage"
	if err := postJSON(ctx, t.client, url, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}

func renderTelegramText(a Alert) string {
	var b strings.Builder
	b.WriteString(levelEmoji(a.Level))
	b.WriteString(" *")
	b.WriteString(escapeMarkdown(a.Title))
	b.WriteString("*\n\n")
	b.WriteString(escapeMarkdown(a.Message))
	if a.Indicator != "" {
		detail := fmt.Sprintf("%s %s = %.4f at seq %d", a.Indicator, a.Symbol, a.Value, a.Seq)
		b.WriteString("\n\n")
		b.WriteString(escapeMarkdown(detail))
	}
	return b.String()
}

func levelEmoji(l Level) string {
	switch l {
	case LevelCritical:
		return "🚨"
	case LevelWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// mdSpecials are the characters MarkdownV2 requires escaped outside code
// blocks.
const mdSpecials = "_*[]()~`>#+-=|{}.!"

func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(mdSpecials, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
