package notification

import (
	"bytes"
	"context"
	"fmt"
	"log"
)

// TelegramSender is the part of the Bot API client the notifier needs.
type TelegramSender interface {
	SendFormatted(ctx context.Context, chatID, text, parseMode string) error
}

// TelegramNotifier sends alerts to an admin chat via the Bot API.
type TelegramNotifier struct {
	sender TelegramSender
	chatID string
}

// NewTelegramNotifier creates a Telegram notifier.
// chatID: target chat/group id, or @channel name
func NewTelegramNotifier(sender TelegramSender, chatID string) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chatID: chatID}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", emoji, escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
	if err := t.sender.SendFormatted(ctx, t.chatID, text, "MarkdownV2"); err != nil {
		return fmt.Errorf("telegram alert: %w", err)
	}

	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
