package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdCheck = "check"
	cmdInfo  = "info"
)

func callbackData(action, feed string) string {
	return action + ":" + feed
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	ack := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Request(ack); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, feed, ok := strings.Cut(cb.Data, ":")
	if !ok || feed == "" {
		return
	}

	b.log.Info("callback",
		"action", action,
		"feed", feed,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdCheck:
		b.handleCheck(chatID, feed)
	case cmdInfo:
		b.handleInfo(chatID, feed)
	}
}
