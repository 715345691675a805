package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const notRunning = "Feeds are not being polled yet, try again in a moment."

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Feed bridge bot.

New entries from the configured feeds are posted to their rooms automatically.
Use /list to see the feeds and /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `/list: show all feeds
/info <name>: feed details
/check <name>: poll a feed now

Feeds are configured in the bridge's config file.`)
}

func (b *Bot) handleList(chatID int64) {
	if b.ctrl == nil {
		b.reply(chatID, notRunning)
		return
	}
	b.reply(chatID, FormatFeedList(b.ctrl.Statuses()))
}

func (b *Bot) handleInfo(chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /info <name>")
		return
	}
	if b.ctrl == nil {
		b.reply(chatID, notRunning)
		return
	}

	st, ok := b.ctrl.Status(args)
	if !ok {
		b.reply(chatID, fmt.Sprintf("Feed %q not found.", args))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatFeedInfo(st))
	msg.DisableWebPagePreview = true
	if !st.Stopped {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Check now", callbackData(cmdCheck, st.Name)),
			),
		)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send feed info", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCheck(chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /check <name>")
		return
	}
	if b.ctrl == nil {
		b.reply(chatID, notRunning)
		return
	}

	if !b.ctrl.Trigger(args) {
		b.reply(chatID, fmt.Sprintf("Feed %q not found or stopped.", args))
		return
	}
	b.log.Info("manual check requested", "feed", args, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Checking %s now.", args))
}
