// Package telegram implements chat.Transport on top of the Telegram Bot API.
//
// Room aliases are channel or group usernames ("@news") or numeric chat IDs.
// The bot cannot join chats on its own, so joining confirms that the bot is a
// member of the chat and returns its numeric ID.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feedbridge/internal/chat"
	"feedbridge/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Controller gives bot commands read access to the feed loops.
type Controller interface {
	Statuses() []model.FeedStatus
	Status(name string) (model.FeedStatus, bool)
	Trigger(name string) bool
}

// Bot is a Telegram chat transport that also answers status commands.
type Bot struct {
	api          telegramAPI
	selfID       int64
	allowedUsers []int64
	ctrl         Controller
	log          *slog.Logger
}

var _ chat.Transport = (*Bot)(nil)

// New logs in with token. A rejected token is reported as chat.ErrAuth.
func New(token string, allowedUsers []int64, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("%w: create bot api: %w", chat.ErrAuth, err)
	}
	log.Info("telegram bot authorized", "username", api.Self.UserName)

	return &Bot{
		api:          api,
		selfID:       api.Self.ID,
		allowedUsers: allowedUsers,
		log:          log,
	}, nil
}

// SetController attaches the feed loops to the status commands.
// It must be called before Run.
func (b *Bot) SetController(c Controller) {
	b.ctrl = c
}

// JoinRoom verifies the bot belongs to the chat named by alias and returns
// the chat's numeric ID.
func (b *Bot) JoinRoom(ctx context.Context, alias string) (string, error) {
	return b.memberChatID(ctx, alias)
}

// ResolveAlias returns the numeric ID of the chat named by alias. Like
// JoinRoom it fails when the bot is not a member, since the bot could not
// post there.
func (b *Bot) ResolveAlias(ctx context.Context, alias string) (string, error) {
	return b.memberChatID(ctx, alias)
}

func (b *Bot) memberChatID(ctx context.Context, alias string) (string, error) {
	tgChat, err := b.getChat(ctx, alias)
	if err != nil {
		return "", err
	}

	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: tgChat.ID, UserID: b.selfID},
	})
	if err != nil {
		return "", fmt.Errorf("get bot membership in %s: %w", alias, err)
	}
	if member.HasLeft() || member.WasKicked() {
		return "", fmt.Errorf("bot is not a member of %s", alias)
	}
	return strconv.FormatInt(tgChat.ID, 10), nil
}

func (b *Bot) getChat(ctx context.Context, alias string) (tgbotapi.Chat, error) {
	if err := ctx.Err(); err != nil {
		return tgbotapi.Chat{}, err
	}
	cfg, err := chatConfig(alias)
	if err != nil {
		return tgbotapi.Chat{}, err
	}
	tgChat, err := b.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: cfg})
	if err != nil {
		return tgbotapi.Chat{}, fmt.Errorf("get chat %s: %w", alias, err)
	}
	return tgChat, nil
}

func chatConfig(alias string) (tgbotapi.ChatConfig, error) {
	alias = strings.TrimSpace(alias)
	if strings.HasPrefix(alias, "@") && len(alias) > 1 {
		return tgbotapi.ChatConfig{SuperGroupUsername: alias}, nil
	}
	id, err := strconv.ParseInt(alias, 10, 64)
	if err != nil {
		return tgbotapi.ChatConfig{}, fmt.Errorf("invalid chat alias %q: want @username or a numeric chat id", alias)
	}
	return tgbotapi.ChatConfig{ChatID: id}, nil
}

// SendMessage posts msg to the chat with the given numeric ID.
func (b *Bot) SendMessage(ctx context.Context, roomID string, msg chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", roomID, err)
	}

	text, err := messageHTML(msg)
	if err != nil {
		return err
	}

	out := tgbotapi.NewMessage(chatID, text)
	out.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(out); err != nil {
		if apiErrorCode(err) == http.StatusBadRequest {
			return fmt.Errorf("%w: send to chat %d: %w", chat.ErrRejected, chatID, err)
		}
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}

func messageHTML(msg chat.Message) (string, error) {
	if msg.HTML == "" {
		return fitMessage(escapeText(msg.Text))
	}
	text, err := TelegramHTML(msg.HTML)
	if err != nil {
		return "", fmt.Errorf("reduce html: %w", err)
	}
	return fitMessage(text)
}

// apiErrorCode returns the Bot API error code carried by err, or 0.
func apiErrorCode(err error) int {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) {
		return ptr.Code
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val.Code
	}
	return 0
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			b.handleUpdate(update)
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		if update.CallbackQuery.From == nil || !b.isUserAllowed(update.CallbackQuery.From.ID) {
			return
		}
		b.handleCallback(update.CallbackQuery)
		return
	}
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	if update.Message.From == nil || !b.isUserAllowed(update.Message.From.ID) {
		b.reply(update.Message.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(update.Message)
}

// isUserAllowed reports whether userID may use commands.
// An empty allow list permits everyone.
func (b *Bot) isUserAllowed(userID int64) bool {
	if len(b.allowedUsers) == 0 {
		return true
	}
	return slices.Contains(b.allowedUsers, userID)
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "list":
		b.handleList(chatID)
	case cmdInfo:
		b.handleInfo(chatID, args)
	case cmdCheck:
		b.handleCheck(chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
