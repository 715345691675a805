// Package matrix implements chat.Transport for a Matrix homeserver.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"feedbridge/internal/chat"
)

const defaultDeviceName = "feedbridge"

type matrixAPI interface {
	JoinRoom(ctx context.Context, roomIDorAlias string, req *mautrix.ReqJoinRoom) (*mautrix.RespJoinRoom, error)
	ResolveAlias(ctx context.Context, alias id.RoomAlias) (*mautrix.RespAliasResolve, error)
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	SyncWithContext(ctx context.Context) error
}

// Config holds the homeserver login details. Either Password or
// AccessToken must be set; the token wins when both are.
type Config struct {
	Homeserver  string
	UserID      string
	Password    string
	AccessToken string
	DeviceName  string
}

// Client is a logged-in Matrix account.
type Client struct {
	api matrixAPI
	log *slog.Logger
}

var _ chat.Transport = (*Client)(nil)

// New logs in to the homeserver. Rejected credentials are reported as chat.ErrAuth.
// Library logs go to out at the level matching level.
func New(ctx context.Context, cfg Config, out io.Writer, level slog.Level, log *slog.Logger) (*Client, error) {
	cli, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	cli.Log = zerolog.New(out).Level(zerologLevel(level)).With().
		Timestamp().
		Str("component", "mautrix").
		Logger()

	if cfg.AccessToken == "" {
		if cfg.Password == "" {
			return nil, fmt.Errorf("%w: neither access token nor password set for %s", chat.ErrAuth, cfg.UserID)
		}
		deviceName := cfg.DeviceName
		if deviceName == "" {
			deviceName = defaultDeviceName
		}
		resp, err := cli.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: cfg.UserID,
			},
			Password:                 cfg.Password,
			InitialDeviceDisplayName: deviceName,
			StoreCredentials:         true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: login as %s: %w", chat.ErrAuth, cfg.UserID, err)
		}
		log.Info("matrix login succeeded", "user_id", resp.UserID, "device_id", resp.DeviceID)
	} else {
		resp, err := cli.Whoami(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: verify access token: %w", chat.ErrAuth, err)
		}
		cli.UserID = resp.UserID
		cli.DeviceID = resp.DeviceID
		log.Info("matrix access token accepted", "user_id", resp.UserID)
	}

	return newClient(cli, log), nil
}

func newClient(api matrixAPI, log *slog.Logger) *Client {
	return &Client{api: api, log: log}
}

// JoinRoom joins the room named by a room alias or ID and returns its ID.
func (c *Client) JoinRoom(ctx context.Context, alias string) (string, error) {
	resp, err := c.api.JoinRoom(ctx, alias, &mautrix.ReqJoinRoom{})
	if err != nil {
		return "", fmt.Errorf("join room %s: %w", alias, err)
	}
	return string(resp.RoomID), nil
}

// ResolveAlias asks the room directory for the ID behind alias.
func (c *Client) ResolveAlias(ctx context.Context, alias string) (string, error) {
	resp, err := c.api.ResolveAlias(ctx, id.RoomAlias(alias))
	if err != nil {
		return "", fmt.Errorf("resolve alias %s: %w", alias, err)
	}
	return string(resp.RoomID), nil
}

// SendMessage posts msg as an m.text event. The HTML rendering, when
// present, is attached as the formatted body.
func (c *Client) SendMessage(ctx context.Context, roomID string, msg chat.Message) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    msg.Text,
	}
	if msg.HTML != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = msg.HTML
	}

	resp, err := c.api.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
	if err != nil {
		if errors.Is(err, mautrix.MTooLarge) {
			return fmt.Errorf("%w: send to room %s: %w", chat.ErrRejected, roomID, err)
		}
		return fmt.Errorf("send to room %s: %w", roomID, err)
	}
	c.log.Debug("message sent", "room_id", roomID, "event_id", resp.EventID)
	return nil
}

// Run syncs with the homeserver until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	err := c.api.SyncWithContext(ctx)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("matrix sync: %w", err)
	}
	return nil
}

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l <= slog.LevelDebug:
		return zerolog.DebugLevel
	case l <= slog.LevelInfo:
		return zerolog.InfoLevel
	case l <= slog.LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
