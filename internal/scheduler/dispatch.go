package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedbridge/internal/chat"
	"feedbridge/internal/model"
)

// ErrSendFailed marks an entry the transport did not accept. The entry stays
// undelivered and is retried on the next poll.
var ErrSendFailed = errors.New("send failed")

const defaultSendTimeout = 30 * time.Second

// Sender posts a rendered message to a concrete room.
type Sender interface {
	SendMessage(ctx context.Context, roomID string, msg chat.Message) error
}

// Renderer turns an entry into a chat message.
type Renderer interface {
	Message(e model.Entry) (chat.Message, error)
}

// Dispatcher renders entries and hands them to the transport.
type Dispatcher struct {
	sender      Sender
	render      Renderer
	sendTimeout time.Duration
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sender Sender, render Renderer) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		render:      render,
		sendTimeout: defaultSendTimeout,
	}
}

// SetSendTimeout overrides the per-message timeout. Non-positive values are ignored.
func (d *Dispatcher) SetSendTimeout(t time.Duration) {
	if t > 0 {
		d.sendTimeout = t
	}
}

// Deliver sends one entry to roomID.
//
// The send is not interrupted when ctx is cancelled; it runs until it
// completes or the send timeout expires.
func (d *Dispatcher) Deliver(ctx context.Context, roomID string, e model.Entry) error {
	msg, err := d.render.Message(e)
	if err != nil {
		return fmt.Errorf("%w: render entry %s: %w", ErrSendFailed, e.ID, err)
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()

	if err := d.sender.SendMessage(sendCtx, roomID, msg); err != nil {
		return fmt.Errorf("%w: entry %s: %w", ErrSendFailed, e.ID, err)
	}
	return nil
}
