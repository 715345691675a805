// Package chat defines the contract between the scheduler and a chat network.
package chat

import (
	"context"
	"errors"
)

// ErrAuth is returned by transport constructors when login fails.
var ErrAuth = errors.New("chat authentication failed")

// ErrRejected marks a send the chat network refused because of the message
// itself, such as one over the size limit. Sending it again will fail the
// same way.
var ErrRejected = errors.New("message rejected")

// Message is a rendered entry ready to be sent.
// Text is the Markdown source; HTML is its rendering for rich-text clients.
type Message struct {
	Text string
	HTML string
}

// Transport is a logged-in connection to a chat network.
type Transport interface {
	// JoinRoom joins the room named by alias and returns its concrete ID.
	// It returns an empty ID when joining succeeded without yielding one.
	JoinRoom(ctx context.Context, alias string) (string, error)
	// ResolveAlias maps alias to a concrete room ID without joining.
	ResolveAlias(ctx context.Context, alias string) (string, error)
	// SendMessage posts msg to the room with the given concrete ID.
	SendMessage(ctx context.Context, roomID string, msg Message) error
	// Run drives the network's long-lived event stream until ctx is done.
	Run(ctx context.Context) error
}
