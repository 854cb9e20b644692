package internal

import (
	"context"

	"github.com/ftserve/ftserve/internal/core/client"
	"github.com/ftserve/ftserve/internal/core/codec"
)

// Backend is an interface for a server that handles the commands sent by
// clients on their control connections.
type Backend interface {
	// Name returns a uniquely identifying string.
	Identifier() string

	// Init is called before a Backend is started as a hook for the Backend to
	// perform any necessary initialization before it can accept clients.
	Init(ctx context.Context) error

	// SetUpClient performs any initialization on the Client needed to be
	// able to begin the session.
	SetUpClient(ctx context.Context, c *client.Client)

	// Handle is the main entry point for processing client commands. It's
	// responsible for carrying out one command and sending any responses. A
	// non-nil error ends the session.
	Handle(ctx context.Context, c *client.Client, line *codec.Line) error
}
