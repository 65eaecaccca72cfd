package internal

import (
	"context"

	"github.com/dmreichard/PantsMUD/internal/session"
)

// Backend is an interface for a protocol server that decodes a specific wire
// format and feeds the resulting messages into its clients' session stacks.
type Backend interface {
	// Identifier returns a uniquely identifying string.
	Identifier() string

	// Init is called before a Backend is started as a hook for the Backend to
	// perform any necessary initialization before it can accept clients.
	Init(ctx context.Context) error

	// SetUpClient attaches whatever per-connection decoder state the protocol
	// needs to be able to begin the session.
	SetUpClient(c *session.Conn)

	// StartSession performs any session initialization necessary before the
	// first read, such as pushing the configured initial state onto the
	// connection's stack.
	StartSession(c *session.Conn) error

	// Handle is the main entry point for inbound data. It receives each raw
	// chunk read from the client and is responsible for reassembling messages
	// and dispatching them. Returning io.EOF requests a clean close; any
	// other error closes the connection as a failure.
	Handle(ctx context.Context, c *session.Conn, data []byte) error
}
