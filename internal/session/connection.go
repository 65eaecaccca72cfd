package session

import (
	"fmt"
	"net"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Framer wraps outbound payloads in the owning protocol's wire format
// before they hit the socket. Protocols that write payloads as-is leave
// the connection's Framer nil.
type Framer interface {
	Frame(payload []byte) ([]byte, error)
}

// Conn represents one accepted socket along with the session state that
// rides on top of it. A Conn exclusively owns its pending-line queue and
// its state stack; no other component mutates them directly.
type Conn struct {
	id     uuid.UUID
	socket net.Conn
	ipAddr string
	port   string
	closed bool

	// Framer applied by Send. Attached by the backend once the protocol
	// knows how payloads must be encoded on the wire.
	Framer Framer

	// Extension holds protocol-specific per-connection decoder state
	// attached by the backend that owns this connection.
	Extension interface{}

	stack  *Stack
	lines  *queue.Queue
	logger *zap.SugaredLogger
}

func NewConn(socket net.Conn, logger *zap.SugaredLogger) *Conn {
	ipAddr, port, err := net.SplitHostPort(socket.RemoteAddr().String())
	if err != nil {
		ipAddr = socket.RemoteAddr().String()
	}

	c := &Conn{
		id:     uuid.New(),
		socket: socket,
		ipAddr: ipAddr,
		port:   port,
		lines:  queue.New(),
		logger: logger,
	}
	c.stack = newStack(c, logger)
	return c
}

func (c *Conn) ID() uuid.UUID { return c.id }
func (c *Conn) IPAddr() string { return c.ipAddr }
func (c *Conn) Port() string   { return c.port }

// Stack returns the connection's session state stack.
func (c *Conn) Stack() *Stack { return c.stack }

// Read consumes the available bytes directly from the underlying socket.
func (c *Conn) Read(b []byte) (int, error) {
	return c.socket.Read(b)
}

// Write directly sends data over the underlying socket.
func (c *Conn) Write(b []byte) (int, error) {
	return c.socket.Write(b)
}

// Close tears down the session stack and closes the socket. Safe to call
// more than once; only the first call has any effect.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.stack.Close()
	return c.socket.Close()
}

// Send encodes payload with the connection's Framer (if any) and writes it
// fully, notifying the focused state via OnFlush once the write completes.
func (c *Conn) Send(payload []byte) error {
	data := payload
	if c.Framer != nil {
		var err error
		if data, err = c.Framer.Frame(payload); err != nil {
			return fmt.Errorf("framing outbound payload for %s: %w", c.ipAddr, err)
		}
	}

	if err := c.SendRaw(data); err != nil {
		return err
	}

	c.stack.flush()
	return nil
}

// SendRaw writes all data contained in the slice to the socket as-is.
func (c *Conn) SendRaw(data []byte) error {
	sent := 0
	for sent < len(data) {
		n, err := c.Write(data[sent:])
		if err != nil {
			return fmt.Errorf("failed to send to client %v: %s", c.ipAddr, err.Error())
		}
		sent += n
	}
	return nil
}

// EnqueueLines appends decoded line-mode messages to the pending queue in
// arrival order. Lines stay queued, replayable, until a state exists to
// receive them.
func (c *Conn) EnqueueLines(lines [][]byte) {
	for _, line := range lines {
		c.lines.Add(line)
	}
}

// PendingLines reports how many decoded lines are queued awaiting dispatch.
func (c *Conn) PendingLines() int {
	return c.lines.Length()
}

// NextLine removes and returns the oldest pending line, for states that
// prefer to pull input instead of reacting to dispatch.
func (c *Conn) NextLine() ([]byte, bool) {
	if c.lines.Length() == 0 {
		return nil, false
	}
	return c.lines.Remove().([]byte), true
}

// DispatchPending drains the pending-line queue head-first into the state
// stack for as long as a focused state exists. The focused state is
// re-resolved before every message, since a handler may replace itself
// mid-drain. Lines left over when the stack empties remain queued.
func (c *Conn) DispatchPending() error {
	for c.stack.Len() > 0 && c.lines.Length() > 0 {
		line := c.lines.Remove().([]byte)
		if err := c.stack.Dispatch(line); err != nil {
			return err
		}
	}
	return nil
}
