// Package telnet implements the line-oriented MUD protocol: arbitrary bytes
// terminated by \n (optionally preceded by \r, which is stripped), with no
// length prefix and no maximum line length.
package telnet

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dmreichard/PantsMUD/internal/core"
	"github.com/dmreichard/PantsMUD/internal/event"
	"github.com/dmreichard/PantsMUD/internal/session"
)

// LineDecoder reassembles complete lines from an arbitrarily chunked byte
// stream. Bytes after the last line feed are retained across reads, so the
// decoded sequence is independent of how the stream was split into chunks.
type LineDecoder struct {
	buf []byte
}

// Decode strips carriage returns from chunk, appends it to the carry buffer
// and extracts every line-feed-terminated line in the exact order the
// terminators appeared. Returned lines have the terminator stripped.
func (d *LineDecoder) Decode(chunk []byte) [][]byte {
	for _, b := range chunk {
		if b != '\r' {
			d.buf = append(d.buf, b)
		}
	}

	var lines [][]byte
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}

		line := make([]byte, i)
		copy(line, d.buf[:i])
		lines = append(lines, line)

		d.buf = d.buf[i+1:]
	}

	return lines
}

// Buffered reports how many bytes are held awaiting a terminator.
func (d *LineDecoder) Buffered() int {
	return len(d.buf)
}

// Server is the line protocol backend.
type Server struct {
	Name     string
	Config   *core.Config
	Logger   *zap.SugaredLogger
	Bus      *event.Bus
	Registry *session.Registry
}

func (s *Server) Identifier() string {
	return s.Name
}

func (s *Server) Init(ctx context.Context) error {
	return nil
}

// SetUpClient attaches a fresh line decoder to the connection.
func (s *Server) SetUpClient(c *session.Conn) {
	c.Extension = &LineDecoder{}
}

// StartSession pushes the configured initial state, if any. Lines that
// arrive while the stack is empty stay queued for replay.
func (s *Server) StartSession(c *session.Conn) error {
	name := s.Config.Session.InitialState
	if name == "" {
		return nil
	}

	factory, ok := s.Registry.Lookup(name)
	if !ok {
		return fmt.Errorf("initial state %q is not registered", name)
	}
	c.Stack().Push(factory)

	return nil
}

// Handle decodes the chunk into lines, queues them on the connection and
// drains the queue into the focused state. One read notification is
// published per inbound read, not per line.
func (s *Server) Handle(ctx context.Context, c *session.Conn, data []byte) error {
	decoder := c.Extension.(*LineDecoder)

	c.EnqueueLines(decoder.Decode(data))
	s.Bus.Publish(event.TopicRead, c)

	return c.DispatchPending()
}
