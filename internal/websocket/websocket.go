// Package websocket implements the legacy framed protocol: a one-shot
// draft-76 handshake upgrading the raw connection into framed mode, after
// which payloads arrive as UTF-8 text between 0x00 and 0xFF markers.
//
// This is an implementation of version 76 of the draft WebSocket protocol:
// http://tools.ietf.org/html/draft-hixie-thewebsocketprotocol-76
package websocket

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/dmreichard/PantsMUD/internal/core"
	"github.com/dmreichard/PantsMUD/internal/core/debug"
	"github.com/dmreichard/PantsMUD/internal/event"
	"github.com/dmreichard/PantsMUD/internal/session"
)

// decoderMode tracks a connection's progress through the protocol. The
// handshake must complete before any frame may be decoded.
type decoderMode int

const (
	modeAwaitingHandshake decoderMode = iota
	modeFraming
)

// conn is the per-connection decoder state attached to each client.
type conn struct {
	mode    decoderMode
	decoder FrameDecoder
}

// Server is the legacy framed protocol backend.
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

// SetUpClient attaches the handshake/framing state machine to the connection.
func (s *Server) SetUpClient(c *session.Conn) {
	c.Extension = &conn{mode: modeAwaitingHandshake}
}

// StartSession pushes the configured initial state, if any.
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

// Handle routes each inbound chunk according to the connection's mode: the
// first read is consumed whole as the handshake request, everything after a
// successful upgrade is framed data.
func (s *Server) Handle(ctx context.Context, c *session.Conn, data []byte) error {
	ws := c.Extension.(*conn)

	if ws.mode == modeAwaitingHandshake {
		return s.negotiate(c, ws, data)
	}
	return s.processFrames(c, ws, data)
}

// negotiate treats data as a complete handshake request. On any validation
// failure the connection is closed with no response; on success the 101
// response is sent and the connection flips into framing mode.
func (s *Server) negotiate(c *session.Conn, ws *conn, data []byte) error {
	request, err := ParseRequest(data)
	if err != nil {
		return fmt.Errorf("rejecting handshake from %s: %w", c.IPAddr(), err)
	}

	if s.Config.Debugging.FrameLoggingEnabled {
		debug.DumpValue(os.Stdout, request)
	}

	response, err := BuildResponse(request)
	if err != nil {
		return fmt.Errorf("rejecting handshake from %s: %w", c.IPAddr(), err)
	}

	if err := c.SendRaw(response); err != nil {
		return err
	}

	ws.mode = modeFraming
	c.Framer = framer{}

	s.Logger.Debugf("[%s] completed handshake with %s", s.Name, c.IPAddr())
	return nil
}

// processFrames decodes as many complete frames as the buffered stream
// holds, transcodes each payload into the internal representation and
// dispatches it to the focused state. Messages arriving while the stack is
// empty are dropped; there is no replay in frame mode. A frame-ordering
// violation is returned after any frames decoded ahead of it, closing the
// connection.
func (s *Server) processFrames(c *session.Conn, ws *conn, data []byte) error {
	frames, decodeErr := ws.decoder.Decode(data)

	if len(frames) > 0 {
		s.Bus.Publish(event.TopicRead, c)
	}

	for _, frame := range frames {
		payload, err := toInternal(frame)
		if err != nil {
			return fmt.Errorf("frame from %s: %w", c.IPAddr(), err)
		}

		if s.Config.Debugging.FrameLoggingEnabled {
			debug.PrintFrame(os.Stdout, s.Name, c.IPAddr(), payload)
		}

		if err := c.Stack().Dispatch(payload); err != nil {
			return err
		}
	}

	return decodeErr
}
