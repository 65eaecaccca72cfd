package telnet

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/dmreichard/PantsMUD/internal/core"
	"github.com/dmreichard/PantsMUD/internal/event"
	"github.com/dmreichard/PantsMUD/internal/session"
)

func TestLineDecoder(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "single line",
			chunks: []string{"look\n"},
			want:   []string{"look"},
		},
		{
			name:   "multiple lines in one read",
			chunks: []string{"north\nsouth\neast\n"},
			want:   []string{"north", "south", "east"},
		},
		{
			name:   "carriage returns stripped",
			chunks: []string{"look\r\nnorth\r\n"},
			want:   []string{"look", "north"},
		},
		{
			name:   "line split across reads",
			chunks: []string{"lo", "ok\n"},
			want:   []string{"look"},
		},
		{
			name:   "terminator split from carriage return",
			chunks: []string{"look\r", "\n"},
			want:   []string{"look"},
		},
		{
			name:   "empty line",
			chunks: []string{"\n"},
			want:   []string{""},
		},
		{
			name:   "no terminator yields nothing",
			chunks: []string{"incomplete"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoder := &LineDecoder{}

			var got []string
			for _, chunk := range tt.chunks {
				for _, line := range decoder.Decode([]byte(chunk)) {
					got = append(got, string(line))
				}
			}

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decoded lines did not match expected; diff:\n%s", diff)
			}
		})
	}
}

// Decoding a stream in arbitrary chunks must yield the same messages as
// decoding it in one shot.
func TestLineDecoder_ChunkBoundaryIndependence(t *testing.T) {
	stream := []byte("first\r\nsecond\nthird one is long\r\n\nfifth\n trailing")

	oneShot := &LineDecoder{}
	expected := oneShot.Decode(stream)

	for size := 1; size <= len(stream); size++ {
		decoder := &LineDecoder{}
		var got [][]byte

		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, decoder.Decode(stream[i:end])...)
		}

		if diff := cmp.Diff(expected, got); diff != "" {
			t.Fatalf("chunk size %d diverged from one-shot decode; diff:\n%s", size, diff)
		}
		if decoder.Buffered() != oneShot.Buffered() {
			t.Fatalf("chunk size %d: Buffered() = %d, want %d",
				size, decoder.Buffered(), oneShot.Buffered())
		}
	}
}

type fakeSocket struct {
	written bytes.Buffer
}

func (f *fakeSocket) Read(b []byte) (int, error)         { return 0, io.EOF }
func (f *fakeSocket) Write(b []byte) (int, error)        { return f.written.Write(b) }
func (f *fakeSocket) Close() error                       { return nil }
func (f *fakeSocket) LocalAddr() net.Addr                { return fakeAddr{} }
func (f *fakeSocket) RemoteAddr() net.Addr               { return fakeAddr{} }
func (f *fakeSocket) SetDeadline(t time.Time) error      { return nil }
func (f *fakeSocket) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeSocket) SetWriteDeadline(t time.Time) error { return nil }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:4000" }

// echoState records every payload dispatched to it.
type echoState struct {
	received []string
}

func (s *echoState) OnGainFocus()  {}
func (s *echoState) OnLoseFocus()  {}
func (s *echoState) OnFlush()      {}
func (s *echoState) OnMessage(payload []byte) error {
	s.received = append(s.received, string(payload))
	return nil
}

func newTestServer(t *testing.T, initialState string) (*Server, *session.Registry, *event.Bus) {
	t.Helper()

	cfg := &core.Config{}
	cfg.Session.InitialState = initialState

	bus := event.NewBus(zap.NewNop().Sugar())
	registry := session.NewRegistry()

	return &Server{
		Name:     "TELNET",
		Config:   cfg,
		Logger:   zap.NewNop().Sugar(),
		Bus:      bus,
		Registry: registry,
	}, registry, bus
}

func TestServer_HandleDispatchesLines(t *testing.T) {
	server, registry, bus := newTestServer(t, "echo")

	state := &echoState{}
	registry.Register("echo", func(c *session.Conn) session.State { return state })

	var reads int
	bus.Subscribe(event.TopicRead, func(payload interface{}) { reads++ })

	c := session.NewConn(&fakeSocket{}, zap.NewNop().Sugar())
	server.SetUpClient(c)
	if err := server.StartSession(c); err != nil {
		t.Fatalf("StartSession() returned an unexpected error: %v", err)
	}

	if err := server.Handle(context.Background(), c, []byte("north\nlo")); err != nil {
		t.Fatalf("Handle() returned an unexpected error: %v", err)
	}
	if err := server.Handle(context.Background(), c, []byte("ok\n")); err != nil {
		t.Fatalf("Handle() returned an unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"north", "look"}, state.received); diff != "" {
		t.Errorf("dispatched lines did not match expected; diff:\n%s", diff)
	}
	if reads != 2 {
		t.Errorf("read notifications = %d, want one per inbound read", reads)
	}
}

func TestServer_HandleQueuesLinesWithoutState(t *testing.T) {
	server, registry, _ := newTestServer(t, "")

	c := session.NewConn(&fakeSocket{}, zap.NewNop().Sugar())
	server.SetUpClient(c)
	if err := server.StartSession(c); err != nil {
		t.Fatalf("StartSession() returned an unexpected error: %v", err)
	}

	if err := server.Handle(context.Background(), c, []byte("north\nlook\n")); err != nil {
		t.Fatalf("Handle() returned an unexpected error: %v", err)
	}
	if c.PendingLines() != 2 {
		t.Fatalf("PendingLines() = %d, want 2 with no focused state", c.PendingLines())
	}

	// A state pushed later still observes the queued input.
	state := &echoState{}
	registry.Register("late", func(c *session.Conn) session.State { return state })
	factory, _ := registry.Lookup("late")
	c.Stack().Push(factory)

	if err := c.DispatchPending(); err != nil {
		t.Fatalf("DispatchPending() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"north", "look"}, state.received); diff != "" {
		t.Errorf("replayed lines did not match expected; diff:\n%s", diff)
	}
}

func TestServer_StartSessionUnknownState(t *testing.T) {
	server, _, _ := newTestServer(t, "nonexistent")

	c := session.NewConn(&fakeSocket{}, zap.NewNop().Sugar())
	server.SetUpClient(c)

	if err := server.StartSession(c); err == nil {
		t.Fatal("StartSession() with unregistered initial state returned nil error")
	}
}
