package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dmreichard/PantsMUD/internal/core"
	"github.com/dmreichard/PantsMUD/internal/event"
	"github.com/dmreichard/PantsMUD/internal/session"
)

// frontend implements the concurrent client connection logic.
//
// Data is read from any connected clients and passed to a backend instance,
// abstracting the lower level connection details away from the Backends.
type frontend struct {
	Address string
	Backend Backend
	Config  *core.Config
	Logger  *zap.SugaredLogger
	Bus     *event.Bus
}

// Start initializes the server backend and opens a TCP socket for the specified server.
// A blocking loop for accepting client connections is spun off in its own goroutine and
// added to the WaitGroup. Context cancellations will stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := f.Backend.Init(ctx); err != nil {
		return fmt.Errorf("error initializing %s server: %w", f.Backend.Identifier(), err)
	}

	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %w", f.Address, err)
	}

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// createSocket opens a TCP socket to listen for client connections on the Address
// provided to the frontend.
func (f *frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address: %w", err)
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %w", err)
	}

	return socket, nil
}

// startBlockingLoop implements a connection handling loop that's purely responsible for
// accepting new connections and spinning off goroutines for the Backend to handle them.
func (f *frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Infof("[%s] waiting for connections on %v", f.Backend.Identifier(), f.Address)

	connections := make(chan *net.TCPConn)
	go func() {
		for {
			// Poll until we can accept more clients.
			for globalConnectionList.len() >= f.Config.MaxConnections {
				time.Sleep(time.Second)
			}

			connection, err := socket.AcceptTCP()
			if err != nil {
				f.Logger.Warnf("failed to accept connection: %s", err.Error())
				continue
			}

			connections <- connection
		}
	}()

	clientWg := &sync.WaitGroup{}
handleLoop:
	for {
		select {
		case <-ctx.Done():
			break handleLoop
		case connection := <-connections:
			clientWg.Add(1)
			// Note: If there is eventually a need to implement worker pooling rather than
			// spawning new goroutines for each client, this is where it should be implemented.
			go f.acceptClient(ctx, connection, clientWg)
		}
	}

	f.Logger.Infof("[%s] shutting down (waiting for connections to close)", f.Backend.Identifier())
	clientWg.Wait()
	f.Logger.Infof("[%s] exited", f.Backend.Identifier())
}

// acceptClient takes a connection and attempts to initiate a session by
// setting up the Conn and notifying collaborators. If it succeeds, the
// goroutine moves into the read loop.
func (f *frontend) acceptClient(ctx context.Context, connection *net.TCPConn, wg *sync.WaitGroup) {
	defer wg.Done()

	c := session.NewConn(connection, f.Logger)
	f.Backend.SetUpClient(c)

	f.Logger.Infof("[%s] accepted connection from %s", f.Backend.Identifier(), c.IPAddr())

	if err := f.Backend.StartSession(c); err != nil {
		f.Logger.Errorf("StartSession() failed for client %s: %s", c.IPAddr(), err)
		_ = connection.Close()
		return
	}

	globalConnectionList.add(c)
	f.Bus.Publish(event.TopicConnect, c)

	f.processChunks(ctx, c)
}

// processChunks starts a blocking loop dedicated to reading data sent from a
// client and only returns once the connection has closed. Each raw chunk is
// handed to the Backend, which owns message reassembly and dispatch.
func (f *frontend) processChunks(ctx context.Context, c *session.Conn) {
	defer f.closeConnectionAndRecover(f.Backend.Identifier(), c)

	limiter := f.newReadLimiter()
	buffer := make([]byte, 2048)

	for {
		select {
		case <-ctx.Done():
			// For now just allow the deferred function to close the connection.
			return
		default:
		}

		n, err := c.Read(buffer)
		if err == io.EOF {
			break
		} else if err != nil {
			f.Logger.Warnf("socket error (%s): %s", c.IPAddr(), err)
			break
		}

		if limiter != nil && !limiter.Allow() {
			f.Logger.Warnf("[%s] disconnecting %s: inbound flood", f.Backend.Identifier(), c.IPAddr())
			break
		}

		if err = f.Backend.Handle(ctx, c, buffer[:n]); err != nil {
			if !errors.Is(err, io.EOF) {
				f.Logger.Warnf("error in client communication: %s", err)
			}
			break
		}
	}
}

// newReadLimiter builds the per-connection inbound flood limiter, or nil if
// the limits section leaves flood protection disabled.
func (f *frontend) newReadLimiter() *rate.Limiter {
	if f.Config.Limits.MessagesPerSecond <= 0 {
		return nil
	}

	burst := f.Config.Limits.MessageBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(f.Config.Limits.MessagesPerSecond), burst)
}

// closeConnectionAndRecover is the failsafe that catches any panics, tears
// down the session stack, disconnects the client, and removes them from the
// list regardless of the state of the connection.
func (f *frontend) closeConnectionAndRecover(serverName string, c *session.Conn) {
	if err := recover(); err != nil {
		f.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			c.IPAddr(), err, debug.Stack())
	}

	// Close tears down the state stack before the socket, so the focused
	// state sees OnLoseFocus and no dispatch can occur afterward.
	if err := c.Close(); err != nil {
		f.Logger.Warnf("failed to close client connection: %s", err)
	}

	globalConnectionList.remove(c)
	f.Bus.Publish(event.TopicClose, c)

	f.Logger.Infof("[%s] disconnected client %s", serverName, c.IPAddr())
}
