package internal

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dmreichard/PantsMUD/internal/core"
	"github.com/dmreichard/PantsMUD/internal/core/debug"
	"github.com/dmreichard/PantsMUD/internal/event"
	"github.com/dmreichard/PantsMUD/internal/flashpolicy"
	"github.com/dmreichard/PantsMUD/internal/session"
	"github.com/dmreichard/PantsMUD/internal/store"
	"github.com/dmreichard/PantsMUD/internal/telnet"
	"github.com/dmreichard/PantsMUD/internal/websocket"
)

// Controller is the main entrypoint for the server. It's responsible for
// initializing any shared resources (such as the store, event bus and
// logging), defining the protocol servers, and launching everything.
type Controller struct {
	Config *core.Config

	// Registry holds the named session state factories available to the
	// protocol servers. Collaborators register their states here before
	// Start is called.
	Registry *session.Registry

	logger *zap.SugaredLogger
	wg     sync.WaitGroup

	bus     *event.Bus
	store   *store.Store
	servers []*frontend
}

// Bus exposes the lifecycle notification bus for collaborators to subscribe
// to before the servers come up.
func (c *Controller) Bus() *event.Bus { return c.bus }

// Store exposes the key/value store opened by the controller.
func (c *Controller) Store() *store.Store { return c.store }

// Setup initializes the shared resources without starting any servers,
// allowing collaborators to register states and subscriptions first.
func (c *Controller) Setup() error {
	var err error
	// Set up the logger, which will be used by all sub-servers.
	if c.logger, err = core.NewLogger(c.Config); err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	if c.Registry == nil {
		c.Registry = session.NewRegistry()
	}

	c.bus = event.NewBus(c.logger)

	if c.store, err = store.Open(c.Config, c.logger); err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}

	return nil
}

// Start brings up all configured protocol servers and blocks until the
// context is canceled and every connection has drained.
func (c *Controller) Start(ctx context.Context) error {
	if c.logger == nil {
		if err := c.Setup(); err != nil {
			return err
		}
	}
	defer c.Shutdown()

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.PprofEnabled {
		debug.StartPprofServer(c.logger, c.Config.Debugging.PprofPort)
	}

	c.declareServers()
	return c.run(ctx)
}

// Set up all of the servers we want to run.
func (c *Controller) declareServers() {
	c.servers = []*frontend{
		{
			Address: c.Config.TelnetAddress(),
			Backend: &telnet.Server{
				Name:     "TELNET",
				Config:   c.Config,
				Logger:   c.logger,
				Bus:      c.bus,
				Registry: c.Registry,
			},
		},
		{
			Address: c.Config.WebSocketAddress(),
			Backend: &websocket.Server{
				Name:     "WEBSOCKET",
				Config:   c.Config,
				Logger:   c.logger,
				Bus:      c.bus,
				Registry: c.Registry,
			},
		},
	}

	if c.Config.FlashPolicyServer.Port != 0 {
		c.servers = append(c.servers, &frontend{
			Address: c.Config.FlashPolicyAddress(),
			Backend: &flashpolicy.Server{
				Name:   "FLASHPOLICY",
				Config: c.Config,
				Logger: c.logger,
			},
		})
	}
}

func (c *Controller) run(ctx context.Context) error {
	// Failure to initialize one of the registered servers is considered terminal.
	for _, server := range c.servers {
		server.Config = c.Config
		server.Logger = c.logger
		server.Bus = c.bus

		if err := server.Start(ctx, &c.wg); err != nil {
			return fmt.Errorf("error starting %s server: %w", server.Backend.Identifier(), err)
		}
	}

	c.wg.Wait()
	return nil
}

// Shutdown closes the store after all of the servers have stopped so that
// any store access during connection teardown still succeeds.
func (c *Controller) Shutdown() {
	c.wg.Wait()

	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warnf("error closing store: %v", err)
		}
	}
}
