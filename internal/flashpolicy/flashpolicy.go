// Package flashpolicy implements the one-shot Flash policy-file protocol.
// The first read either is a policy request or it isn't; either way the
// connection is closed immediately afterward. While it is possible for the
// request to be split across reads, it is highly unlikely, and closing is
// more sensible than waiting for a request that may never arrive.
package flashpolicy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/dmreichard/PantsMUD/internal/core"
	"github.com/dmreichard/PantsMUD/internal/session"
)

// policyRequest is the absolute minimum requirement for a policy request.
var policyRequest = []byte("<policy-file-request/>\x00")

// defaultPolicy is served when no policy file is configured.
const defaultPolicy = `<cross-domain-policy>
    <allow-access-from domain="*" to-ports="*" />
</cross-domain-policy>`

// Server is the Flash policy backend.
type Server struct {
	Name   string
	Config *core.Config
	Logger *zap.SugaredLogger

	policy []byte
}

func (s *Server) Identifier() string {
	return s.Name
}

// Init loads the configured policy file, falling back to the built-in
// default policy when none is set.
func (s *Server) Init(ctx context.Context) error {
	if path := s.Config.FlashPolicyServer.PolicyFile; path != "" {
		policy, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("error reading policy file %s: %w", path, err)
		}
		s.policy = policy
		return nil
	}

	s.policy = []byte(defaultPolicy)
	return nil
}

func (s *Server) SetUpClient(c *session.Conn) {}

func (s *Server) StartSession(c *session.Conn) error {
	return nil
}

// Handle serves the policy if the initial read contains a policy request,
// then requests a clean close in any case.
func (s *Server) Handle(ctx context.Context, c *session.Conn, data []byte) error {
	if bytes.Contains(data, policyRequest) {
		response := append(append([]byte{}, s.policy...), 0x00)
		if err := c.SendRaw(response); err != nil {
			return err
		}
		s.Logger.Debugf("[%s] served policy to %s", s.Name, c.IPAddr())
	}

	return io.EOF
}
