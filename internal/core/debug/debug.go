// Package debug contains the optional info-providing mechanisms available
// to the server: pprof and wire-level frame logging.
package debug

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"
)

// StartPprofServer starts the default pprof HTTP server that can be accessed
// via localhost to get runtime information about the server.
// See https://golang.org/pkg/net/http/pprof/
func StartPprofServer(logger *zap.SugaredLogger, port int) {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting pprof server on %s", listenerAddr)

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Infof("error starting pprof server: %s", err)
		}
	}()
}

// PrintFrame writes a hex/ASCII dump of one decoded message to w, tagged
// with the server that produced it.
func PrintFrame(w io.Writer, serverName string, clientAddr string, data []byte) {
	fmt.Fprintf(w, "[%s] %d bytes from %s\n", serverName, len(data), clientAddr)
	fmt.Fprint(w, hex.Dump(data))
}

// DumpValue writes a deep spew dump of v to w, for inspecting parsed
// structures like handshake requests.
func DumpValue(w io.Writer, v interface{}) {
	spew.Fdump(w, v)
}
