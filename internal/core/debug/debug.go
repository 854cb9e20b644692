package debug

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

// StartUtilities spins off the services associated with debug mode. The
// returned listener address is where the pprof server ended up bound.
func StartUtilities(logger *logrus.Logger, pprofPort int) (net.Addr, error) {
	return startPprofServer(logger, pprofPort)
}

// This function starts the default pprof HTTP server that can be accessed via localhost
// to get runtime information about the server. See https://golang.org/pkg/net/http/pprof/
func startPprofServer(logger *logrus.Logger, port int) (net.Addr, error) {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	listener, err := net.Listen("tcp", listenerAddr)
	if err != nil {
		return nil, fmt.Errorf("error starting pprof server: %w", err)
	}
	logger.Infof("starting pprof server on %s", listener.Addr())

	go func() {
		if err := http.Serve(listener, nil); err != nil {
			logger.Infof("pprof server exited: %s", err)
		}
	}()
	return listener.Addr(), nil
}

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
	MaxDepth:                3,
}

// Dump renders v with all of its nested fields for debug-level logging.
func Dump(v interface{}) string {
	return dumpConfig.Sdump(v)
}
