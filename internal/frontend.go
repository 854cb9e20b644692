package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ftserve/ftserve/internal/core"
	"github.com/ftserve/ftserve/internal/core/client"
	"github.com/ftserve/ftserve/internal/core/codec"
	"github.com/ftserve/ftserve/internal/transfer"
)

// frontend implements the concurrent client connection logic.
//
// Lines are read from any connected clients and passed to a backend instance, abstracting
// the lower level connection details away from the Backends.
type frontend struct {
	Address string
	Backend Backend
	Config  *core.Config
	Logger  *logrus.Logger

	listener *net.TCPListener
	// Limits concurrent sessions when server.max_connections is set.
	admission *semaphore.Weighted
}

// Start initializes the server backend and opens a TCP socket for the specified server.
// A blocking loop for accepting client connections is spun off in its own goroutine and
// added to the WaitGroup. Context cancellations will stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := f.Backend.Init(ctx); err != nil {
		return fmt.Errorf("error initializing %s server: %w", f.Backend.Identifier(), err)
	}

	socket, err := f.createSocket(ctx)
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %w", f.Address, err)
	}
	f.listener = socket

	if f.Config.Server.MaxConnections > 0 {
		f.admission = semaphore.NewWeighted(int64(f.Config.Server.MaxConnections))
	}

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// Addr is the address the frontend is listening on once started.
func (f *frontend) Addr() net.Addr {
	return f.listener.Addr()
}

// createSocket opens a TCP socket to listen for client connections on the Address
// provided to the frontend. Without a host the socket accepts both IPv4 and IPv6;
// otherwise each address the host resolves to is tried in turn.
func (f *frontend) createSocket(ctx context.Context) (*net.TCPListener, error) {
	host, port, err := net.SplitHostPort(f.Address)
	if err != nil {
		return nil, fmt.Errorf("error parsing address: %w", err)
	}
	if host == "" {
		hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
		if err != nil {
			return nil, fmt.Errorf("error resolving address: %w", err)
		}
		return net.ListenTCP("tcp", hostAddr)
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("error parsing port %q: %w", port, err)
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("error resolving address: %w", err)
	}

	var lastErr error
	for _, addr := range addrs {
		socket, err := net.ListenTCP("tcp", &net.TCPAddr{IP: addr.IP, Port: portNum, Zone: addr.Zone})
		if err == nil {
			return socket, nil
		}
		f.Logger.Debugf("[%s] unable to listen on %s: %v", f.Backend.Identifier(), addr, err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses found for %s", host)
	}
	return nil, fmt.Errorf("error listening on socket: %w", lastErr)
}

// startBlockingLoop implements a connection handling loop that's purely responsible for
// accepting new connections and spinning off goroutines for the Backend to handle them.
func (f *frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Infof("[%s] waiting for connections on %v", f.Backend.Identifier(), socket.Addr())

	// Closing the socket is what unblocks AcceptTCP on shutdown.
	stop := context.AfterFunc(ctx, func() { socket.Close() })
	defer stop()

	clientWg := &sync.WaitGroup{}
	for {
		if f.admission != nil {
			// Wait until there is room for another client.
			if err := f.admission.Acquire(ctx, 1); err != nil {
				break
			}
		}

		connection, err := socket.AcceptTCP()
		if err != nil {
			f.release()
			if errors.Is(err, net.ErrClosed) {
				break
			}
			f.Logger.Warnf("failed to accept connection: %s", err.Error())
			// Avoid spinning if the error persists, e.g. out of file descriptors.
			time.Sleep(50 * time.Millisecond)
			continue
		}

		clientWg.Add(1)
		// Note: If there is eventually a need to implement worker pooling rather than spawning
		// new goroutines for each client, this is where it should be implemented.
		go f.acceptClient(ctx, connection, clientWg)
	}

	f.Logger.Infof("[%v] shutting down (waiting for connections to close)", f.Backend.Identifier())
	clientWg.Wait()
	f.Logger.Infof("[%v] exited", f.Backend.Identifier())
}

func (f *frontend) release() {
	if f.admission != nil {
		f.admission.Release(1)
	}
}

// acceptClient takes a connection, sets up the Client and moves into the command
// processing loop.
func (f *frontend) acceptClient(ctx context.Context, connection *net.TCPConn, wg *sync.WaitGroup) {
	defer wg.Done()
	defer f.release()

	c := client.NewClient(connection, f.Config.Protocol.MaxLineLength)
	gate := &commandGate{}
	// Shutting down closes an idle connection right away, which unblocks the pending
	// command read. A command in progress gets timeouts.shutdown_grace to finish.
	stop := context.AfterFunc(ctx, func() {
		if gate.stop() {
			c.Close()
		} else if grace := f.Config.Timeouts.ShutdownGrace; grace > 0 {
			time.AfterFunc(grace, func() { c.Close() })
		}
	})
	defer stop()

	f.Backend.SetUpClient(ctx, c)
	f.Logger.WithField("session", c.SessionID).
		Infof("[%s] accepted connection from %s (%s)", f.Backend.Identifier(), c.DisplayName(), c.IPAddr())

	f.processCommands(ctx, c, gate)
}

// processCommands starts a blocking loop dedicated to reading commands sent from
// a client and only returns once the session has ended.
func (f *frontend) processCommands(ctx context.Context, c *client.Client, gate *commandGate) {
	defer f.closeConnectionAndRecover(f.Backend.Identifier(), c)

	for {
		line, err := c.ReadLine(f.Config.Timeouts.Command)
		if errors.Is(err, codec.ErrLineTooLong) {
			// The rest of the line is never read.
			_ = c.SendLine(transfer.StatusInvalidCommand)
		}
		if err != nil {
			f.logSessionEnd(ctx, c, err)
			return
		}

		if !gate.begin() {
			return
		}
		err = f.Backend.Handle(ctx, c, line)
		stopping := !gate.end()
		if err != nil {
			f.logSessionEnd(ctx, c, err)
			return
		}
		if stopping {
			return
		}
	}
}

// commandGate tracks whether a session is between commands so that shutdown
// only interrupts sessions that are waiting for input.
type commandGate struct {
	mu       sync.Mutex
	busy     bool
	stopping bool
}

// begin marks a command as in progress. It returns false once shutdown has started.
func (g *commandGate) begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		return false
	}
	g.busy = true
	return true
}

// end marks the command as finished and reports whether another may be read.
func (g *commandGate) end() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busy = false
	return !g.stopping
}

// stop records that shutdown has started and reports whether the session is idle.
func (g *commandGate) stop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopping = true
	return !g.busy
}

func (f *frontend) logSessionEnd(ctx context.Context, c *client.Client, err error) {
	logger := f.Logger.WithField("session", c.SessionID)
	switch {
	case errors.Is(err, client.ErrSessionEnded), ctx.Err() != nil:
	case errors.Is(err, client.ErrSessionClosed):
		logger.Debugf("[%s] closing session: %v", f.Backend.Identifier(), err)
	default:
		logger.Warnf("[%s] error in client communication with %s: %v", f.Backend.Identifier(), c.IPAddr(), err)
	}
}

// closeConnectionAndRecover is the failsafe that catches any panics and disconnects the
// client regardless of the state of the connection.
func (f *frontend) closeConnectionAndRecover(serverName string, c *client.Client) {
	if err := recover(); err != nil {
		f.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			c.IPAddr(), err, debug.Stack())
	}

	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		f.Logger.Warnf("failed to close client connection: %s", err)
	}

	f.Logger.WithField("session", c.SessionID).Infof("[%s] disconnected client %s", serverName, c.DisplayName())
}
