package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ftserve/ftserve/internal/core/codec"
)

var (
	// ErrSessionEnded is returned by ReadLine once the client has closed its
	// side of the control connection. It marks a normal end of session.
	ErrSessionEnded = errors.New("client ended the session")
	// ErrSessionClosed marks an error after which the server deliberately
	// ends the session, e.g. once a rejection status has been sent.
	ErrSessionClosed = errors.New("session closed by server")
	// ErrPeerClosed is returned by the send helpers when the client stopped
	// accepting data part way through a write.
	ErrPeerClosed = codec.ErrPeerClosed
)

// Client represents a user connected on the control channel. It is owned by
// the goroutine handling its connection.
type Client struct {
	connection net.Conn
	ipAddr     string
	port       string
	hostname   string

	reader    *codec.Reader
	closeOnce sync.Once
	closeErr  error

	// SessionID uniquely identifies this connection in logs and history.
	SessionID string
	// WorkingDir is the directory LIST operates on and relative paths resolve
	// against. It is changed by CD.
	WorkingDir string
}

func NewClient(connection net.Conn, maxLineLength int) *Client {
	host, port, err := net.SplitHostPort(connection.RemoteAddr().String())
	if err != nil {
		host = connection.RemoteAddr().String()
	}

	return &Client{
		connection: connection,
		ipAddr:     host,
		port:       port,
		reader:     codec.NewReader(connection, maxLineLength),
		SessionID:  uuid.NewString(),
	}
}

// IPAddr is the numeric peer address. Data channels are always dialed to it.
func (c *Client) IPAddr() string { return c.ipAddr }
func (c *Client) Port() string   { return c.port }

// Hostname is the reverse lookup result for the peer, or "" if none was found.
func (c *Client) Hostname() string { return c.hostname }

func (c *Client) SetHostname(hostname string) { c.hostname = hostname }

// DisplayName is the name used for the client in operator output.
func (c *Client) DisplayName() string {
	if c.hostname != "" {
		return c.hostname
	}
	return c.ipAddr
}

// ReadLine blocks until the client sends the next line. A timeout of 0 waits
// forever.
func (c *Client) ReadLine(timeout time.Duration) (*codec.Line, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.connection.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting read deadline for %s: %w", c.ipAddr, err)
	}

	line, err := c.reader.ReadLine()
	if errors.Is(err, codec.ErrClosed) {
		return nil, ErrSessionEnded
	}
	return line, err
}

// Send writes all of data to the control connection.
func (c *Client) Send(data []byte) error {
	if _, err := codec.WriteFull(c.connection, data); err != nil {
		return fmt.Errorf("failed to send to client %s: %w", c.ipAddr, err)
	}
	return nil
}

// SendLine writes s followed by a newline.
func (c *Client) SendLine(s string) error {
	return c.Send([]byte(s + "\n"))
}

// Close the TCP connection. Only the first call has any effect.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.connection.Close()
	})
	return c.closeErr
}
