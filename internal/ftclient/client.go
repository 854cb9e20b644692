// Package ftclient is a client for ftserve. Each command opens a listener on
// the requested data port, sends the command on the control connection, and
// receives the payload on the connection the server dials back.
package ftclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/ftserve/ftserve/internal/core/codec"
)

// ServerError is a status line sent by the server in place of a size.
type ServerError struct {
	Status string
}

func (e *ServerError) Error() string { return "server says " + e.Status }

// ErrShortTransfer is returned when the data channel closed before the
// announced number of bytes arrived.
var ErrShortTransfer = errors.New("data channel closed before transfer was complete")

type Client struct {
	conn   net.Conn
	reader *codec.Reader

	// ListenHost is the local address data listeners bind to. Blank binds
	// every interface.
	ListenHost string
}

// Dial opens a control connection to an ftserve server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, reader: codec.NewReader(conn, 0)}
}

// List returns the names in the server's working directory.
func (c *Client) List(ctx context.Context, dataPort int) ([]string, error) {
	var listing strings.Builder
	if _, err := c.Do(ctx, "LIST", dataPort, "", &listing); err != nil {
		return nil, err
	}
	if listing.Len() == 0 {
		return nil, nil
	}
	return strings.Split(strings.TrimSuffix(listing.String(), "\n"), "\n"), nil
}

// Get copies the contents of the named file on the server to w.
func (c *Client) Get(ctx context.Context, dataPort int, name string, w io.Writer) (int64, error) {
	return c.Do(ctx, "GET", dataPort, name, w)
}

// ChangeDir changes the server-side working directory for this connection and
// returns the new absolute path.
func (c *Client) ChangeDir(ctx context.Context, dataPort int, dir string) (string, error) {
	var cwd strings.Builder
	if _, err := c.Do(ctx, "CD", dataPort, dir, &cwd); err != nil {
		return "", err
	}
	return cwd.String(), nil
}

// Do performs one complete command exchange and writes the payload to w. The
// returned size is the byte count the server announced. A dataPort of 0 picks
// any free port.
func (c *Client) Do(ctx context.Context, verb string, dataPort int, arg string, w io.Writer) (int64, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(c.ListenHost, strconv.Itoa(dataPort)))
	if err != nil {
		return 0, fmt.Errorf("listening on data port: %w", err)
	}
	defer listener.Close()
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	port := listener.Addr().(*net.TCPAddr).Port
	command := strings.TrimSpace(fmt.Sprintf("%s %d %s", verb, port, arg))
	if err := codec.WriteLine(c.conn, command); err != nil {
		return 0, fmt.Errorf("sending command: %w", err)
	}

	size, err := c.readSize()
	if err != nil {
		return 0, err
	}

	if err := codec.WriteLine(c.conn, "ACK"); err != nil {
		return size, fmt.Errorf("sending ACK: %w", err)
	}

	dataConn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return size, ctx.Err()
		}
		return size, fmt.Errorf("accepting data connection: %w", err)
	}
	defer dataConn.Close()
	stopData := context.AfterFunc(ctx, func() { dataConn.Close() })
	defer stopData()

	received, err := io.CopyN(w, dataConn, size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return size, fmt.Errorf("%w: received %d of %d bytes", ErrShortTransfer, received, size)
		}
		return size, fmt.Errorf("receiving data: %w", err)
	}

	if err := codec.WriteLine(c.conn, "ACK"); err != nil {
		return size, fmt.Errorf("sending completion ACK: %w", err)
	}
	return size, nil
}

// readSize reads the server's reply to a command, which is either a byte
// count or a status line.
func (c *Client) readSize() (int64, error) {
	line, err := c.reader.ReadLine()
	if err != nil {
		return 0, fmt.Errorf("reading response: %w", err)
	}

	size, err := strconv.ParseInt(line.Text(), 10, 64)
	if err != nil {
		return 0, &ServerError{Status: line.Text()}
	}
	return size, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
