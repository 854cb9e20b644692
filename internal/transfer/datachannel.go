package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/ftserve/ftserve/internal/core/codec"
)

// dataChannel is the outbound connection a single payload is streamed over.
type dataChannel struct {
	conn         net.Conn
	chunkSize    int
	writeTimeout time.Duration
}

// streamResult describes what actually went over the data channel.
type streamResult struct {
	Sent   int64
	Digest uint64
}

// dialDataChannel connects back to the client. ip must be the peer address
// of the control connection, never a name the client supplied.
func dialDataChannel(ctx context.Context, dialer *net.Dialer, ip string, port int) (*dataChannel, error) {
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("error connecting to data port: %w", err)
	}
	return &dataChannel{conn: conn, chunkSize: codec.DefaultChunkSize}, nil
}

// Stream sends at most p.Size() bytes from p in chunks of chunkSize, or
// codec.DefaultChunkSize if that is not positive. If the client closes
// the data connection early the bytes sent so far are reported along with
// codec.ErrPeerClosed.
func (d *dataChannel) Stream(p Payload) (streamResult, error) {
	var result streamResult
	hash := xxh3.New()
	src := io.LimitReader(p, p.Size())
	chunkSize := d.chunkSize
	if chunkSize <= 0 {
		chunkSize = codec.DefaultChunkSize
	}
	buf := make([]byte, chunkSize)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if d.writeTimeout > 0 {
				if err := d.conn.SetWriteDeadline(time.Now().Add(d.writeTimeout)); err != nil {
					return result, fmt.Errorf("setting write deadline: %w", err)
				}
			}

			sent, err := codec.WriteFull(d.conn, buf[:n])
			_, _ = hash.Write(buf[:sent])
			result.Sent += int64(sent)
			result.Digest = hash.Sum64()
			if err != nil {
				return result, err
			}
		}

		if errors.Is(readErr, io.EOF) {
			result.Digest = hash.Sum64()
			return result, nil
		} else if readErr != nil {
			return result, fmt.Errorf("error reading payload: %w", readErr)
		}
	}
}

func (d *dataChannel) Close() error {
	return d.conn.Close()
}
