// Package codec implements the line-oriented framing used on the control
// connection, along with the low level send/receive loops shared by the
// control and data channels.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

const (
	// DefaultChunkSize is the size of a single receive from the underlying stream.
	DefaultChunkSize = 500
	// DefaultMaxLineLength bounds how many bytes can be buffered while waiting for a newline.
	DefaultMaxLineLength = 4096

	trimSet = "\r\n\t "
)

var (
	// ErrClosed is returned when the peer ended the stream. It is not a failure.
	ErrClosed = errors.New("connection closed by peer")
	// ErrPeerClosed is returned by WriteFull when the peer stopped accepting data.
	ErrPeerClosed = errors.New("peer closed the connection during send")
	// ErrLineTooLong is returned when no newline was found within the maximum line length.
	ErrLineTooLong = errors.New("line exceeds maximum length")
)

// TransportError wraps any failure of the underlying stream that isn't a
// clean close or an interrupted system call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Reader pulls logical lines out of a stream of raw receives. Any bytes
// following a newline stay buffered for the next call, so a single receive
// can carry several lines or only part of one.
type Reader struct {
	r       io.Reader
	chunk   []byte
	pending []byte
	err     error
	maxLine int
}

func NewReader(r io.Reader, maxLine int) *Reader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &Reader{
		r:       r,
		chunk:   make([]byte, DefaultChunkSize),
		maxLine: maxLine,
	}
}

// ReadLine blocks until a full line is available and returns it with the
// trailing line terminator and surrounding whitespace removed. If the peer
// closes the stream with an unterminated line buffered, that line is returned
// first and ErrClosed on the following call.
func (r *Reader) ReadLine() (*Line, error) {
	for {
		if i := bytes.IndexByte(r.pending, '\n'); i >= 0 {
			line := NewLine(string(r.pending[:i]))
			r.pending = r.pending[i+1:]
			return line, nil
		}
		if len(r.pending) > r.maxLine {
			return nil, ErrLineTooLong
		}

		if err := r.fill(); err != nil {
			if errors.Is(err, ErrClosed) && len(r.pending) > 0 {
				line := NewLine(string(r.pending))
				r.pending = nil
				return line, nil
			}
			return nil, err
		}
	}
}

// Buffered returns the number of received bytes not yet returned as a line.
func (r *Reader) Buffered() int { return len(r.pending) }

// fill performs one receive from the underlying stream, retrying
// interrupted calls.
func (r *Reader) fill() error {
	if r.err != nil {
		return r.err
	}

	for {
		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.pending = append(r.pending, r.chunk[:n]...)
			if err != nil {
				r.err = classifyReadError(err)
			}
			return nil
		}

		if err == nil {
			// A zero-byte receive means the peer shut down its side.
			r.err = ErrClosed
			return r.err
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}

		r.err = classifyReadError(err)
		return r.err
	}
}

func classifyReadError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return &TransportError{Op: "recv", Err: err}
}

// WriteFull sends all of p, continuing after short writes and retrying
// interrupted calls. A zero-byte write or a reset/broken pipe is reported
// as ErrPeerClosed; anything else is a TransportError.
func WriteFull(w io.Writer, p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		n, err := w.Write(p[sent:])
		sent += n

		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			if IsPeerClosed(err) {
				return sent, ErrPeerClosed
			}
			return sent, &TransportError{Op: "send", Err: err}
		}
		if n == 0 {
			return sent, ErrPeerClosed
		}
	}
	return sent, nil
}

// WriteLine sends s followed by a newline.
func WriteLine(w io.Writer, s string) error {
	_, err := WriteFull(w, []byte(s+"\n"))
	return err
}

// IsPeerClosed reports whether err means the remote end went away.
func IsPeerClosed(err error) bool {
	return errors.Is(err, ErrPeerClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrClosedPipe)
}
