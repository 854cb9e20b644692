package transfer

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Payload is the source of bytes for one data channel. Size is fixed when the
// payload is created and is what gets announced to the client.
type Payload interface {
	io.Reader
	Size() int64
	Close() error
}

type textPayload struct {
	*strings.Reader
}

func newTextPayload(s string) Payload {
	return textPayload{strings.NewReader(s)}
}

func (p textPayload) Close() error { return nil }

type filePayload struct {
	*os.File
	size int64
}

// openFilePayload opens path for streaming. The size is taken from the opened
// handle, so it describes the file that will actually be read even if path was
// replaced after an earlier stat. A file that keeps changing after this point
// can still disagree with the announced size, which streaming tolerates.
func openFilePayload(path string) (Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat of open file: %w", err)
	}
	return &filePayload{File: f, size: info.Size()}, nil
}

func (p *filePayload) Size() int64 { return p.size }
