// Package output serializes operator console output produced by many
// concurrently running client handlers.
package output

import (
	"errors"
	"io"
	"sync"
)

// DefaultQueueDepth is the number of messages that can be waiting for the
// console before producers block.
const DefaultQueueDepth = 1024

// ErrClosed is returned by Write once the Aggregator has been shut down.
var ErrClosed = errors.New("output aggregator closed")

// Aggregator is the single consumer of every operator-facing message. Each
// Write enqueues one immutable message; a dedicated goroutine writes them to
// the underlying writer in the order they arrived, so lines from different
// clients interleave by arrival time but are never garbled.
type Aggregator struct {
	out      io.Writer
	messages chan string
	quit     chan struct{}
	finished chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
}

func NewAggregator(out io.Writer, depth int) *Aggregator {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Aggregator{
		out:      out,
		messages: make(chan string, depth),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start launches the consumer goroutine. Calling it more than once has no effect.
func (a *Aggregator) Start() {
	a.startOnce.Do(func() { go a.run() })
}

// Write implements io.Writer so the Aggregator can be handed to a logger.
// p is copied before Write returns.
func (a *Aggregator) Write(p []byte) (int, error) {
	if err := a.Enqueue(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Enqueue hands a message to the consumer, blocking while the queue is full.
func (a *Aggregator) Enqueue(msg string) error {
	select {
	case <-a.quit:
		return ErrClosed
	default:
	}

	select {
	case a.messages <- msg:
		return nil
	case <-a.quit:
		return ErrClosed
	}
}

// Close stops accepting messages, flushes whatever is still queued, and waits
// for the consumer to exit. Messages racing with Close may be dropped.
func (a *Aggregator) Close() {
	a.closeOnce.Do(func() {
		close(a.quit)
		a.Start()
		<-a.finished
	})
}

func (a *Aggregator) run() {
	defer close(a.finished)

	for {
		select {
		case msg := <-a.messages:
			a.print(msg)
		case <-a.quit:
			a.drain()
			return
		}
	}
}

func (a *Aggregator) drain() {
	for {
		select {
		case msg := <-a.messages:
			a.print(msg)
		default:
			return
		}
	}
}

func (a *Aggregator) print(msg string) {
	// Nowhere left to report a console write failure.
	_, _ = io.WriteString(a.out, msg)
}
