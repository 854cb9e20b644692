package output

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// lockedBuffer lets the test read what the consumer goroutine wrote.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAggregator_PreservesOrder(t *testing.T) {
	out := &lockedBuffer{}
	a := NewAggregator(out, 4)
	a.Start()

	var want []string
	for i := 0; i < 50; i++ {
		msg := fmt.Sprintf("message %d\n", i)
		want = append(want, strings.TrimSuffix(msg, "\n"))
		if _, err := a.Write([]byte(msg)); err != nil {
			t.Fatalf("Write() returned an unexpected error: %v", err)
		}
	}
	a.Close()

	got := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("console output out of order (-want +got):\n%s", diff)
	}
}

func TestAggregator_ConcurrentProducersKeepLinesIntact(t *testing.T) {
	const producers = 8
	const perProducer = 200

	out := &lockedBuffer{}
	a := NewAggregator(out, 0)
	a.Start()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				line := fmt.Sprintf("client-%d line %04d %s\n", p, i, strings.Repeat("x", 40))
				if err := a.Enqueue(line); err != nil {
					t.Errorf("Enqueue() returned an unexpected error: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()
	a.Close()

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != producers*perProducer {
		t.Fatalf("expected %d lines, got %d", producers*perProducer, len(lines))
	}

	// Every line is whole and each producer's lines arrive in its own order.
	next := make(map[int]int)
	for _, line := range lines {
		var p, i int
		var pad string
		if _, err := fmt.Sscanf(line, "client-%d line %d %s", &p, &i, &pad); err != nil {
			t.Fatalf("garbled line %q: %v", line, err)
		}
		if pad != strings.Repeat("x", 40) {
			t.Fatalf("garbled padding in line %q", line)
		}
		if i != next[p] {
			t.Fatalf("client-%d: got line %d, want %d", p, i, next[p])
		}
		next[p]++
	}
}

func TestAggregator_WriteAfterClose(t *testing.T) {
	a := NewAggregator(&lockedBuffer{}, 1)
	a.Start()
	a.Close()

	if _, err := a.Write([]byte("late\n")); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() after Close error = %v, want %v", err, ErrClosed)
	}
	// Closing twice is harmless.
	a.Close()
}

func TestAggregator_CloseWithoutStartDrains(t *testing.T) {
	out := &lockedBuffer{}
	a := NewAggregator(out, 4)
	_ = a.Enqueue("queued before start\n")
	a.Close()

	if got := out.String(); got != "queued before start\n" {
		t.Errorf("expected queued message to be flushed on Close, got %q", got)
	}
}
