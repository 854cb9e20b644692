package debug

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestStartUtilities(t *testing.T) {
	logger := logrus.New()
	logger.Out = io.Discard

	addr, err := StartUtilities(logger, 0)
	if err != nil {
		t.Fatalf("StartUtilities() returned an unexpected error: %v", err)
	}

	resp, err := http.Get("http://" + addr.String() + "/debug/pprof/")
	if err != nil {
		t.Fatalf("error requesting pprof index: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected pprof index to return 200, got %d", resp.StatusCode)
	}
}

func TestDump(t *testing.T) {
	type limits struct {
		ChunkSize int
		Engines   []string
	}

	out := Dump(&limits{ChunkSize: 500, Engines: []string{"sqlite"}})
	for _, want := range []string{"ChunkSize: (int) 500", `"sqlite"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected dump to contain %q, got:\n%s", want, out)
		}
	}
}
