package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/ftserve/ftserve/internal"
	"github.com/ftserve/ftserve/internal/core"
	"github.com/ftserve/ftserve/internal/ftclient"
)

// startServer runs a full server over root and returns its host and port.
func startServer(t *testing.T, root string) (string, string) {
	cfg := &core.Config{LogLevel: "info"}
	cfg.Server.Hostname = "127.0.0.1"
	cfg.Server.RootDir = root
	cfg.Transfer.ChunkSize = 500

	ready := make(chan []net.Addr, 1)
	controller := &internal.Controller{
		Config:  cfg,
		Console: &bytes.Buffer{},
		OnReady: func(addrs []net.Addr) { ready <- addrs },
	}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- controller.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-finished
	})

	select {
	case addrs := <-ready:
		host, port, _ := net.SplitHostPort(addrs[0].String())
		return host, port
	case err := <-finished:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the server to start")
	}
	return "", ""
}

func freePort(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("error finding a free port: %v", err)
	}
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
}

func run(t *testing.T, args []string, list bool, get, cd string) (string, error) {
	ListFlag, GetFlag, CDFlag = list, get, cd
	t.Cleanup(func() { ListFlag, GetFlag, CDFlag = false, "", "" })

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	err := ClientCommand(cmd, args)
	return out.String(), err
}

func TestClientCommand(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello\n"), 0644); err != nil {
		t.Fatalf("error creating test file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatalf("error creating test directory: %v", err)
	}
	host, port := startServer(t, root)

	t.Run("list", func(t *testing.T) {
		out, err := run(t, []string{host, port, freePort(t)}, true, "", "")
		if err != nil {
			t.Fatalf("ClientCommand() returned an unexpected error: %v", err)
		}
		if out != "notes.txt\nsub\n" {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("cd", func(t *testing.T) {
		out, err := run(t, []string{host, port, freePort(t)}, false, "", "sub")
		if err != nil {
			t.Fatalf("ClientCommand() returned an unexpected error: %v", err)
		}
		if strings.TrimSpace(out) != filepath.Join(root, "sub") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("get", func(t *testing.T) {
		dest := t.TempDir()
		wd, _ := os.Getwd()
		if err := os.Chdir(dest); err != nil {
			t.Fatalf("error changing directory: %v", err)
		}
		defer os.Chdir(wd)

		out, err := run(t, []string{host, port, freePort(t)}, false, "notes.txt", "")
		if err != nil {
			t.Fatalf("ClientCommand() returned an unexpected error: %v", err)
		}
		if !strings.Contains(out, "received notes.txt") {
			t.Errorf("unexpected output %q", out)
		}
		got, err := os.ReadFile(filepath.Join(dest, "notes.txt"))
		if err != nil || string(got) != "hello\n" {
			t.Errorf("saved file = %q, %v", got, err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		dest := t.TempDir()
		wd, _ := os.Getwd()
		if err := os.Chdir(dest); err != nil {
			t.Fatalf("error changing directory: %v", err)
		}
		defer os.Chdir(wd)

		_, err := run(t, []string{host, port, freePort(t)}, false, "missing.txt", "")
		if err == nil || !strings.HasSuffix(err.Error(), "says FILE NOT FOUND") {
			t.Errorf("ClientCommand() error = %v, want FILE NOT FOUND", err)
		}
		if entries, _ := os.ReadDir(dest); len(entries) != 0 {
			t.Errorf("expected nothing to be saved, found %d entries", len(entries))
		}
	})

	t.Run("bad data port", func(t *testing.T) {
		if _, err := run(t, []string{host, port, "ninety"}, true, "", ""); err == nil {
			t.Error("expected ClientCommand() to reject a non-numeric data port")
		}
	})
}

func TestDescribe(t *testing.T) {
	err := describe(&ftclient.ServerError{Status: "ACCESS DENIED"}, "flip1", "30020")
	if err.Error() != "flip1:30020 says ACCESS DENIED" {
		t.Errorf("describe() = %q", err.Error())
	}

	other := errors.New("connection refused")
	if describe(other, "flip1", "30020") != other {
		t.Error("describe() should pass through errors that didn't come from the server")
	}
}
