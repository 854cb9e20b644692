// The ftclient command performs a single transfer operation against an
// ftserve server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ftserve/ftserve/internal/ftclient"
)

var (
	ListFlag bool
	GetFlag  string
	CDFlag   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ftclient <server_host> <server_port> (-l | -g FILENAME | -c DIRECTORY) <data_port>",
		Short:         "Perform transfer operations with ftserve",
		Args:          cobra.ExactArgs(3),
		RunE:          ClientCommand,
		SilenceErrors: true,
	}
	rootCmd.Flags().BoolVarP(&ListFlag, "list", "l", false, "List files in the server directory")
	rootCmd.Flags().StringVarP(&GetFlag, "get", "g", "", "Get the specified file from ftserve")
	rootCmd.Flags().StringVarP(&CDFlag, "cd", "c", "", "Change the server directory for this connection")
	rootCmd.MarkFlagsMutuallyExclusive("list", "get", "cd")
	rootCmd.MarkFlagsOneRequired("list", "get", "cd")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ClientCommand(cmd *cobra.Command, args []string) error {
	host, port := args[0], args[1]
	dataPort, err := strconv.Atoi(args[2])
	if err != nil || dataPort < 1 || dataPort > 65535 {
		return fmt.Errorf("invalid data port %q", args[2])
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := ftclient.Dial(ctx, net.JoinHostPort(host, port))
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	switch {
	case ListFlag:
		names, err := c.List(ctx, dataPort)
		if err != nil {
			return describe(err, host, port)
		}
		fmt.Fprintln(out, strings.Join(names, "\n"))
	case CDFlag != "":
		cwd, err := c.ChangeDir(ctx, dataPort, CDFlag)
		if err != nil {
			return describe(err, host, port)
		}
		fmt.Fprintln(out, cwd)
	default:
		return getFile(ctx, c, dataPort, GetFlag, out, host, port)
	}
	return nil
}

// getFile saves the named file in the current directory.
func getFile(ctx context.Context, c *ftclient.Client, dataPort int, name string, out io.Writer, host, port string) error {
	dest := filepath.Base(name)
	tmp, err := os.CreateTemp(".", "."+dest+".*")
	if err != nil {
		return fmt.Errorf("error creating %s: %w", dest, err)
	}
	defer os.Remove(tmp.Name())

	size, err := c.Get(ctx, dataPort, name, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return describe(err, host, port)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("error saving %s: %w", dest, err)
	}
	fmt.Fprintf(out, "received %s (%s)\n", dest, humanize.IBytes(uint64(size)))
	return nil
}

func describe(err error, host, port string) error {
	var serverErr *ftclient.ServerError
	if errors.As(err, &serverErr) {
		return fmt.Errorf("%s:%s says %s", host, port, serverErr.Status)
	}
	return err
}
