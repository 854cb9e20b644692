// The ftserve command runs the file transfer server. It takes care of loading
// the configuration, wiring up the shared resources, and serving clients until
// it is interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ftserve/ftserve/internal"
	"github.com/ftserve/ftserve/internal/core"
)

var ConfigFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:           "ftserve <port>",
		Short:         "Dual-channel file transfer server",
		Args:          cobra.ExactArgs(1),
		RunE:          ServerCommand,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "./", "Path to the directory containing ftserve.yaml")
	rootCmd.Flags().String("root-dir", ".", "Directory each session starts in (server.root_dir)")
	rootCmd.Flags().Int("max-connections", 0, "Maximum concurrent clients, 0 for no limit (server.max_connections)")
	rootCmd.Flags().String("log-level", "info", "Minimum log level: debug, info, warn, error (log_level)")
	rootCmd.Flags().Bool("history", false, "Record transfers in the history database (history.enabled)")

	historyCmd.Flags().IntVarP(&LimitFlag, "limit", "n", 20, "Number of transfers to show")
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// ServerCommand validates the arguments and configuration before anything is
// bound, then runs the servers until a signal arrives.
func ServerCommand(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q: must be a number between 1 and 65535", args[0])
	}

	config, err := core.LoadConfig(ConfigFlag, cmd.Flags())
	if err != nil {
		return err
	}
	config.Server.Port = port
	if err := config.Validate(); err != nil {
		return err
	}
	// Usage only applies to argument mistakes.
	cmd.SilenceUsage = true

	// Bind the Controller to one top-level server context so that we can shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register a SIGTERM handler so that Ctrl-C will shut the servers down gracefully.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go exitHandler(cancel, c)

	// Start up the controller to handle all of the resources and server init.
	controller := &internal.Controller{Config: config}
	if err := controller.Start(ctx); err != nil {
		return err
	}
	fmt.Println("shut down")
	return nil
}

func exitHandler(cancelFn func(), c chan os.Signal) {
	<-c
	fmt.Println("waiting to shut down gracefully...")
	cancelFn()

	// A second signal skips waiting for clients to disconnect.
	<-c
	fmt.Println("hard exiting (killed)")
	os.Exit(1)
}
