package internal

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ftserve/ftserve/internal/core"
	"github.com/ftserve/ftserve/internal/core/data"
	"github.com/ftserve/ftserve/internal/core/debug"
	"github.com/ftserve/ftserve/internal/core/output"
	"github.com/ftserve/ftserve/internal/transfer"
)

// Controller is the main entrypoint for ftserve. It's responsible for initializing
// any shared resources (such as the console, logging, and history database),
// defining the servers, and launching everything.
type Controller struct {
	Config *core.Config
	// Console overrides where operator output is written. By default it goes to
	// log_file_path or stdout.
	Console io.Writer
	// OnReady is called once every server is accepting connections.
	OnReady func(addrs []net.Addr)

	logger       *logrus.Logger
	console      *output.Aggregator
	closeConsole func() error
	db           *gorm.DB
	wg           sync.WaitGroup

	servers []*frontend
}

// Start sets up shared resources and serves clients until ctx is cancelled. An
// error is returned if anything fails to start.
func (c *Controller) Start(ctx context.Context) error {
	defer c.Shutdown()

	if err := c.Config.Validate(); err != nil {
		return err
	}
	if err := c.setUp(); err != nil {
		return err
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		if _, err := debug.StartUtilities(c.logger, c.Config.Debugging.PprofPort); err != nil {
			c.logger.Warnf("error starting debug utilities: %v", err)
		}
	}
	if c.logger.IsLevelEnabled(logrus.DebugLevel) {
		redacted := *c.Config
		if redacted.History.Password != "" {
			redacted.History.Password = "REDACTED"
		}
		c.logger.Debugf("effective configuration:\n%s", debug.Dump(redacted))
	}

	// Configure and run all of our servers.
	c.declareServers()
	return c.run(ctx)
}

// setUp creates the console, logger, and history database used by all servers.
func (c *Controller) setUp() error {
	out := c.Console
	c.closeConsole = func() error { return nil }
	if out == nil {
		var err error
		out, c.closeConsole, err = core.OpenLogOutput(c.Config)
		if err != nil {
			return err
		}
	}
	c.console = output.NewAggregator(out, output.DefaultQueueDepth)
	c.console.Start()

	var err error
	// Set up the logger, which will be used by all sub-servers.
	c.logger, err = core.NewLogger(c.Config, c.console)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	if file := c.Config.ConfigFileUsed(); file != "" {
		c.logger.Infof("using config file %s", file)
	}
	c.Config.WatchLogLevel(c.setLogLevel)

	if c.Config.History.Enabled {
		c.db, err = data.Open(
			c.Config.History.Engine,
			c.Config.HistoryDataSource(),
			c.Config.Debugging.DatabaseLoggingEnabled,
		)
		if err != nil {
			return fmt.Errorf("error initializing history database: %w", err)
		}
	}

	return nil
}

func (c *Controller) setLogLevel(level string, e fsnotify.Event) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		c.logger.Warnf("ignoring log_level change in %s: %v", e.Name, err)
		return
	}
	if lvl != c.logger.GetLevel() {
		c.logger.SetLevel(lvl)
		c.logger.Infof("log level changed to %s", lvl)
	}
}

// Set up all of the servers we want to run.
func (c *Controller) declareServers() {
	c.servers = []*frontend{
		{
			Address: c.Config.ListenAddress(),
			Backend: &transfer.Server{
				Name:   "FTSERVE",
				Config: c.Config,
				Logger: c.logger,
				DB:     c.db,
			},
		},
	}
}

func (c *Controller) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start all of our servers. Failure to initialize one of the registered servers is considered terminal.
	var addrs []net.Addr
	for _, server := range c.servers {
		server.Config = c.Config
		server.Logger = c.logger

		if err := server.Start(ctx, &c.wg); err != nil {
			cancel()
			c.wg.Wait()
			return fmt.Errorf("error starting %s server: %w", server.Backend.Identifier(), err)
		}
		addrs = append(addrs, server.Addr())
	}

	if c.OnReady != nil {
		c.OnReady(addrs)
	}
	c.wg.Wait()
	return nil
}

// Shutdown waits for the servers to stop and then releases shared resources.
// It is safe to call after a failed Start.
func (c *Controller) Shutdown() {
	c.wg.Wait()

	if c.db != nil {
		if err := data.Close(c.db); err != nil {
			c.logger.Warnf("error closing history database: %v", err)
		}
		c.db = nil
	}
	if c.console != nil {
		c.console.Close()
		c.console = nil
	}
	if c.closeConsole != nil {
		_ = c.closeConsole()
		c.closeConsole = nil
	}
}
