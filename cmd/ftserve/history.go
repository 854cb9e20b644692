package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ftserve/ftserve/internal/core"
	"github.com/ftserve/ftserve/internal/core/data"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Shows the most recent transfers recorded in the history database",
	Args:  cobra.NoArgs,
	RunE:  HistoryCommand,
}

var LimitFlag int

func HistoryCommand(cmd *cobra.Command, args []string) error {
	cfg, err := core.LoadConfig(ConfigFlag, nil)
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		fmt.Fprintln(os.Stderr, "note: history.enabled is false, showing previously recorded transfers")
	}

	db, err := data.Open(cfg.History.Engine, cfg.HistoryDataSource(), false)
	if err != nil {
		return err
	}
	defer data.Close(db)

	transfers, err := data.RecentTransfers(db, LimitFlag)
	if err != nil {
		return fmt.Errorf("error reading history: %w", err)
	}

	return printTransfers(cmd.OutOrStdout(), transfers, time.Now())
}

func printTransfers(out io.Writer, transfers []data.Transfer, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSESSION\tCLIENT\tCOMMAND\tSTATUS\tSENT\tDURATION")
	for _, t := range transfers {
		client := t.ClientIP
		if t.ClientHost != "" {
			client = t.ClientHost
		}
		session := t.SessionID
		if len(session) > 8 {
			session = session[:8]
		}
		command := t.Command
		if t.Argument != "" {
			command += " " + t.Argument
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s / %s\t%s\n",
			humanize.RelTime(t.StartedAt, now, "ago", "from now"),
			session,
			client,
			command,
			t.Status,
			humanize.IBytes(uint64(t.SentBytes)),
			humanize.IBytes(uint64(t.AnnouncedBytes)),
			t.Duration.Round(time.Millisecond),
		)
	}
	return w.Flush()
}
