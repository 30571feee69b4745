package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	applog "offlinepos/internal/log"
	"offlinepos/internal/repos"
	"offlinepos/internal/syncq"

	"github.com/spf13/cobra"
)

// queueView is the listing shape; payloads are left out.
type queueView struct {
	Seq           int64      `json:"seq"`
	ID            string     `json:"id"`
	Table         string     `json:"table"`
	Operation     syncq.Kind `json:"operation"`
	RecordID      string     `json:"record_id"`
	RetryCount    int        `json:"retry_count"`
	LastError     string     `json:"last_error,omitempty"`
	LastAttemptAt string     `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func viewOf(e repos.QueueEntry) queueView {
	v := queueView{
		Seq:           e.Seq,
		ID:            e.ID,
		Table:         e.Table,
		Operation:     e.Kind,
		RetryCount:    e.RetryCount,
		LastError:     e.LastError,
		LastAttemptAt: e.LastAttemptAt,
		CreatedAt:     e.CreatedAt,
	}
	if e.Payload != nil {
		v.RecordID = e.Payload.RecordID()
	}
	return v
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func NewQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and administer the sync queue",
	}
	cmd.AddCommand(newQueueListCommand(opts))
	cmd.AddCommand(newQueueClearCommand(opts))
	cmd.AddCommand(newQueueResetCommand(opts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print pending entries, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := opts.open()
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := repos.NewQueueRepo(db).Entries(ctxOf(cmd))
			if err != nil {
				return err
			}
			views := make([]queueView, 0, len(entries))
			for _, e := range entries {
				views = append(views, viewOf(e))
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			if len(views) == 0 {
				fmt.Fprintln(out, "queue is empty")
				return nil
			}
			fmt.Fprintf(out, "%-5s %-36s %-13s %-7s %-24s %-7s %s\n", "SEQ", "ID", "TABLE", "OP", "RECORD", "RETRIES", "LAST ERROR")
			for _, v := range views {
				fmt.Fprintf(out, "%-5d %-36s %-13s %-7s %-24s %-7d %s\n", v.Seq, v.ID, v.Table, v.Operation, v.RecordID, v.RetryCount, v.LastError)
			}
			return nil
		},
	}
}

func newQueueClearCommand(opts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear [id...]",
		Short: "Remove entries without replaying them",
		Long:  "Administrative removal. Cleared changes never reach the remote store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return &ExitError{Code: ExitCommandError, Message: "pass entry ids or --all, not both"}
			}
			_, db, err := opts.open()
			if err != nil {
				return err
			}
			defer db.Close()

			q := repos.NewQueueRepo(db)
			var n int64
			if all {
				n, err = q.ClearAll(ctxOf(cmd))
			} else {
				n, err = q.Clear(ctxOf(cmd), args...)
			}
			if err != nil {
				return err
			}
			applog.Audit(nil, "queue.clear", map[string]any{"component": "cli", "removed": n, "all": all})
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every entry")
	return cmd
}

func newQueueResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Zero retry counters and last errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := opts.open()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := repos.NewQueueRepo(db).ResetRetries(ctxOf(cmd))
			if err != nil {
				return err
			}
			applog.Audit(nil, "queue.reset", map[string]any{"component": "cli", "entries": n})
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d entries\n", n)
			return nil
		},
	}
}
