package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"offlinepos/internal/remote"
	"offlinepos/internal/repos"
	"offlinepos/internal/syncer"

	"github.com/spf13/cobra"
)

type syncReport struct {
	Result  syncer.PassResult `json:"result"`
	Pending int               `json:"pending"`
}

func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the sync queue once against the configured remote",
		Long:  "Runs a single pass; exits 1 if entries remain afterwards.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, db, err := opts.open()
			if err != nil {
				return err
			}
			defer db.Close()

			t, err := remote.Open(cfg)
			if errors.Is(err, remote.ErrNotConfigured) {
				return &ExitError{Code: ExitCommandError, Message: "no remote store configured, set REMOTE_KIND"}
			}
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "remote", Err: err}
			}
			defer t.Close()

			mon := syncer.NewMonitor(probeFor(t), cfg.ProbeInterval, cfg.ProbeTimeout)
			if !mon.Check(ctx) {
				return &ExitError{Code: ExitFailure, Message: "remote store unreachable"}
			}

			queue := repos.NewQueueRepo(db)
			engine := syncer.NewEngine(t, queue, mon, backoffFrom(cfg))
			engine.SetOpTimeout(cfg.OpTimeout)
			res, err := engine.SyncNow(ctx)
			if err != nil {
				return err
			}
			pending, err := queue.Count(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				if err := json.NewEncoder(out).Encode(syncReport{Result: res, Pending: pending}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "replayed %d of %d, failed %d, deferred %d, pending %d\n",
					res.Succeeded, res.Attempted, res.Failed, res.Deferred, pending)
			}
			if pending > 0 {
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d entries still pending", pending)}
			}
			return nil
		},
	}
}
