package cli

import (
	"errors"
	"fmt"
	"slices"

	"offlinepos/internal/config"
	"offlinepos/internal/repos"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DB     string // overrides DB_DSN
	Format string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // work left undone, e.g. a sync that did not drain
	ExitCommandError = 2 // bad flags, missing configuration
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "offlinepos",
		Short:         "Offline-first point of sale",
		Long:          "A till that keeps selling without a network and replays its changes when the remote store is back.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats)}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "local database path (default from DB_DSN)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

func (o *RootOptions) config() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, &ExitError{Code: ExitCommandError, Message: "config", Err: err}
	}
	if o.DB != "" {
		cfg.DBDSN = o.DB
	}
	return cfg, nil
}

func (o *RootOptions) open() (config.Config, *sqlx.DB, error) {
	cfg, err := o.config()
	if err != nil {
		return cfg, nil, err
	}
	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		return cfg, nil, &ExitError{Code: ExitCommandError, Message: "open " + cfg.DBDSN, Err: err}
	}
	return cfg, db, nil
}
