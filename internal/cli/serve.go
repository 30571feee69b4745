package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"offlinepos/internal/http/handlers"
	applog "offlinepos/internal/log"
	"offlinepos/internal/repos"
	"offlinepos/internal/syncer"
	"offlinepos/internal/telemetry"

	"github.com/spf13/cobra"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the till API with the background sync engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default from PORT)")
	return cmd
}

func runServe(parent context.Context, opts *RootOptions, port string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Port = port
	}

	if cfg.LogFile != "" {
		f, err := applog.Open(cfg.LogFile)
		if err != nil {
			applog.Warn(nil, "log.file.open", err, map[string]any{"path": cfg.LogFile})
		} else {
			defer f.Close()
		}
	}

	shutdownTrace, err := telemetry.Setup(cfg.TraceStdout, os.Stdout, cfg.DeviceID)
	if err != nil {
		return err
	}
	defer shutdownTrace(context.Background())

	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "open " + cfg.DBDSN, Err: err}
	}
	defer db.Close()

	target, probe, closeRemote, err := openRemote(cfg)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "remote", Err: err}
	}
	defer closeRemote()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := syncer.NewMonitor(probe, cfg.ProbeInterval, cfg.ProbeTimeout)
	engine := syncer.NewEngine(target, repos.NewQueueRepo(db), mon, backoffFrom(cfg))
	engine.SetOpTimeout(cfg.OpTimeout)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); mon.Run(ctx) }()
	go func() { defer wg.Done(); engine.Run(ctx, mon.Transitions()) }()

	deps := handlers.NewDeps(db, cfg, engine, mon)
	deps.SyncHandler.Done = ctx.Done()
	app := handlers.NewApp(deps, os.Stdout)

	errc := make(chan error, 1)
	go func() { errc <- app.Listen(":" + cfg.Port) }()
	applog.Info(nil, "server.start", map[string]any{"port": cfg.Port, "remote": cfg.RemoteKind, "device": cfg.DeviceID})

	select {
	case <-ctx.Done():
	case err = <-errc:
		stop()
	}
	applog.Info(nil, "server.shutdown", nil)
	if serr := app.ShutdownWithTimeout(10 * time.Second); serr != nil && !errors.Is(serr, context.DeadlineExceeded) {
		applog.Error(nil, "server.shutdown", serr, nil)
	}
	// an interrupted pass leaves unreplayed entries queued
	wg.Wait()
	return err
}
