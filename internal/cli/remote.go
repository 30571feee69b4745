package cli

import (
	"context"
	"errors"
	"sync/atomic"

	"offlinepos/internal/config"
	applog "offlinepos/internal/log"
	"offlinepos/internal/remote"
	"offlinepos/internal/syncer"
)

// unconfigured stands in when REMOTE_KIND is none. The monitor never
// reports it reachable, so the engine never calls it.
type unconfigured struct{}

func (unconfigured) Insert(context.Context, string, string, []byte) error {
	return remote.ErrNotConfigured
}

func (unconfigured) Update(context.Context, string, string, []byte) error {
	return remote.ErrNotConfigured
}

func (unconfigured) Delete(context.Context, string, string) error { return remote.ErrNotConfigured }

// openRemote returns the replay target, the probe the monitor should use
// and a close func. A nil probe means there is nothing to reach.
func openRemote(cfg config.Config) (syncer.Remote, syncer.Probe, func() error, error) {
	t, err := remote.Open(cfg)
	if errors.Is(err, remote.ErrNotConfigured) {
		applog.Warn(nil, "remote.none", nil, map[string]any{"component": "cli"})
		return unconfigured{}, nil, func() error { return nil }, nil
	}
	if err != nil {
		return nil, nil, nil, err
	}
	return t, probeFor(t), t.Close, nil
}

// probeFor pings t. Postgres also needs its document tables before the
// first replay, so they are created on the first successful ping.
func probeFor(t remote.Target) syncer.Probe {
	pg, ok := t.(*remote.Postgres)
	if !ok {
		return t.Ping
	}
	var ready atomic.Bool
	return func(ctx context.Context) error {
		if err := pg.Ping(ctx); err != nil {
			return err
		}
		if ready.Load() {
			return nil
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		ready.Store(true)
		return nil
	}
}

func backoffFrom(cfg config.Config) syncer.BackoffConfig {
	b := syncer.DefaultBackoff()
	if cfg.BackoffInitial > 0 {
		b.Initial = cfg.BackoffInitial
	}
	if cfg.BackoffMax > 0 {
		b.Max = cfg.BackoffMax
	}
	if cfg.BackoffMultiplier >= 1 {
		b.Multiplier = cfg.BackoffMultiplier
	}
	return b
}
