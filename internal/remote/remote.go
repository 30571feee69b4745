// Package remote holds the replay targets the sync engine can drain into.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"offlinepos/internal/config"
	"offlinepos/internal/syncer"
	"offlinepos/internal/syncq"
)

// ErrNotConfigured is returned by Open when REMOTE_KIND is none.
var ErrNotConfigured = errors.New("remote: no remote store configured")

// Target is a remote store the engine replays into and the monitor probes.
type Target interface {
	syncer.Remote
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the target selected by cfg.RemoteKind. Construction never
// dials; reachability is the monitor's job.
func Open(cfg config.Config) (Target, error) {
	switch cfg.RemoteKind {
	case config.RemotePostgres:
		return NewPostgres(cfg.PostgresDSN)
	case config.RemoteRedis:
		return NewRedis(cfg.RedisAddr), nil
	case config.RemoteKafka:
		return NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
	case config.RemoteNone, "":
		return nil, ErrNotConfigured
	}
	return nil, fmt.Errorf("remote: unknown kind %q", cfg.RemoteKind)
}

func checkTable(table string) error {
	if !slices.Contains(syncq.Tables, table) {
		return fmt.Errorf("%w: %q", syncq.ErrUnknownTable, table)
	}
	return nil
}

// Key is the record key shared by every target: {table}:{id}.
func Key(table, id string) string { return table + ":" + id }

func tenantOf(payload []byte) (string, error) {
	var v struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", fmt.Errorf("remote: decode payload: %w", err)
	}
	return v.TenantID, nil
}
