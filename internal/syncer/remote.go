// Package syncer replays the durable sync queue against a remote store when
// the device is online.
package syncer

import (
	"context"
	"errors"
	"time"

	"offlinepos/internal/syncq"
)

var (
	ErrOffline        = errors.New("syncer: device is offline")
	ErrPassInProgress = errors.New("syncer: a sync pass is already running")
)

// Remote is the replay target. It performs no business logic; each call
// either applies the record or fails.
type Remote interface {
	Insert(ctx context.Context, table, id string, payload []byte) error
	Update(ctx context.Context, table, id string, payload []byte) error
	Delete(ctx context.Context, table, id string) error
}

// Queue is the durable store of pending operations.
type Queue interface {
	List(ctx context.Context) ([]syncq.Operation, error)
	Remove(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error, at time.Time) error
	Count(ctx context.Context) (int, error)
}

// Connectivity reports whether the remote is currently reachable.
type Connectivity interface {
	Online() bool
}

func replay(ctx context.Context, r Remote, op syncq.Operation) error {
	if op.Payload == nil {
		return errors.New("syncer: operation has no payload")
	}
	id := op.Payload.RecordID()
	if op.Kind == syncq.Delete {
		return r.Delete(ctx, op.Table, id)
	}
	body, err := syncq.EncodePayload(op.Payload)
	if err != nil {
		return err
	}
	switch op.Kind {
	case syncq.Insert:
		return r.Insert(ctx, op.Table, id, body)
	case syncq.Update:
		return r.Update(ctx, op.Table, id, body)
	}
	return errors.New("syncer: unknown operation " + string(op.Kind))
}
