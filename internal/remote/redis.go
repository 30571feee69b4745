package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// pos:{table}:{id} -> payload JSON
	KeyRecord = "pos:%s"
	// pos:changes:{table} carries the id of every changed record
	ChannelChanges = "pos:changes:%s"
)

// Redis keeps the latest payload of every record under pos:{table}:{id}
// and announces each change on pos:changes:{table} so other devices can
// refresh.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(addr string) *Redis {
	return &Redis{rdb: redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})}
}

func recordKey(table, id string) string { return fmt.Sprintf(KeyRecord, Key(table, id)) }

func (r *Redis) set(ctx context.Context, table, id string, payload []byte) error {
	if err := checkTable(table); err != nil {
		return err
	}
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, recordKey(table, id), payload, 0)
		p.Publish(ctx, fmt.Sprintf(ChannelChanges, table), id)
		return nil
	})
	return err
}

func (r *Redis) Insert(ctx context.Context, table, id string, payload []byte) error {
	return r.set(ctx, table, id, payload)
}

func (r *Redis) Update(ctx context.Context, table, id string, payload []byte) error {
	return r.set(ctx, table, id, payload)
}

func (r *Redis) Delete(ctx context.Context, table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, recordKey(table, id))
		p.Publish(ctx, fmt.Sprintf(ChannelChanges, table), id)
		return nil
	})
	return err
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }
