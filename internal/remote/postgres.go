package remote

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"offlinepos/internal/syncq"
)

// Postgres mirrors every local table into a JSONB document table
// sync_{table}. Writes are last-write-wins upserts keyed by record id.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 4
	cfg.MinConns = 0
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the document tables. It is safe to run repeatedly.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, t := range syncq.Tables {
		if _, err := p.pool.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS sync_`+t+` (
			  id TEXT PRIMARY KEY,
			  tenant_id TEXT NOT NULL,
			  doc JSONB NOT NULL,
			  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`); err != nil {
			return err
		}
		if _, err := p.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS sync_`+t+`_tenant ON sync_`+t+`(tenant_id)`); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) upsert(ctx context.Context, table, id string, payload []byte) error {
	if err := checkTable(table); err != nil {
		return err
	}
	tenant, err := tenantOf(payload)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sync_`+table+`(id, tenant_id, doc, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (id) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id, doc = EXCLUDED.doc, updated_at = now()`,
		id, tenant, string(payload))
	return err
}

// Insert is an upsert so a replay after a lost acknowledgement is harmless.
func (p *Postgres) Insert(ctx context.Context, table, id string, payload []byte) error {
	return p.upsert(ctx, table, id, payload)
}

func (p *Postgres) Update(ctx context.Context, table, id string, payload []byte) error {
	return p.upsert(ctx, table, id, payload)
}

func (p *Postgres) Delete(ctx context.Context, table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM sync_`+table+` WHERE id = $1`, id)
	return err
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
