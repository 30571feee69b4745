package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"offlinepos/internal/syncq"
)

// QueueRepo persists sync operations. Entries are only ever appended and are
// read back in insertion order.
type QueueRepo struct{ db *sqlx.DB }

func NewQueueRepo(db *sqlx.DB) *QueueRepo { return &QueueRepo{db: db} }

type queueRow struct {
	Seq           int64  `db:"seq"`
	ID            string `db:"id"`
	Table         string `db:"table_name"`
	Operation     string `db:"operation"`
	RecordID      string `db:"record_id"`
	Payload       string `db:"payload"`
	CreatedAt     string `db:"created_at"`
	RetryCount    int    `db:"retry_count"`
	LastError     string `db:"last_error"`
	LastAttemptAt string `db:"last_attempt_at"`
}

// QueueEntry is an operation plus local bookkeeping that never goes on the wire.
type QueueEntry struct {
	syncq.Operation
	Seq           int64
	LastError     string
	LastAttemptAt string
}

const queueCols = `seq, id, table_name, operation, record_id, payload, created_at, retry_count, last_error, last_attempt_at`

// Append stores op through q, normally the unit of work that produced the change.
func (r *QueueRepo) Append(ctx context.Context, q sqlx.ExtContext, op syncq.Operation) error {
	payload, err := syncq.EncodePayload(op.Payload)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO sync_queue(id, table_name, operation, record_id, payload, created_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Table, string(op.Kind), op.Payload.RecordID(), string(payload),
		op.CreatedAt.UTC().Format(syncq.TimeLayout), op.RetryCount)
	return err
}

// Enqueue builds a new operation for p and appends it through q.
func (r *QueueRepo) Enqueue(ctx context.Context, q sqlx.ExtContext, kind syncq.Kind, p syncq.Payload, now time.Time) (syncq.Operation, error) {
	op, err := syncq.New(kind, p, now)
	if err != nil {
		return syncq.Operation{}, err
	}
	if err := r.Append(ctx, q, op); err != nil {
		return syncq.Operation{}, err
	}
	return op, nil
}

// List returns every pending operation, oldest first.
func (r *QueueRepo) List(ctx context.Context) ([]syncq.Operation, error) {
	entries, err := r.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]syncq.Operation, len(entries))
	for i, e := range entries {
		out[i] = e.Operation
	}
	return out, nil
}

func (r *QueueRepo) Entries(ctx context.Context) ([]QueueEntry, error) {
	var rows []queueRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+queueCols+` FROM sync_queue ORDER BY seq`); err != nil {
		return nil, err
	}
	out := make([]QueueEntry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEntry()
		if err != nil {
			return nil, fmt.Errorf("queue entry %s: %w", row.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *QueueRepo) Remove(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	return err
}

// MarkFailed bumps the retry counter and records why the replay failed.
func (r *QueueRepo) MarkFailed(ctx context.Context, id string, cause error, at time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET retry_count = retry_count + 1, last_error = ?, last_attempt_at = ?
		WHERE id = ?`, msg, Timestamp(at), id)
	return err
}

func (r *QueueRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sync_queue`)
	return n, err
}

// Clear drops the given entries without replaying them.
func (r *QueueRepo) Clear(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM sync_queue WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *QueueRepo) ClearAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *QueueRepo) ResetRetries(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET retry_count = 0, last_error = '' WHERE retry_count > 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (row queueRow) toEntry() (QueueEntry, error) {
	kind := syncq.Kind(row.Operation)
	if !kind.Valid() {
		return QueueEntry{}, fmt.Errorf("invalid operation %q", row.Operation)
	}
	p, err := syncq.DecodePayload(row.Table, []byte(row.Payload))
	if err != nil {
		return QueueEntry{}, err
	}
	created, err := time.Parse(syncq.TimeLayout, row.CreatedAt)
	if err != nil {
		return QueueEntry{}, err
	}
	return QueueEntry{
		Operation: syncq.Operation{
			ID: row.ID, Table: row.Table, Kind: kind, Payload: p,
			CreatedAt: created.UTC(), RetryCount: row.RetryCount,
		},
		Seq:           row.Seq,
		LastError:     row.LastError,
		LastAttemptAt: row.LastAttemptAt,
	}, nil
}
