// Package syncq defines the queued remote operation and its wire form.
//
// A queue entry serializes as
//
//	{"id":…,"table":…,"operation":"insert|update|delete","payload":{…},"created_at":"RFC 3339","retry_count":0}
//
// The payload is a typed variant chosen by table, so code handling an entry
// gets compile-time field access while the stored bytes stay plain JSON.
package syncq

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"offlinepos/internal/domain"
)

type Kind string

const (
	Insert Kind = "insert"
	Update Kind = "update"
	Delete Kind = "delete"
)

func (k Kind) Valid() bool { return k == Insert || k == Update || k == Delete }

const (
	TableTransactions = "transactions"
	TableProducts     = "products"
	TableMaterials    = "materials"
)

// Tables lists every table a queue entry may target.
var Tables = []string{TableTransactions, TableProducts, TableMaterials}

// TimeLayout is the created_at format on the wire and in the queue table.
const TimeLayout = time.RFC3339Nano

var ErrUnknownTable = errors.New("syncq: unknown table")

// Payload is the table-specific body of an operation.
type Payload interface {
	Table() string
	RecordID() string
	Tenant() string
}

type TransactionPayload struct{ domain.Transaction }

func (p TransactionPayload) Table() string    { return TableTransactions }
func (p TransactionPayload) RecordID() string { return p.ID }
func (p TransactionPayload) Tenant() string   { return p.TenantID }

type ProductPayload struct{ domain.Product }

func (p ProductPayload) Table() string    { return TableProducts }
func (p ProductPayload) RecordID() string { return p.ID }
func (p ProductPayload) Tenant() string   { return p.TenantID }

type MaterialPayload struct{ domain.Material }

func (p MaterialPayload) Table() string    { return TableMaterials }
func (p MaterialPayload) RecordID() string { return p.ID }
func (p MaterialPayload) Tenant() string   { return p.TenantID }

// Operation is one pending remote mutation.
type Operation struct {
	ID         string
	Table      string
	Kind       Kind
	Payload    Payload
	CreatedAt  time.Time
	RetryCount int
}

// New builds an operation for p with a fresh time-ordered id.
func New(kind Kind, p Payload, now time.Time) (Operation, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Operation{}, fmt.Errorf("syncq: new id: %w", err)
	}
	return Operation{
		ID:        id.String(),
		Table:     p.Table(),
		Kind:      kind,
		Payload:   p,
		CreatedAt: now.UTC(),
	}, nil
}

// Key identifies the record the operation targets. Operations sharing a key
// must be replayed in creation order.
func (o Operation) Key() string {
	if o.Payload == nil {
		return o.Table + ":"
	}
	return o.Table + ":" + o.Payload.RecordID()
}

type wireOp struct {
	ID         string          `json:"id"`
	Table      string          `json:"table"`
	Operation  Kind            `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  string          `json:"created_at"`
	RetryCount int             `json:"retry_count"`
}

func (o Operation) MarshalJSON() ([]byte, error) {
	raw, err := EncodePayload(o.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireOp{
		ID:         o.ID,
		Table:      o.Table,
		Operation:  o.Kind,
		Payload:    raw,
		CreatedAt:  o.CreatedAt.UTC().Format(TimeLayout),
		RetryCount: o.RetryCount,
	})
}

func (o *Operation) UnmarshalJSON(b []byte) error {
	var w wireOp
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if !w.Operation.Valid() {
		return fmt.Errorf("syncq: invalid operation %q", w.Operation)
	}
	p, err := DecodePayload(w.Table, w.Payload)
	if err != nil {
		return err
	}
	ts, err := time.Parse(TimeLayout, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("syncq: created_at: %w", err)
	}
	*o = Operation{ID: w.ID, Table: w.Table, Kind: w.Operation, Payload: p, CreatedAt: ts.UTC(), RetryCount: w.RetryCount}
	return nil
}

func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("syncq: nil payload")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("syncq: encode %s payload: %w", p.Table(), err)
	}
	return b, nil
}

// DecodePayload picks the variant for table and decodes raw into it.
func DecodePayload(table string, raw []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch table {
	case TableTransactions:
		var v TransactionPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TableProducts:
		var v ProductPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TableMaterials:
		var v MaterialPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if err != nil {
		return nil, fmt.Errorf("syncq: decode %s payload: %w", table, err)
	}
	return p, nil
}
