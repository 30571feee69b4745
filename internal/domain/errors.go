package domain

import (
	"errors"
	"fmt"

	"offlinepos/internal/ledger"
)

// Kind is the machine-readable class of a failure.
type Kind string

const (
	KindAuthentication     Kind = "authentication"
	KindTenantMismatch     Kind = "tenant_mismatch"
	KindInsufficientStock  Kind = "insufficient_stock"
	KindInvariantViolation Kind = "invariant_violation"
	KindPersistence        Kind = "persistence"
	KindRemoteSync         Kind = "remote_sync"
)

// Recovery is the next step suggested to the person at the till.
type Recovery string

const (
	RecoverRelogin        Recovery = "relogin"
	RecoverRefresh        Recovery = "refresh"
	RecoverRemoveItem     Recovery = "remove_item"
	RecoverCorrectInput   Recovery = "correct_input"
	RecoverRetry          Recovery = "retry"
	RecoverContactSupport Recovery = "contact_support"
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrAuthentication     = errors.New("authentication required")
	ErrTenantMismatch     = errors.New("data belongs to another tenant")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvariantViolation = errors.New("invariant violated")
	ErrPersistence        = errors.New("local store failure")
	ErrRemoteSync         = errors.New("remote sync failure")
)

var sentinels = map[Kind]error{
	KindAuthentication:     ErrAuthentication,
	KindTenantMismatch:     ErrTenantMismatch,
	KindInsufficientStock:  ErrInsufficientStock,
	KindInvariantViolation: ErrInvariantViolation,
	KindPersistence:        ErrPersistence,
	KindRemoteSync:         ErrRemoteSync,
}

// Shortfall names the entity that would have gone negative.
type Shortfall struct {
	Entity    string     `json:"entity"` // product | material
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Available ledger.Qty `json:"available"`
	Required  ledger.Qty `json:"required"`
}

// Error is the typed failure returned by the checkout path and the sync engine.
type Error struct {
	Op        string
	Kind      Kind
	Message   string
	Shortfall *Shortfall
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = sentinels[e.Kind].Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// Retryable reports whether the same input may succeed on a later attempt.
func (e *Error) Retryable() bool {
	return e.Kind == KindPersistence || e.Kind == KindRemoteSync
}

func (e *Error) Recovery() Recovery {
	switch e.Kind {
	case KindAuthentication:
		return RecoverRelogin
	case KindTenantMismatch:
		return RecoverRefresh
	case KindInsufficientStock:
		return RecoverRemoveItem
	case KindInvariantViolation:
		return RecoverCorrectInput
	case KindPersistence, KindRemoteSync:
		return RecoverRetry
	}
	return RecoverContactSupport
}

func AuthenticationError(op, msg string) *Error {
	return &Error{Op: op, Kind: KindAuthentication, Message: msg}
}

func TenantMismatchError(op, id string) *Error {
	return &Error{Op: op, Kind: KindTenantMismatch,
		Message: fmt.Sprintf("%s is not available for this store, refresh and try again", id)}
}

func InsufficientStockError(op string, s Shortfall) *Error {
	return &Error{Op: op, Kind: KindInsufficientStock, Shortfall: &s,
		Message: fmt.Sprintf("not enough %s: available %s, required %s", s.Name, s.Available, s.Required)}
}

func InvariantViolationError(op, msg string) *Error {
	return &Error{Op: op, Kind: KindInvariantViolation, Message: msg}
}

func PersistenceError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindPersistence, Message: "could not save locally", Err: err}
}

func RemoteSyncError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindRemoteSync, Message: "remote replay failed", Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
