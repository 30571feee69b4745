package services

import (
	"database/sql"
	"errors"

	"offlinepos/internal/domain"
)

// mapNotFound passes typed errors through, treats a missing row as a tenant
// scoping failure and wraps everything else as a local store failure.
func mapNotFound(op, id string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TenantMismatchError(op, id)
	}
	return domain.PersistenceError(op, err)
}
