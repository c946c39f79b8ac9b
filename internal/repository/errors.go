package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrDuplicateScanCode is returned when a scan code is already used by any organization.
	ErrDuplicateScanCode = errors.New("scan code already in use")
	// ErrOpenLoanExists is returned when an item already has an open loan record.
	ErrOpenLoanExists = errors.New("item already has an open loan")
)

const (
	constraintScanCode    = "items_scan_code_key"
	constraintOneOpenLoan = "loans_one_open_per_item"
)

// isUniqueViolation reports whether err is a postgres unique violation on constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}
