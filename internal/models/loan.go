package models

import "time"

// LoanCloseReason records why a loan record was closed.
type LoanCloseReason string

const (
	LoanCloseReturned   LoanCloseReason = "returned"
	LoanCloseReconciled LoanCloseReason = "reconciled"
)

// LoanRecord is one entry of the lending ledger. A nil CheckedInAt marks the loan as open.
type LoanRecord struct {
	ID             string           `db:"id" json:"id"`
	OrganizationID string           `db:"organization_id" json:"organizationId"`
	ItemID         string           `db:"item_id" json:"itemId"`
	UserID         string           `db:"user_id" json:"userId"`
	CheckedOutAt   time.Time        `db:"checked_out_at" json:"checkedOutAt"`
	CheckedInAt    *time.Time       `db:"checked_in_at" json:"checkedInAt"`
	CloseReason    *LoanCloseReason `db:"close_reason" json:"closeReason,omitempty"`
}

// Open reports whether the loan has not been checked in.
func (l LoanRecord) Open() bool {
	return l.CheckedInAt == nil
}

// LoanView joins a loan record with display fields of its item and borrower.
type LoanView struct {
	LoanRecord
	ScanCode string `db:"scan_code" json:"scanCode"`
	ItemName string `db:"item_name" json:"itemName"`
	UserName string `db:"user_name" json:"userName"`
}

// LoanFilter constrains ledger listing queries.
type LoanFilter struct {
	OrganizationID string
	ItemID         string
	UserID         string
	OpenOnly       bool
	Limit          int
	Offset         int
}
