package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
)

// LendingTx is the set of reads and writes a scan or a ledger repair performs.
// The same methods run either directly on the pool or inside a transaction.
type LendingTx interface {
	FindItemByScanCode(ctx context.Context, organizationID, code string, lock bool) (*models.Item, error)
	FindItemByID(ctx context.Context, id string, lock bool) (*models.Item, error)
	TransitionItem(ctx context.Context, params ItemTransitionParams) error
	OpenLoan(ctx context.Context, loan *models.LoanRecord) error
	CloseOpenLoan(ctx context.Context, params CloseLoanParams) (*models.LoanRecord, error)
	ListOpenLoans(ctx context.Context, itemID string) ([]models.LoanRecord, error)
}

// ItemTransitionParams describes a compare-and-swap on an item's status and holder.
type ItemTransitionParams struct {
	ItemID         string
	ExpectedStatus models.ItemStatus
	ExpectedHolder *string
	Status         models.ItemStatus
	Holder         *string
	At             time.Time
}

// CloseLoanParams selects the open loan to close. LoanID and UserID are optional.
type CloseLoanParams struct {
	ItemID string
	LoanID string
	UserID string
	At     time.Time
	Reason models.LoanCloseReason
}

// LendingRepository owns the item status and ledger writes.
type LendingRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

// NewLendingRepository constructs the repository bound to the connection pool.
func NewLendingRepository(db *sqlx.DB) *LendingRepository {
	return &LendingRepository{db: db, ext: db}
}

// WithinTx runs fn against a transaction-bound repository. The transaction commits
// when fn returns nil and rolls back otherwise.
func (r *LendingRepository) WithinTx(ctx context.Context, fn func(LendingTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin lending transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&LendingRepository{db: r.db, ext: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit lending transaction: %w", err)
	}
	return nil
}

// FindItemByScanCode resolves a scan code inside the organization. With lock set
// the row stays locked until the surrounding transaction ends.
func (r *LendingRepository) FindItemByScanCode(ctx context.Context, organizationID, code string, lock bool) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE organization_id = $1 AND scan_code = $2`
	if lock {
		query += " FOR UPDATE"
	}
	var item models.Item
	if err := sqlx.GetContext(ctx, r.ext, &item, query, organizationID, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find item by scan code: %w", err)
	}
	return &item, nil
}

// FindItemByID loads an item regardless of organization; used by ledger repair.
func (r *LendingRepository) FindItemByID(ctx context.Context, id string, lock bool) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	}
	var item models.Item
	if err := sqlx.GetContext(ctx, r.ext, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find item: %w", err)
	}
	return &item, nil
}

// TransitionItem applies the status change only if the item still has the
// expected status and holder. It returns sql.ErrNoRows when the precondition fails.
func (r *LendingRepository) TransitionItem(ctx context.Context, params ItemTransitionParams) error {
	const query = `UPDATE items
	SET status = $1, holder_user_id = $2, status_changed_at = $3, updated_at = $3
	WHERE id = $4 AND status = $5 AND holder_user_id IS NOT DISTINCT FROM $6`
	at := params.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	result, err := r.ext.ExecContext(ctx, query,
		params.Status, params.Holder, at,
		params.ItemID, params.ExpectedStatus, params.ExpectedHolder)
	if err != nil {
		return fmt.Errorf("transition item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check item transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// OpenLoan appends an open ledger record. A second open record for the same item
// is refused by the partial unique index and reported as ErrOpenLoanExists.
func (r *LendingRepository) OpenLoan(ctx context.Context, loan *models.LoanRecord) error {
	if loan.ID == "" {
		loan.ID = uuid.NewString()
	}
	if loan.CheckedOutAt.IsZero() {
		loan.CheckedOutAt = time.Now().UTC()
	}
	loan.CheckedInAt = nil
	loan.CloseReason = nil
	const query = `INSERT INTO loans (id, organization_id, item_id, user_id, checked_out_at)
	VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.ext.ExecContext(ctx, query, loan.ID, loan.OrganizationID, loan.ItemID, loan.UserID, loan.CheckedOutAt); err != nil {
		if isUniqueViolation(err, constraintOneOpenLoan) {
			return ErrOpenLoanExists
		}
		return fmt.Errorf("open loan: %w", err)
	}
	return nil
}

// CloseOpenLoan sets the check-in timestamp of the item's open loan and returns it.
// sql.ErrNoRows means there was no open loan to close.
func (r *LendingRepository) CloseOpenLoan(ctx context.Context, params CloseLoanParams) (*models.LoanRecord, error) {
	at := params.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	query := `UPDATE loans SET checked_in_at = $1, close_reason = $2
	WHERE item_id = $3 AND checked_in_at IS NULL`
	args := []interface{}{at, params.Reason, params.ItemID}
	if params.LoanID != "" {
		args = append(args, params.LoanID)
		query += fmt.Sprintf(" AND id = $%d", len(args))
	}
	if params.UserID != "" {
		args = append(args, params.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	query += " RETURNING " + loanColumns

	var loan models.LoanRecord
	if err := sqlx.GetContext(ctx, r.ext, &loan, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("close loan: %w", err)
	}
	return &loan, nil
}

// ListOpenLoans returns the open loans of one item, oldest first.
func (r *LendingRepository) ListOpenLoans(ctx context.Context, itemID string) ([]models.LoanRecord, error) {
	const query = `SELECT ` + loanColumns + ` FROM loans WHERE item_id = $1 AND checked_in_at IS NULL ORDER BY checked_out_at ASC`
	var loans []models.LoanRecord
	if err := sqlx.SelectContext(ctx, r.ext, &loans, query, itemID); err != nil {
		return nil, fmt.Errorf("list item open loans: %w", err)
	}
	return loans, nil
}
