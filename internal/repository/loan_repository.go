package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
)

const loanColumns = `id, organization_id, item_id, user_id, checked_out_at, checked_in_at, close_reason`

// LoanRepository reads the lending ledger. Writes go through LendingRepository.
type LoanRepository struct {
	db *sqlx.DB
}

// NewLoanRepository constructs the repository.
func NewLoanRepository(db *sqlx.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

// List returns ledger rows joined with item and borrower names, newest first.
func (r *LoanRepository) List(ctx context.Context, filter models.LoanFilter) ([]models.LoanView, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT l.id, l.organization_id, l.item_id, l.user_id, l.checked_out_at, l.checked_in_at, l.close_reason,
       i.scan_code, i.name AS item_name, COALESCE(u.full_name, '') AS user_name
	FROM loans l
	JOIN items i ON i.id = l.item_id
	LEFT JOIN users u ON u.id = l.user_id
	WHERE l.organization_id = $1`)
	args := []interface{}{filter.OrganizationID}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		fmt.Fprintf(&builder, " AND l.item_id = $%d", len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		fmt.Fprintf(&builder, " AND l.user_id = $%d", len(args))
	}
	if filter.OpenOnly {
		builder.WriteString(" AND l.checked_in_at IS NULL")
	}
	builder.WriteString(" ORDER BY l.checked_out_at DESC, l.id ASC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	fmt.Fprintf(&builder, " LIMIT %d OFFSET %d", limit, offset)

	var loans []models.LoanView
	if err := r.db.SelectContext(ctx, &loans, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

// ListOpen returns every open loan record across organizations.
func (r *LoanRepository) ListOpen(ctx context.Context) ([]models.LoanRecord, error) {
	const query = `SELECT ` + loanColumns + ` FROM loans WHERE checked_in_at IS NULL`
	var loans []models.LoanRecord
	if err := r.db.SelectContext(ctx, &loans, query); err != nil {
		return nil, fmt.Errorf("list open loans: %w", err)
	}
	return loans, nil
}
