package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/dto"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	appErrors "github.com/FLX-Software/flx-assets-2026-sub000/pkg/errors"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/export"
)

const exportTimeLayout = "2006-01-02 15:04"

type loanReader interface {
	List(ctx context.Context, filter models.LoanFilter) ([]models.LoanView, error)
}

// ExportFile is a rendered ledger export.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
	Rows        int
}

// LoanService serves the lending ledger history.
type LoanService struct {
	repo    loanReader
	logger  *zap.Logger
	maxRows int
	now     func() time.Time
}

// NewLoanService constructs the service. maxRows caps exports.
func NewLoanService(repo loanReader, logger *zap.Logger, maxRows int) *LoanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRows <= 0 {
		maxRows = 5000
	}
	return &LoanService{repo: repo, logger: logger, maxRows: maxRows, now: time.Now}
}

// List returns the organization's ledger, newest first.
func (s *LoanService) List(ctx context.Context, query dto.LoanQuery, actor models.Actor) ([]models.LoanView, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	loans, err := s.repo.List(ctx, models.LoanFilter{
		OrganizationID: actor.OrganizationID,
		ItemID:         query.ItemID,
		UserID:         query.UserID,
		OpenOnly:       query.OpenOnly,
		Limit:          limit,
		Offset:         query.Offset,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list loans")
	}
	return loans, nil
}

// Export renders the filtered ledger as csv or pdf.
func (s *LoanService) Export(ctx context.Context, query dto.LoanQuery, format string, actor models.Actor) (*ExportFile, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if !IsPrivileged(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can export the ledger")
	}
	renderer, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format")
	}

	loans, err := s.repo.List(ctx, models.LoanFilter{
		OrganizationID: actor.OrganizationID,
		ItemID:         query.ItemID,
		UserID:         query.UserID,
		OpenOnly:       query.OpenOnly,
		Limit:          s.maxRows,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load loans")
	}

	generated := s.now().UTC()
	body, err := renderer.Render(loanDataset(loans, generated))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.logger.Info("ledger exported",
		zap.String("organization_id", actor.OrganizationID),
		zap.String("format", renderer.Extension()),
		zap.Int("rows", len(loans)))

	return &ExportFile{
		Filename:    fmt.Sprintf("loans-%s.%s", generated.Format("20060102-150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
		Rows:        len(loans),
	}, nil
}

func loanDataset(loans []models.LoanView, generated time.Time) export.Dataset {
	headers := []string{"Scan code", "Item", "Borrower", "Checked out", "Checked in", "Closed as"}
	rows := make([]map[string]string, 0, len(loans))
	for _, loan := range loans {
		row := map[string]string{
			"Scan code":   loan.ScanCode,
			"Item":        loan.ItemName,
			"Borrower":    loan.UserName,
			"Checked out": loan.CheckedOutAt.UTC().Format(exportTimeLayout),
			"Checked in":  "",
			"Closed as":   "",
		}
		if loan.CheckedInAt != nil {
			row["Checked in"] = loan.CheckedInAt.UTC().Format(exportTimeLayout)
		}
		if loan.CloseReason != nil {
			row["Closed as"] = string(*loan.CloseReason)
		}
		rows = append(rows, row)
	}
	return export.Dataset{
		Title:   "Loan history " + generated.Format("2006-01-02"),
		Headers: headers,
		Rows:    rows,
	}
}
