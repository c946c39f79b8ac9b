package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
)

func TestLoanRepositoryListJoinsDisplayFields(t *testing.T) {
	db, mock, cleanup := newLendingRepoMock(t)
	defer cleanup()

	repo := NewLoanRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(append(append([]string{}, loanRowColumns...), "scan_code", "item_name", "user_name")).
		AddRow("loan-1", "org-1", "item-1", "user-1", now, nil, nil, "FLX-1", "Drill", "Ada")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT l.id, l.organization_id")).
		WithArgs("org-1", "item-1").
		WillReturnRows(rows)

	loans, err := repo.List(context.Background(), models.LoanFilter{OrganizationID: "org-1", ItemID: "item-1", OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.True(t, loans[0].Open())
	assert.Equal(t, "Drill", loans[0].ItemName)
	assert.Equal(t, "Ada", loans[0].UserName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryListOpen(t *testing.T) {
	db, mock, cleanup := newLendingRepoMock(t)
	defer cleanup()

	repo := NewLoanRepository(db)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, organization_id, item_id")).
		WillReturnRows(sqlmock.NewRows(loanRowColumns).
			AddRow("loan-1", "org-1", "item-1", "user-1", now, nil, nil).
			AddRow("loan-2", "org-1", "item-2", "user-2", now, nil, nil))

	loans, err := repo.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Len(t, loans, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
