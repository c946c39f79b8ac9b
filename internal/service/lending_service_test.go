package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/dto"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	appErrors "github.com/FLX-Software/flx-assets-2026-sub000/pkg/errors"
)

var (
	staffU1 = models.Actor{ID: "u1", Role: models.RoleStaff, OrganizationID: "org-1"}
	staffU2 = models.Actor{ID: "u2", Role: models.RoleStaff, OrganizationID: "org-1"}
	adminU3 = models.Actor{ID: "u3", Role: models.RoleAdmin, OrganizationID: "org-1"}
)

func availableItem() models.Item {
	return models.Item{
		ID:             "item-x",
		OrganizationID: "org-1",
		ScanCode:       "FLX-X",
		Name:           "Impact drill",
		Category:       models.ItemCategoryTool,
		Status:         models.ItemStatusAvailable,
	}
}

type lendingFixture struct {
	svc     *LendingService
	store   *memLendingStore
	audit   *recordingAudit
	repairs *recordingRepairs
	metrics *MetricsService
}

func newLendingFixture(t *testing.T, cfg LendingConfig, logger *zap.Logger) *lendingFixture {
	t.Helper()
	store := newMemLendingStore(availableItem())
	audit := &recordingAudit{}
	repairs := &recordingRepairs{}
	metrics := NewMetricsService()
	svc := NewLendingService(store, nil, audit, repairs, metrics, nil, logger, cfg)
	svc.sleep = func(time.Duration) {}
	return &lendingFixture{svc: svc, store: store, audit: audit, repairs: repairs, metrics: metrics}
}

func scan(t *testing.T, f *lendingFixture, code string, actor models.Actor) (*models.ScanResult, error) {
	t.Helper()
	result, err := f.svc.Scan(context.Background(), dto.ScanRequest{Code: code}, actor)
	require.NotNil(t, result)
	return result, err
}

// assertLedgerAgrees checks that the item is loaned exactly when it has one open loan.
func assertLedgerAgrees(t *testing.T, store *memLendingStore, itemID string) {
	t.Helper()
	item := store.item(itemID)
	open := store.openLoans(itemID)
	require.LessOrEqual(t, len(open), 1)
	if item.Status == models.ItemStatusLoaned {
		require.Len(t, open, 1)
		assert.Equal(t, item.Holder(), open[0].UserID)
	} else {
		assert.Empty(t, open)
		assert.Nil(t, item.HolderUserID)
	}
}

func TestLendingServiceScenarios(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		name := "sequential"
		if atomic {
			name = "atomic"
		}
		t.Run(name, func(t *testing.T) {
			t.Run("checkout then holder checkin", func(t *testing.T) {
				f := newLendingFixture(t, LendingConfig{Atomic: atomic}, nil)

				result, err := scan(t, f, "FLX-X", staffU1)
				require.NoError(t, err)
				assert.True(t, result.Success)
				assert.Equal(t, models.ScanKindCheckout, result.Kind)
				assert.Equal(t, models.ScanMessageCheckedOut, result.Message)
				require.NotNil(t, result.Loan)
				assert.Equal(t, "u1", result.Loan.UserID)
				item := f.store.item("item-x")
				assert.Equal(t, models.ItemStatusLoaned, item.Status)
				assert.Equal(t, "u1", item.Holder())
				assertLedgerAgrees(t, f.store, "item-x")

				result, err = scan(t, f, "FLX-X", staffU1)
				require.NoError(t, err)
				assert.True(t, result.Success)
				assert.Equal(t, models.ScanKindCheckin, result.Kind)
				require.NotNil(t, result.Loan)
				require.NotNil(t, result.Loan.CheckedInAt)
				assert.Equal(t, models.LoanCloseReturned, *result.Loan.CloseReason)
				item = f.store.item("item-x")
				assert.Equal(t, models.ItemStatusAvailable, item.Status)
				assert.Nil(t, item.HolderUserID)
				assertLedgerAgrees(t, f.store, "item-x")
				assert.Len(t, f.store.allLoans(), 1)

				assert.Equal(t, []string{models.AuditActionItemCheckout, models.AuditActionItemCheckin}, f.audit.actions())
			})

			t.Run("non holder staff is rejected without side effects", func(t *testing.T) {
				f := newLendingFixture(t, LendingConfig{Atomic: atomic}, nil)
				_, err := scan(t, f, "FLX-X", staffU1)
				require.NoError(t, err)
				before := f.store.item("item-x")

				result, err := scan(t, f, "FLX-X", staffU2)
				assert.ErrorIs(t, err, appErrors.ErrHeldByOther)
				assert.False(t, result.Success)
				assert.Equal(t, models.ScanMessageHeldByOther, result.Message)
				assert.Equal(t, before, f.store.item("item-x"))
				assert.Len(t, f.store.openLoans("item-x"), 1)
				assert.Len(t, f.audit.actions(), 1)
			})

			t.Run("admin override checks in", func(t *testing.T) {
				f := newLendingFixture(t, LendingConfig{Atomic: atomic}, nil)
				_, err := scan(t, f, "FLX-X", staffU1)
				require.NoError(t, err)

				result, err := scan(t, f, "FLX-X", adminU3)
				require.NoError(t, err)
				assert.True(t, result.Success)
				assert.Equal(t, models.ScanKindCheckin, result.Kind)
				require.NotNil(t, result.Loan)
				assert.Equal(t, "u1", result.Loan.UserID)
				assert.Equal(t, models.ItemStatusAvailable, f.store.item("item-x").Status)
				assertLedgerAgrees(t, f.store, "item-x")
			})

			t.Run("unknown code is idempotent", func(t *testing.T) {
				f := newLendingFixture(t, LendingConfig{Atomic: atomic}, nil)
				for i := 0; i < 3; i++ {
					result, err := scan(t, f, "FLX-NOPE", staffU1)
					assert.ErrorIs(t, err, appErrors.ErrUnknownCode)
					assert.False(t, result.Success)
					assert.Equal(t, models.ScanMessageUnknownCode, result.Message)
					assert.Nil(t, result.Item)
				}
				assert.Equal(t, models.ItemStatusAvailable, f.store.item("item-x").Status)
				assert.Empty(t, f.store.allLoans())
			})

			t.Run("code from another organization is unknown", func(t *testing.T) {
				f := newLendingFixture(t, LendingConfig{Atomic: atomic}, nil)
				outsider := models.Actor{ID: "u9", Role: models.RoleSuperAdmin, OrganizationID: "org-2"}
				result, err := scan(t, f, "FLX-X", outsider)
				assert.ErrorIs(t, err, appErrors.ErrUnknownCode)
				assert.Equal(t, models.ScanMessageUnknownCode, result.Message)
			})

			t.Run("defective item is rejected", func(t *testing.T) {
				f := newLendingFixture(t, LendingConfig{Atomic: atomic}, nil)
				f.store.items["item-x"].Status = models.ItemStatusDefective

				result, err := scan(t, f, "FLX-X", adminU3)
				assert.ErrorIs(t, err, appErrors.ErrItemDefective)
				assert.Equal(t, models.ScanMessageItemDefective, result.Message)
				assert.Equal(t, models.ItemStatusDefective, f.store.item("item-x").Status)
				assert.Empty(t, f.store.allLoans())
			})
		})
	}
}

func TestLendingServiceAuthorizationProperty(t *testing.T) {
	roles := []struct {
		role    models.UserRole
		allowed bool
	}{
		{models.RoleStaff, false},
		{models.RoleAdmin, true},
		{models.RoleSuperAdmin, true},
	}
	for _, tc := range roles {
		t.Run(string(tc.role), func(t *testing.T) {
			f := newLendingFixture(t, LendingConfig{Atomic: true}, nil)
			_, err := scan(t, f, "FLX-X", staffU1)
			require.NoError(t, err)

			other := models.Actor{ID: "someone-else", Role: tc.role, OrganizationID: "org-1"}
			result, err := scan(t, f, "FLX-X", other)
			if tc.allowed {
				require.NoError(t, err)
				assert.True(t, result.Success)
				assert.Equal(t, models.ItemStatusAvailable, f.store.item("item-x").Status)
			} else {
				assert.ErrorIs(t, err, appErrors.ErrHeldByOther)
				item := f.store.item("item-x")
				assert.Equal(t, "u1", item.Holder())
			}
			assertLedgerAgrees(t, f.store, "item-x")
		})
	}
}

func TestLendingServiceConcurrentScansKeepSingleOpenLoan(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		f := newLendingFixture(t, LendingConfig{Atomic: atomic}, nil)
		actors := []models.Actor{staffU1, staffU2, adminU3, {ID: "u4", Role: models.RoleStaff, OrganizationID: "org-1"}}

		var wg sync.WaitGroup
		for round := 0; round < 10; round++ {
			for _, actor := range actors {
				wg.Add(1)
				go func(actor models.Actor) {
					defer wg.Done()
					_, _ = f.svc.Scan(context.Background(), dto.ScanRequest{Code: "FLX-X"}, actor)
				}(actor)
			}
		}
		wg.Wait()

		require.LessOrEqual(t, len(f.store.openLoans("item-x")), 1)
		if !atomic {
			// Interleaved item and ledger writes may leave drift that reconciliation repairs.
			reconciler := NewReconciliationService(f.store, f.store, f.store, nil, nil, nil, ReconciliationConfig{})
			_, err := reconciler.RunOnce(context.Background())
			require.NoError(t, err)
		}
		assertLedgerAgrees(t, f.store, "item-x")
		for _, loan := range f.store.allLoans() {
			if loan.CheckedInAt != nil {
				assert.False(t, loan.CheckedInAt.Before(loan.CheckedOutAt))
			}
		}
	}
}

func TestLendingServiceAtomicRollsBackOnLedgerFailure(t *testing.T) {
	f := newLendingFixture(t, LendingConfig{Atomic: true}, nil)
	f.store.openLoanFailures = 1

	result, err := scan(t, f, "FLX-X", staffU1)
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
	assert.False(t, result.Success)
	assert.Equal(t, models.ScanMessageError, result.Message)
	assert.True(t, appErrors.FromError(err).Retryable)

	assert.Equal(t, models.ItemStatusAvailable, f.store.item("item-x").Status)
	assert.Empty(t, f.store.allLoans())
	assert.Empty(t, f.audit.actions())
}

func TestLendingServiceAtomicCheckinRollsBackOnLedgerFailure(t *testing.T) {
	f := newLendingFixture(t, LendingConfig{Atomic: true}, nil)
	_, err := scan(t, f, "FLX-X", staffU1)
	require.NoError(t, err)
	f.store.closeLoanFailures = 1

	_, err = scan(t, f, "FLX-X", staffU1)
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
	assert.Equal(t, models.ItemStatusLoaned, f.store.item("item-x").Status)
	assertLedgerAgrees(t, f.store, "item-x")
}

func loansByID(store *memLendingStore) map[string]models.LoanRecord {
	out := make(map[string]models.LoanRecord)
	for _, loan := range store.allLoans() {
		out[loan.ID] = loan
	}
	return out
}

func TestLendingServiceStrayOpenLoanIsClosedAsReconciled(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		f := newLendingFixture(t, LendingConfig{Atomic: atomic}, nil)
		f.store.loans = append(f.store.loans, &models.LoanRecord{
			ID: "stray-u2", OrganizationID: "org-1", ItemID: "item-x", UserID: "u2", CheckedOutAt: time.Now().Add(-time.Hour),
		})

		result, err := scan(t, f, "FLX-X", staffU1)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Empty(t, result.Warning)
		require.NotNil(t, result.Loan)
		checkoutID := result.Loan.ID
		assertLedgerAgrees(t, f.store, "item-x")

		result, err = scan(t, f, "FLX-X", staffU1)
		require.NoError(t, err)
		assert.Equal(t, models.ScanKindCheckin, result.Kind)
		require.NotNil(t, result.Loan)
		assert.Equal(t, checkoutID, result.Loan.ID)
		assertLedgerAgrees(t, f.store, "item-x")

		loans := loansByID(f.store)
		require.Len(t, loans, 2)
		stray := loans["stray-u2"]
		require.NotNil(t, stray.CloseReason)
		assert.Equal(t, models.LoanCloseReconciled, *stray.CloseReason)
		own := loans[checkoutID]
		assert.Equal(t, "u1", own.UserID)
		require.NotNil(t, own.CloseReason)
		assert.Equal(t, models.LoanCloseReturned, *own.CloseReason)
		assert.Equal(t, uint64(1), f.metrics.Snapshot().LedgerRepairs)
	}
}

func TestLendingServiceCheckinClosesOnlyHolderLoanAsReturned(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		f := newLendingFixture(t, LendingConfig{Atomic: atomic}, nil)
		holder := "u1"
		checkedOut := time.Now().Add(-2 * time.Hour)
		f.store.items["item-x"].Status = models.ItemStatusLoaned
		f.store.items["item-x"].HolderUserID = &holder
		f.store.items["item-x"].StatusChangedAt = checkedOut
		f.store.loans = append(f.store.loans, &models.LoanRecord{
			ID: "stray-u2", OrganizationID: "org-1", ItemID: "item-x", UserID: "u2", CheckedOutAt: checkedOut.Add(-time.Hour),
		})

		result, err := scan(t, f, "FLX-X", adminU3)
		require.NoError(t, err)
		assert.Equal(t, models.ScanKindCheckin, result.Kind)
		require.NotNil(t, result.Loan)
		assert.Equal(t, "u1", result.Loan.UserID)
		assert.True(t, result.Loan.CheckedOutAt.Equal(checkedOut))
		require.NotNil(t, result.Loan.CloseReason)
		assert.Equal(t, models.LoanCloseReturned, *result.Loan.CloseReason)
		assertLedgerAgrees(t, f.store, "item-x")

		stray := loansByID(f.store)["stray-u2"]
		require.NotNil(t, stray.CloseReason)
		assert.Equal(t, models.LoanCloseReconciled, *stray.CloseReason)
	}
}

func TestLendingServiceSequentialRetriesLedgerWrite(t *testing.T) {
	f := newLendingFixture(t, LendingConfig{Atomic: false, LedgerRetryAttempts: 3}, nil)
	f.store.openLoanFailures = 2

	result, err := scan(t, f, "FLX-X", staffU1)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Warning)
	assertLedgerAgrees(t, f.store, "item-x")
	assert.Empty(t, f.repairs.items)
}

func TestLendingServiceSequentialConsistencyWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newLendingFixture(t, LendingConfig{Atomic: false, LedgerRetryAttempts: 2}, zap.New(core))
	f.store.openLoanFailures = 5

	result, err := scan(t, f, "FLX-X", staffU1)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.ScanMessageCheckedOut, result.Message)
	assert.Equal(t, ConsistencyWarningText, result.Warning)
	assert.Nil(t, result.Loan)

	assert.Equal(t, models.ItemStatusLoaned, f.store.item("item-x").Status)
	assert.Empty(t, f.store.allLoans())
	assert.Equal(t, []string{"item-x"}, f.repairs.items)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().ConsistencyWarnings)

	warnings := logs.FilterField(zap.String("event", "consistency_warning")).All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
	assert.Equal(t, 3, f.store.openLoanFailures)
}

func TestLendingServiceSequentialItemWriteFailureIsNotRetried(t *testing.T) {
	f := newLendingFixture(t, LendingConfig{Atomic: false}, nil)
	f.store.transitionErr = errors.New("item table unavailable")

	result, err := scan(t, f, "FLX-X", staffU1)
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
	assert.False(t, result.Success)
	assert.Empty(t, f.store.allLoans())
	assert.Empty(t, f.repairs.items)
}

func TestLendingServiceSequentialLostRaceIsConflict(t *testing.T) {
	f := newLendingFixture(t, LendingConfig{Atomic: false}, nil)
	f.store.beforeTransition = func(item *models.Item) {
		holder := "u2"
		item.Status = models.ItemStatusLoaned
		item.HolderUserID = &holder
	}

	result, err := scan(t, f, "FLX-X", staffU1)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.False(t, result.Success)
	assert.Empty(t, f.store.allLoans())
}

func TestLendingServiceValidation(t *testing.T) {
	f := newLendingFixture(t, LendingConfig{Atomic: true}, nil)

	result, err := scan(t, f, "   ", staffU1)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, models.ScanMessageError, result.Message)

	_, err = scan(t, f, "FLX X", staffU1)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = scan(t, f, "FLX-X", models.Actor{ID: "u1", Role: models.RoleStaff})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = scan(t, f, "FLX-X", models.Actor{ID: "u1", Role: "guest", OrganizationID: "org-1"})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
	assert.Zero(t, f.store.txCount)
}

func TestLendingServiceScanLock(t *testing.T) {
	f := newLendingFixture(t, LendingConfig{Atomic: true}, nil)
	locker := &stubLocker{acquired: false}
	f.svc.locker = locker

	_, err := scan(t, f, "FLX-X", staffU1)
	assert.ErrorIs(t, err, appErrors.ErrScanInProgress)
	assert.Zero(t, f.store.txCount)

	locker.acquired = true
	result, err := scan(t, f, "FLX-X", staffU1)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"org-1:FLX-X"}, locker.released)

	locker.err = errors.New("redis down")
	result, err = scan(t, f, "FLX-X", staffU1)
	require.NoError(t, err)
	assert.Equal(t, models.ScanKindCheckin, result.Kind)
}

func TestLendingServiceSetStatus(t *testing.T) {
	f := newLendingFixture(t, LendingConfig{Atomic: true}, nil)
	ctx := context.Background()

	_, err := f.svc.SetStatus(ctx, "item-x", dto.SetItemStatusRequest{Status: models.ItemStatusDefective}, staffU1)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	item, err := f.svc.SetStatus(ctx, "item-x", dto.SetItemStatusRequest{Status: models.ItemStatusDefective}, adminU3)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusDefective, item.Status)
	assert.Contains(t, f.audit.actions(), models.AuditActionItemStatus)

	_, err = f.svc.SetStatus(ctx, "item-x", dto.SetItemStatusRequest{Status: models.ItemStatusLoaned}, adminU3)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	item, err = f.svc.SetStatus(ctx, "item-x", dto.SetItemStatusRequest{Status: models.ItemStatusAvailable}, adminU3)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusAvailable, item.Status)

	_, err = scan(t, f, "FLX-X", staffU1)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, "item-x", dto.SetItemStatusRequest{Status: models.ItemStatusDefective}, adminU3)
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = f.svc.SetStatus(ctx, "item-x", dto.SetItemStatusRequest{Status: models.ItemStatusDefective},
		models.Actor{ID: "a", Role: models.RoleAdmin, OrganizationID: "org-2"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestDecideTransitionIsExhaustive(t *testing.T) {
	holder := "u1"
	now := time.Now()
	cases := []struct {
		status  models.ItemStatus
		holder  *string
		actor   models.Actor
		message models.ScanMessage
	}{
		{models.ItemStatusAvailable, nil, staffU2, models.ScanMessageCheckedOut},
		{models.ItemStatusLoaned, &holder, staffU1, models.ScanMessageCheckedIn},
		{models.ItemStatusLoaned, &holder, staffU2, models.ScanMessageHeldByOther},
		{models.ItemStatusLoaned, &holder, adminU3, models.ScanMessageCheckedIn},
		{models.ItemStatusDefective, nil, adminU3, models.ScanMessageItemDefective},
		{"retired", nil, adminU3, models.ScanMessageError},
	}
	for _, tc := range cases {
		decision := decideTransition(&models.Item{ID: "i", Status: tc.status, HolderUserID: tc.holder}, tc.actor, now)
		assert.Equal(t, tc.message, decision.message, "status %s actor %s", tc.status, tc.actor.ID)
	}
}
