package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/dto"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/repository"
	appErrors "github.com/FLX-Software/flx-assets-2026-sub000/pkg/errors"
)

// lendingStore exposes the lending reads and writes both directly and inside a transaction.
type lendingStore interface {
	repository.LendingTx
	WithinTx(ctx context.Context, fn func(repository.LendingTx) error) error
}

type scanLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type repairEnqueuer interface {
	EnqueueRepair(itemID string) error
}

// LendingConfig tunes the scan pipeline.
type LendingConfig struct {
	// Atomic writes the item and the ledger in one transaction. When false the
	// item is written first and the ledger write is retried on its own.
	Atomic              bool
	LedgerRetryAttempts int
	LedgerRetryDelay    time.Duration
	ScanLockTTL         time.Duration
}

// ConsistencyWarningText is attached to scan results whose ledger entry is pending repair.
const ConsistencyWarningText = "item updated but the loan history could not be written; it will be repaired automatically"

var privilegedRoles = mapset.NewSet(models.RoleAdmin, models.RoleSuperAdmin)

// IsPrivileged reports whether role may act on items held by someone else.
func IsPrivileged(role models.UserRole) bool {
	return privilegedRoles.Contains(role)
}

var errScanRejected = errors.New("scan rejected")

// LendingService runs the check-out/check-in state machine behind a QR scan.
type LendingService struct {
	store     lendingStore
	locker    scanLocker
	audit     auditWriter
	repairs   repairEnqueuer
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       LendingConfig
	now       func() time.Time
	sleep     func(time.Duration)
}

// NewLendingService wires the lending state machine. locker, audit, repairs and
// metrics are optional.
func NewLendingService(store lendingStore, locker scanLocker, audit auditWriter, repairs repairEnqueuer, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg LendingConfig) *LendingService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LedgerRetryAttempts <= 0 {
		cfg.LedgerRetryAttempts = 3
	}
	if cfg.ScanLockTTL <= 0 {
		cfg.ScanLockTTL = 10 * time.Second
	}
	return &LendingService{
		store:     store,
		locker:    locker,
		audit:     audit,
		repairs:   repairs,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// scanDecision is the outcome of applying the state machine to an item snapshot.
type scanDecision struct {
	kind    models.ScanKind
	message models.ScanMessage
	update  repository.ItemTransitionParams
	reject  *appErrors.Error
}

// decideTransition is the pure transition function of the lending state machine.
func decideTransition(item *models.Item, actor models.Actor, at time.Time) scanDecision {
	switch item.Status {
	case models.ItemStatusAvailable:
		holder := actor.ID
		return scanDecision{
			kind:    models.ScanKindCheckout,
			message: models.ScanMessageCheckedOut,
			update: repository.ItemTransitionParams{
				ItemID:         item.ID,
				ExpectedStatus: models.ItemStatusAvailable,
				ExpectedHolder: item.HolderUserID,
				Status:         models.ItemStatusLoaned,
				Holder:         &holder,
				At:             at,
			},
		}
	case models.ItemStatusLoaned:
		if !item.HeldBy(actor.ID) && !IsPrivileged(actor.Role) {
			return scanDecision{message: models.ScanMessageHeldByOther, reject: appErrors.ErrHeldByOther}
		}
		return scanDecision{
			kind:    models.ScanKindCheckin,
			message: models.ScanMessageCheckedIn,
			update: repository.ItemTransitionParams{
				ItemID:         item.ID,
				ExpectedStatus: models.ItemStatusLoaned,
				ExpectedHolder: item.HolderUserID,
				Status:         models.ItemStatusAvailable,
				At:             at,
			},
		}
	case models.ItemStatusDefective:
		return scanDecision{message: models.ScanMessageItemDefective, reject: appErrors.ErrItemDefective}
	default:
		return scanDecision{message: models.ScanMessageError, reject: appErrors.Clone(appErrors.ErrConflict, "item has an unknown status")}
	}
}

// scanRejection carries a rejected result out of a transaction callback.
type scanRejection struct {
	result *models.ScanResult
	err    *appErrors.Error
}

func (r *scanRejection) Error() string { return r.err.Error() }
func (r *scanRejection) Unwrap() error { return errScanRejected }

func reject(message models.ScanMessage, err *appErrors.Error, item *models.Item) *scanRejection {
	result := models.NewScanResult(false, message)
	result.Item = item
	return &scanRejection{result: result, err: err}
}

// Scan applies the check-out or check-in implied by the item's current state.
// Rejections return a non-nil result with success=false together with a typed error.
func (s *LendingService) Scan(ctx context.Context, req dto.ScanRequest, actor models.Actor) (*models.ScanResult, error) {
	start := time.Now()
	result, err := s.scan(ctx, req, actor)
	s.metrics.RecordScan(result.Message, time.Since(start))
	return result, err
}

func (s *LendingService) scan(ctx context.Context, req dto.ScanRequest, actor models.Actor) (*models.ScanResult, error) {
	req.Code = strings.TrimSpace(req.Code)
	if err := s.validator.Struct(req); err != nil {
		return models.NewScanResult(false, models.ScanMessageError),
			appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scan payload")
	}
	if err := validateActor(actor); err != nil {
		return models.NewScanResult(false, models.ScanMessageError), err
	}

	if s.locker != nil {
		key := actor.OrganizationID + ":" + req.Code
		token, acquired, err := s.locker.Acquire(ctx, key, s.cfg.ScanLockTTL)
		switch {
		case err != nil:
			s.logger.Warn("scan lock unavailable, relying on store concurrency control", zap.String("code", req.Code), zap.Error(err))
		case !acquired:
			return models.NewScanResult(false, models.ScanMessageError), appErrors.Clone(appErrors.ErrScanInProgress, "")
		default:
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					s.logger.Warn("failed to release scan lock", zap.String("code", req.Code), zap.Error(err))
				}
			}()
		}
	}

	var (
		result *models.ScanResult
		err    error
	)
	if s.cfg.Atomic {
		result, err = s.scanAtomic(ctx, req.Code, actor)
	} else {
		result, err = s.scanSequential(ctx, req.Code, actor)
	}

	var rejection *scanRejection
	if errors.As(err, &rejection) {
		return rejection.result, appErrors.Clone(rejection.err, "")
	}
	if err != nil {
		return models.NewScanResult(false, models.ScanMessageError), err
	}

	s.emitAudit(ctx, actor, result)
	return result, nil
}

func (s *LendingService) scanAtomic(ctx context.Context, code string, actor models.Actor) (*models.ScanResult, error) {
	at := s.now().UTC()
	var (
		result  *models.ScanResult
		current *models.Item
	)
	err := s.store.WithinTx(ctx, func(tx repository.LendingTx) error {
		item, err := tx.FindItemByScanCode(ctx, actor.OrganizationID, code, true)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return reject(models.ScanMessageUnknownCode, appErrors.ErrUnknownCode, nil)
			}
			return err
		}
		current = item

		decision := decideTransition(item, actor, at)
		if decision.reject != nil {
			return reject(decision.message, decision.reject, item)
		}
		if err := tx.TransitionItem(ctx, decision.update); err != nil {
			return err
		}
		loan, err := s.writeLedger(ctx, tx, item, actor, decision, at)
		if err != nil {
			return err
		}
		result = successResult(item, decision, loan)
		return nil
	})

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, errScanRejected):
		return nil, err
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.WrapAs(appErrors.ErrConflict, err, "item changed while scanning, please scan again")
	case errors.Is(err, repository.ErrOpenLoanExists):
		// A concurrent writer recorded a loan between the listing and the insert.
		if current != nil {
			s.requestRepair(current.ID, "open loan already recorded for available item")
		}
		return nil, appErrors.WrapAs(appErrors.ErrConflict, err, "loan history is being repaired, please scan again shortly")
	default:
		s.logger.Error("scan transaction failed", zap.String("code", code), zap.String("organization_id", actor.OrganizationID), zap.Error(err))
		return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "")
	}
}

func (s *LendingService) scanSequential(ctx context.Context, code string, actor models.Actor) (*models.ScanResult, error) {
	at := s.now().UTC()
	item, err := s.store.FindItemByScanCode(ctx, actor.OrganizationID, code, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reject(models.ScanMessageUnknownCode, appErrors.ErrUnknownCode, nil)
		}
		return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "")
	}

	decision := decideTransition(item, actor, at)
	if decision.reject != nil {
		return nil, reject(decision.message, decision.reject, item)
	}

	// The item row is the source of truth and is written exactly once.
	if err := s.store.TransitionItem(ctx, decision.update); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WrapAs(appErrors.ErrConflict, err, "item changed while scanning, please scan again")
		}
		return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "")
	}

	loan, ledgerErr := s.writeLedgerWithRetry(context.WithoutCancel(ctx), item, actor, decision, at)
	result := successResult(item, decision, loan)
	if ledgerErr != nil {
		s.reportInconsistency(item, actor, decision, ledgerErr)
		result.Warning = ConsistencyWarningText
	}
	return result, nil
}

func (s *LendingService) writeLedger(ctx context.Context, tx repository.LendingTx, item *models.Item, actor models.Actor, decision scanDecision, at time.Time) (*models.LoanRecord, error) {
	switch decision.kind {
	case models.ScanKindCheckout:
		open, err := tx.ListOpenLoans(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		for i := range open {
			// A newer loan belongs to a later scan; the insert below reports it.
			if open[i].CheckedOutAt.After(at) {
				continue
			}
			if err := s.closeStrayLoan(ctx, tx, &open[i], at); err != nil {
				return nil, err
			}
		}
		loan := &models.LoanRecord{
			OrganizationID: item.OrganizationID,
			ItemID:         item.ID,
			UserID:         actor.ID,
			CheckedOutAt:   at,
		}
		if err := tx.OpenLoan(ctx, loan); err != nil {
			return nil, err
		}
		return loan, nil
	case models.ScanKindCheckin:
		return s.closeHolderLoan(ctx, tx, item, at)
	default:
		return nil, nil
	}
}

// closeHolderLoan closes the open loan of the item's holder as returned. Open loans
// of other users are closed as reconciled. A holder without a recorded loan gets
// one backfilled from the item's status change so the check-in is not lost.
func (s *LendingService) closeHolderLoan(ctx context.Context, tx repository.LendingTx, item *models.Item, at time.Time) (*models.LoanRecord, error) {
	holder := item.Holder()
	open, err := tx.ListOpenLoans(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	var returned *models.LoanRecord
	for i := range open {
		loan := &open[i]
		if loan.UserID == holder && returned == nil {
			returned, err = tx.CloseOpenLoan(ctx, repository.CloseLoanParams{
				ItemID: item.ID,
				LoanID: loan.ID,
				UserID: holder,
				At:     laterOf(at, loan.CheckedOutAt),
				Reason: models.LoanCloseReturned,
			})
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
			continue
		}
		if loan.CheckedOutAt.After(at) {
			continue
		}
		if err := s.closeStrayLoan(ctx, tx, loan, at); err != nil {
			return nil, err
		}
	}
	if returned != nil || holder == "" {
		return returned, nil
	}

	s.logger.Warn("check-in found no open loan for holder, backfilling",
		zap.String("item_id", item.ID), zap.String("holder_id", holder))
	checkedOut := item.StatusChangedAt
	if checkedOut.IsZero() || checkedOut.After(at) {
		checkedOut = at
	}
	backfill := &models.LoanRecord{
		OrganizationID: item.OrganizationID,
		ItemID:         item.ID,
		UserID:         holder,
		CheckedOutAt:   checkedOut,
	}
	if err := tx.OpenLoan(ctx, backfill); err != nil {
		return nil, err
	}
	s.metrics.RecordLedgerRepair(RepairMissingOpened)
	return tx.CloseOpenLoan(ctx, repository.CloseLoanParams{
		ItemID: item.ID,
		LoanID: backfill.ID,
		UserID: holder,
		At:     at,
		Reason: models.LoanCloseReturned,
	})
}

// closeStrayLoan closes an open loan that does not belong to the scan's holder.
func (s *LendingService) closeStrayLoan(ctx context.Context, tx repository.LendingTx, loan *models.LoanRecord, at time.Time) error {
	_, err := tx.CloseOpenLoan(ctx, repository.CloseLoanParams{
		ItemID: loan.ItemID,
		LoanID: loan.ID,
		At:     at,
		Reason: models.LoanCloseReconciled,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Warn("closed stray open loan",
		zap.String("event", "ledger_repair"),
		zap.String("item_id", loan.ItemID),
		zap.String("loan_id", loan.ID),
		zap.String("user_id", loan.UserID))
	s.metrics.RecordLedgerRepair(RepairOrphanClosed)
	return nil
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func (s *LendingService) writeLedgerWithRetry(ctx context.Context, item *models.Item, actor models.Actor, decision scanDecision, at time.Time) (*models.LoanRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.LedgerRetryAttempts; attempt++ {
		loan, err := s.writeLedger(ctx, s.store, item, actor, decision, at)
		if err == nil {
			return loan, nil
		}
		lastErr = err
		if errors.Is(err, repository.ErrOpenLoanExists) {
			break
		}
		s.logger.Warn("ledger write failed",
			zap.String("item_id", item.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < s.cfg.LedgerRetryAttempts && s.cfg.LedgerRetryDelay > 0 {
			s.sleep(s.cfg.LedgerRetryDelay * time.Duration(attempt))
		}
	}
	return nil, lastErr
}

// reportInconsistency records that the item changed without its ledger entry.
func (s *LendingService) reportInconsistency(item *models.Item, actor models.Actor, decision scanDecision, cause error) {
	s.logger.Warn("item status and loan ledger disagree",
		zap.String("event", "consistency_warning"),
		zap.String("item_id", item.ID),
		zap.String("organization_id", item.OrganizationID),
		zap.String("actor_id", actor.ID),
		zap.String("kind", string(decision.kind)),
		zap.Error(cause))
	s.metrics.RecordConsistencyWarning()
	s.requestRepair(item.ID, "ledger write failed")
}

func (s *LendingService) requestRepair(itemID, reason string) {
	if s.repairs == nil {
		return
	}
	if err := s.repairs.EnqueueRepair(itemID); err != nil {
		s.logger.Warn("failed to enqueue ledger repair, periodic reconciliation will pick it up",
			zap.String("item_id", itemID), zap.String("reason", reason), zap.Error(err))
	}
}

func successResult(item *models.Item, decision scanDecision, loan *models.LoanRecord) *models.ScanResult {
	updated := *item
	updated.Status = decision.update.Status
	updated.HolderUserID = decision.update.Holder
	updated.StatusChangedAt = decision.update.At
	updated.UpdatedAt = decision.update.At

	result := models.NewScanResult(true, decision.message)
	result.Kind = decision.kind
	result.Item = &updated
	result.Loan = loan
	return result
}

func (s *LendingService) emitAudit(ctx context.Context, actor models.Actor, result *models.ScanResult) {
	if s.audit == nil || result == nil || result.Item == nil {
		return
	}
	action := models.AuditActionItemCheckout
	if result.Kind == models.ScanKindCheckin {
		action = models.AuditActionItemCheckin
	}
	payload := map[string]interface{}{"scanCode": result.Item.ScanCode, "kind": result.Kind}
	if result.Loan != nil {
		payload["loanId"] = result.Loan.ID
	}
	if result.Warning != "" {
		payload["ledgerPending"] = true
	}
	s.writeAudit(ctx, actor, action, result.Item.ID, nil, payload)
}

func (s *LendingService) writeAudit(ctx context.Context, actor models.Actor, action, itemID string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &actor.ID,
		Action:     action,
		Resource:   "item",
		ResourceID: &itemID,
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.audit.CreateAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

// SetStatus toggles an item between available and defective. Loaned items must be
// checked in first.
func (s *LendingService) SetStatus(ctx context.Context, itemID string, req dto.SetItemStatusRequest, actor models.Actor) (*models.Item, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if !IsPrivileged(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can change item status")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}

	item, err := s.store.FindItemByID(ctx, itemID, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "item not found")
		}
		return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "")
	}
	if item.OrganizationID != actor.OrganizationID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "item not found")
	}
	if item.Status == req.Status {
		return item, nil
	}
	if item.Status == models.ItemStatusLoaned {
		return nil, appErrors.Clone(appErrors.ErrConflict, "item is on loan and must be checked in first")
	}

	at := s.now().UTC()
	err = s.store.TransitionItem(ctx, repository.ItemTransitionParams{
		ItemID:         item.ID,
		ExpectedStatus: item.Status,
		ExpectedHolder: item.HolderUserID,
		Status:         req.Status,
		At:             at,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WrapAs(appErrors.ErrConflict, err, "item changed concurrently")
		}
		return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "")
	}

	previous := item.Status
	item.Status = req.Status
	item.HolderUserID = nil
	item.StatusChangedAt = at
	item.UpdatedAt = at
	s.writeAudit(ctx, actor, models.AuditActionItemStatus, item.ID,
		map[string]string{"status": string(previous)},
		map[string]string{"status": string(item.Status)})
	s.logger.Info("item status changed",
		zap.String("item_id", item.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(item.Status)),
		zap.String("actor_id", actor.ID))
	return item, nil
}

func validateActor(actor models.Actor) error {
	if actor.ID == "" || actor.OrganizationID == "" || !actor.Role.Valid() {
		return appErrors.Clone(appErrors.ErrUnauthorized, "missing or invalid actor")
	}
	return nil
}
