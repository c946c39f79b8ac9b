package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/repository"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/jobs"
)

const ledgerRepairJob = "ledger_repair"

// Repair kinds reported by reconciliation.
const (
	RepairOrphanClosed   = "orphan_closed"
	RepairMissingOpened  = "missing_opened"
	RepairHolderMismatch = "holder_mismatch"
)

type loanedItemLister interface {
	ListByStatus(ctx context.Context, status models.ItemStatus) ([]models.Item, error)
}

type openLoanLister interface {
	ListOpen(ctx context.Context) ([]models.LoanRecord, error)
}

type lendingUnitOfWork interface {
	WithinTx(ctx context.Context, fn func(repository.LendingTx) error) error
}

// ReconciliationConfig schedules ledger repair.
type ReconciliationConfig struct {
	Interval   time.Duration
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	Checked          int       `json:"checked"`
	OrphansClosed    int       `json:"orphansClosed"`
	MissingOpened    int       `json:"missingOpened"`
	HolderMismatches int       `json:"holderMismatches"`
	Errors           int       `json:"errors"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
}

func (r *ReconcileReport) add(outcome repairOutcome) {
	r.OrphansClosed += outcome.orphansClosed
	r.MissingOpened += outcome.missingOpened
	r.HolderMismatches += outcome.holderMismatches
}

type repairOutcome struct {
	orphansClosed    int
	missingOpened    int
	holderMismatches int
}

func (o repairOutcome) changed() bool {
	return o.orphansClosed+o.missingOpened+o.holderMismatches > 0
}

// ReconciliationService brings the loan ledger back in line with item status,
// which is the source of truth.
type ReconciliationService struct {
	items   loanedItemLister
	loans   openLoanLister
	uow     lendingUnitOfWork
	audit   auditWriter
	metrics *MetricsService
	logger  *zap.Logger
	cfg     ReconciliationConfig
	queue   *jobs.Queue
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciliationService constructs the service and its repair queue.
func NewReconciliationService(items loanedItemLister, loans openLoanLister, uow lendingUnitOfWork, audit auditWriter, metrics *MetricsService, logger *zap.Logger, cfg ReconciliationConfig) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ReconciliationService{
		items:   items,
		loans:   loans,
		uow:     uow,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
	svc.queue = jobs.NewQueue("ledger-repair", svc.handleRepairJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnGiveUp: func(job jobs.Job, err error) {
			logger.Error("ledger repair abandoned until next reconciliation pass",
				zap.String("event", "consistency_warning"),
				zap.Any("item_id", job.Payload),
				zap.Error(err))
		},
	})
	return svc
}

// Start launches the repair workers and the periodic pass. It returns immediately.
func (s *ReconciliationService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.queue.Start(ctx)

	go func() {
		defer close(s.done)
		if s.cfg.Interval <= 0 {
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.logger.Error("scheduled reconciliation failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the periodic pass and the repair workers.
func (s *ReconciliationService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.queue.Stop()
}

// EnqueueRepair schedules a repair of one item's ledger.
func (s *ReconciliationService) EnqueueRepair(itemID string) error {
	return s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: ledgerRepairJob, Payload: itemID})
}

func (s *ReconciliationService) handleRepairJob(ctx context.Context, job jobs.Job) error {
	itemID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	outcome, err := s.repairItem(ctx, itemID)
	if err != nil {
		return err
	}
	s.logger.Info("ledger repair job completed",
		zap.String("item_id", itemID),
		zap.Bool("changed", outcome.changed()),
		zap.Int("attempt", job.Attempt))
	return nil
}

// RunOnce compares loaned items with open loan records and repairs every item
// where they disagree.
func (s *ReconciliationService) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{StartedAt: s.now().UTC()}

	items, err := s.items.ListByStatus(ctx, models.ItemStatusLoaned)
	if err != nil {
		return nil, fmt.Errorf("load loaned items: %w", err)
	}
	loans, err := s.loans.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open loans: %w", err)
	}

	loaned := mapset.NewThreadUnsafeSet[string]()
	holders := make(map[string]string, len(items))
	for _, item := range items {
		loaned.Add(item.ID)
		holders[item.ID] = item.Holder()
	}
	open := mapset.NewThreadUnsafeSet[string]()
	mismatched := mapset.NewThreadUnsafeSet[string]()
	for _, loan := range loans {
		if open.Contains(loan.ItemID) {
			mismatched.Add(loan.ItemID)
		}
		open.Add(loan.ItemID)
		if holder, ok := holders[loan.ItemID]; ok && holder != loan.UserID {
			mismatched.Add(loan.ItemID)
		}
	}

	suspects := open.Difference(loaned).Union(loaned.Difference(open)).Union(mismatched).ToSlice()
	sort.Strings(suspects)
	report.Checked = loaned.Union(open).Cardinality()

	for _, itemID := range suspects {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := s.repairItem(ctx, itemID)
		if err != nil {
			report.Errors++
			s.logger.Error("ledger repair failed", zap.String("item_id", itemID), zap.Error(err))
			continue
		}
		report.add(outcome)
	}

	report.FinishedAt = s.now().UTC()
	s.logger.Info("reconciliation finished",
		zap.Int("checked", report.Checked),
		zap.Int("suspects", len(suspects)),
		zap.Int("orphans_closed", report.OrphansClosed),
		zap.Int("missing_opened", report.MissingOpened),
		zap.Int("holder_mismatches", report.HolderMismatches),
		zap.Int("errors", report.Errors))
	return report, nil
}

// repairItem re-reads the item under lock and rewrites its open ledger entries
// to match the item's status and holder.
func (s *ReconciliationService) repairItem(ctx context.Context, itemID string) (repairOutcome, error) {
	var outcome repairOutcome
	var item *models.Item
	at := s.now().UTC()

	err := s.uow.WithinTx(ctx, func(tx repository.LendingTx) error {
		outcome = repairOutcome{}
		current, err := tx.FindItemByID(ctx, itemID, true)
		if err != nil {
			return err
		}
		item = current

		openLoans, err := tx.ListOpenLoans(ctx, itemID)
		if err != nil {
			return err
		}

		holder := current.Holder()
		keep := -1
		if current.Status == models.ItemStatusLoaned {
			for i, loan := range openLoans {
				if loan.UserID == holder {
					keep = i
					break
				}
			}
		}

		for i, loan := range openLoans {
			if i == keep {
				continue
			}
			if _, err := tx.CloseOpenLoan(ctx, repository.CloseLoanParams{
				ItemID: itemID,
				LoanID: loan.ID,
				At:     at,
				Reason: models.LoanCloseReconciled,
			}); err != nil {
				return err
			}
			if current.Status == models.ItemStatusLoaned {
				outcome.holderMismatches++
			} else {
				outcome.orphansClosed++
			}
		}

		if current.Status == models.ItemStatusLoaned && keep < 0 {
			checkedOut := current.StatusChangedAt
			if checkedOut.IsZero() {
				checkedOut = at
			}
			if err := tx.OpenLoan(ctx, &models.LoanRecord{
				OrganizationID: current.OrganizationID,
				ItemID:         current.ID,
				UserID:         holder,
				CheckedOutAt:   checkedOut,
			}); err != nil {
				return err
			}
			if outcome.holderMismatches == 0 {
				outcome.missingOpened++
			}
		}
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("ledger repair skipped, item no longer exists", zap.String("item_id", itemID))
		return repairOutcome{}, nil
	}
	if err != nil {
		return repairOutcome{}, fmt.Errorf("repair item %s: %w", itemID, err)
	}

	if outcome.changed() {
		s.recordRepair(ctx, item, outcome)
	}
	return outcome, nil
}

func (s *ReconciliationService) recordRepair(ctx context.Context, item *models.Item, outcome repairOutcome) {
	for kind, count := range map[string]int{
		RepairOrphanClosed:   outcome.orphansClosed,
		RepairMissingOpened:  outcome.missingOpened,
		RepairHolderMismatch: outcome.holderMismatches,
	} {
		for i := 0; i < count; i++ {
			s.metrics.RecordLedgerRepair(kind)
		}
	}
	s.logger.Info("ledger repaired",
		zap.String("item_id", item.ID),
		zap.String("status", string(item.Status)),
		zap.Int("orphans_closed", outcome.orphansClosed),
		zap.Int("missing_opened", outcome.missingOpened),
		zap.Int("holder_mismatches", outcome.holderMismatches))

	if s.audit == nil {
		return
	}
	itemID := item.ID
	payload := fmt.Sprintf(`{"orphansClosed":%d,"missingOpened":%d,"holderMismatches":%d}`,
		outcome.orphansClosed, outcome.missingOpened, outcome.holderMismatches)
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		Action:     models.AuditActionLedgerReconciled,
		Resource:   "item",
		ResourceID: &itemID,
		NewValues:  []byte(payload),
	}); err != nil {
		s.logger.Warn("failed to record reconciliation audit log", zap.Error(err))
	}
}
