package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/repository"
)

// memLendingStore mimics the postgres lending store: transactions are serialized
// and roll back to a snapshot, the open-loan uniqueness rule is enforced.
type memLendingStore struct {
	mu    sync.Mutex
	items map[string]*models.Item
	loans []*models.LoanRecord

	openLoanFailures  int
	closeLoanFailures int
	transitionErr     error
	beforeTransition  func(item *models.Item)
	txCount           int
}

func newMemLendingStore(items ...models.Item) *memLendingStore {
	store := &memLendingStore{items: make(map[string]*models.Item)}
	for i := range items {
		item := items[i]
		store.items[item.ID] = &item
	}
	return store
}

func (m *memLendingStore) WithinTx(ctx context.Context, fn func(repository.LendingTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	items := make(map[string]*models.Item, len(m.items))
	for id, item := range m.items {
		clone := *item
		items[id] = &clone
	}
	loans := make([]*models.LoanRecord, len(m.loans))
	for i, loan := range m.loans {
		clone := *loan
		loans[i] = &clone
	}

	if err := fn(memTx{m}); err != nil {
		m.items = items
		m.loans = loans
		return err
	}
	return nil
}

func (m *memLendingStore) FindItemByScanCode(ctx context.Context, organizationID, code string, lock bool) (*models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.FindItemByScanCode(ctx, organizationID, code, lock)
}

func (m *memLendingStore) FindItemByID(ctx context.Context, id string, lock bool) (*models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.FindItemByID(ctx, id, lock)
}

func (m *memLendingStore) TransitionItem(ctx context.Context, params repository.ItemTransitionParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.TransitionItem(ctx, params)
}

func (m *memLendingStore) OpenLoan(ctx context.Context, loan *models.LoanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.OpenLoan(ctx, loan)
}

func (m *memLendingStore) CloseOpenLoan(ctx context.Context, params repository.CloseLoanParams) (*models.LoanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.CloseOpenLoan(ctx, params)
}

func (m *memLendingStore) ListOpenLoans(ctx context.Context, itemID string) ([]models.LoanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.ListOpenLoans(ctx, itemID)
}

func (m *memLendingStore) ListByStatus(ctx context.Context, status models.ItemStatus) ([]models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Item
	for _, item := range m.items {
		if item.Status == status {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memLendingStore) ListOpen(ctx context.Context) ([]models.LoanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LoanRecord
	for _, loan := range m.loans {
		if loan.Open() {
			out = append(out, *loan)
		}
	}
	return out, nil
}

func (m *memLendingStore) item(id string) models.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.items[id]
}

func (m *memLendingStore) openLoans(itemID string) []models.LoanRecord {
	loans, _ := m.ListOpenLoans(context.Background(), itemID)
	return loans
}

func (m *memLendingStore) allLoans() []models.LoanRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.LoanRecord, 0, len(m.loans))
	for _, loan := range m.loans {
		out = append(out, *loan)
	}
	return out
}

// memTx runs against the store with its mutex already held.
type memTx struct{ m *memLendingStore }

func (t memTx) FindItemByScanCode(ctx context.Context, organizationID, code string, lock bool) (*models.Item, error) {
	for _, item := range t.m.items {
		if item.OrganizationID == organizationID && item.ScanCode == code {
			clone := *item
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (t memTx) FindItemByID(ctx context.Context, id string, lock bool) (*models.Item, error) {
	item, ok := t.m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *item
	return &clone, nil
}

func (t memTx) TransitionItem(ctx context.Context, params repository.ItemTransitionParams) error {
	if t.m.transitionErr != nil {
		return t.m.transitionErr
	}
	item, ok := t.m.items[params.ItemID]
	if !ok {
		return sql.ErrNoRows
	}
	if t.m.beforeTransition != nil {
		t.m.beforeTransition(item)
	}
	if item.Status != params.ExpectedStatus || holderValue(item.HolderUserID) != holderValue(params.ExpectedHolder) {
		return sql.ErrNoRows
	}
	item.Status = params.Status
	item.HolderUserID = copyHolder(params.Holder)
	item.StatusChangedAt = params.At
	item.UpdatedAt = params.At
	return nil
}

func (t memTx) OpenLoan(ctx context.Context, loan *models.LoanRecord) error {
	if loan.ID == "" {
		loan.ID = uuid.NewString()
	}
	if t.m.openLoanFailures > 0 {
		t.m.openLoanFailures--
		return errors.New("ledger unavailable")
	}
	for _, existing := range t.m.loans {
		if existing.ItemID == loan.ItemID && existing.Open() {
			return repository.ErrOpenLoanExists
		}
	}
	clone := *loan
	t.m.loans = append(t.m.loans, &clone)
	return nil
}

func (t memTx) CloseOpenLoan(ctx context.Context, params repository.CloseLoanParams) (*models.LoanRecord, error) {
	if t.m.closeLoanFailures > 0 {
		t.m.closeLoanFailures--
		return nil, errors.New("ledger unavailable")
	}
	for _, loan := range t.m.loans {
		if loan.ItemID != params.ItemID || !loan.Open() {
			continue
		}
		if params.LoanID != "" && loan.ID != params.LoanID {
			continue
		}
		if params.UserID != "" && loan.UserID != params.UserID {
			continue
		}
		at := params.At
		reason := params.Reason
		loan.CheckedInAt = &at
		loan.CloseReason = &reason
		clone := *loan
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (t memTx) ListOpenLoans(ctx context.Context, itemID string) ([]models.LoanRecord, error) {
	var out []models.LoanRecord
	for _, loan := range t.m.loans {
		if loan.ItemID == itemID && loan.Open() {
			out = append(out, *loan)
		}
	}
	return out, nil
}

func holderValue(holder *string) string {
	if holder == nil {
		return ""
	}
	return *holder
}

func copyHolder(holder *string) *string {
	if holder == nil {
		return nil
	}
	value := *holder
	return &value
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (r *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, log)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Action)
	}
	return out
}

type recordingRepairs struct {
	mu    sync.Mutex
	items []string
	err   error
}

func (r *recordingRepairs) EnqueueRepair(itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, itemID)
	return r.err
}

type stubLocker struct {
	acquired bool
	err      error
	released []string
}

func (s *stubLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return "token", s.acquired, s.err
}

func (s *stubLocker) Release(ctx context.Context, key, token string) error {
	s.released = append(s.released, key)
	return nil
}
