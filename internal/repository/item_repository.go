package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
)

const itemColumns = `id, organization_id, scan_code, name, category, status, holder_user_id,
	next_maintenance_date, next_regulatory_inspection_date, last_periodic_safety_check_date,
	maintenance_interval_months, attributes, status_changed_at, created_at, updated_at`

// MaxItemPage bounds the page number so the list offset cannot overflow.
const MaxItemPage = 100000

// ItemRepository persists item master data.
type ItemRepository struct {
	db *sqlx.DB
}

// NewItemRepository constructs the repository.
func NewItemRepository(db *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create inserts a new item. Scan code collisions with any organization yield ErrDuplicateScanCode.
func (r *ItemRepository) Create(ctx context.Context, item *models.Item) error {
	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = models.ItemStatusAvailable
	}
	if len(item.Attributes) == 0 {
		item.Attributes = []byte("{}")
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	item.StatusChangedAt = now

	const query = `INSERT INTO items (` + itemColumns + `)
	VALUES (:id, :organization_id, :scan_code, :name, :category, :status, :holder_user_id,
	:next_maintenance_date, :next_regulatory_inspection_date, :last_periodic_safety_check_date,
	:maintenance_interval_months, :attributes, :status_changed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, item); err != nil {
		if isUniqueViolation(err, constraintScanCode) {
			return ErrDuplicateScanCode
		}
		return fmt.Errorf("create item: %w", err)
	}
	return nil
}

// GetByID fetches an item inside the organization scope.
func (r *ItemRepository) GetByID(ctx context.Context, organizationID, id string) (*models.Item, error) {
	const query = `SELECT ` + itemColumns + ` FROM items WHERE organization_id = $1 AND id = $2`
	var item models.Item
	if err := r.db.GetContext(ctx, &item, query, organizationID, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// List returns a page of items for the organization plus the total count.
func (r *ItemRepository) List(ctx context.Context, filter models.ItemFilter) ([]models.Item, int, error) {
	where, args := itemConditions(filter)

	var total int
	countQuery := "SELECT COUNT(*) FROM items WHERE " + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	if page > MaxItemPage {
		page = MaxItemPage
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	query := fmt.Sprintf("SELECT %s FROM items WHERE %s ORDER BY name ASC, id ASC LIMIT %d OFFSET %d",
		itemColumns, where, size, (page-1)*size)

	var items []models.Item
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	return items, total, nil
}

// ListAll returns every item of the organization; used by dashboard feeds.
func (r *ItemRepository) ListAll(ctx context.Context, organizationID string) ([]models.Item, error) {
	const query = `SELECT ` + itemColumns + ` FROM items WHERE organization_id = $1 ORDER BY name ASC, id ASC`
	var items []models.Item
	if err := r.db.SelectContext(ctx, &items, query, organizationID); err != nil {
		return nil, fmt.Errorf("list organization items: %w", err)
	}
	return items, nil
}

// ListByStatus returns items across all organizations with the given status.
func (r *ItemRepository) ListByStatus(ctx context.Context, status models.ItemStatus) ([]models.Item, error) {
	const query = `SELECT ` + itemColumns + ` FROM items WHERE status = $1`
	var items []models.Item
	if err := r.db.SelectContext(ctx, &items, query, status); err != nil {
		return nil, fmt.Errorf("list items by status: %w", err)
	}
	return items, nil
}

func itemConditions(filter models.ItemFilter) (string, []interface{}) {
	args := []interface{}{filter.OrganizationID}
	conditions := []string{"organization_id = $1"}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR scan_code ILIKE $%d)", len(args), len(args)))
	}
	return strings.Join(conditions, " AND "), args
}
