package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/dto"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/repository"
	appErrors "github.com/FLX-Software/flx-assets-2026-sub000/pkg/errors"
)

const (
	scanCodePrefix        = "FLX-"
	scanCodeGenerateTries = 3
)

type itemStore interface {
	Create(ctx context.Context, item *models.Item) error
	GetByID(ctx context.Context, organizationID, id string) (*models.Item, error)
	List(ctx context.Context, filter models.ItemFilter) ([]models.Item, int, error)
}

type maintenanceDecorator interface {
	Evaluate(ctx context.Context, item models.Item) models.MaintenanceStatus
	Decorate(ctx context.Context, items []models.Item) []models.ItemView
}

// ItemService manages item master data.
type ItemService struct {
	repo        itemStore
	maintenance maintenanceDecorator
	audit       auditWriter
	validator   *validator.Validate
	logger      *zap.Logger
	newCode     func() (string, error)
}

// NewItemService constructs the service.
func NewItemService(repo itemStore, maintenance maintenanceDecorator, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *ItemService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemService{repo: repo, maintenance: maintenance, audit: audit, validator: validate, logger: logger, newCode: generateScanCode}
}

// Create registers an item in the actor's organization. Without a supplied scan
// code one is generated; scan codes are unique across all organizations.
func (s *ItemService) Create(ctx context.Context, req dto.CreateItemRequest, actor models.Actor) (*models.ItemView, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if !IsPrivileged(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can register items")
	}
	req.ScanCode = strings.TrimSpace(req.ScanCode)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid item payload")
	}
	if len(req.Attributes) > 0 && !json.Valid(req.Attributes) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attributes must be valid JSON")
	}

	item := &models.Item{
		OrganizationID:               actor.OrganizationID,
		Name:                         strings.TrimSpace(req.Name),
		Category:                     req.Category,
		NextMaintenanceDate:          req.NextMaintenanceDate.Ptr(),
		NextRegulatoryInspectionDate: req.NextRegulatoryInspectionDate.Ptr(),
		LastPeriodicSafetyCheckDate:  req.LastPeriodicSafetyCheckDate.Ptr(),
		MaintenanceIntervalMonths:    req.MaintenanceIntervalMonths,
		Attributes:                   req.Attributes,
	}

	generated := req.ScanCode == ""
	tries := 1
	if generated {
		tries = scanCodeGenerateTries
	}
	var err error
	for attempt := 0; attempt < tries; attempt++ {
		item.ID = ""
		item.ScanCode = req.ScanCode
		if generated {
			if item.ScanCode, err = s.newCode(); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate scan code")
			}
		}
		if err = s.repo.Create(ctx, item); !errors.Is(err, repository.ErrDuplicateScanCode) {
			break
		}
		s.logger.Debug("scan code collision", zap.String("scan_code", item.ScanCode), zap.Bool("generated", generated))
	}
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateScanCode) {
			return nil, appErrors.WrapAs(appErrors.ErrConflict, err, "scan code already in use")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create item")
	}

	if s.audit != nil {
		payload, _ := json.Marshal(map[string]string{"scanCode": item.ScanCode, "name": item.Name, "category": string(item.Category)})
		itemID := item.ID
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actor.ID,
			Action:     models.AuditActionItemCreate,
			Resource:   "item",
			ResourceID: &itemID,
			NewValues:  payload,
		}); err != nil {
			s.logger.Warn("failed to record item audit log", zap.Error(err))
		}
	}

	return &models.ItemView{Item: *item, Maintenance: s.maintenance.Evaluate(ctx, *item)}, nil
}

// List returns a page of the organization's items with their maintenance status.
func (s *ItemService) List(ctx context.Context, query dto.ItemQuery, actor models.Actor) ([]models.ItemView, *models.Pagination, error) {
	if err := validateActor(actor); err != nil {
		return nil, nil, err
	}
	if query.Status != "" && !query.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
	}
	page, size := query.Page, query.PageSize
	if page <= 0 {
		page = 1
	}
	if page > repository.MaxItemPage {
		page = repository.MaxItemPage
	}
	if size <= 0 || size > 200 {
		size = 50
	}

	items, total, err := s.repo.List(ctx, models.ItemFilter{
		OrganizationID: actor.OrganizationID,
		Status:         query.Status,
		Category:       query.Category,
		Search:         query.Search,
		Page:           page,
		PageSize:       size,
	})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list items")
	}
	return s.maintenance.Decorate(ctx, items), &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one item of the organization.
func (s *ItemService) Get(ctx context.Context, id string, actor models.Actor) (*models.ItemView, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	item, err := s.repo.GetByID(ctx, actor.OrganizationID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "item not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load item")
	}
	return &models.ItemView{Item: *item, Maintenance: s.maintenance.Evaluate(ctx, *item)}, nil
}

// Maintenance returns only the maintenance status of an item.
func (s *ItemService) Maintenance(ctx context.Context, id string, actor models.Actor) (*models.MaintenanceStatus, error) {
	view, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return &view.Maintenance, nil
}

func generateScanCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return scanCodePrefix + strings.ToUpper(hex.EncodeToString(buf)), nil
}
