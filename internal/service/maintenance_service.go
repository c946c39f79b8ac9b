package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	appErrors "github.com/FLX-Software/flx-assets-2026-sub000/pkg/errors"
)

type maintenanceItemReader interface {
	ListAll(ctx context.Context, organizationID string) ([]models.Item, error)
}

// MaintenanceConfig controls deadline classification.
type MaintenanceConfig struct {
	WarningHorizon time.Duration
	Location       *time.Location
	CacheTTL       time.Duration
}

const maintenanceCachePrefix = "maintenance:"

// MaintenanceService evaluates item deadlines and memoizes results per item and day.
type MaintenanceService struct {
	items  maintenanceItemReader
	cache  *CacheService
	logger *zap.Logger
	cfg    MaintenanceConfig
	now    func() time.Time
}

// NewMaintenanceService constructs the service. cache may be nil.
func NewMaintenanceService(items maintenanceItemReader, cache *CacheService, logger *zap.Logger, cfg MaintenanceConfig) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WarningHorizon <= 0 {
		cfg.WarningHorizon = DefaultWarningHorizon
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &MaintenanceService{items: items, cache: cache, logger: logger, cfg: cfg, now: time.Now}
}

// Evaluate returns the maintenance status of item for today.
func (s *MaintenanceService) Evaluate(ctx context.Context, item models.Item) models.MaintenanceStatus {
	now := s.now().In(s.cfg.Location)
	if item.ID == "" {
		return EvaluateMaintenance(item, now, s.cfg.WarningHorizon)
	}
	key := fmt.Sprintf("%s%s:%s:%s", maintenanceCachePrefix, item.ID, now.Format(dateLayout), s.inputDigest(item))
	status, _, _ := Remember(ctx, s.cache, key, s.cfg.CacheTTL, func() (models.MaintenanceStatus, error) {
		return EvaluateMaintenance(item, now, s.cfg.WarningHorizon), nil
	})
	return status
}

// inputDigest fingerprints everything the evaluation reads besides the date, so an
// edited deadline or horizon never hits a stale entry.
func (s *MaintenanceService) inputDigest(item models.Item) string {
	d := xxhash.New()
	for _, deadline := range []*time.Time{item.NextMaintenanceDate, item.NextRegulatoryInspectionDate, item.LastPeriodicSafetyCheckDate} {
		if deadline != nil {
			_, _ = d.WriteString(deadline.UTC().Format(dateLayout))
		}
		_, _ = d.WriteString("|")
	}
	_, _ = d.WriteString(strconv.Itoa(item.MaintenanceIntervalMonths))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(s.cfg.WarningHorizon.String())
	return strconv.FormatUint(d.Sum64(), 36)
}

// Flush drops memoized evaluations, for use after deadlines were edited outside the API.
func (s *MaintenanceService) Flush(ctx context.Context) error {
	return s.cache.Invalidate(ctx, maintenanceCachePrefix+"*")
}

// Decorate attaches the maintenance status to each item.
func (s *MaintenanceService) Decorate(ctx context.Context, items []models.Item) []models.ItemView {
	views := make([]models.ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, models.ItemView{Item: item, Maintenance: s.Evaluate(ctx, item)})
	}
	return views
}

// Attention lists the organization's items that have a warning or overdue deadline,
// overdue items first.
func (s *MaintenanceService) Attention(ctx context.Context, actor models.Actor) ([]models.ItemView, error) {
	if actor.OrganizationID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing organization")
	}
	items, err := s.items.ListAll(ctx, actor.OrganizationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load items")
	}

	var overdue, warning []models.ItemView
	for _, view := range s.Decorate(ctx, items) {
		switch {
		case view.Maintenance.HasOverdue:
			overdue = append(overdue, view)
		case view.Maintenance.IsCritical:
			warning = append(warning, view)
		}
	}
	s.logger.Debug("maintenance attention evaluated",
		zap.String("organization_id", actor.OrganizationID),
		zap.Int("items", len(items)),
		zap.Int("overdue", len(overdue)),
		zap.Int("warning", len(warning)))

	return append(overdue, warning...), nil
}
