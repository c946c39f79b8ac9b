package service

import (
	"time"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
)

// DefaultWarningHorizon is how far ahead a deadline starts to count as a warning.
const DefaultWarningHorizon = 30 * 24 * time.Hour

// EvaluateMaintenance classifies every maintenance deadline of item relative to now.
// Comparison happens on calendar days: now is projected onto its date in its own
// location, deadlines are stored dates. A deadline before today is overdue, one
// before today+horizon is a warning, anything later or missing is ok.
func EvaluateMaintenance(item models.Item, now time.Time, horizon time.Duration) models.MaintenanceStatus {
	if horizon <= 0 {
		horizon = DefaultWarningHorizon
	}
	today := civilDate(now.Date())
	limit := today.Add(horizon)

	status := models.MaintenanceStatus{
		ItemID:      item.ID,
		EvaluatedOn: today.Format(dateLayout),
		PerCategory: make(map[models.MaintenanceCategory]models.MaintenanceLevel, len(models.MaintenanceCategories)),
		Deadlines:   make(map[models.MaintenanceCategory]*time.Time, len(models.MaintenanceCategories)),
	}

	for _, category := range models.MaintenanceCategories {
		deadline := maintenanceDeadline(item, category)
		level := models.MaintenanceOK
		if deadline != nil {
			switch {
			case deadline.Before(today):
				level = models.MaintenanceOverdue
			case deadline.Before(limit):
				level = models.MaintenanceWarning
			}
		}
		status.PerCategory[category] = level
		status.Deadlines[category] = deadline

		switch level {
		case models.MaintenanceOverdue:
			status.HasOverdue = true
			status.IsCritical = true
		case models.MaintenanceWarning:
			status.IsCritical = true
		}
	}

	return status
}

const dateLayout = "2006-01-02"

func maintenanceDeadline(item models.Item, category models.MaintenanceCategory) *time.Time {
	var deadline time.Time
	switch category {
	case models.MaintenanceRegulatoryInspection:
		if item.NextRegulatoryInspectionDate == nil {
			return nil
		}
		deadline = storedDate(*item.NextRegulatoryInspectionDate)
	case models.MaintenancePeriodicSafetyCheck:
		if item.LastPeriodicSafetyCheckDate == nil || item.MaintenanceIntervalMonths <= 0 {
			return nil
		}
		deadline = addMonths(storedDate(*item.LastPeriodicSafetyCheckDate), item.MaintenanceIntervalMonths)
	case models.MaintenanceGeneral:
		if item.NextMaintenanceDate == nil {
			return nil
		}
		deadline = storedDate(*item.NextMaintenanceDate)
	default:
		return nil
	}
	return &deadline
}

// storedDate reads a DATE column value, which the driver returns as UTC midnight.
func storedDate(t time.Time) time.Time {
	return civilDate(t.UTC().Date())
}

func civilDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// addMonths moves d by n calendar months, clamping to the last day of the
// target month so Jan 31 + 1 month is the end of February.
func addMonths(d time.Time, n int) time.Time {
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := d.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
