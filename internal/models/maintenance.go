package models

import "time"

// MaintenanceCategory names a deadline tracked for an item.
type MaintenanceCategory string

const (
	MaintenanceRegulatoryInspection MaintenanceCategory = "regulatoryInspection"
	MaintenancePeriodicSafetyCheck  MaintenanceCategory = "periodicSafetyCheck"
	MaintenanceGeneral              MaintenanceCategory = "generalMaintenance"
)

// MaintenanceCategories lists every category in display order.
var MaintenanceCategories = []MaintenanceCategory{
	MaintenanceRegulatoryInspection,
	MaintenancePeriodicSafetyCheck,
	MaintenanceGeneral,
}

// MaintenanceLevel is the health of a single deadline.
type MaintenanceLevel string

const (
	MaintenanceOK      MaintenanceLevel = "ok"
	MaintenanceWarning MaintenanceLevel = "warning"
	MaintenanceOverdue MaintenanceLevel = "overdue"
)

// MaintenanceStatus is derived from an item's deadlines and never persisted.
type MaintenanceStatus struct {
	ItemID      string                                   `json:"itemId"`
	EvaluatedOn string                                   `json:"evaluatedOn"`
	PerCategory map[MaintenanceCategory]MaintenanceLevel `json:"perCategory"`
	Deadlines   map[MaintenanceCategory]*time.Time       `json:"deadlines"`
	IsCritical  bool                                     `json:"isCritical"`
	HasOverdue  bool                                     `json:"hasOverdue"`
}

// ItemView decorates an item with its maintenance status.
type ItemView struct {
	Item
	Maintenance MaintenanceStatus `json:"maintenance"`
}
