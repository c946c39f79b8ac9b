package models

import (
	"encoding/json"
	"time"
)

// ItemStatus is the lifecycle state of an item.
type ItemStatus string

const (
	ItemStatusAvailable ItemStatus = "available"
	ItemStatusLoaned    ItemStatus = "loaned"
	ItemStatusDefective ItemStatus = "defective"
)

// Valid reports whether s is a known status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusAvailable, ItemStatusLoaned, ItemStatusDefective:
		return true
	}
	return false
}

// ItemCategory classifies an item.
type ItemCategory string

const (
	ItemCategoryVehicle ItemCategory = "vehicle"
	ItemCategoryMachine ItemCategory = "machine"
	ItemCategoryTool    ItemCategory = "tool"
)

// Item is a lendable asset identified by its scan code.
type Item struct {
	ID                           string          `db:"id" json:"id"`
	OrganizationID               string          `db:"organization_id" json:"organizationId"`
	ScanCode                     string          `db:"scan_code" json:"scanCode"`
	Name                         string          `db:"name" json:"name"`
	Category                     ItemCategory    `db:"category" json:"category"`
	Status                       ItemStatus      `db:"status" json:"status"`
	HolderUserID                 *string         `db:"holder_user_id" json:"holderUserId"`
	NextMaintenanceDate          *time.Time      `db:"next_maintenance_date" json:"nextMaintenanceDate,omitempty"`
	NextRegulatoryInspectionDate *time.Time      `db:"next_regulatory_inspection_date" json:"nextRegulatoryInspectionDate,omitempty"`
	LastPeriodicSafetyCheckDate  *time.Time      `db:"last_periodic_safety_check_date" json:"lastPeriodicSafetyCheckDate,omitempty"`
	MaintenanceIntervalMonths    int             `db:"maintenance_interval_months" json:"maintenanceIntervalMonths"`
	Attributes                   json.RawMessage `db:"attributes" json:"attributes,omitempty"`
	StatusChangedAt              time.Time       `db:"status_changed_at" json:"statusChangedAt"`
	CreatedAt                    time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt                    time.Time       `db:"updated_at" json:"updatedAt"`
}

// HeldBy reports whether userID currently holds the item.
func (i *Item) HeldBy(userID string) bool {
	return i != nil && i.HolderUserID != nil && *i.HolderUserID == userID
}

// Holder returns the holder id or "" when the item is not loaned.
func (i *Item) Holder() string {
	if i == nil || i.HolderUserID == nil {
		return ""
	}
	return *i.HolderUserID
}

// ItemFilter constrains item listing queries.
type ItemFilter struct {
	OrganizationID string
	Status         ItemStatus
	Category       ItemCategory
	Search         string
	Page           int
	PageSize       int
}
