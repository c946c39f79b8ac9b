package dto

import (
	"encoding/json"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
)

// ScanRequest carries the code read from a QR label.
type ScanRequest struct {
	Code string `json:"code" validate:"required,max=128,scancode"`
}

// CreateItemRequest registers a new asset. ScanCode is generated when empty.
type CreateItemRequest struct {
	ScanCode                     string              `json:"scanCode" validate:"omitempty,max=128,scancode"`
	Name                         string              `json:"name" validate:"required,max=200"`
	Category                     models.ItemCategory `json:"category" validate:"required,oneof=vehicle machine tool"`
	NextMaintenanceDate          *Date               `json:"nextMaintenanceDate"`
	NextRegulatoryInspectionDate *Date               `json:"nextRegulatoryInspectionDate"`
	LastPeriodicSafetyCheckDate  *Date               `json:"lastPeriodicSafetyCheckDate"`
	MaintenanceIntervalMonths    int                 `json:"maintenanceIntervalMonths" validate:"min=0,max=240"`
	Attributes                   json.RawMessage     `json:"attributes"`
}

// SetItemStatusRequest is the administrative available/defective toggle.
type SetItemStatusRequest struct {
	Status models.ItemStatus `json:"status" validate:"required,oneof=available defective"`
}

// ItemQuery mirrors supported item listing filters.
type ItemQuery struct {
	Status   models.ItemStatus
	Category models.ItemCategory
	Search   string
	Page     int
	PageSize int
}

// LoanQuery mirrors supported ledger listing filters.
type LoanQuery struct {
	ItemID   string
	UserID   string
	OpenOnly bool
	Limit    int
	Offset   int
}
