package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/dto"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	appErrors "github.com/FLX-Software/flx-assets-2026-sub000/pkg/errors"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/response"
)

type scanService interface {
	Scan(ctx context.Context, req dto.ScanRequest, actor models.Actor) (*models.ScanResult, error)
}

// ScanHandler turns QR scans into check-out and check-in transitions.
type ScanHandler struct {
	service scanService
}

// NewScanHandler builds a scan handler.
func NewScanHandler(service scanService) *ScanHandler {
	return &ScanHandler{service: service}
}

// Scan godoc
// @Summary Process a scanned item code
// @Description Checks the item out when available, or in when the caller may return it.
// @Description Rejections carry the scan outcome in data alongside the error.
// @Tags Lending
// @Accept json
// @Produce json
// @Param payload body dto.ScanRequest true "Scanned code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /scans [post]
func (h *ScanHandler) Scan(c *gin.Context) {
	var req dto.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Rejected(c,
			appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scan payload"),
			models.NewScanResult(false, models.ScanMessageError))
		return
	}

	result, err := h.service.Scan(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		if result == nil {
			result = models.NewScanResult(false, models.ScanMessageError)
		}
		response.Rejected(c, err, result)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}
