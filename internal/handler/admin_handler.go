package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/service"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/response"
)

type reconciler interface {
	RunOnce(ctx context.Context) (*service.ReconcileReport, error)
}

// AdminHandler exposes operator endpoints.
type AdminHandler struct {
	reconciler reconciler
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(reconciler reconciler) *AdminHandler {
	return &AdminHandler{reconciler: reconciler}
}

// Reconcile godoc
// @Summary Repair drift between item state and the loan ledger
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/reconciliation [post]
func (h *AdminHandler) Reconcile(c *gin.Context) {
	report, err := h.reconciler.RunOnce(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
