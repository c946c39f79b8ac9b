package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/dto"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/middleware"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	appErrors "github.com/FLX-Software/flx-assets-2026-sub000/pkg/errors"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/response"
)

type itemService interface {
	Create(ctx context.Context, req dto.CreateItemRequest, actor models.Actor) (*models.ItemView, error)
	List(ctx context.Context, query dto.ItemQuery, actor models.Actor) ([]models.ItemView, *models.Pagination, error)
	Get(ctx context.Context, id string, actor models.Actor) (*models.ItemView, error)
	Maintenance(ctx context.Context, id string, actor models.Actor) (*models.MaintenanceStatus, error)
}

type itemStatusService interface {
	SetStatus(ctx context.Context, itemID string, req dto.SetItemStatusRequest, actor models.Actor) (*models.Item, error)
}

type attentionService interface {
	Attention(ctx context.Context, actor models.Actor) ([]models.ItemView, error)
}

// ItemHandler exposes the asset register.
type ItemHandler struct {
	items       itemService
	status      itemStatusService
	maintenance attentionService
}

// NewItemHandler constructs an ItemHandler.
func NewItemHandler(items itemService, status itemStatusService, maintenance attentionService) *ItemHandler {
	return &ItemHandler{items: items, status: status, maintenance: maintenance}
}

// List godoc
// @Summary List items
// @Tags Items
// @Produce json
// @Param status query string false "available | loaned | defective"
// @Param category query string false "vehicle | machine | tool"
// @Param search query string false "Name or scan code fragment"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /items [get]
func (h *ItemHandler) List(c *gin.Context) {
	query := dto.ItemQuery{
		Status:   models.ItemStatus(c.Query("status")),
		Category: models.ItemCategory(c.Query("category")),
		Search:   c.Query("search"),
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "pageSize"),
	}
	items, pagination, err := h.items.List(c.Request.Context(), query, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, middleware.ExtractMeta(c))
}

// Create godoc
// @Summary Register an item
// @Tags Items
// @Accept json
// @Produce json
// @Param payload body dto.CreateItemRequest true "Item payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /items [post]
func (h *ItemHandler) Create(c *gin.Context) {
	var req dto.CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid item payload"))
		return
	}
	item, err := h.items.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Get godoc
// @Summary Get item detail
// @Tags Items
// @Produce json
// @Param id path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /items/{id} [get]
func (h *ItemHandler) Get(c *gin.Context) {
	item, err := h.items.Get(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Maintenance godoc
// @Summary Maintenance status of an item
// @Tags Items
// @Produce json
// @Param id path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /items/{id}/maintenance [get]
func (h *ItemHandler) Maintenance(c *gin.Context) {
	status, err := h.items.Maintenance(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil, middleware.ExtractMeta(c))
}

// Attention godoc
// @Summary Items with overdue or upcoming maintenance
// @Tags Items
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /items/attention [get]
func (h *ItemHandler) Attention(c *gin.Context) {
	items, err := h.maintenance.Attention(c.Request.Context(), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil, middleware.ExtractMeta(c))
}

// SetStatus godoc
// @Summary Mark an item available or defective
// @Tags Items
// @Accept json
// @Produce json
// @Param id path string true "Item ID"
// @Param payload body dto.SetItemStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /items/{id}/status [patch]
func (h *ItemHandler) SetStatus(c *gin.Context) {
	var req dto.SetItemStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	item, err := h.status.SetStatus(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}
