package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/dto"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/service"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/response"
)

type loanService interface {
	List(ctx context.Context, query dto.LoanQuery, actor models.Actor) ([]models.LoanView, error)
	Export(ctx context.Context, query dto.LoanQuery, format string, actor models.Actor) (*service.ExportFile, error)
}

// LoanHandler exposes the lending ledger.
type LoanHandler struct {
	service loanService
}

// NewLoanHandler constructs a LoanHandler.
func NewLoanHandler(service loanService) *LoanHandler {
	return &LoanHandler{service: service}
}

func loanQueryFromContext(c *gin.Context) dto.LoanQuery {
	return dto.LoanQuery{
		ItemID:   c.Query("itemId"),
		UserID:   c.Query("userId"),
		OpenOnly: strings.EqualFold(c.Query("open"), "true"),
		Limit:    queryInt(c, "limit"),
		Offset:   queryInt(c, "offset"),
	}
}

// List godoc
// @Summary List loan records
// @Tags Loans
// @Produce json
// @Param itemId query string false "Item ID"
// @Param userId query string false "Borrower ID"
// @Param open query bool false "Only open loans"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /loans [get]
func (h *LoanHandler) List(c *gin.Context) {
	loans, err := h.service.List(c.Request.Context(), loanQueryFromContext(c), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loans, nil)
}

// Export godoc
// @Summary Export loan records
// @Tags Loans
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv | pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /loans/export [get]
func (h *LoanHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	file, err := h.service.Export(c.Request.Context(), loanQueryFromContext(c), format, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
