package handler

import (
	"net/http"

	"nytax/internal/middleware"
	"nytax/internal/model"
	"nytax/internal/service"
	"nytax/pkg/response"

	"github.com/gin-gonic/gin"
)

type TaxHandler struct {
	taxService service.TaxService
	calendar   service.Calendar
}

func NewTaxHandler(taxService service.TaxService, calendar service.Calendar) *TaxHandler {
	return &TaxHandler{taxService: taxService, calendar: calendar}
}

func (h *TaxHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.Auth) {
	tax := router.Group("/api/tax")
	tax.Use(auth.RequireRole(model.RoleAdmin, model.RoleAnalyst))
	{
		tax.POST("/compute", h.ComputeTax)
	}
}

// ComputeTax resolves the point and prices the subtotal without persisting anything
// @Summary      Compute composite sales tax
// @Description  Resolves the jurisdictions covering lat/lon and applies the rates effective at timestamp (default now)
// @Tags         tax
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.ComputeTaxRequest  true  "Point, subtotal and optional timestamp"
// @Success      200      {object}  response.Response{data=service.TaxResultResponse}
// @Failure      400      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/tax/compute [post]
func (h *TaxHandler) ComputeTax(c *gin.Context) {
	var req service.ComputeTaxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	in, err := req.Input(h.calendar)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.taxService.ComputeTax(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.NewTaxResultResponse(*result)))
}
