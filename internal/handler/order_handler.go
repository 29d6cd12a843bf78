package handler

import (
	"errors"
	"io"
	"net/http"

	"nytax/internal/middleware"
	"nytax/internal/model"
	"nytax/internal/service"
	"nytax/pkg/pagination"
	"nytax/pkg/response"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	taxService   service.TaxService
	orderService service.OrderService
	calendar     service.Calendar
}

func NewOrderHandler(taxService service.TaxService, orderService service.OrderService, calendar service.Calendar) *OrderHandler {
	return &OrderHandler{taxService: taxService, orderService: orderService, calendar: calendar}
}

func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.Auth) {
	orders := router.Group("/api/orders")
	read := auth.RequireRole(model.RoleAdmin, model.RoleAnalyst)
	{
		orders.POST("", auth.RequireRole(model.RoleAdmin), h.CreateOrder)
		orders.GET("/:id", read, h.GetOrder)
		orders.POST("/search", read, h.SearchOrders)
		orders.POST("/totals", read, h.Totals)
	}
}

// CreateOrder computes tax for a manually entered order and stores it
// @Summary      Create order
// @Description  Computes the tax like /api/tax/compute and persists the result as a manual order
// @Tags         orders
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.ComputeTaxRequest  true  "Point, subtotal and optional timestamp"
// @Success      201      {object}  response.Response{data=service.OrderResponse}
// @Failure      400      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/orders [post]
func (h *OrderHandler) CreateOrder(c *gin.Context) {
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

	order, err := h.taxService.CreateOrder(c.Request.Context(), in, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, service.NewOrderResponse(*order)))
}

// GetOrder returns one stored order
// @Summary      Get order
// @Tags         orders
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  response.Response{data=service.OrderResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/orders/{id} [get]
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	order, err := h.orderService.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, order))
}

// SearchOrders lists orders matching every filter, newest first
// @Summary      Search orders
// @Description  Filters are objects tagged by "type": date_range{from,to}, range{field,min,max}, text{query}, source{value}, import{import_id}
// @Tags         orders
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.SearchOrdersRequest  true  "Filters and paging"
// @Success      200      {object}  response.Response{data=pagination.Page}
// @Failure      400      {object}  response.Response
// @Router       /api/orders/search [post]
func (h *OrderHandler) SearchOrders(c *gin.Context) {
	var req service.SearchOrdersRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	orders, total, err := h.orderService.ListOrders(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPage(orders, total, pagination.Normalize(req.Page, req.Limit))))
}

// Totals sums the orders matching every filter
// @Summary      Order totals
// @Tags         orders
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.TotalsRequest  true  "Filters"
// @Success      200      {object}  response.Response{data=repository.OrderTotals}
// @Failure      400      {object}  response.Response
// @Router       /api/orders/totals [post]
func (h *OrderHandler) Totals(c *gin.Context) {
	var req service.TotalsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	totals, err := h.orderService.Totals(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, totals))
}
