package handler

import (
	"net/http"
	"strconv"
	"time"

	"nytax/internal/middleware"
	"nytax/internal/model"
	"nytax/internal/service"
	"nytax/pkg/pagination"
	"nytax/pkg/response"

	"github.com/gin-gonic/gin"
)

type JurisdictionHandler struct {
	jurisdictionService service.JurisdictionService
	resolverService     service.ResolverService
	rateService         service.RateService
	calendar            service.Calendar
}

func NewJurisdictionHandler(
	jurisdictionService service.JurisdictionService,
	resolverService service.ResolverService,
	rateService service.RateService,
	calendar service.Calendar,
) *JurisdictionHandler {
	return &JurisdictionHandler{
		jurisdictionService: jurisdictionService,
		resolverService:     resolverService,
		rateService:         rateService,
		calendar:            calendar,
	}
}

func (h *JurisdictionHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.Auth) {
	read := auth.RequireRole(model.RoleAdmin, model.RoleAnalyst)
	write := auth.RequireRole(model.RoleAdmin)

	j := router.Group("/api/jurisdictions")
	{
		j.GET("", read, h.ListJurisdictions)
		j.GET("/resolve", read, h.Resolve)
		j.GET("/:id", read, h.GetJurisdiction)
		j.GET("/:id/rates", read, h.RateHistory)
		j.GET("/:id/rates/at", read, h.RateAt)
		j.POST("/:id/rates", write, h.SetRate)
		j.POST("/:id/rates/revert", write, h.RevertLastMutation)
		j.GET("/:id/mutations", read, h.ListMutations)
	}

	router.POST("/api/rate-mutations/:id/revert", write, h.RevertMutation)
}

// ListJurisdictions returns the seeded jurisdictions
// @Summary      List jurisdictions
// @Tags         jurisdictions
// @Security     BearerAuth
// @Produce      json
// @Param        type  query     string  false  "state, county, city or special"
// @Success      200   {object}  response.Response{data=[]service.JurisdictionResponse}
// @Failure      400   {object}  response.Response
// @Router       /api/jurisdictions [get]
func (h *JurisdictionHandler) ListJurisdictions(c *gin.Context) {
	items, err := h.jurisdictionService.List(c.Request.Context(), c.Query("type"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, items))
}

// GetJurisdiction returns one jurisdiction
// @Summary      Get jurisdiction
// @Tags         jurisdictions
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Jurisdiction ID"
// @Success      200  {object}  response.Response{data=service.JurisdictionResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/jurisdictions/{id} [get]
func (h *JurisdictionHandler) GetJurisdiction(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	j, err := h.jurisdictionService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, j))
}

// Resolve lists the jurisdictions covering a point
// @Summary      Resolve point
// @Tags         jurisdictions
// @Security     BearerAuth
// @Produce      json
// @Param        lat  query     number  true  "Latitude"
// @Param        lon  query     number  true  "Longitude"
// @Success      200  {object}  response.Response{data=service.ResolutionResponse}
// @Failure      400  {object}  response.Response
// @Router       /api/jurisdictions/resolve [get]
func (h *JurisdictionHandler) Resolve(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		badRequest(c, "invalid lat: must be a number")
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		badRequest(c, "invalid lon: must be a number")
		return
	}

	res, err := h.resolverService.Resolve(c.Request.Context(), lat, lon)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.NewResolutionResponse(res)))
}

// RateHistory returns every interval of the jurisdiction's rate timeline
// @Summary      Rate history
// @Tags         rates
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Jurisdiction ID"
// @Success      200  {object}  response.Response{data=[]service.RateIntervalResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/jurisdictions/{id}/rates [get]
func (h *JurisdictionHandler) RateHistory(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	history, err := h.rateService.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, history))
}

// RateAt returns the interval in effect at an instant
// @Summary      Rate at instant
// @Tags         rates
// @Security     BearerAuth
// @Produce      json
// @Param        id         path      string  true   "Jurisdiction ID"
// @Param        timestamp  query     string  false  "RFC 3339 instant or date (default now)"
// @Success      200        {object}  response.Response{data=service.RateIntervalResponse}
// @Failure      422        {object}  response.Response
// @Router       /api/jurisdictions/{id}/rates/at [get]
func (h *JurisdictionHandler) RateAt(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	at := time.Now()
	if raw := c.Query("timestamp"); raw != "" {
		t, _, err := h.calendar.ParseInstant(raw)
		if err != nil {
			badRequest(c, "invalid timestamp: "+err.Error())
			return
		}
		at = t
	}

	iv, err := h.rateService.RateAt(c.Request.Context(), id, at)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.NewRateIntervalResponse(*iv)))
}

// SetRate changes the jurisdiction's rate from a date onward
// @Summary      Set rate
// @Description  new_rate is a percentage. The effective date must be after the current head's start.
// @Tags         rates
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                  true  "Jurisdiction ID"
// @Param        request  body      service.SetRateRequest  true  "New rate"
// @Success      201      {object}  response.Response{data=service.MutationResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/jurisdictions/{id}/rates [post]
func (h *JurisdictionHandler) SetRate(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req service.SetRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	in, err := req.Input(id, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	m, err := h.rateService.SetRate(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, service.NewMutationResponse(*m, false, true)))
}

// RevertLastMutation undoes the newest rate change of the jurisdiction
// @Summary      Revert latest rate change
// @Tags         rates
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Jurisdiction ID"
// @Success      200  {object}  response.Response{data=service.MutationResponse}
// @Failure      409  {object}  response.Response
// @Router       /api/jurisdictions/{id}/rates/revert [post]
func (h *JurisdictionHandler) RevertLastMutation(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	m, err := h.rateService.RevertLastMutation(c.Request.Context(), id, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.NewMutationResponse(*m, false, false)))
}

// RevertMutation undoes the given rate change if it is still the newest one
// @Summary      Revert rate mutation
// @Tags         rates
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Mutation ID"
// @Success      200  {object}  response.Response{data=service.MutationResponse}
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/rate-mutations/{id}/revert [post]
func (h *JurisdictionHandler) RevertMutation(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	m, err := h.rateService.RevertMutation(c.Request.Context(), id, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.NewMutationResponse(*m, false, false)))
}

// ListMutations pages through the jurisdiction's mutation ledger, newest first
// @Summary      Rate mutation ledger
// @Tags         rates
// @Security     BearerAuth
// @Produce      json
// @Param        id     path      string  true   "Jurisdiction ID"
// @Param        page   query     int     false  "Page number (default 1)"
// @Param        limit  query     int     false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=pagination.Page}
// @Router       /api/jurisdictions/{id}/mutations [get]
func (h *JurisdictionHandler) ListMutations(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	p := pagination.Parse(c)
	items, total, err := h.rateService.ListMutations(c.Request.Context(), id, p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPage(items, total, p)))
}
