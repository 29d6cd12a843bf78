package handler

import (
	"net/http"

	"nytax/internal/middleware"
	"nytax/internal/model"
	"nytax/internal/service"
	"nytax/pkg/pagination"
	"nytax/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.Auth) {
	group := router.Group("/api/audit-logs")
	group.Use(auth.RequireRole(model.RoleAdmin))
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs pages through audit entries with the acting user resolved
// @Summary      Get audit logs
// @Description  Rate changes, reverts, imports, rollbacks and manual orders, newest first
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Number of items per page (default 20)"
// @Success      200    {object}  response.Response{data=pagination.Page}
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPage(logs, total, p)))
}
