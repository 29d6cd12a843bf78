package handler

import (
	"fmt"
	"io"
	"net/http"

	"nytax/internal/middleware"
	"nytax/internal/model"
	"nytax/internal/service"
	"nytax/pkg/pagination"
	"nytax/pkg/response"

	"github.com/gin-gonic/gin"
)

type ImportHandler struct {
	importService service.ImportService
	maxBytes      int64
}

func NewImportHandler(importService service.ImportService, maxBytes int64) *ImportHandler {
	return &ImportHandler{importService: importService, maxBytes: maxBytes}
}

func (h *ImportHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.Auth) {
	imports := router.Group("/api/imports")
	read := auth.RequireRole(model.RoleAdmin, model.RoleAnalyst)
	write := auth.RequireRole(model.RoleAdmin)
	{
		imports.POST("", write, h.Upload)
		imports.GET("", read, h.ListImports)
		imports.GET("/:id", read, h.GetImport)
		imports.DELETE("/:id", write, h.Rollback)
	}
}

// Upload imports a CSV of orders
// @Summary      Import orders
// @Description  CSV with header lat,lon,subtotal,timestamp. A file whose bytes were already imported is rejected with 409 and the existing import id.
// @Tags         imports
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        file  formData  file  true  "CSV file"
// @Success      201   {object}  response.Response{data=service.ImportResult}
// @Failure      400   {object}  response.Response
// @Failure      409   {object}  response.Response
// @Failure      413   {object}  response.Response
// @Router       /api/imports [post]
func (h *ImportHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" is required")
		return
	}
	if fh.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, response.ErrorWithCode(http.StatusRequestEntityTooLarge, "validation_error",
			fmt.Sprintf("file exceeds %d bytes", h.maxBytes)))
		return
	}

	f, err := fh.Open()
	if err != nil {
		respondError(c, fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes))
	if err != nil {
		respondError(c, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	result, err := h.importService.ImportBatch(c.Request.Context(), fh.Filename, data, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListImports pages through import logs, newest first
// @Summary      List imports
// @Tags         imports
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=pagination.Page}
// @Router       /api/imports [get]
func (h *ImportHandler) ListImports(c *gin.Context) {
	p := pagination.Parse(c)
	items, total, err := h.importService.ListImports(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPage(items, total, p)))
}

// GetImport returns one import log with its row errors
// @Summary      Get import
// @Tags         imports
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Import ID"
// @Success      200  {object}  response.Response{data=service.ImportResult}
// @Failure      404  {object}  response.Response
// @Router       /api/imports/{id} [get]
func (h *ImportHandler) GetImport(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	result, err := h.importService.GetImport(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Rollback deletes an import and every order it created
// @Summary      Roll back import
// @Tags         imports
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Import ID"
// @Success      200  {object}  response.Response{data=service.RollbackResult}
// @Failure      404  {object}  response.Response
// @Router       /api/imports/{id} [delete]
func (h *ImportHandler) Rollback(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	result, err := h.importService.Rollback(c.Request.Context(), id, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
