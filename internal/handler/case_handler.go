package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lexora/lexora-api/internal/dto"
	"github.com/lexora/lexora-api/internal/models"
	"github.com/lexora/lexora-api/internal/service"
	appErrors "github.com/lexora/lexora-api/pkg/errors"
	"github.com/lexora/lexora-api/pkg/response"
)

// CaseHandler wires the case endpoints to the case service.
type CaseHandler struct {
	service *service.CaseService
}

// NewCaseHandler creates a new handler.
func NewCaseHandler(svc *service.CaseService) *CaseHandler {
	return &CaseHandler{service: svc}
}

// List godoc
// @Summary List cases
// @Description List cases visible to the authenticated user
// @Tags Cases
// @Produce json
// @Param status query string false "Filter by status"
// @Param department_id query string false "Filter by department"
// @Param handler_id query string false "Filter by handling lawyer"
// @Param search query string false "Search case number, title or client name"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param sort_by query string false "Sort column"
// @Param sort_order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Security BearerAuth
// @Router /cases [get]
func (h *CaseHandler) List(c *gin.Context) {
	filter := models.CaseFilter{
		Status:       c.Query("status"),
		DepartmentID: c.Query("department_id"),
		HandlerID:    c.Query("handler_id"),
		Search:       c.Query("search"),
		SortBy:       c.Query("sort_by"),
		SortOrder:    c.Query("sort_order"),
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	items, pagination, err := h.service.List(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get case detail
// @Description Fetch one case with participants, payments, timeline and hearings
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /cases/{id} [get]
func (h *CaseHandler) Get(c *gin.Context) {
	res, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Update godoc
// @Summary Update a case
// @Description Apply a version-guarded case update. Accepts a bare payload or {payload, meta}. Returns 409 with a field-level diff on conflict.
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body dto.UpdateCaseRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} dto.CaseConflict
// @Security BearerAuth
// @Router /cases/{id} [put]
func (h *CaseHandler) Update(c *gin.Context) {
	var req dto.UpdateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid update payload"))
		return
	}

	res, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Logs godoc
// @Summary Case change history
// @Description List the case's audit trail, newest first
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /cases/{id}/logs [get]
func (h *CaseHandler) Logs(c *gin.Context) {
	items, err := h.service.Logs(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
