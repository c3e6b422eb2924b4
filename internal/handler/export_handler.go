package handler

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/lexora/lexora-api/internal/dto"
	"github.com/lexora/lexora-api/internal/service"
	appErrors "github.com/lexora/lexora-api/pkg/errors"
	"github.com/lexora/lexora-api/pkg/response"
)

// ExportHandler exposes case-history export endpoints.
type ExportHandler struct {
	service *service.CaseExportService
}

// NewExportHandler creates a new handler.
func NewExportHandler(svc *service.CaseExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Create godoc
// @Summary Request a case history export
// @Description Queue a CSV or PDF rendering of the case's change history
// @Tags Exports
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body dto.CreateExportRequest true "Export format"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /cases/{id}/exports [post]
func (h *ExportHandler) Create(c *gin.Context) {
	var req dto.CreateExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export payload"))
		return
	}

	res, err := h.service.CreateJob(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, res, nil)
}

// Get godoc
// @Summary Export job status
// @Description Report export progress and the signed download URL when done
// @Tags Exports
// @Produce json
// @Param id path string true "Case ID"
// @Param jobId path string true "Export job ID"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /cases/{id}/exports/{jobId} [get]
func (h *ExportHandler) Get(c *gin.Context) {
	res, err := h.service.GetJob(c.Request.Context(), c.Param("id"), c.Param("jobId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Download godoc
// @Summary Download a rendered export
// @Description Stream the export file referenced by a signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/download/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	file, relPath, err := h.service.OpenDownload(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	c.FileAttachment(file.Name(), filepath.Base(relPath))
}
