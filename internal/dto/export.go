package dto

import (
	"time"

	"github.com/lexora/lexora-api/internal/models"
)

// CreateExportRequest asks for a case-history export in the given format.
type CreateExportRequest struct {
	Format string `json:"format" validate:"required,oneof=csv pdf"`
}

// ExportJobResponse reports job progress and, when completed, the signed
// download URL.
type ExportJobResponse struct {
	ID           string     `json:"id"`
	CaseID       string     `json:"case_id"`
	Format       string     `json:"format"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DownloadURL  string     `json:"download_url,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewExportJobResponse converts the job row; download fields are attached by
// the service when the job is complete.
func NewExportJobResponse(job *models.CaseExportJob) *ExportJobResponse {
	if job == nil {
		return nil
	}
	resp := &ExportJobResponse{
		ID:          job.ID,
		CaseID:      job.CaseID,
		Format:      job.Format,
		Status:      job.Status,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.ErrorMessage != nil {
		resp.ErrorMessage = *job.ErrorMessage
	}
	return resp
}
