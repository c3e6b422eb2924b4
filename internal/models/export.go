package models

import "time"

// Export job statuses.
const (
	ExportStatusPending    = "PENDING"
	ExportStatusProcessing = "PROCESSING"
	ExportStatusCompleted  = "COMPLETED"
	ExportStatusFailed     = "FAILED"
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// CaseExportJob tracks asynchronous rendering of a case's change history.
type CaseExportJob struct {
	ID           string     `db:"id" json:"id"`
	CaseID       string     `db:"case_id" json:"case_id"`
	Format       string     `db:"format" json:"format"`
	Status       string     `db:"status" json:"status"`
	FilePath     string     `db:"file_path" json:"-"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	RequestedBy  string     `db:"requested_by" json:"requested_by"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
