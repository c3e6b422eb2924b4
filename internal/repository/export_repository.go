package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lexora/lexora-api/internal/models"
)

// ErrExportJobNotFound is returned when no export job row matches.
var ErrExportJobNotFound = errors.New("export job not found")

const exportJobColumns = `id, case_id, format, status, file_path, error_message, requested_by, created_at, completed_at`

// ExportRepository persists case-history export jobs.
type ExportRepository struct {
	db *sqlx.DB
}

// NewExportRepository constructs an ExportRepository.
func NewExportRepository(db *sqlx.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// Create inserts a pending job and returns its generated id.
func (r *ExportRepository) Create(ctx context.Context, job *models.CaseExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = models.ExportStatusPending
	job.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO case_export_jobs (id, case_id, format, status, file_path, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.CaseID, job.Format, job.Status, job.FilePath, job.RequestedBy, job.CreatedAt,
	)
	return err
}

// FindByID loads a single job row.
func (r *ExportRepository) FindByID(ctx context.Context, id string) (*models.CaseExportJob, error) {
	var job models.CaseExportJob
	err := r.db.GetContext(ctx, &job,
		`SELECT `+exportJobColumns+` FROM case_export_jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExportJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// MarkProcessing flips a pending job to processing.
func (r *ExportRepository) MarkProcessing(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE case_export_jobs SET status = $1 WHERE id = $2`,
		models.ExportStatusProcessing, id)
	return err
}

// MarkCompleted records the rendered file path.
func (r *ExportRepository) MarkCompleted(ctx context.Context, id, filePath string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE case_export_jobs SET status = $1, file_path = $2, completed_at = $3 WHERE id = $4`,
		models.ExportStatusCompleted, filePath, time.Now().UTC(), id)
	return err
}

// MarkFailed records the failure reason.
func (r *ExportRepository) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE case_export_jobs SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4`,
		models.ExportStatusFailed, reason, time.Now().UTC(), id)
	return err
}
