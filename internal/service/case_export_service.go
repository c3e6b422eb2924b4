package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexora/lexora-api/internal/dto"
	"github.com/lexora/lexora-api/internal/models"
	"github.com/lexora/lexora-api/internal/repository"
	appErrors "github.com/lexora/lexora-api/pkg/errors"
	"github.com/lexora/lexora-api/pkg/export"
	"github.com/lexora/lexora-api/pkg/jobs"
	"github.com/lexora/lexora-api/pkg/storage"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.CaseExportJob) error
	FindByID(ctx context.Context, id string) (*models.CaseExportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, filePath string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type exportCaseReader interface {
	GetDetail(ctx context.Context, id string) (*models.CaseDetail, error)
	ListCaseLogs(ctx context.Context, caseID string) ([]models.CaseLog, error)
}

type exportFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type exportCSVRenderer interface {
	Render(t export.Table) ([]byte, error)
}

type exportPDFRenderer interface {
	Render(t export.Table, title string) ([]byte, error)
}

// ExportConfig tunes export job behaviour.
type ExportConfig struct {
	APIPrefix         string
	WorkerConcurrency int
	WorkerRetries     int
}

// CaseExportService renders a case's change history to CSV or PDF in the
// background. Access is checked when the job is created and again on
// download through the signed token's expiry.
type CaseExportService struct {
	store   exportJobStore
	cases   exportCaseReader
	scopes  *AccessScopeResolver
	files   exportFileStorage
	signer  *storage.DownloadTokenSigner
	csv     exportCSVRenderer
	pdf     exportPDFRenderer
	queue   *jobs.Queue
	retries int
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewCaseExportService constructs the service and its worker queue. Call
// Start before enqueueing and Stop on shutdown.
func NewCaseExportService(store exportJobStore, cases exportCaseReader, scopes *AccessScopeResolver, files exportFileStorage, signer *storage.DownloadTokenSigner, cfg ExportConfig, logger *zap.Logger) *CaseExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CaseExportService{
		store:  store,
		cases:  cases,
		scopes: scopes,
		files:  files,
		signer: signer,
		csv:    export.NewCSVRenderer(),
		pdf:    export.NewPDFRenderer(),
		logger: logger,
		cfg:    cfg,
	}
	s.retries = cfg.WorkerRetries
	if s.retries <= 0 {
		s.retries = 3
	}
	s.queue = jobs.NewQueue("case-exports", s.process, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: s.retries,
		Logger:     logger,
	})
	return s
}

// Start launches the worker pool.
func (s *CaseExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the worker pool.
func (s *CaseExportService) Stop() {
	s.queue.Stop()
}

// CreateJob records a pending export and queues it for rendering. The
// requester must be able to see the case.
func (s *CaseExportService) CreateJob(ctx context.Context, caseID string, req dto.CreateExportRequest, claims *models.JWTClaims) (*dto.ExportJobResponse, error) {
	if req.Format != models.ExportFormatCSV && req.Format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", req.Format))
	}
	if err := s.checkAccess(ctx, caseID, claims); err != nil {
		return nil, err
	}

	job := &models.CaseExportJob{
		CaseID:      caseID,
		Format:      req.Format,
		RequestedBy: claims.UserID,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "case-history-export", Payload: job.ID}); err != nil {
		reason := "export queue unavailable"
		if markErr := s.store.MarkFailed(ctx, job.ID, reason); markErr != nil {
			s.logger.Warn("failed to mark export job failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, reason)
	}

	return dto.NewExportJobResponse(job), nil
}

// GetJob reports job progress and, once completed, attaches the signed
// download URL.
func (s *CaseExportService) GetJob(ctx context.Context, caseID, jobID string, claims *models.JWTClaims) (*dto.ExportJobResponse, error) {
	if err := s.checkAccess(ctx, caseID, claims); err != nil {
		return nil, err
	}

	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrExportJobNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.CaseID != caseID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}

	resp := dto.NewExportJobResponse(job)
	if job.Status == models.ExportStatusCompleted && job.FilePath != "" {
		token, expiresAt, signErr := s.signer.Sign(job.ID, job.FilePath)
		if signErr != nil {
			return nil, appErrors.Wrap(signErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
		}
		prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
		if prefix == "" {
			prefix = "/api/v1"
		}
		resp.DownloadURL = fmt.Sprintf("%s/exports/download/%s", prefix, token)
		resp.ExpiresAt = &expiresAt
	}
	return resp, nil
}

// OpenDownload validates the signed token and opens the rendered file.
func (s *CaseExportService) OpenDownload(token string) (*os.File, string, error) {
	jobID, relPath, _, err := s.signer.Verify(token)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	file, err := s.files.Open(relPath)
	if err != nil {
		s.logger.Warn("export file missing", zap.String("job_id", jobID), zap.String("path", relPath), zap.Error(err))
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return file, relPath, nil
}

func (s *CaseExportService) checkAccess(ctx context.Context, caseID string, claims *models.JWTClaims) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	access, err := s.scopes.Resolve(ctx, claims.Principal())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve access scope")
	}
	detail, err := s.cases.GetDetail(ctx, caseID)
	if err != nil {
		if errors.Is(err, repository.ErrCaseNotFound) {
			return appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load case")
	}
	if !access.CanAccess(detail.AccessView()) {
		return appErrors.Clone(appErrors.ErrNotFound, "case not found")
	}
	return nil
}

// process renders one queued export. Runs on the worker pool.
func (s *CaseExportService) process(ctx context.Context, queued jobs.Job) error {
	jobID, _ := queued.Payload.(string)
	if jobID == "" {
		jobID = queued.ID
	}

	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", jobID, err)
	}
	if job.Status == models.ExportStatusCompleted {
		return nil
	}
	if err := s.store.MarkProcessing(ctx, job.ID); err != nil {
		return fmt.Errorf("mark export job %s processing: %w", job.ID, err)
	}

	relPath, renderErr := s.render(ctx, job)
	if renderErr != nil {
		if queued.Attempt >= s.retries {
			// Retries exhausted by the queue after this attempt; record the
			// failure so polling clients see it.
			if markErr := s.store.MarkFailed(ctx, job.ID, renderErr.Error()); markErr != nil {
				s.logger.Warn("failed to mark export job failed", zap.String("job_id", job.ID), zap.Error(markErr))
			}
		}
		return renderErr
	}

	if err := s.store.MarkCompleted(ctx, job.ID, relPath); err != nil {
		return fmt.Errorf("mark export job %s completed: %w", job.ID, err)
	}
	s.logger.Info("case export rendered",
		zap.String("job_id", job.ID),
		zap.String("case_id", job.CaseID),
		zap.String("format", job.Format))
	return nil
}

func (s *CaseExportService) render(ctx context.Context, job *models.CaseExportJob) (string, error) {
	detail, err := s.cases.GetDetail(ctx, job.CaseID)
	if err != nil {
		return "", fmt.Errorf("load case %s: %w", job.CaseID, err)
	}
	logs, err := s.cases.ListCaseLogs(ctx, job.CaseID)
	if err != nil {
		return "", fmt.Errorf("load case logs %s: %w", job.CaseID, err)
	}

	table := historyTable(logs)
	title := fmt.Sprintf("Case History %s", detail.CaseNo)

	var payload []byte
	switch job.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(table)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(table, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Format)
	}
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("case_history_%s_%s.%s",
		sanitizeFilename(detail.CaseNo), time.Now().UTC().Format("20060102_150405"), job.Format)
	return s.files.Save(filename, payload)
}

func historyTable(logs []models.CaseLog) export.Table {
	rows := make([][]string, 0, len(logs))
	for _, log := range logs {
		rows = append(rows, []string{
			log.CreatedAt.UTC().Format(time.RFC3339),
			log.ActorName,
			log.ActorRole,
			log.Action,
			log.Description,
			flattenChanges(log.Details),
		})
	}
	return export.Table{
		Columns: []string{"Time", "Actor", "Role", "Action", "Description", "Changes"},
		Rows:    rows,
	}
}

func flattenChanges(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var changes []models.ChangeDetail
	if err := json.Unmarshal(raw, &changes); err != nil {
		return ""
	}
	parts := make([]string, 0, len(changes))
	for _, ch := range changes {
		parts = append(parts, fmt.Sprintf("%s: %s -> %s", ch.Label, ch.PreviousValue, ch.CurrentValue))
	}
	return strings.Join(parts, "; ")
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
