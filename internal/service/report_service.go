package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/signage-rotation-api/internal/dto"
	"github.com/noah-isme/signage-rotation-api/internal/models"
	"github.com/noah-isme/signage-rotation-api/internal/repository"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
	"github.com/noah-isme/signage-rotation-api/pkg/jobs"
)

// cleanupPageSize bounds how many expired jobs one sweep iteration loads.
const cleanupPageSize = 100

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
}

// ReportService owns the lifecycle of asynchronous report jobs: creation,
// status polling, token-gated downloads and expiry of old results. The
// rendering itself happens in ReportWorker on the queue.
type ReportService struct {
	repo     reportJobStore
	queue    jobDispatcher
	exporter *ExportService
	logger   *zap.Logger
	cfg      ReportServiceConfig
}

// ReportServiceConfig governs queue recovery and cleanup.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ReportDownload aggregates resolved download data.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

// NewReportService constructs the report service.
func NewReportService(repo reportJobStore, queue jobDispatcher, exporter *ExportService, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ReportService{
		repo:     repo,
		queue:    queue,
		exporter: exporter,
		logger:   logger,
		cfg:      cfg,
	}
}

// CreateJob persists a QUEUED job row and hands it to the worker queue.
// When the enqueue fails the row is flipped to FAILED right away, so the
// client never polls a job nothing will pick up.
func (s *ReportService) CreateJob(ctx context.Context, req dto.ReportRequest, actor string) (*dto.ReportJobResponse, error) {
	if err := validateReportRequest(req); err != nil {
		return nil, err
	}

	job := &models.ReportJob{
		Type:      req.Type,
		Params:    models.ReportJobParams{Format: req.Format, Count: req.Count},
		Status:    models.ReportStatusQueued,
		CreatedBy: actor,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "persist report job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		s.abandonJob(ctx, job.ID, "job was never picked up by the queue")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "enqueue report job")
	}

	return &dto.ReportJobResponse{ID: job.ID, Status: job.Status}, nil
}

// abandonJob marks a job FAILED without involving the worker.
func (s *ReportService) abandonJob(ctx context.Context, id, reason string) {
	failed := models.ReportStatusFailed
	now := time.Now().UTC()
	err := s.repo.Update(ctx, id, repository.UpdateReportJobParams{
		Status:       &failed,
		ErrorMessage: &reason,
		FinishedAt:   &now,
	})
	if err != nil {
		s.logger.Warn("report job abandon update failed", zap.String("job_id", id), zap.Error(err))
	}
}

// loadJob fetches a job row and maps the missing-row case to a 404.
func (s *ReportService) loadJob(ctx context.Context, id string) (*models.ReportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.ErrNotFound
	case err != nil:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load report job")
	}
	return job, nil
}

// GetStatus exposes job metadata to clients. Viewers only see their own
// jobs. Finished jobs get a freshly signed download link so old status
// responses never hand out stale tokens.
func (s *ReportService) GetStatus(ctx context.Context, id string, actor string, role models.UserRole) (*dto.ReportStatusResponse, error) {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == models.RoleViewer && job.CreatedBy != actor {
		return nil, appErrors.ErrForbidden
	}

	resp := &dto.ReportStatusResponse{ID: job.ID, Status: job.Status}
	if job.Status == models.ReportStatusFinished && job.ResultPath != nil {
		url, _, _, err := s.exporter.SignedURL(job.ID, *job.ResultPath)
		if err != nil {
			s.logger.Warn("download url signing failed", zap.String("job_id", job.ID), zap.Error(err))
		} else {
			resp.DownloadURL = &url
		}
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload turns a signed token back into an open export file.
// The token alone is the credential; the job row is consulted to make
// sure the file it points at is still the job's current result.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	jobID, relPath, expiresAt, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ResultPath == nil || *job.ResultPath != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ReportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report not ready")
	}

	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "open export file")
	}
	return &ReportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs puts jobs that were QUEUED at shutdown back on the
// queue. Called once at boot, before the HTTP server starts accepting.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Warn("queued job recovery failed", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("requeue failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired(ctx)
			}
		}
	}()
}

// CleanupExpired removes export files whose jobs finished before the TTL
// window, then lets the storage layer sweep anything orphaned on disk.
func (s *ReportService) CleanupExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	for {
		expired, err := s.repo.ListFinishedBefore(ctx, cutoff, cleanupPageSize)
		if err != nil {
			s.logger.Warn("cleanup list failed", zap.Error(err))
			return
		}
		for _, job := range expired {
			if job.ResultPath == nil {
				continue
			}
			if err := s.exporter.Delete(*job.ResultPath); err != nil {
				s.logger.Warn("cleanup delete failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
		if len(expired) < cleanupPageSize {
			break
		}
	}
	if _, err := s.exporter.Cleanup(s.cfg.ResultTTL); err != nil {
		s.logger.Warn("storage sweep failed", zap.Error(err))
	}
}

func validateReportRequest(req dto.ReportRequest) error {
	switch req.Type {
	case models.ReportTypeVersions, models.ReportTypePreview:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported report type")
	}
	switch req.Format {
	case models.ReportFormatCSV, models.ReportFormatPDF:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}
	if req.Count < 0 || req.Count > 500 {
		return appErrors.Clone(appErrors.ErrValidation, "count must be between 0 and 500")
	}
	return nil
}

// ReportWorker renders reports off the queue, one job per invocation.
type ReportWorker struct {
	repo       reportJobStore
	exporter   exportGenerator
	logger     *zap.Logger
	maxRetries int
}

// NewReportWorker constructs a worker.
func NewReportWorker(repo reportJobStore, exporter exportGenerator, maxRetries int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReportWorker{
		repo:       repo,
		exporter:   exporter,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Handle renders one report job. On failure the row goes back to QUEUED
// until the attempt counter reaches the retry cap, then it is FAILED for
// good.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}

	processing := models.ReportStatusProcessing
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{Status: &processing}); err != nil {
		return err
	}

	result, err := w.exporter.Generate(ctx, record)
	if err != nil {
		w.recordFailure(ctx, job, err)
		return err
	}

	finished := models.ReportStatusFinished
	now := time.Now().UTC()
	cleared := ""
	update := repository.UpdateReportJobParams{
		Status:       &finished,
		ResultPath:   &result.RelativePath,
		ErrorMessage: &cleared,
		FinishedAt:   &now,
	}
	if err := w.repo.Update(ctx, job.ID, update); err != nil {
		w.logger.Warn("report finish update failed", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	return nil
}

// recordFailure pushes a failed job back to QUEUED, or to FAILED once the
// attempt counter reaches the cap.
func (w *ReportWorker) recordFailure(ctx context.Context, job jobs.Job, cause error) {
	msg := cause.Error()
	update := repository.UpdateReportJobParams{ErrorMessage: &msg}

	if job.Attempt >= w.maxRetries {
		failed := models.ReportStatusFailed
		now := time.Now().UTC()
		update.Status = &failed
		update.FinishedAt = &now
	} else {
		queued := models.ReportStatusQueued
		update.Status = &queued
	}

	if err := w.repo.Update(ctx, job.ID, update); err != nil {
		w.logger.Warn("report failure update lost", zap.String("job_id", job.ID), zap.Error(err))
	}
}
