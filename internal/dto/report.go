package dto

import "github.com/noah-isme/signage-rotation-api/internal/models"

// ReportRequest is the body of POST /reports/generate.
type ReportRequest struct {
	Type   models.ReportType   `json:"type"`
	Format models.ReportFormat `json:"format"`
	Count  int                 `json:"count,omitempty"`
}

// ReportJobResponse acknowledges an enqueued report.
type ReportJobResponse struct {
	ID     string              `json:"id"`
	Status models.ReportStatus `json:"status"`
}

// ReportStatusResponse carries job progress and, once the job has
// finished, the signed download link.
type ReportStatusResponse struct {
	ID          string              `json:"id"`
	Status      models.ReportStatus `json:"status"`
	DownloadURL *string             `json:"download_url,omitempty"`
	Error       *string             `json:"error,omitempty"`
}
