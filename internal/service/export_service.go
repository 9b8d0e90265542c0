package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/signage-rotation-api/internal/dto"
	"github.com/noah-isme/signage-rotation-api/internal/models"
	"github.com/noah-isme/signage-rotation-api/pkg/export"
	"github.com/noah-isme/signage-rotation-api/pkg/storage"
)

const (
	// versionPageCap mirrors the ledger's maximum page size.
	versionPageCap = 100
	// defaultVersionCount is used when a versions report names no count.
	defaultVersionCount = 50
)

type scheduleHistory interface {
	ListVersions(ctx context.Context, query dto.VersionListQuery) ([]dto.VersionSummary, int, bool, error)
}

type rotationPreviewer interface {
	Preview(ctx context.Context, req dto.PreviewRequest, now time.Time) (*dto.PreviewResponse, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService turns report jobs into files on disk. It pulls the data
// from the version ledger or the rotation previewer, renders it with the
// configured CSV/PDF renderer and signs a download URL for the result.
type ExportService struct {
	history   scheduleHistory
	previewer rotationPreviewer
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(history scheduleHistory, previewer rotationPreviewer, storage fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		history:   history,
		previewer: previewer,
		storage:   storage,
		csv:       csv,
		pdf:       pdf,
		signer:    signer,
		logger:    logger,
		cfg:       cfg,
	}
}

// Generate renders the job's dataset, stores the file and returns the
// signed download metadata.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("export: nil job")
	}

	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}
	payload, err := s.render(job.Params.Format, dataset, title)
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.exportFilename(job), payload)
	if err != nil {
		return nil, err
	}
	url, token, expiresAt, err := s.SignedURL(job.ID, relPath)
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          url,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *ExportService) render(format models.ReportFormat, dataset export.Dataset, title string) ([]byte, error) {
	switch format {
	case models.ReportFormatCSV:
		return s.csv.Render(dataset)
	case models.ReportFormatPDF:
		return s.pdf.Render(dataset, title)
	default:
		return nil, fmt.Errorf("unsupported format %s", format)
	}
}

// SignedURL issues a fresh download token for a stored export file.
func (s *ExportService) SignedURL(jobID, relPath string) (url, token string, expiresAt time.Time, err error) {
	token, expiresAt, err = s.signer.Generate(jobID, relPath)
	if err != nil {
		return "", "", time.Time{}, err
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/export/%s", prefix, token), token, expiresAt, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl, falling back to the configured
// ResultTTL when ttl is not positive.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) exportFilename(job *models.ReportJob) string {
	stamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s.%s", strings.ToLower(string(job.Type)), stamp, job.Params.Format)
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeVersions:
		return s.buildVersionsDataset(ctx, job.Params)
	case models.ReportTypePreview:
		return s.buildPreviewDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildVersionsDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	want := params.Count
	if want <= 0 {
		want = defaultVersionCount
	}

	// The ledger caps page size, so deep histories take several pages.
	summaries := make([]dto.VersionSummary, 0, want)
	for page := 1; len(summaries) < want; page++ {
		size := want - len(summaries)
		if size > versionPageCap {
			size = versionPageCap
		}
		batch, total, _, err := s.history.ListVersions(ctx, dto.VersionListQuery{Page: page, PageSize: size})
		if err != nil {
			return export.Dataset{}, "", err
		}
		summaries = append(summaries, batch...)
		if len(batch) == 0 || len(summaries) >= total {
			break
		}
	}
	if len(summaries) > want {
		summaries = summaries[:want]
	}

	rows := make([]map[string]string, 0, len(summaries))
	for _, v := range summaries {
		rows = append(rows, map[string]string{
			"Version":    strconv.FormatInt(v.VersionID, 10),
			"Created At": v.CreatedAt.UTC().Format(time.RFC3339),
			"Actor":      v.Actor,
			"Summary":    v.Summary,
			"Pinned":     strconv.FormatBool(v.Pinned),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Version", "Created At", "Actor", "Summary", "Pinned"},
		Rows:    rows,
	}
	return dataset, "Schedule Version History", nil
}

func (s *ExportService) buildPreviewDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	resp, err := s.previewer.Preview(ctx, dto.PreviewRequest{Count: params.Count}, time.Now().UTC())
	if err != nil {
		return export.Dataset{}, "", err
	}

	rows := make([]map[string]string, 0, len(resp.Screens)+1)
	for i, screen := range resp.Screens {
		rows = append(rows, map[string]string{
			"Position": strconv.Itoa(i + 1),
			"Screen":   screen,
			"Note":     "",
		})
	}
	if resp.Halted != "" {
		rows = append(rows, map[string]string{
			"Position": "-",
			"Screen":   "",
			"Note":     fmt.Sprintf("halted: %s", resp.Halted),
		})
	}

	dataset := export.Dataset{
		Headers: []string{"Position", "Screen", "Note"},
		Rows:    rows,
	}
	title := "Rotation Preview"
	if resp.VersionID != nil {
		title = fmt.Sprintf("Rotation Preview v%d", *resp.VersionID)
	}
	return dataset, title, nil
}
