package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/signage-rotation-api/internal/dto"
	"github.com/noah-isme/signage-rotation-api/internal/models"
	"github.com/noah-isme/signage-rotation-api/pkg/export"
	"github.com/noah-isme/signage-rotation-api/pkg/storage"
)

type historyStub struct {
	versions []dto.VersionSummary
	calls    []dto.VersionListQuery
}

func (s *historyStub) ListVersions(ctx context.Context, query dto.VersionListQuery) ([]dto.VersionSummary, int, bool, error) {
	s.calls = append(s.calls, query)
	start := (query.Page - 1) * query.PageSize
	if start >= len(s.versions) {
		return nil, len(s.versions), false, nil
	}
	end := start + query.PageSize
	if end > len(s.versions) {
		end = len(s.versions)
	}
	return s.versions[start:end], len(s.versions), false, nil
}

type previewerStub struct {
	resp dto.PreviewResponse
	req  dto.PreviewRequest
}

func (s *previewerStub) Preview(ctx context.Context, req dto.PreviewRequest, now time.Time) (*dto.PreviewResponse, error) {
	s.req = req
	resp := s.resp
	return &resp, nil
}

func newExportServiceForTest(t *testing.T, history *historyStub, previewer *previewerStub) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	cfg := ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour}
	svc := NewExportService(history, previewer, store, signer, cfg, zap.NewNop(), export.NewCSVExporter(), export.NewPDFExporter())
	return svc, store
}

func someVersionSummaries(n int) []dto.VersionSummary {
	out := make([]dto.VersionSummary, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, dto.VersionSummary{
			VersionID: int64(n - i),
			CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(-time.Duration(i) * time.Hour),
			Actor:     "admin@example.com",
			Summary:   "update",
		})
	}
	return out
}

func TestExportServiceGenerateVersionsCSV(t *testing.T) {
	history := &historyStub{versions: someVersionSummaries(3)}
	svc, store := newExportServiceForTest(t, history, &previewerStub{})

	job := &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeVersions,
		Params:    models.ReportJobParams{Format: models.ReportFormatCSV, Count: 3},
		CreatedBy: "admin",
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.NotEmpty(t, result.RelativePath)
	require.Contains(t, result.URL, "/export/")

	raw, err := os.ReadFile(store.Path(result.RelativePath))
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "Version")
	assert.Contains(t, content, "admin@example.com")
	assert.Equal(t, 4, strings.Count(strings.TrimSpace(content), "\n")+1)
}

func TestExportServiceGeneratePreviewPDF(t *testing.T) {
	previewer := &previewerStub{resp: dto.PreviewResponse{
		Screens:   []string{"date", "weather", "news"},
		VersionID: int64Ptr(7),
	}}
	svc, store := newExportServiceForTest(t, &historyStub{}, previewer)

	job := &models.ReportJob{
		ID:        "job-2",
		Type:      models.ReportTypePreview,
		Params:    models.ReportJobParams{Format: models.ReportFormatPDF, Count: 3},
		CreatedBy: "admin",
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, models.ReportFormatPDF, result.Format)
	assert.Equal(t, 3, previewer.req.Count)

	path := filepath.Clean(store.Path(result.RelativePath))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestExportServicePreviewHaltIsNoted(t *testing.T) {
	previewer := &previewerStub{resp: dto.PreviewResponse{
		Screens: []string{"date"},
		Halted:  "NO_ELIGIBLE_SCREEN",
	}}
	svc, store := newExportServiceForTest(t, &historyStub{}, previewer)

	job := &models.ReportJob{
		ID:     "job-3",
		Type:   models.ReportTypePreview,
		Params: models.ReportJobParams{Format: models.ReportFormatCSV},
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)

	raw, err := os.ReadFile(store.Path(result.RelativePath))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "halted: NO_ELIGIBLE_SCREEN")
}

func TestExportServiceVersionsPagesThroughLedger(t *testing.T) {
	history := &historyStub{versions: someVersionSummaries(150)}
	svc, _ := newExportServiceForTest(t, history, &previewerStub{})

	job := &models.ReportJob{
		ID:     "job-4",
		Type:   models.ReportTypeVersions,
		Params: models.ReportJobParams{Format: models.ReportFormatCSV, Count: 150},
	}
	_, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, history.calls, 2)
	assert.Equal(t, 100, history.calls[0].PageSize)
	assert.Equal(t, 2, history.calls[1].Page)
}

func TestExportServiceRejectsUnknownType(t *testing.T) {
	svc, _ := newExportServiceForTest(t, &historyStub{}, &previewerStub{})

	job := &models.ReportJob{
		ID:     "job-5",
		Type:   models.ReportType("inventory"),
		Params: models.ReportJobParams{Format: models.ReportFormatCSV},
	}
	_, err := svc.Generate(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported report type")
}

func int64Ptr(v int64) *int64 {
	return &v
}
