package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/signage-rotation-api/internal/models"
)

func newReportJobRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func TestReportJobRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newReportJobRepoMock(t)
	defer cleanup()

	repo := NewReportJobRepository(db)
	mock.ExpectExec("INSERT INTO report_jobs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.ReportJob{
		Type:      models.ReportTypeVersions,
		Params:    models.ReportJobParams{Format: models.ReportFormatCSV},
		CreatedBy: "admin",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.ReportStatusQueued, job.Status)
}

func TestReportJobRepositoryUpdateBuildsPartialSet(t *testing.T) {
	db, mock, cleanup := newReportJobRepoMock(t)
	defer cleanup()

	repo := NewReportJobRepository(db)
	status := models.ReportStatusFinished
	path := "/var/exports/report.csv"
	finished := time.Now().UTC()
	mock.ExpectExec("UPDATE report_jobs SET status").
		WithArgs(status, path, finished, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "job-1", UpdateReportJobParams{
		Status:     &status,
		ResultPath: &path,
		FinishedAt: &finished,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportJobRepositoryUpdateNoFieldsIsNoop(t *testing.T) {
	db, mock, cleanup := newReportJobRepoMock(t)
	defer cleanup()

	repo := NewReportJobRepository(db)
	require.NoError(t, repo.Update(context.Background(), "job-1", UpdateReportJobParams{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportJobRepositoryListQueued(t *testing.T) {
	db, mock, cleanup := newReportJobRepoMock(t)
	defer cleanup()

	repo := NewReportJobRepository(db)
	rows := sqlmock.NewRows([]string{"id", "type", "params", "status", "result_path", "created_by", "created_at", "finished_at", "error_message"}).
		AddRow("job-1", models.ReportTypeVersions, []byte(`{"format":"csv"}`), models.ReportStatusQueued, nil, "admin", time.Now(), nil, nil)
	mock.ExpectQuery("WHERE status = 'QUEUED'").
		WithArgs(20).
		WillReturnRows(rows)

	jobs, err := repo.ListQueued(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.ReportFormatCSV, jobs[0].Params.Format)
}
