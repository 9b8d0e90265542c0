package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/signage-rotation-api/internal/models"
)

func newVersionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func versionColumns() []string {
	return []string{"version_id", "created_at", "actor", "summary", "document", "pinned"}
}

func TestVersionRepositoryInsertAssignsID(t *testing.T) {
	db, mock, cleanup := newVersionRepoMock(t)
	defer cleanup()

	repo := NewVersionRepository(db)
	mock.ExpectQuery("INSERT INTO schedule_versions").
		WithArgs(sqlmock.AnyArg(), "admin", "initial rollout", sqlmock.AnyArg(), false).
		WillReturnRows(sqlmock.NewRows([]string{"version_id"}).AddRow(int64(7)))

	record := &models.VersionRecord{
		Actor:    "admin",
		Summary:  "initial rollout",
		Document: json.RawMessage(`{"version":2}`),
	}
	require.NoError(t, repo.Insert(context.Background(), record))
	assert.Equal(t, int64(7), record.VersionID)
	assert.False(t, record.CreatedAt.IsZero())
}

func TestVersionRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newVersionRepoMock(t)
	defer cleanup()

	repo := NewVersionRepository(db)
	rows := sqlmock.NewRows(versionColumns()).
		AddRow(int64(3), time.Now(), "admin", "weekday refresh", []byte(`{"version":2}`), true)
	mock.ExpectQuery("SELECT version_id, created_at, actor, summary, document, pinned").
		WithArgs(int64(3)).
		WillReturnRows(rows)

	record, err := repo.GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), record.VersionID)
	assert.True(t, record.Pinned)
}

func TestVersionRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newVersionRepoMock(t)
	defer cleanup()

	repo := NewVersionRepository(db)
	mock.ExpectQuery("SELECT version_id").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestVersionRepositoryLatest(t *testing.T) {
	db, mock, cleanup := newVersionRepoMock(t)
	defer cleanup()

	repo := NewVersionRepository(db)
	rows := sqlmock.NewRows(versionColumns()).
		AddRow(int64(12), time.Now(), "ops", "rollback of 11", []byte(`{"version":2}`), false)
	mock.ExpectQuery("ORDER BY version_id DESC LIMIT 1").WillReturnRows(rows)

	record, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), record.VersionID)
}

func TestVersionRepositoryListFiltersByActor(t *testing.T) {
	db, mock, cleanup := newVersionRepoMock(t)
	defer cleanup()

	repo := NewVersionRepository(db)
	rows := sqlmock.NewRows(versionColumns()).
		AddRow(int64(5), time.Now(), "ops", "night windows", []byte(`{"version":2}`), false)
	mock.ExpectQuery("SELECT version_id, created_at, actor, summary, document, pinned").
		WithArgs("ops").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("ops").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	records, total, err := repo.List(context.Background(), models.VersionFilter{Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "ops", records[0].Actor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVersionRepositorySetPinnedMissingRow(t *testing.T) {
	db, mock, cleanup := newVersionRepoMock(t)
	defer cleanup()

	repo := NewVersionRepository(db)
	mock.ExpectExec("UPDATE schedule_versions SET pinned").
		WithArgs(int64(4), true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetPinned(context.Background(), 4, true)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestVersionRepositoryPruneKeepsProtectedRows(t *testing.T) {
	db, mock, cleanup := newVersionRepoMock(t)
	defer cleanup()

	repo := NewVersionRepository(db)
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM schedule_versions").
		WithArgs(cutoff, 10).
		WillReturnResult(sqlmock.NewResult(0, 6))

	deleted, err := repo.Prune(context.Background(), cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
