package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/signage-rotation-api/internal/models"
)

// VersionRepository persists the append-only schedule version ledger.
// Versions are never updated in place; rollback appends a new row and prune
// is the only deletion path.
type VersionRepository struct {
	db *sqlx.DB
}

// NewVersionRepository constructs the repository.
func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// Insert appends a new version and fills in the assigned id.
func (r *VersionRepository) Insert(ctx context.Context, record *models.VersionRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO schedule_versions (created_at, actor, summary, document, pinned)
VALUES ($1, $2, $3, $4, $5) RETURNING version_id`
	if err := r.db.QueryRowxContext(ctx, query,
		record.CreatedAt, record.Actor, record.Summary, record.Document, record.Pinned,
	).Scan(&record.VersionID); err != nil {
		return fmt.Errorf("insert schedule version: %w", err)
	}
	return nil
}

// GetByID fetches a version by identifier.
func (r *VersionRepository) GetByID(ctx context.Context, versionID int64) (*models.VersionRecord, error) {
	const query = `SELECT version_id, created_at, actor, summary, document, pinned
FROM schedule_versions WHERE version_id = $1`
	var record models.VersionRecord
	if err := r.db.GetContext(ctx, &record, query, versionID); err != nil {
		return nil, err
	}
	return &record, nil
}

// Latest returns the most recently committed version.
func (r *VersionRepository) Latest(ctx context.Context) (*models.VersionRecord, error) {
	const query = `SELECT version_id, created_at, actor, summary, document, pinned
FROM schedule_versions ORDER BY version_id DESC LIMIT 1`
	var record models.VersionRecord
	if err := r.db.GetContext(ctx, &record, query); err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns versions matching the filter, newest first, with the total
// row count for pagination.
func (r *VersionRepository) List(ctx context.Context, filter models.VersionFilter) ([]models.VersionRecord, int, error) {
	base := "FROM schedule_versions"
	args := make([]interface{}, 0, 2)
	conditions := []string{"1=1"}

	if filter.Actor != "" {
		conditions = append(conditions, fmt.Sprintf("actor = $%d", len(args)+1))
		args = append(args, filter.Actor)
	}
	if filter.PinnedOnly {
		conditions = append(conditions, "pinned = TRUE")
	}
	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT version_id, created_at, actor, summary, document, pinned
%s ORDER BY version_id DESC LIMIT %d OFFSET %d`, base, size, offset)

	var records []models.VersionRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedule versions: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedule versions: %w", err)
	}
	return records, total, nil
}

// SetPinned toggles retention protection for a version.
func (r *VersionRepository) SetPinned(ctx context.Context, versionID int64, pinned bool) error {
	const query = `UPDATE schedule_versions SET pinned = $2 WHERE version_id = $1`
	result, err := r.db.ExecContext(ctx, query, versionID, pinned)
	if err != nil {
		return fmt.Errorf("pin schedule version: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check pin rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Count returns the total number of stored versions.
func (r *VersionRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM schedule_versions"); err != nil {
		return 0, fmt.Errorf("count schedule versions: %w", err)
	}
	return total, nil
}

// Prune deletes versions older than the cutoff while always keeping the
// latest version, every pinned version, and the keepCount most recent rows.
// It returns the number of deleted versions.
func (r *VersionRepository) Prune(ctx context.Context, cutoff time.Time, keepCount int) (int64, error) {
	if keepCount < 1 {
		keepCount = 1
	}
	const query = `DELETE FROM schedule_versions
WHERE pinned = FALSE
  AND created_at < $1
  AND version_id <> (SELECT MAX(version_id) FROM schedule_versions)
  AND version_id NOT IN (
    SELECT version_id FROM schedule_versions ORDER BY version_id DESC LIMIT $2
  )`
	result, err := r.db.ExecContext(ctx, query, cutoff, keepCount)
	if err != nil {
		return 0, fmt.Errorf("prune schedule versions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check prune rows: %w", err)
	}
	return deleted, nil
}
