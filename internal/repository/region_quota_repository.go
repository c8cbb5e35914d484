package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

const regionQuotaColumns = `id, course_id, state, city, quota_limit, waitlist_limit,
current_count, waitlist_count, created_at, updated_at`

// RegionQuotaRepository persists region quota counters.
type RegionQuotaRepository struct {
	db *sqlx.DB
}

// NewRegionQuotaRepository constructs the repository.
func NewRegionQuotaRepository(db *sqlx.DB) *RegionQuotaRepository {
	return &RegionQuotaRepository{db: db}
}

func (r *RegionQuotaRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListByCourse returns the course quotas ordered by id.
func (r *RegionQuotaRepository) ListByCourse(ctx context.Context, exec sqlx.ExtContext, courseID string, forUpdate bool) ([]models.RegionQuota, error) {
	query := `SELECT ` + regionQuotaColumns + ` FROM region_quotas WHERE course_id = $1 ORDER BY id ASC`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var quotas []models.RegionQuota
	if err := sqlx.SelectContext(ctx, r.exec(exec), &quotas, query, courseID); err != nil {
		return nil, fmt.Errorf("list region quotas: %w", err)
	}
	return quotas, nil
}

// FindByIDForUpdate locks a single quota row.
func (r *RegionQuotaRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RegionQuota, error) {
	query := `SELECT ` + regionQuotaColumns + ` FROM region_quotas WHERE id = $1 FOR UPDATE`
	var quota models.RegionQuota
	if err := sqlx.GetContext(ctx, r.exec(exec), &quota, query, id); err != nil {
		return nil, err
	}
	return &quota, nil
}

// ApplyDelta adjusts the counters of a quota relative to their stored values.
func (r *RegionQuotaRepository) ApplyDelta(ctx context.Context, exec sqlx.ExtContext, id string, delta models.QuotaDelta) error {
	if delta.IsZero() {
		return nil
	}
	const query = `UPDATE region_quotas SET current_count = current_count + $2,
waitlist_count = waitlist_count + $3, updated_at = $4 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, id, delta.Confirmed, delta.Waitlist, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("apply quota delta: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected != 1 {
		return fmt.Errorf("apply quota delta to %s: %d rows affected", id, affected)
	}
	return nil
}

// SetCounters overwrites the stored counters of a quota.
func (r *RegionQuotaRepository) SetCounters(ctx context.Context, exec sqlx.ExtContext, id string, confirmed, waitlist int) error {
	const query = `UPDATE region_quotas SET current_count = $2, waitlist_count = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, confirmed, waitlist, time.Now().UTC()); err != nil {
		return fmt.Errorf("set quota counters: %w", err)
	}
	return nil
}
