package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

const enrollmentColumns = `id, course_id, user_id, status, region_quota_id, waitlist_position,
eligibility_reason, state, city, created_at, updated_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByIDForUpdate loads an enrollment and holds a row lock until the
// surrounding transaction ends.
func (r *EnrollmentRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 FOR UPDATE`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// CountByStatus counts course enrollments in a status, skipping excludeID.
func (r *EnrollmentRepository) CountByStatus(ctx context.Context, exec sqlx.ExtContext, courseID string, status models.EnrollmentStatus, excludeID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2 AND id <> $3`
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, courseID, status, excludeID); err != nil {
		return 0, fmt.Errorf("count course enrollments: %w", err)
	}
	return count, nil
}

// CountByQuotaAndStatus counts enrollments of a region quota in a status, skipping excludeID.
func (r *EnrollmentRepository) CountByQuotaAndStatus(ctx context.Context, exec sqlx.ExtContext, quotaID string, status models.EnrollmentStatus, excludeID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE region_quota_id = $1 AND status = $2 AND id <> $3`
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, quotaID, status, excludeID); err != nil {
		return 0, fmt.Errorf("count quota enrollments: %w", err)
	}
	return count, nil
}

// UpdateTransition persists the mutable placement fields of an enrollment.
func (r *EnrollmentRepository) UpdateTransition(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	enrollment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollments SET status = $2, region_quota_id = $3, waitlist_position = $4,
eligibility_reason = $5, updated_at = $6 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query,
		enrollment.ID,
		enrollment.Status,
		enrollment.RegionQuotaID,
		enrollment.WaitlistPosition,
		enrollment.EligibilityReason,
		enrollment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update enrollment transition: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected != 1 {
		return fmt.Errorf("update enrollment transition: %d rows affected", affected)
	}
	return nil
}

// ListWaitlisted returns the course's WAITLIST rows in join order, locked for
// resequencing.
func (r *EnrollmentRepository) ListWaitlisted(ctx context.Context, exec sqlx.ExtContext, courseID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE course_id = $1 AND status = $2 ORDER BY created_at ASC, id ASC FOR UPDATE`
	var enrollments []models.Enrollment
	if err := sqlx.SelectContext(ctx, r.exec(exec), &enrollments, query, courseID, models.EnrollmentStatusWaitlist); err != nil {
		return nil, fmt.Errorf("list waitlisted enrollments: %w", err)
	}
	return enrollments, nil
}

// UpdateWaitlistPosition sets the waitlist rank of a single WAITLIST row.
func (r *EnrollmentRepository) UpdateWaitlistPosition(ctx context.Context, exec sqlx.ExtContext, id string, position int) error {
	const query = `UPDATE enrollments SET waitlist_position = $2 WHERE id = $1 AND status = $3`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, position, models.EnrollmentStatusWaitlist); err != nil {
		return fmt.Errorf("update waitlist position: %w", err)
	}
	return nil
}

// QuotaUsage aggregates confirmed and waitlisted rows per region quota of a course.
func (r *EnrollmentRepository) QuotaUsage(ctx context.Context, exec sqlx.ExtContext, courseID string) ([]models.QuotaUsage, error) {
	const query = `SELECT region_quota_id,
COUNT(*) FILTER (WHERE status = $2) AS confirmed,
COUNT(*) FILTER (WHERE status = $3) AS waitlist
FROM enrollments WHERE course_id = $1 AND region_quota_id IS NOT NULL
GROUP BY region_quota_id`
	var usage []models.QuotaUsage
	if err := sqlx.SelectContext(ctx, r.exec(exec), &usage, query, courseID, models.EnrollmentStatusConfirmed, models.EnrollmentStatusWaitlist); err != nil {
		return nil, fmt.Errorf("aggregate quota usage: %w", err)
	}
	return usage, nil
}

// List returns course enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	conditions := []string{"course_id = $1"}
	args := []interface{}{filter.CourseID}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	clause := " WHERE " + strings.Join(conditions, " AND ")

	orderBy := "created_at ASC, id ASC"
	if filter.Status == models.EnrollmentStatusWaitlist {
		orderBy = "waitlist_position ASC, created_at ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY %s LIMIT %d OFFSET %d`, enrollmentColumns, clause, orderBy, size, offset)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollments"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}
