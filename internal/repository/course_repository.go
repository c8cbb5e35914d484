package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

const courseColumns = `id, title, max_enrollments, waitlist_enabled, waitlist_limit,
region_restriction_enabled, allow_all_regions, created_at, updated_at`

// CourseRepository reads course capacity configuration.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

func (r *CourseRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID fetches a course. When forUpdate is set the row stays locked until
// the transaction ends so capacity checks on the course serialize.
func (r *CourseRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var course models.Course
	if err := sqlx.GetContext(ctx, r.exec(exec), &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}
