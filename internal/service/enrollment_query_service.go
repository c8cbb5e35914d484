package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type enrollmentLister interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
}

// EnrollmentQueryService serves the read side of course enrollments.
type EnrollmentQueryService struct {
	repo    enrollmentLister
	courses courseReader
	logger  *zap.Logger
}

// NewEnrollmentQueryService constructs EnrollmentQueryService.
func NewEnrollmentQueryService(repo enrollmentLister, courses courseReader, logger *zap.Logger) *EnrollmentQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentQueryService{repo: repo, courses: courses, logger: logger}
}

// List returns a page of enrollments for one course.
func (s *EnrollmentQueryService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	filter.CourseID = strings.TrimSpace(filter.CourseID)
	if filter.CourseID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "courseId is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown enrollment status")
	}
	if _, err := s.courses.FindByID(ctx, nil, filter.CourseID, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	if enrollments == nil {
		enrollments = []models.Enrollment{}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
