package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type capacityEnrollmentReader interface {
	waitlistStore
	CountByStatus(ctx context.Context, exec sqlx.ExtContext, courseID string, status models.EnrollmentStatus, excludeID string) (int, error)
	QuotaUsage(ctx context.Context, exec sqlx.ExtContext, courseID string) ([]models.QuotaUsage, error)
}

type capacityQuotaStore interface {
	ListByCourse(ctx context.Context, exec sqlx.ExtContext, courseID string, forUpdate bool) ([]models.RegionQuota, error)
	SetCounters(ctx context.Context, exec sqlx.ExtContext, id string, confirmed, waitlist int) error
}

type capacityCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// CapacityService reports course occupancy and repairs drifted quota counters.
type CapacityService struct {
	courses     courseReader
	quotas      capacityQuotaStore
	enrollments capacityEnrollmentReader
	audit       auditWriter
	tx          txProvider
	waitlist    *WaitlistResequencer
	cache       capacityCache
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewCapacityService constructs a capacity service. cache may be nil.
func NewCapacityService(courses courseReader, quotas capacityQuotaStore, enrollments capacityEnrollmentReader, audit auditWriter, tx txProvider, cache capacityCache, cacheTTL time.Duration, logger *zap.Logger) *CapacityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityService{
		courses:     courses,
		quotas:      quotas,
		enrollments: enrollments,
		audit:       audit,
		tx:          tx,
		waitlist:    NewWaitlistResequencer(enrollments),
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

func capacityCacheKey(courseID string) string {
	return "capacity:" + courseID
}

// Summary returns the capacity view of a course, served from cache when warm.
// cached reports whether the cache answered.
func (s *CapacityService) Summary(ctx context.Context, courseID string) (summary *models.CourseCapacity, cached bool, err error) {
	key := capacityCacheKey(courseID)
	if s.cache != nil {
		var hit models.CourseCapacity
		if ok, getErr := s.cache.Get(ctx, key, &hit); getErr == nil && ok {
			return &hit, true, nil
		}
	}

	course, err := s.courses.FindByID(ctx, nil, courseID, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	confirmed, err := s.enrollments.CountByStatus(ctx, nil, courseID, models.EnrollmentStatusConfirmed, "")
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count confirmed enrollments")
	}
	waitlisted, err := s.enrollments.CountByStatus(ctx, nil, courseID, models.EnrollmentStatusWaitlist, "")
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count waitlisted enrollments")
	}
	quotas, err := s.quotas.ListByCourse(ctx, nil, courseID, false)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load region quotas")
	}

	summary = &models.CourseCapacity{
		CourseID:        course.ID,
		MaxEnrollments:  course.MaxEnrollments,
		Confirmed:       confirmed,
		WaitlistEnabled: course.WaitlistEnabled,
		WaitlistLimit:   course.WaitlistLimit,
		Waitlisted:      waitlisted,
		Regions:         make([]models.QuotaCapacity, 0, len(quotas)),
		GeneratedAt:     time.Now().UTC(),
	}
	if course.MaxEnrollments != nil {
		available := *course.MaxEnrollments - confirmed
		if available < 0 {
			available = 0
		}
		summary.SeatsAvailable = &available
	}
	for _, q := range quotas {
		summary.Regions = append(summary.Regions, models.QuotaCapacity{
			QuotaID:       q.ID,
			State:         q.State,
			City:          q.City,
			Limit:         q.Limit,
			CurrentCount:  q.CurrentCount,
			WaitlistLimit: q.WaitlistLimit,
			WaitlistCount: q.WaitlistCount,
		})
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, summary, s.cacheTTL)
	}
	return summary, false, nil
}

// InvalidateSummary drops the cached summary of a course.
func (s *CapacityService) InvalidateSummary(ctx context.Context, courseID string) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, capacityCacheKey(courseID)); err != nil {
		s.logger.Warn("failed to invalidate capacity summary", zap.String("course_id", courseID), zap.Error(err))
	}
}

// Reconcile recomputes quota counters from enrollment rows and renumbers the
// waitlist, all inside one transaction.
func (s *CapacityService) Reconcile(ctx context.Context, courseID, actorID string) (report *models.ReconcileReport, err error) {
	tx, err := s.tx.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = s.courses.FindByID(ctx, tx, courseID, true); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	quotas, err := s.quotas.ListByCourse(ctx, tx, courseID, true)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock region quotas")
	}
	usage, err := s.enrollments.QuotaUsage(ctx, tx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate quota usage")
	}
	actual := make(map[string]models.QuotaUsage, len(usage))
	for _, u := range usage {
		actual[u.QuotaID] = u
	}

	report = &models.ReconcileReport{CourseID: courseID, QuotasChecked: len(quotas), Drifts: []models.QuotaDrift{}}
	for _, q := range quotas {
		live := actual[q.ID]
		if live.Confirmed == q.CurrentCount && live.Waitlist == q.WaitlistCount {
			continue
		}
		if err = s.quotas.SetCounters(ctx, tx, q.ID, live.Confirmed, live.Waitlist); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to correct quota counters")
		}
		report.Drifts = append(report.Drifts, models.QuotaDrift{
			QuotaID:         q.ID,
			StoredConfirmed: q.CurrentCount,
			ActualConfirmed: live.Confirmed,
			StoredWaitlist:  q.WaitlistCount,
			ActualWaitlist:  live.Waitlist,
		})
	}

	_, repositioned, err := s.waitlist.Resequence(ctx, tx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resequence waitlist")
	}
	report.WaitlistRepositions = repositioned

	if s.audit != nil && (len(report.Drifts) > 0 || repositioned > 0) {
		payload, marshalErr := json.Marshal(report)
		if marshalErr != nil {
			err = appErrors.Wrap(marshalErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode reconcile report")
			return nil, err
		}
		entry := &models.AuditLog{
			Action:     models.AuditActionQuotaReconcile,
			Resource:   "course",
			ResourceID: &courseID,
			NewValues:  payload,
		}
		if actorID != "" {
			entry.UserID = &actorID
		}
		if err = s.audit.Create(ctx, tx, entry); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record audit trail")
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit reconciliation")
	}

	if len(report.Drifts) > 0 {
		s.logger.Warn("region quota counters drifted",
			zap.String("course_id", courseID),
			zap.Int("drifts", len(report.Drifts)),
		)
	}
	s.InvalidateSummary(ctx, courseID)
	return report, nil
}
