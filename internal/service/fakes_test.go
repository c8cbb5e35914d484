package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

// fakeDB is an in-memory stand-in for the enrollment tables shared by the
// repository fakes below.
type fakeDB struct {
	mu          sync.Mutex
	courses     map[string]models.Course
	quotas      map[string]models.RegionQuota
	enrollments map[string]models.Enrollment
	audits      []models.AuditLog

	lockedCourses  []string
	lockedQuotas   []string
	lockOrder      []string
	deltaOrder     []string
	updates        int
	positionWrites int
	updateErr      error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		courses:     map[string]models.Course{},
		quotas:      map[string]models.RegionQuota{},
		enrollments: map[string]models.Enrollment{},
	}
}

func (db *fakeDB) addCourse(c models.Course) {
	db.courses[c.ID] = c
}

func (db *fakeDB) addQuota(q models.RegionQuota) {
	db.quotas[q.ID] = q
}

var fakeEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// addEnrollment stores e with a creation time derived from seq.
func (db *fakeDB) addEnrollment(e models.Enrollment, seq int) {
	e.CreatedAt = fakeEpoch.Add(time.Duration(seq) * time.Minute)
	e.UpdatedAt = e.CreatedAt
	db.enrollments[e.ID] = e
}

func (db *fakeDB) enrollment(id string) models.Enrollment {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.enrollments[id]
}

func (db *fakeDB) quota(id string) models.RegionQuota {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.quotas[id]
}

func (db *fakeDB) countStatus(courseID string, status models.EnrollmentStatus) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, e := range db.enrollments {
		if e.CourseID == courseID && e.Status == status {
			n++
		}
	}
	return n
}

// assertCountersMatch fails when a stored quota counter differs from the rows.
func (db *fakeDB) assertCountersMatch(t *testing.T) {
	t.Helper()
	db.mu.Lock()
	defer db.mu.Unlock()
	for id, q := range db.quotas {
		confirmed, waiting := 0, 0
		for _, e := range db.enrollments {
			if e.QuotaID() != id {
				continue
			}
			switch e.Status {
			case models.EnrollmentStatusConfirmed:
				confirmed++
			case models.EnrollmentStatusWaitlist:
				waiting++
			}
		}
		require.Equalf(t, confirmed, q.CurrentCount, "current_count of %s", id)
		require.Equalf(t, waiting, q.WaitlistCount, "waitlist_count of %s", id)
	}
}

// waitlistPositions returns enrollment ids keyed by waitlist position.
func (db *fakeDB) waitlistPositions(courseID string) map[int]string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := map[int]string{}
	for _, e := range db.enrollments {
		if e.CourseID == courseID && e.Status == models.EnrollmentStatusWaitlist && e.WaitlistPosition != nil {
			out[*e.WaitlistPosition] = e.ID
		}
	}
	return out
}

type fakeEnrollmentRepo struct{ db *fakeDB }

func (r fakeEnrollmentRepo) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	r.db.lockOrder = append(r.db.lockOrder, "enrollment:"+id)
	return &e, nil
}

func (r fakeEnrollmentRepo) CountByStatus(ctx context.Context, exec sqlx.ExtContext, courseID string, status models.EnrollmentStatus, excludeID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, e := range r.db.enrollments {
		if e.CourseID == courseID && e.Status == status && e.ID != excludeID {
			n++
		}
	}
	return n, nil
}

func (r fakeEnrollmentRepo) CountByQuotaAndStatus(ctx context.Context, exec sqlx.ExtContext, quotaID string, status models.EnrollmentStatus, excludeID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, e := range r.db.enrollments {
		if e.QuotaID() == quotaID && e.Status == status && e.ID != excludeID {
			n++
		}
	}
	return n, nil
}

func (r fakeEnrollmentRepo) UpdateTransition(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.updateErr != nil {
		return r.db.updateErr
	}
	if _, ok := r.db.enrollments[enrollment.ID]; !ok {
		return fmt.Errorf("enrollment %s missing", enrollment.ID)
	}
	r.db.updates++
	r.db.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (r fakeEnrollmentRepo) ListWaitlisted(ctx context.Context, exec sqlx.ExtContext, courseID string) ([]models.Enrollment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Enrollment
	for _, e := range r.db.enrollments {
		if e.CourseID == courseID && e.Status == models.EnrollmentStatusWaitlist {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r fakeEnrollmentRepo) UpdateWaitlistPosition(ctx context.Context, exec sqlx.ExtContext, id string, position int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e := r.db.enrollments[id]
	p := position
	e.WaitlistPosition = &p
	r.db.enrollments[id] = e
	r.db.positionWrites++
	return nil
}

func (r fakeEnrollmentRepo) QuotaUsage(ctx context.Context, exec sqlx.ExtContext, courseID string) ([]models.QuotaUsage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	usage := map[string]*models.QuotaUsage{}
	for _, e := range r.db.enrollments {
		if e.CourseID != courseID || e.QuotaID() == "" {
			continue
		}
		u, ok := usage[e.QuotaID()]
		if !ok {
			u = &models.QuotaUsage{QuotaID: e.QuotaID()}
			usage[e.QuotaID()] = u
		}
		switch e.Status {
		case models.EnrollmentStatusConfirmed:
			u.Confirmed++
		case models.EnrollmentStatusWaitlist:
			u.Waitlist++
		}
	}
	out := make([]models.QuotaUsage, 0, len(usage))
	for _, u := range usage {
		out = append(out, *u)
	}
	return out, nil
}

type fakeCourseRepo struct{ db *fakeDB }

func (r fakeCourseRepo) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.Course, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if forUpdate {
		r.db.lockedCourses = append(r.db.lockedCourses, id)
		r.db.lockOrder = append(r.db.lockOrder, "course:"+id)
	}
	return &c, nil
}

type fakeQuotaRepo struct{ db *fakeDB }

func (r fakeQuotaRepo) ListByCourse(ctx context.Context, exec sqlx.ExtContext, courseID string, forUpdate bool) ([]models.RegionQuota, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.RegionQuota
	for _, q := range r.db.quotas {
		if q.CourseID == courseID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakeQuotaRepo) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RegionQuota, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	q, ok := r.db.quotas[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	r.db.lockedQuotas = append(r.db.lockedQuotas, id)
	r.db.lockOrder = append(r.db.lockOrder, "quota:"+id)
	return &q, nil
}

func (r fakeQuotaRepo) ApplyDelta(ctx context.Context, exec sqlx.ExtContext, id string, delta models.QuotaDelta) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	q, ok := r.db.quotas[id]
	if !ok {
		return fmt.Errorf("quota %s missing", id)
	}
	q.CurrentCount += delta.Confirmed
	q.WaitlistCount += delta.Waitlist
	r.db.quotas[id] = q
	r.db.deltaOrder = append(r.db.deltaOrder, id)
	return nil
}

func (r fakeQuotaRepo) SetCounters(ctx context.Context, exec sqlx.ExtContext, id string, confirmed, waitlist int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	q := r.db.quotas[id]
	q.CurrentCount = confirmed
	q.WaitlistCount = waitlist
	r.db.quotas[id] = q
	return nil
}

type fakeAuditRepo struct{ db *fakeDB }

func (r fakeAuditRepo) Create(ctx context.Context, exec sqlx.ExtContext, log *models.AuditLog) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.audits = append(r.db.audits, *log)
	return nil
}

type notifierStub struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (n *notifierStub) Notify(ctx context.Context, notification models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)
	return nil
}

type invalidatorStub struct {
	courses []string
}

func (i *invalidatorStub) InvalidateSummary(ctx context.Context, courseID string) {
	i.courses = append(i.courses, courseID)
}

func strPtr(v string) *string { return &v }

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }
