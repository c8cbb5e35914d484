package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type capacityCacheStub struct {
	items map[string][]byte
	sets  int
}

func newCapacityCacheStub() *capacityCacheStub {
	return &capacityCacheStub{items: map[string][]byte{}}
}

func (c *capacityCacheStub) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := c.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *capacityCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.items[key] = raw
	c.sets++
	return nil
}

func (c *capacityCacheStub) Invalidate(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(c.items, key)
	}
	return nil
}

func newCapacityFixture(t *testing.T) (*CapacityService, *fakeDB, *capacityCacheStub, *txProviderMock) {
	t.Helper()
	tx, _ := newTxProviderMock(t)
	db := newFakeDB()
	cache := newCapacityCacheStub()
	svc := NewCapacityService(fakeCourseRepo{db: db}, fakeQuotaRepo{db: db}, fakeEnrollmentRepo{db: db}, fakeAuditRepo{db: db}, tx, cache, time.Minute, zap.NewNop())
	return svc, db, cache, tx.(*txProviderMock)
}

func TestCapacitySummaryUsesCache(t *testing.T) {
	svc, db, cache, _ := newCapacityFixture(t)
	db.addCourse(models.Course{ID: "course-1", MaxEnrollments: intPtr(3), WaitlistEnabled: true, WaitlistLimit: 2})
	db.addQuota(models.RegionQuota{ID: "q-sp", CourseID: "course-1", State: "SP", Limit: 2, CurrentCount: 1})
	db.addEnrollment(models.Enrollment{ID: "e1", CourseID: "course-1", Status: models.EnrollmentStatusConfirmed, RegionQuotaID: strPtr("q-sp")}, 1)
	db.addEnrollment(models.Enrollment{ID: "e2", CourseID: "course-1", Status: models.EnrollmentStatusWaitlist, WaitlistPosition: intPtr(1)}, 2)

	summary, cached, err := svc.Summary(context.Background(), "course-1")
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 1, summary.Confirmed)
	assert.Equal(t, 1, summary.Waitlisted)
	require.NotNil(t, summary.SeatsAvailable)
	assert.Equal(t, 2, *summary.SeatsAvailable)
	require.Len(t, summary.Regions, 1)
	assert.Equal(t, "q-sp", summary.Regions[0].QuotaID)
	assert.Equal(t, 1, cache.sets)

	db.addEnrollment(models.Enrollment{ID: "e3", CourseID: "course-1", Status: models.EnrollmentStatusConfirmed}, 3)
	warm, cached, err := svc.Summary(context.Background(), "course-1")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 1, warm.Confirmed)

	svc.InvalidateSummary(context.Background(), "course-1")
	fresh, _, err := svc.Summary(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Confirmed)
}

func TestCapacitySummaryCourseNotFound(t *testing.T) {
	svc, _, _, _ := newCapacityFixture(t)

	_, _, err := svc.Summary(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, appErrors.FromError(err).Status)
}

func TestCapacityReconcileCorrectsDrift(t *testing.T) {
	svc, db, cache, tx := newCapacityFixture(t)
	db.addCourse(models.Course{ID: "course-1", WaitlistEnabled: true})
	db.addQuota(models.RegionQuota{ID: "q-rj", CourseID: "course-1", State: "RJ", Limit: 5, CurrentCount: 0})
	db.addQuota(models.RegionQuota{ID: "q-sp", CourseID: "course-1", State: "SP", Limit: 5, CurrentCount: 4, WaitlistCount: 0})
	db.addEnrollment(models.Enrollment{ID: "e1", CourseID: "course-1", Status: models.EnrollmentStatusConfirmed, RegionQuotaID: strPtr("q-sp")}, 1)
	db.addEnrollment(models.Enrollment{ID: "e2", CourseID: "course-1", Status: models.EnrollmentStatusWaitlist, RegionQuotaID: strPtr("q-sp"), WaitlistPosition: intPtr(3)}, 2)
	cache.items[capacityCacheKey("course-1")] = []byte(`{}`)

	tx.mock.ExpectBegin()
	tx.mock.ExpectCommit()

	report, err := svc.Reconcile(context.Background(), "course-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.QuotasChecked)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, models.QuotaDrift{QuotaID: "q-sp", StoredConfirmed: 4, ActualConfirmed: 1, StoredWaitlist: 0, ActualWaitlist: 1}, report.Drifts[0])
	assert.Equal(t, 1, report.WaitlistRepositions)

	db.assertCountersMatch(t)
	assert.Equal(t, []string{"course-1"}, db.lockedCourses)
	require.Len(t, db.audits, 1)
	assert.Equal(t, models.AuditActionQuotaReconcile, db.audits[0].Action)
	assert.NotContains(t, cache.items, capacityCacheKey("course-1"))
	require.NoError(t, tx.mock.ExpectationsWereMet())
}

func TestCapacityReconcileCleanCourseWritesNothing(t *testing.T) {
	svc, db, _, tx := newCapacityFixture(t)
	db.addCourse(models.Course{ID: "course-1"})
	db.addQuota(models.RegionQuota{ID: "q-sp", CourseID: "course-1", State: "SP", Limit: 5, CurrentCount: 1})
	db.addEnrollment(models.Enrollment{ID: "e1", CourseID: "course-1", Status: models.EnrollmentStatusConfirmed, RegionQuotaID: strPtr("q-sp")}, 1)

	tx.mock.ExpectBegin()
	tx.mock.ExpectCommit()

	report, err := svc.Reconcile(context.Background(), "course-1", "admin-1")
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
	assert.Zero(t, report.WaitlistRepositions)
	assert.Empty(t, db.audits)
	require.NoError(t, tx.mock.ExpectationsWereMet())
}

func TestCapacityReconcileUnknownCourseRollsBack(t *testing.T) {
	svc, _, _, tx := newCapacityFixture(t)
	tx.mock.ExpectBegin()
	tx.mock.ExpectRollback()

	_, err := svc.Reconcile(context.Background(), "missing", "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.KindNotFound, appErrors.FromError(err).Kind())
	require.NoError(t, tx.mock.ExpectationsWereMet())
}
