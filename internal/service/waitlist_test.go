package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

func TestWaitlistResequencerCompactsGaps(t *testing.T) {
	db := newFakeDB()
	db.addEnrollment(models.Enrollment{ID: "b", CourseID: "course-1", Status: models.EnrollmentStatusWaitlist, WaitlistPosition: intPtr(4)}, 2)
	db.addEnrollment(models.Enrollment{ID: "a", CourseID: "course-1", Status: models.EnrollmentStatusWaitlist, WaitlistPosition: intPtr(1)}, 1)
	db.addEnrollment(models.Enrollment{ID: "c", CourseID: "course-1", Status: models.EnrollmentStatusWaitlist, WaitlistPosition: intPtr(9)}, 3)
	db.addEnrollment(models.Enrollment{ID: "x", CourseID: "course-2", Status: models.EnrollmentStatusWaitlist, WaitlistPosition: intPtr(7)}, 1)

	r := NewWaitlistResequencer(fakeEnrollmentRepo{db: db})
	positions, changed, err := r.Resequence(context.Background(), nil, "course-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, positions)
	assert.Equal(t, 2, changed)
	assert.Equal(t, map[int]string{1: "a", 2: "b", 3: "c"}, db.waitlistPositions("course-1"))
	assert.Equal(t, 7, *db.enrollment("x").WaitlistPosition)
}

func TestWaitlistResequencerIsStableWhenContiguous(t *testing.T) {
	db := newFakeDB()
	db.addEnrollment(models.Enrollment{ID: "a", CourseID: "course-1", Status: models.EnrollmentStatusWaitlist, WaitlistPosition: intPtr(1)}, 1)
	db.addEnrollment(models.Enrollment{ID: "b", CourseID: "course-1", Status: models.EnrollmentStatusWaitlist, WaitlistPosition: intPtr(2)}, 2)

	r := NewWaitlistResequencer(fakeEnrollmentRepo{db: db})
	_, changed, err := r.Resequence(context.Background(), nil, "course-1")
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Zero(t, db.positionWrites)
}

func TestOrderWaitlistTieBreaksByID(t *testing.T) {
	entries := []models.Enrollment{
		{ID: "z", CreatedAt: fakeEpoch},
		{ID: "m", CreatedAt: fakeEpoch.Add(-1)},
		{ID: "a", CreatedAt: fakeEpoch},
	}
	ordered := orderWaitlist(entries)
	ids := []string{ordered[0].ID, ordered[1].ID, ordered[2].ID}
	assert.Equal(t, []string{"m", "a", "z"}, ids)
	assert.Equal(t, "z", entries[0].ID)
}
