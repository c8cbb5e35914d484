package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type capacityCheck int

const (
	checkNone capacityCheck = iota
	checkSeat
	checkWaitlist
)

type transitionEdge struct {
	From  models.EnrollmentStatus
	To    models.EnrollmentStatus
	Check capacityCheck
}

// transitionTable lists every legal status change. Pairs missing here are
// rejected.
var transitionTable = []transitionEdge{
	{From: models.EnrollmentStatusPendingRegion, To: models.EnrollmentStatusConfirmed, Check: checkSeat},
	{From: models.EnrollmentStatusPendingRegion, To: models.EnrollmentStatusWaitlist, Check: checkWaitlist},
	{From: models.EnrollmentStatusPendingRegion, To: models.EnrollmentStatusRejected, Check: checkNone},

	{From: models.EnrollmentStatusWaitlist, To: models.EnrollmentStatusConfirmed, Check: checkSeat},
	{From: models.EnrollmentStatusWaitlist, To: models.EnrollmentStatusPendingRegion, Check: checkNone},
	{From: models.EnrollmentStatusWaitlist, To: models.EnrollmentStatusRejected, Check: checkNone},

	{From: models.EnrollmentStatusConfirmed, To: models.EnrollmentStatusWaitlist, Check: checkWaitlist},
	{From: models.EnrollmentStatusConfirmed, To: models.EnrollmentStatusPendingRegion, Check: checkNone},
	{From: models.EnrollmentStatusConfirmed, To: models.EnrollmentStatusRejected, Check: checkNone},

	{From: models.EnrollmentStatusRejected, To: models.EnrollmentStatusConfirmed, Check: checkSeat},
	{From: models.EnrollmentStatusRejected, To: models.EnrollmentStatusWaitlist, Check: checkWaitlist},
	{From: models.EnrollmentStatusRejected, To: models.EnrollmentStatusPendingRegion, Check: checkNone},

	// Same-status edges move an enrollment to another region quota.
	{From: models.EnrollmentStatusConfirmed, To: models.EnrollmentStatusConfirmed, Check: checkSeat},
	{From: models.EnrollmentStatusWaitlist, To: models.EnrollmentStatusWaitlist, Check: checkWaitlist},
	{From: models.EnrollmentStatusPendingRegion, To: models.EnrollmentStatusPendingRegion, Check: checkNone},
	{From: models.EnrollmentStatusRejected, To: models.EnrollmentStatusRejected, Check: checkNone},
}

func lookupTransition(from, to models.EnrollmentStatus) (transitionEdge, bool) {
	for _, edge := range transitionTable {
		if edge.From == from && edge.To == to {
			return edge, true
		}
	}
	return transitionEdge{}, false
}

// TransitionRejection describes why a status change cannot be applied.
type TransitionRejection struct {
	Reason string
	Status int
	base   *appErrors.Error
}

func (r *TransitionRejection) Error() string {
	return r.Reason
}

// AsError converts the rejection into the API error returned to callers.
func (r *TransitionRejection) AsError() *appErrors.Error {
	base := r.base
	if base == nil {
		base = appErrors.ErrCapacityRejected
	}
	err := appErrors.Clone(base, r.Reason)
	err.Status = r.Status
	return err
}

func reject(reason string) *TransitionRejection {
	return &TransitionRejection{Reason: reason, Status: http.StatusBadRequest, base: appErrors.ErrCapacityRejected}
}

func rejectEdge(from, to models.EnrollmentStatus) *TransitionRejection {
	return &TransitionRejection{
		Reason: fmt.Sprintf("transition from %s to %s is not allowed", from, to),
		Status: http.StatusBadRequest,
		base:   appErrors.ErrTransitionInvalid,
	}
}

type capacityCounter interface {
	CountByStatus(ctx context.Context, exec sqlx.ExtContext, courseID string, status models.EnrollmentStatus, excludeID string) (int, error)
	CountByQuotaAndStatus(ctx context.Context, exec sqlx.ExtContext, quotaID string, status models.EnrollmentStatus, excludeID string) (int, error)
}

// TransitionValidator enforces course, region and waitlist capacity.
type TransitionValidator struct {
	counter capacityCounter
}

// NewTransitionValidator constructs a validator backed by live row counts.
func NewTransitionValidator(counter capacityCounter) *TransitionValidator {
	return &TransitionValidator{counter: counter}
}

// Validate returns a rejection when enrollment may not move to target. Counts
// exclude the enrollment itself so re-validating its current placement
// never counts it twice.
func (v *TransitionValidator) Validate(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment, course *models.Course, target models.EnrollmentStatus, quota *models.RegionQuota) (*TransitionRejection, error) {
	edge, ok := lookupTransition(enrollment.Status, target)
	if !ok {
		return rejectEdge(enrollment.Status, target), nil
	}

	switch edge.Check {
	case checkSeat:
		return v.checkSeat(ctx, exec, enrollment, course, quota)
	case checkWaitlist:
		return v.checkWaitlist(ctx, exec, enrollment, course, quota)
	default:
		return nil, nil
	}
}

func (v *TransitionValidator) checkSeat(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment, course *models.Course, quota *models.RegionQuota) (*TransitionRejection, error) {
	if course.RegionRestrictionEnabled && quota == nil && !course.AllowAllRegions {
		return reject("enrollment must be associated with a valid region"), nil
	}

	if course.MaxEnrollments != nil {
		confirmed, err := v.counter.CountByStatus(ctx, exec, course.ID, models.EnrollmentStatusConfirmed, enrollment.ID)
		if err != nil {
			return nil, err
		}
		if confirmed+1 > *course.MaxEnrollments {
			return reject("course capacity reached"), nil
		}
	}

	if quota != nil {
		confirmed, err := v.counter.CountByQuotaAndStatus(ctx, exec, quota.ID, models.EnrollmentStatusConfirmed, enrollment.ID)
		if err != nil {
			return nil, err
		}
		if confirmed+1 > quota.Limit {
			return reject("region capacity reached"), nil
		}
	}
	return nil, nil
}

func (v *TransitionValidator) checkWaitlist(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment, course *models.Course, quota *models.RegionQuota) (*TransitionRejection, error) {
	if !course.WaitlistEnabled {
		return reject("waitlist is disabled for this course"), nil
	}

	if course.WaitlistLimit > 0 {
		waiting, err := v.counter.CountByStatus(ctx, exec, course.ID, models.EnrollmentStatusWaitlist, enrollment.ID)
		if err != nil {
			return nil, err
		}
		if waiting+1 > course.WaitlistLimit {
			return reject("waitlist limit reached"), nil
		}
	}

	if quota != nil && quota.WaitlistLimit > 0 {
		waiting, err := v.counter.CountByQuotaAndStatus(ctx, exec, quota.ID, models.EnrollmentStatusWaitlist, enrollment.ID)
		if err != nil {
			return nil, err
		}
		if waiting+1 > quota.WaitlistLimit {
			return reject("region waitlist limit reached"), nil
		}
	}
	return nil, nil
}
