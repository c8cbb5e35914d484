package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment request.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPendingRegion EnrollmentStatus = "PENDING_REGION"
	EnrollmentStatusConfirmed     EnrollmentStatus = "CONFIRMED"
	EnrollmentStatusWaitlist      EnrollmentStatus = "WAITLIST"
	EnrollmentStatusRejected      EnrollmentStatus = "REJECTED"
)

// EnrollmentStatuses lists every status in declaration order.
var EnrollmentStatuses = []EnrollmentStatus{
	EnrollmentStatusPendingRegion,
	EnrollmentStatusConfirmed,
	EnrollmentStatusWaitlist,
	EnrollmentStatusRejected,
}

// Valid reports whether s is a known status.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusPendingRegion, EnrollmentStatusConfirmed, EnrollmentStatusWaitlist, EnrollmentStatusRejected:
		return true
	}
	return false
}

// OccupiesSeat reports whether the status consumes confirmed capacity.
func (s EnrollmentStatus) OccupiesSeat() bool {
	return s == EnrollmentStatusConfirmed
}

// OccupiesWaitlist reports whether the status consumes waitlist capacity.
func (s EnrollmentStatus) OccupiesWaitlist() bool {
	return s == EnrollmentStatusWaitlist
}

// Enrollment captures a user's request to join a course.
type Enrollment struct {
	ID                string           `db:"id" json:"id"`
	CourseID          string           `db:"course_id" json:"course_id"`
	UserID            string           `db:"user_id" json:"user_id"`
	Status            EnrollmentStatus `db:"status" json:"status"`
	RegionQuotaID     *string          `db:"region_quota_id" json:"region_quota_id"`
	WaitlistPosition  *int             `db:"waitlist_position" json:"waitlist_position"`
	EligibilityReason *string          `db:"eligibility_reason" json:"eligibility_reason"`
	State             *string          `db:"state" json:"state,omitempty"`
	City              *string          `db:"city" json:"city,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// QuotaID returns the assigned region quota id or an empty string.
func (e *Enrollment) QuotaID() string {
	if e == nil || e.RegionQuotaID == nil {
		return ""
	}
	return *e.RegionQuotaID
}

// EnrollmentFilter provides filters for listing enrollments of a course.
type EnrollmentFilter struct {
	CourseID string
	Status   EnrollmentStatus
	Page     int
	PageSize int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
