package models

import (
	"strings"
	"time"
)

// Course carries the capacity configuration the transition engine enforces.
type Course struct {
	ID                       string    `db:"id" json:"id"`
	Title                    string    `db:"title" json:"title"`
	MaxEnrollments           *int      `db:"max_enrollments" json:"max_enrollments"`
	WaitlistEnabled          bool      `db:"waitlist_enabled" json:"waitlist_enabled"`
	WaitlistLimit            int       `db:"waitlist_limit" json:"waitlist_limit"`
	RegionRestrictionEnabled bool      `db:"region_restriction_enabled" json:"region_restriction_enabled"`
	AllowAllRegions          bool      `db:"allow_all_regions" json:"allow_all_regions"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`

	RegionQuotas []RegionQuota `db:"-" json:"region_quotas,omitempty"`
}

// RegionQuota is a course-scoped capacity bucket keyed by state and optionally city.
type RegionQuota struct {
	ID            string    `db:"id" json:"id"`
	CourseID      string    `db:"course_id" json:"course_id"`
	State         string    `db:"state" json:"state"`
	City          *string   `db:"city" json:"city"`
	Limit         int       `db:"quota_limit" json:"limit"`
	WaitlistLimit int       `db:"waitlist_limit" json:"waitlist_limit"`
	CurrentCount  int       `db:"current_count" json:"current_count"`
	WaitlistCount int       `db:"waitlist_count" json:"waitlist_count"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StateWide reports whether the quota covers a whole state.
func (q RegionQuota) StateWide() bool {
	return q.City == nil || strings.TrimSpace(*q.City) == ""
}

// QuotaDelta is the net counter change for one region quota.
type QuotaDelta struct {
	Confirmed int `json:"confirmed"`
	Waitlist  int `json:"waitlist"`
}

// IsZero reports whether the delta changes nothing.
func (d QuotaDelta) IsZero() bool {
	return d.Confirmed == 0 && d.Waitlist == 0
}

// QuotaUsage is the live occupancy of a quota derived from enrollment rows.
type QuotaUsage struct {
	QuotaID   string `db:"region_quota_id"`
	Confirmed int    `db:"confirmed"`
	Waitlist  int    `db:"waitlist"`
}
