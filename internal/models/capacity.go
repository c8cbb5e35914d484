package models

import "time"

// CourseCapacity summarises confirmed and waitlisted occupancy for a course.
type CourseCapacity struct {
	CourseID        string          `json:"course_id"`
	MaxEnrollments  *int            `json:"max_enrollments"`
	Confirmed       int             `json:"confirmed"`
	SeatsAvailable  *int            `json:"seats_available"`
	WaitlistEnabled bool            `json:"waitlist_enabled"`
	WaitlistLimit   int             `json:"waitlist_limit"`
	Waitlisted      int             `json:"waitlisted"`
	Regions         []QuotaCapacity `json:"regions"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// QuotaCapacity is the per-region slice of a capacity summary.
type QuotaCapacity struct {
	QuotaID       string  `json:"quota_id"`
	State         string  `json:"state"`
	City          *string `json:"city"`
	Limit         int     `json:"limit"`
	CurrentCount  int     `json:"current_count"`
	WaitlistLimit int     `json:"waitlist_limit"`
	WaitlistCount int     `json:"waitlist_count"`
}

// QuotaDrift records a counter correction made during reconciliation.
type QuotaDrift struct {
	QuotaID         string `json:"quota_id"`
	StoredConfirmed int    `json:"stored_confirmed"`
	ActualConfirmed int    `json:"actual_confirmed"`
	StoredWaitlist  int    `json:"stored_waitlist"`
	ActualWaitlist  int    `json:"actual_waitlist"`
}

// ReconcileReport is returned by counter reconciliation.
type ReconcileReport struct {
	CourseID            string       `json:"course_id"`
	QuotasChecked       int          `json:"quotas_checked"`
	Drifts              []QuotaDrift `json:"drifts"`
	WaitlistRepositions int          `json:"waitlist_repositions"`
}
