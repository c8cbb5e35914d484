package models

import "time"

// NotificationKind classifies user-facing enrollment notifications.
type NotificationKind string

const (
	NotificationKindEnrolled NotificationKind = "ENROLLED"
	NotificationKindUpdated  NotificationKind = "UPDATED"
)

// Notification is an inbox entry delivered after a committed transition.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	Title     string           `db:"title" json:"title"`
	Body      string           `db:"body" json:"body"`
	Link      string           `db:"link" json:"link"`
	IsRead    bool             `db:"is_read" json:"is_read"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
