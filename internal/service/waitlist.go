package service

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

type waitlistStore interface {
	ListWaitlisted(ctx context.Context, exec sqlx.ExtContext, courseID string) ([]models.Enrollment, error)
	UpdateWaitlistPosition(ctx context.Context, exec sqlx.ExtContext, id string, position int) error
}

// WaitlistResequencer keeps waitlist positions of a course contiguous.
type WaitlistResequencer struct {
	store waitlistStore
}

// NewWaitlistResequencer constructs a resequencer.
func NewWaitlistResequencer(store waitlistStore) *WaitlistResequencer {
	return &WaitlistResequencer{store: store}
}

// Resequence renumbers WAITLIST rows of the course 1..N by creation time and
// returns the resulting positions together with the number of rows rewritten.
func (r *WaitlistResequencer) Resequence(ctx context.Context, exec sqlx.ExtContext, courseID string) (map[string]int, int, error) {
	entries, err := r.store.ListWaitlisted(ctx, exec, courseID)
	if err != nil {
		return nil, 0, err
	}

	positions := make(map[string]int, len(entries))
	changed := 0
	for _, entry := range orderWaitlist(entries) {
		position := len(positions) + 1
		positions[entry.ID] = position
		if entry.WaitlistPosition != nil && *entry.WaitlistPosition == position {
			continue
		}
		if err := r.store.UpdateWaitlistPosition(ctx, exec, entry.ID, position); err != nil {
			return nil, 0, err
		}
		changed++
	}
	return positions, changed, nil
}

func orderWaitlist(entries []models.Enrollment) []models.Enrollment {
	ordered := make([]models.Enrollment, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}
