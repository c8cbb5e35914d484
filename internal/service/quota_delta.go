package service

import (
	"sort"
	"strings"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// AccumulateQuotaDeltas computes the counter changes caused by moving an
// enrollment from (oldStatus, oldQuotaID) to (newStatus, newQuotaID). Buckets
// that net to zero are omitted.
func AccumulateQuotaDeltas(oldStatus, newStatus models.EnrollmentStatus, oldQuotaID, newQuotaID string) map[string]models.QuotaDelta {
	deltas := make(map[string]models.QuotaDelta)
	add := func(quotaID string, confirmed, waitlist int) {
		quotaID = strings.TrimSpace(quotaID)
		if quotaID == "" {
			return
		}
		d := deltas[quotaID]
		d.Confirmed += confirmed
		d.Waitlist += waitlist
		deltas[quotaID] = d
	}

	if oldStatus.OccupiesSeat() {
		add(oldQuotaID, -1, 0)
	}
	if oldStatus.OccupiesWaitlist() {
		add(oldQuotaID, 0, -1)
	}
	if newStatus.OccupiesSeat() {
		add(newQuotaID, 1, 0)
	}
	if newStatus.OccupiesWaitlist() {
		add(newQuotaID, 0, 1)
	}

	for id, d := range deltas {
		if d.IsZero() {
			delete(deltas, id)
		}
	}
	return deltas
}

// sortedQuotaIDs returns delta keys in ascending order, the order in which
// counter rows are written.
func sortedQuotaIDs(deltas map[string]models.QuotaDelta) []string {
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
