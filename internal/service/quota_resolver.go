package service

import (
	"strings"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// ResolveQuota picks the region quota an enrollment should occupy.
//
// An explicit candidate that belongs to the course wins. Otherwise the
// enrollee's state and city are matched: an exact city quota first, then the
// first state-wide quota in input order. Enrollees without a state get nil.
func ResolveQuota(candidateID *string, quotas []models.RegionQuota, state, city *string) *models.RegionQuota {
	if candidateID != nil && strings.TrimSpace(*candidateID) != "" {
		candidate := strings.TrimSpace(*candidateID)
		for i := range quotas {
			if quotas[i].ID == candidate {
				return &quotas[i]
			}
		}
	}

	normalizedState := normalizeState(state)
	if normalizedState == "" {
		return nil
	}
	normalizedCity := normalizeCity(city)

	if normalizedCity != "" {
		for i := range quotas {
			q := quotas[i]
			if q.StateWide() || normalizeState(&q.State) != normalizedState {
				continue
			}
			if normalizeCity(q.City) == normalizedCity {
				return &quotas[i]
			}
		}
	}

	for i := range quotas {
		if quotas[i].StateWide() && normalizeState(&quotas[i].State) == normalizedState {
			return &quotas[i]
		}
	}
	return nil
}

func normalizeState(state *string) string {
	if state == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(*state))
}

func normalizeCity(city *string) string {
	if city == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*city))
}
