// Package quota caps how many LLM-backed interactions a user may have
// per period, counted from the analytics event store.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/klio-ai/klio/pkg/analytics"
	"github.com/klio-ai/klio/pkg/models"
)

// ErrQuotaExceeded is returned when a user is over an applicable policy.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Enforcer checks event counts against quota policies.
type Enforcer struct {
	policies []models.QuotaPolicy
	recorder analytics.Recorder
}

// New creates an Enforcer with the given policies and recorder.
func New(policies []models.QuotaPolicy, r analytics.Recorder) *Enforcer {
	return &Enforcer{policies: policies, recorder: r}
}

// Check returns ErrQuotaExceeded if the user has exhausted any
// applicable policy for the current period.
func (e *Enforcer) Check(ctx context.Context, userID int64) error {
	for _, p := range e.policiesForUser(userID) {
		used, err := e.recorder.CountByUser(ctx, userID, periodStart(p.Period))
		if err != nil {
			return fmt.Errorf("quota check: %w", err)
		}
		if used >= p.MaxEvents {
			return ErrQuotaExceeded
		}
	}
	return nil
}

// Status returns the quota status for a user across applicable policies.
func (e *Enforcer) Status(ctx context.Context, userID int64) ([]models.QuotaStatus, error) {
	policies := e.policiesForUser(userID)
	statuses := make([]models.QuotaStatus, 0, len(policies))

	for _, p := range policies {
		used, err := e.recorder.CountByUser(ctx, userID, periodStart(p.Period))
		if err != nil {
			return nil, fmt.Errorf("quota status: %w", err)
		}
		remaining := p.MaxEvents - used
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.QuotaStatus{
			Policy:    p,
			Used:      used,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

func (e *Enforcer) policiesForUser(userID int64) []models.QuotaPolicy {
	id := strconv.FormatInt(userID, 10)
	var result []models.QuotaPolicy
	for _, p := range e.policies {
		if p.UserID == "*" || p.UserID == id {
			result = append(result, p)
		}
	}
	return result
}

func periodStart(period models.QuotaPeriod) time.Time {
	now := time.Now().UTC()
	switch period {
	case models.QuotaMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
