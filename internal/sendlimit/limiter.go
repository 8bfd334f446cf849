// Package sendlimit enforces per-campaign daily send quotas.
package sendlimit

import "context"

// DailyLimiter hands out send permits against a campaign's daily quota.
// A limit of zero means the campaign is unlimited.
type DailyLimiter interface {
	// TryAcquire consumes one send permit for the campaign on the given day
	// (formatted YYYY-MM-DD in the campaign's timezone). It returns false
	// without consuming anything when the quota is already exhausted.
	TryAcquire(ctx context.Context, campaignID, day string, limit int) (bool, error)
}

// NopLimiter grants every permit. Useful when no shared counter is wired.
type NopLimiter struct{}

func (NopLimiter) TryAcquire(context.Context, string, string, int) (bool, error) {
	return true, nil
}
