package application

import (
	"time"
)

// ActivityTier represents the refresh frequency classification for a
// collection based on how recently it was written locally.
type ActivityTier int

const (
	// TierHot indicates a write within the last 10 minutes. Refreshes every minute.
	TierHot ActivityTier = iota
	// TierActive indicates a write within the last hour. Refreshes every 5 minutes.
	TierActive
	// TierWarm indicates a write within the last day. Refreshes every 15 minutes.
	TierWarm
	// TierStale indicates no write for a day or more. Refreshes every 30 minutes.
	TierStale
)

// Refresh intervals per activity tier.
const (
	intervalHot    = 1 * time.Minute
	intervalActive = 5 * time.Minute
	intervalWarm   = 15 * time.Minute
	intervalStale  = 30 * time.Minute
)

// String returns a human-readable name for the activity tier.
func (t ActivityTier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierActive:
		return "active"
	case TierWarm:
		return "warm"
	case TierStale:
		return "stale"
	default:
		return "unknown"
	}
}

// tierInterval returns the refresh interval for the given activity tier.
func tierInterval(tier ActivityTier) time.Duration {
	switch tier {
	case TierHot:
		return intervalHot
	case TierActive:
		return intervalActive
	case TierWarm:
		return intervalWarm
	case TierStale:
		return intervalStale
	default:
		return intervalActive
	}
}

// classifyActivity determines the activity tier based on the time elapsed
// since the last local write. A zero-value time is treated as TierStale.
func classifyActivity(lastWrite time.Time) ActivityTier {
	if lastWrite.IsZero() {
		return TierStale
	}

	elapsed := time.Since(lastWrite)

	switch {
	case elapsed < 10*time.Minute:
		return TierHot
	case elapsed < time.Hour:
		return TierActive
	case elapsed < 24*time.Hour:
		return TierWarm
	default:
		return TierStale
	}
}

// collectionSchedule tracks per-collection adaptive refresh state.
type collectionSchedule struct {
	tier          ActivityTier
	nextRefreshAt time.Time
	lastRefreshed time.Time
}

// ScheduleInfo is an exported view of a collection's adaptive refresh
// schedule, used for observability and testing.
type ScheduleInfo struct {
	Tier          ActivityTier
	NextRefreshAt time.Time
	LastRefreshed time.Time
}

// nextInterval caps the tier interval by the configured base interval so a
// short STUDIOPANEL_SYNC_INTERVAL is never stretched by a cold tier.
func nextInterval(tier ActivityTier, base time.Duration) time.Duration {
	d := tierInterval(tier)
	if base > 0 && base < d {
		return base
	}
	return d
}
