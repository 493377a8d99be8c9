package sync

import "time"

// Tier is how much history to re-fetch after a reconnection, chosen from the
// elapsed downtime: completeness traded against cost.
type Tier int

const (
	// TierRecent covers a blip: only the most recent pages.
	TierRecent Tier = iota
	// TierMedium covers a moderate gap.
	TierMedium
	// TierFull is exhaustive; also used for the first connection and for
	// unknown downtime.
	TierFull
)

const (
	recentCutoff = 5 * time.Minute
	mediumCutoff = 30 * time.Minute
)

// SelectTier picks the backfill tier for the given downtime. Unknown
// downtime (known=false) always selects the full tier.
func SelectTier(downtime time.Duration, known bool) Tier {
	switch {
	case !known:
		return TierFull
	case downtime < recentCutoff:
		return TierRecent
	case downtime < mediumCutoff:
		return TierMedium
	default:
		return TierFull
	}
}

// PageCap is the maximum number of pages fetched for the tier. The full
// tier's cap is a safety bound against runaway pagination, not a semantic
// limit; fetching stops earlier when the server signals no more data.
func (t Tier) PageCap() int {
	switch t {
	case TierRecent:
		return 2
	case TierMedium:
		return 5
	default:
		return 50
	}
}

// Full reports whether the tier replaces the working chat list outright
// instead of merging into it.
func (t Tier) Full() bool {
	return t == TierFull
}

func (t Tier) String() string {
	switch t {
	case TierRecent:
		return "recent"
	case TierMedium:
		return "medium"
	default:
		return "full"
	}
}
