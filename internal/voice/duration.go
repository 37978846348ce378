package voice

import (
	"time"

	"voip-dashboard/internal/calls"
)

// applyDuration is the single duration policy shared by the webhook path and
// the explicit hangup action:
//  1. a provider-reported value always wins;
//  2. otherwise, unless declined, elapsed time since creation fills an unset value.
//
// A value already present is never replaced by the computed fallback.
func applyDuration(r *calls.CallRecord, reported *int, declined bool, now time.Time) {
	if reported != nil {
		r.SetDuration(*reported)
		return
	}
	if declined || r.DurationSeconds != nil {
		return
	}
	r.SetDuration(elapsedSeconds(r.CreatedAt, now))
}

// elapsedSeconds is whole seconds from start to now, floored at zero.
func elapsedSeconds(start, now time.Time) int {
	d := now.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
