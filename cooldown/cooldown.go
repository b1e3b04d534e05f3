// Package cooldown decides whether a user may edit their birthday again.
package cooldown

import (
	"math"
	"time"
)

// DefaultDays is the edit cooldown used when none is configured.
const DefaultDays = 365

const day = 24 * time.Hour

// Decision is the outcome of CanUpdate.
type Decision struct {
	Allowed bool
	// RemainingDays is the ceiling of the days left before the next edit.
	// Zero when Allowed.
	RemainingDays int
	// NextAllowed is the first instant an edit is accepted. Zero when there
	// was no previous edit.
	NextAllowed time.Time
}

// CanUpdate applies the edit cooldown. A nil updatedOn means no prior record
// exists, which always allows the edit.
func CanUpdate(updatedOn *time.Time, now time.Time, cooldownDays int) Decision {
	if updatedOn == nil || cooldownDays <= 0 {
		return Decision{Allowed: true}
	}

	period := time.Duration(cooldownDays) * day
	next := updatedOn.Add(period)

	elapsed := now.Sub(*updatedOn)
	if elapsed < 0 {
		elapsed = 0
	}
	if int(elapsed/day) >= cooldownDays {
		return Decision{Allowed: true, NextAllowed: next}
	}

	remaining := int(math.Ceil(float64(period-elapsed) / float64(day)))
	if remaining < 1 {
		remaining = 1
	}
	return Decision{RemainingDays: remaining, NextAllowed: next}
}
