package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanUpdate(t *testing.T) {
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name          string
		updatedOn     *time.Time
		cooldownDays  int
		wantAllowed   bool
		wantRemaining int
	}{
		{"no prior record", nil, 365, true, 0},
		{"364 days ago", ago(364 * day), 365, false, 1},
		{"366 days ago", ago(366 * day), 365, true, 0},
		{"exactly the cooldown", ago(365 * day), 365, true, 0},
		{"just now", ago(time.Minute), 365, false, 365},
		{"half a day left rounds up", ago(364*day + 12*time.Hour), 365, false, 1},
		{"ten days ago with a week cooldown", ago(10 * day), 7, true, 0},
		{"two days ago with a week cooldown", ago(2 * day), 7, false, 5},
		{"disabled cooldown", ago(time.Second), 0, true, 0},
		{"timestamp in the future", ago(-2 * day), 3, false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanUpdate(tt.updatedOn, now, tt.cooldownDays)
			assert.Equal(t, tt.wantAllowed, got.Allowed)
			assert.Equal(t, tt.wantRemaining, got.RemainingDays)
		})
	}
}

func TestCanUpdateNextAllowed(t *testing.T) {
	updated := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	got := CanUpdate(&updated, updated.Add(day), 3)

	assert.False(t, got.Allowed)
	assert.Equal(t, updated.Add(3*day), got.NextAllowed)
}
