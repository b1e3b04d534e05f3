package apperror

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{"Validation wraps ErrValidation", Validation("bad"), ErrValidation, true},
		{"Permission wraps ErrPermission", Permission("nope"), ErrPermission, true},
		{"NotFound wraps ErrNotFound", NotFound("guild", "1"), ErrNotFound, true},
		{"Cooldown wraps ErrCooldown", Cooldown(3, time.Now()), ErrCooldown, true},
		{"Storage wraps ErrStorage", Storage("upsert birthday", errors.New("disk")), ErrStorage, true},
		{"Validation is not NotFound", Validation("bad"), ErrNotFound, false},
		{"wrapped twice still matches", fmt.Errorf("outer: %w", Permission("x")), ErrPermission, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMatch, errors.Is(tt.err, tt.target))
		})
	}
}

func TestStorageKeepsCause(t *testing.T) {
	cause := errors.New("database is locked")
	err := Storage("find birthday", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "find birthday")
}

func TestCooldownCarriesRemainingDays(t *testing.T) {
	next := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	err := Cooldown(12, next)

	var appErr *Error
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, 12, appErr.RemainingDays)
	assert.Equal(t, next, appErr.NextAllowed)
	assert.Contains(t, err.Error(), "12 days")
}

func TestCooldownMessagePluralises(t *testing.T) {
	next := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "You can't edit your birthday again for about 1 day", Cooldown(1, next).Error())
	assert.Equal(t, "You can't edit your birthday again for about 2 days", Cooldown(2, next).Error())
}
