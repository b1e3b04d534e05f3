package apperror

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize/english"
)

// Error kinds. Wrap them with *Error and match with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrCooldown   = errors.New("cooldown active")
	ErrPermission = errors.New("permission denied")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage error")
)

// Error is an error with a message that is safe to show to the invoking user.
type Error struct {
	Err     error  // kind
	Message string // user-facing

	// Set for ErrCooldown only.
	RemainingDays int
	NextAllowed   time.Time
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation rejects user input without changing any state.
func Validation(message string) *Error {
	return &Error{Err: ErrValidation, Message: message}
}

// Permission reports that the bot lacks a platform permission.
func Permission(message string) *Error {
	return &Error{Err: ErrPermission, Message: message}
}

// NotFound reports a vanished resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// Cooldown rejects an edit that arrived too soon after the previous one.
func Cooldown(remainingDays int, nextAllowed time.Time) *Error {
	return &Error{
		Err:           ErrCooldown,
		Message:       "You can't edit your birthday again for about " + english.Plural(remainingDays, "day", "days"),
		RemainingDays: remainingDays,
		NextAllowed:   nextAllowed,
	}
}

// Storage wraps a persistence failure. The cause is kept for logging, the
// message stays generic.
func Storage(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
