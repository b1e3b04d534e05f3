package bot

import (
	"errors"
	"fmt"

	"birthdaybot/apperror"
	"birthdaybot/discordutils"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

const genericFailure = "Something went wrong on my end. Please try again later."

// replyForError turns a command error into the message shown to the invoking
// user. Errors that aren't the user's doing are logged.
func replyForError(err error, log logrus.FieldLogger) string {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		switch {
		case errors.Is(appErr, apperror.ErrCooldown):
			return fmt.Sprintf("%s. You can change it again %s.", appErr.Message, humanize.Time(appErr.NextAllowed))
		case errors.Is(appErr, apperror.ErrValidation), errors.Is(appErr, apperror.ErrPermission):
			return appErr.Message
		}
	}

	switch {
	case errors.Is(err, apperror.ErrNotFound), discordutils.IsNotFound(err):
		log.WithError(err).Info("Command target not found.")
		return "I couldn't find that anymore. It may have been deleted."
	case discordutils.IsForbidden(err):
		log.WithError(err).Warn("Command hit missing permissions.")
		return "I don't have permission to do that."
	default:
		log.WithError(err).Error("Command failed.")
		return genericFailure
	}
}
