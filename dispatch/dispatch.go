// Package dispatch applies the side effects of a birthday starting or ending:
// the is_birthday flag, the birthday role and the announcement.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"birthdaybot/apperror"
	"birthdaybot/discordutils"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// MediaKeyword is the search term for announcement GIFs.
const MediaKeyword = "birthday"

// Store persists the birthday flag.
type Store interface {
	SetBirthdayActive(ctx context.Context, serverID, userID string, active bool) error
}

// Platform is the subset of the chat platform the dispatcher uses.
type Platform interface {
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	SendMessage(ctx context.Context, channelID, content string) error
}

// MediaProvider finds a decorative media link.
type MediaProvider interface {
	CelebrationMediaURL(ctx context.Context, keyword string) (string, error)
}

// Target identifies a record and the server configuration that applies to it.
// Empty channel or role IDs mean the server has none configured.
type Target struct {
	ServerID  string
	UserID    string
	ChannelID string
	RoleID    string
}

// Result describes the side effects that were applied. Platform failures are
// soft: they are collected here and logged, never returned as errors.
type Result struct {
	RoleGranted bool
	RoleRevoked bool
	Announced   bool
	Failures    []error
}

// Dispatcher applies enter and exit transitions.
type Dispatcher struct {
	store        Store
	platform     Platform
	media        MediaProvider
	log          logrus.FieldLogger
	mediaTimeout time.Duration
}

// New creates a Dispatcher. media may be nil, in which case announcements are
// sent without a media link.
func New(store Store, platform Platform, media MediaProvider, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		store:        store,
		platform:     platform,
		media:        media,
		log:          log,
		mediaTimeout: 5 * time.Second,
	}
}

// Enter marks the record active, grants the birthday role and posts the
// announcement. Only a storage failure is returned; in that case no side
// effect has been applied.
func (d *Dispatcher) Enter(ctx context.Context, t Target) (Result, error) {
	log := d.log.WithFields(logrus.Fields{"server_id": t.ServerID, "user_id": t.UserID})
	var res Result

	if err := d.store.SetBirthdayActive(ctx, t.ServerID, t.UserID, true); err != nil {
		return res, fmt.Errorf("mark birthday active: %w", err)
	}

	member, err := d.platform.Member(ctx, t.ServerID, t.UserID)
	if err != nil {
		res.fail(log, "look up member", err)
		return res, nil
	}

	if t.RoleID != "" {
		if discordutils.MemberHasRole(member, t.RoleID) {
			log.WithField("role_id", t.RoleID).Debug("Member already has the birthday role.")
		} else if err := d.platform.AddRole(ctx, t.ServerID, t.UserID, t.RoleID); err != nil {
			res.fail(log.WithField("role_id", t.RoleID), "grant birthday role", err)
		} else {
			res.RoleGranted = true
			log.WithField("role_id", t.RoleID).Info("Granted birthday role.")
		}
	}

	if t.ChannelID != "" {
		content := d.announcement(ctx, log, t.UserID)
		if err := d.platform.SendMessage(ctx, t.ChannelID, content); err != nil {
			res.fail(log.WithField("channel_id", t.ChannelID), "announce birthday", err)
		} else {
			res.Announced = true
			log.WithField("channel_id", t.ChannelID).Info("Announced birthday.")
		}
	}

	return res, nil
}

// Exit marks the record inactive and revokes the birthday role if the member
// still holds it. A role that is already gone is not an error, and neither is
// a record that was deleted: its role is still revoked.
func (d *Dispatcher) Exit(ctx context.Context, t Target) (Result, error) {
	log := d.log.WithFields(logrus.Fields{"server_id": t.ServerID, "user_id": t.UserID})
	var res Result

	err := d.store.SetBirthdayActive(ctx, t.ServerID, t.UserID, false)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		log.Debug("Birthday record is gone, revoking the role only.")
	case err != nil:
		return res, fmt.Errorf("mark birthday inactive: %w", err)
	}

	if t.RoleID == "" {
		return res, nil
	}
	log = log.WithField("role_id", t.RoleID)

	member, err := d.platform.Member(ctx, t.ServerID, t.UserID)
	if err != nil {
		res.fail(log, "look up member", err)
		return res, nil
	}
	if !discordutils.MemberHasRole(member, t.RoleID) {
		log.Debug("Member no longer has the birthday role.")
		return res, nil
	}

	if err := d.platform.RemoveRole(ctx, t.ServerID, t.UserID, t.RoleID); err != nil {
		if discordutils.IsNotFound(err) {
			log.Debug("Birthday role vanished before it could be revoked.")
			return res, nil
		}
		res.fail(log, "revoke birthday role", err)
		return res, nil
	}
	res.RoleRevoked = true
	log.Info("Revoked birthday role.")
	return res, nil
}

func (d *Dispatcher) announcement(ctx context.Context, log logrus.FieldLogger, userID string) string {
	content := fmt.Sprintf("Happy birthday <@%s>! 🎉🎂🎆", userID)
	if d.media == nil {
		return content
	}

	mctx, cancel := context.WithTimeout(ctx, d.mediaTimeout)
	defer cancel()

	url, err := d.media.CelebrationMediaURL(mctx, MediaKeyword)
	if err != nil {
		log.WithError(err).Warn("No media for birthday announcement.")
		return content
	}
	return content + " " + url
}

func (r *Result) fail(log logrus.FieldLogger, action string, err error) {
	err = fmt.Errorf("%s: %w", action, err)
	r.Failures = append(r.Failures, err)

	switch {
	case discordutils.IsNotFound(err):
		log.WithError(err).Info("Skipped birthday side effect, resource not found.")
	case discordutils.IsForbidden(err):
		log.WithError(err).Warn("Skipped birthday side effect, missing permissions.")
	default:
		log.WithError(err).Error("Birthday side effect failed.")
	}
}
