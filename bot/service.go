package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"birthdaybot/apperror"
	"birthdaybot/calendar"
	"birthdaybot/cooldown"
	"birthdaybot/dal"
	"birthdaybot/discordutils"
	"birthdaybot/models"
	"birthdaybot/scheduler"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// MaxAge bounds how far back a birthday year may go.
const MaxAge = 123

// maxChoices is Discord's limit on autocomplete choices and embed fields.
const maxChoices = 25

// Store is the persistence used by the command handlers.
type Store interface {
	RequireServer(ctx context.Context, serverID string) error
	FindBirthday(ctx context.Context, serverID, userID string) (*models.Birthday, error)
	UpsertBirthday(ctx context.Context, birthday models.Birthday) error
	ClearBirthday(ctx context.Context, serverID, userID string, now time.Time) error
	FindBirthdaysWithDate(ctx context.Context, filter dal.Filter) ([]models.Birthday, error)
	FindServerConfig(ctx context.Context, serverID string) (*models.Server, error)
	SetServerRole(ctx context.Context, serverID string, roleID *string) error
	SetServerChannel(ctx context.Context, serverID string, channelID *string) error
	DeleteServerConfig(ctx context.Context, serverID string) ([]models.Birthday, error)
}

// Sweeper runs scheduler sweeps on demand.
type Sweeper interface {
	Sweep(ctx context.Context, scope scheduler.Scope) (scheduler.Report, error)
	ForceExit(ctx context.Context, serverID, userID string) error
	ExitRemoved(ctx context.Context, server models.Server, userID string) error
}

// Platform is the part of the chat platform the commands act on directly.
type Platform interface {
	CheckRoleManageable(ctx context.Context, guildID string, role *discordgo.Role) error
	CheckChannelWritable(ctx context.Context, channel *discordgo.Channel) error
	SendDirectMessage(ctx context.Context, userID, content string) error
}

// Reply is what a command answers with.
type Reply struct {
	Content    string
	Embed      *discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

// pingPrefix starts the custom ID of the button that asks a user to set their
// birthday. The user's ID follows it.
const pingPrefix = "birthday_ping:"

// SetBirthday is the parsed /birthday set intent.
type SetBirthday struct {
	ServerID string
	UserID   string
	Day      int
	Month    string
	Year     int
	TimeZone string // empty selects the default zone
}

// ServiceOptions tune a Service. Zero values select the defaults.
type ServiceOptions struct {
	CooldownDays    int
	DefaultTimeZone string
	Now             func() time.Time
}

// Service implements the bot's commands independently of Discord
// interactions.
type Service struct {
	store        Store
	sweeper      Sweeper
	platform     Platform
	log          logrus.FieldLogger
	now          func() time.Time
	cooldownDays int
	defaultZone  string
}

// NewService creates a Service.
func NewService(store Store, sweeper Sweeper, platform Platform, log logrus.FieldLogger, opts ServiceOptions) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultTimeZone == "" {
		opts.DefaultTimeZone = calendar.DefaultTimeZone
	}
	return &Service{
		store:        store,
		sweeper:      sweeper,
		platform:     platform,
		log:          log,
		now:          opts.Now,
		cooldownDays: opts.CooldownDays,
		defaultZone:  opts.DefaultTimeZone,
	}
}

// SetBirthday validates and saves a birthday, then brings the record's flag
// up to date straight away.
func (s *Service) SetBirthday(ctx context.Context, in SetBirthday) (Reply, error) {
	if err := s.store.RequireServer(ctx, in.ServerID); err != nil {
		return Reply{}, err
	}

	now := s.now()
	if in.Year < now.Year()-MaxAge || in.Year > now.Year() {
		return Reply{}, apperror.Validation(fmt.Sprintf(
			"Invalid birthday format: the year must be between %d and %d.", now.Year()-MaxAge, now.Year()))
	}
	date, err := calendar.ParseBirthday(in.Day, in.Month, in.Year)
	if err != nil {
		return Reply{}, apperror.Validation("Invalid birthday format: " + err.Error() + ".")
	}

	zone := in.TimeZone
	if zone == "" {
		zone = s.defaultZone
	}
	if _, err := calendar.LoadZone(zone); err != nil {
		return Reply{}, apperror.Validation(fmt.Sprintf("I don't know the time zone %q.", zone))
	}

	var updatedOn *time.Time
	existing, err := s.store.FindBirthday(ctx, in.ServerID, in.UserID)
	switch {
	case err == nil:
		updatedOn = &existing.UpdatedOn
	case !errors.Is(err, apperror.ErrNotFound):
		return Reply{}, err
	}
	if d := cooldown.CanUpdate(updatedOn, now, s.cooldownDays); !d.Allowed {
		return Reply{}, apperror.Cooldown(d.RemainingDays, d.NextAllowed)
	}

	err = s.store.UpsertBirthday(ctx, models.Birthday{
		ServerID:  in.ServerID,
		UserID:    in.UserID,
		Birthday:  &date,
		TimeZone:  zone,
		UpdatedOn: now,
	})
	if err != nil {
		return Reply{}, err
	}

	s.sweep(ctx, scheduler.Scope{ServerID: in.ServerID, UserID: in.UserID})
	return Reply{Content: fmt.Sprintf("Your birthday was set to **%s**", calendar.Format(date))}, nil
}

// GetBirthday looks up the birthday of targetID on behalf of invokerID.
func (s *Service) GetBirthday(ctx context.Context, serverID, invokerID, targetID string) (Reply, error) {
	if err := s.store.RequireServer(ctx, serverID); err != nil {
		return Reply{}, err
	}
	self := invokerID == targetID

	rec, err := s.store.FindBirthday(ctx, serverID, targetID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return Reply{}, err
	}
	if err != nil || rec.Birthday == nil {
		if self {
			return Reply{Content: "You haven't set a birthday yet. Use `/birthday set` to add it."}, nil
		}
		return Reply{
			Content:    fmt.Sprintf("%s hasn't set a birthday yet.", mention(targetID)),
			Components: pingButton(targetID),
		}, nil
	}

	if self {
		return Reply{Content: fmt.Sprintf("Your birthday is set to **%s**", calendar.Format(*rec.Birthday))}, nil
	}
	return Reply{Content: fmt.Sprintf("%s's birthday is set to **%s**", mention(targetID), calendar.Format(*rec.Birthday))}, nil
}

// PingUser asks targetID in a direct message to set their birthday in the
// server. Nothing is sent if they did so in the meantime.
func (s *Service) PingUser(ctx context.Context, serverID, serverName, invokerID, targetID string) (Reply, error) {
	rec, err := s.store.FindBirthday(ctx, serverID, targetID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return Reply{}, err
	}
	if err == nil && rec.Birthday != nil {
		return Reply{Content: fmt.Sprintf("%s has set their birthday in the meantime.", mention(targetID))}, nil
	}

	content := fmt.Sprintf("%s wants you to add your birthday in **%s**! Use `/birthday set` in **%s** to set it.",
		mention(invokerID), serverName, serverName)
	if err := s.platform.SendDirectMessage(ctx, targetID, content); err != nil {
		if discordutils.IsForbidden(err) {
			return Reply{}, apperror.Permission(fmt.Sprintf("I can't send direct messages to %s.", mention(targetID)))
		}
		return Reply{}, err
	}

	s.log.WithFields(logrus.Fields{
		"server_id": serverID,
		"user_id":   invokerID,
		"target_id": targetID,
	}).Info("Pinged user to set their birthday.")
	return Reply{Content: fmt.Sprintf("%s was pinged to set their birthday!", mention(targetID))}, nil
}

func pingButton(targetID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Ping them to set it!",
				Style:    discordgo.PrimaryButton,
				CustomID: pingPrefix + targetID,
			},
		}},
	}
}

// ClearBirthday removes the user's birthday and ends a running celebration.
// Clearing counts as an edit for the cooldown but is never refused by it.
func (s *Service) ClearBirthday(ctx context.Context, serverID, userID string) (Reply, error) {
	if err := s.store.RequireServer(ctx, serverID); err != nil {
		return Reply{}, err
	}

	rec, err := s.store.FindBirthday(ctx, serverID, userID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return Reply{}, err
	}
	if err != nil || (rec.Birthday == nil && !rec.IsBirthday) {
		return Reply{Content: "You don't have a birthday set."}, nil
	}

	if err := s.store.ClearBirthday(ctx, serverID, userID, s.now()); err != nil {
		return Reply{}, err
	}
	if err := s.sweeper.ForceExit(ctx, serverID, userID); err != nil {
		return Reply{}, err
	}
	return Reply{Content: "Your birthday was cleared."}, nil
}

// SetRole sets the birthday role, or clears it when role is nil.
func (s *Service) SetRole(ctx context.Context, serverID string, canManage bool, role *discordgo.Role) (Reply, error) {
	if err := s.requireManager(ctx, serverID, canManage); err != nil {
		return Reply{}, err
	}
	if role == nil {
		if err := s.store.SetServerRole(ctx, serverID, nil); err != nil {
			return Reply{}, err
		}
		return Reply{Content: "I will no longer assign a role on birthdays."}, nil
	}

	if err := s.platform.CheckRoleManageable(ctx, serverID, role); err != nil {
		return Reply{}, err
	}
	if err := s.store.SetServerRole(ctx, serverID, &role.ID); err != nil {
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("I will now assign %s on birthdays.", role.Mention())}, nil
}

// SetChannel sets the announcement channel, or clears it when channel is nil.
func (s *Service) SetChannel(ctx context.Context, serverID string, canManage bool, channel *discordgo.Channel) (Reply, error) {
	if err := s.requireManager(ctx, serverID, canManage); err != nil {
		return Reply{}, err
	}
	if channel == nil {
		if err := s.store.SetServerChannel(ctx, serverID, nil); err != nil {
			return Reply{}, err
		}
		return Reply{Content: "I will no longer announce birthdays."}, nil
	}

	if err := s.platform.CheckChannelWritable(ctx, channel); err != nil {
		return Reply{}, err
	}
	if err := s.store.SetServerChannel(ctx, serverID, &channel.ID); err != nil {
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("I will now use %s for announcements.", channel.Mention())}, nil
}

// Reset deletes the server's configuration and all of its birthdays, then
// revokes the role from everyone who was celebrating. The records are gone
// before any role is touched, so a concurrent sweep can't start them again.
func (s *Service) Reset(ctx context.Context, serverID string, canManage, confirm bool) (Reply, error) {
	if err := s.requireManager(ctx, serverID, canManage); err != nil {
		return Reply{}, err
	}
	if !confirm {
		return Reply{}, apperror.Validation("Nothing was reset. Run the command again with `confirm: True` to delete every birthday in this server.")
	}

	server := models.Server{ID: serverID}
	config, err := s.store.FindServerConfig(ctx, serverID)
	switch {
	case err == nil:
		server = *config
	case !errors.Is(err, apperror.ErrNotFound):
		return Reply{}, err
	}

	removed, err := s.store.DeleteServerConfig(ctx, serverID)
	if err != nil {
		return Reply{}, err
	}
	for _, rec := range removed {
		if err := s.sweeper.ExitRemoved(ctx, server, rec.UserID); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"server_id": serverID,
				"user_id":   rec.UserID,
			}).Warn("Failed to end birthday after reset.")
		}
	}

	s.log.WithFields(logrus.Fields{
		"server_id": serverID,
		"ended":     len(removed),
	}).Info("Reset server configuration.")
	return Reply{Content: "This server's configuration and birthdays were reset."}, nil
}

// Next replies with the earliest upcoming birthday. Everyone sharing that
// date is listed.
func (s *Service) Next(ctx context.Context, serverID string) (Reply, error) {
	groups, err := s.upcoming(ctx, serverID)
	if err != nil {
		return Reply{}, err
	}
	if len(groups) == 0 {
		return Reply{Content: noBirthdays}, nil
	}

	g := groups[0]
	if g.Active {
		return Reply{Content: fmt.Sprintf("%s %s", todayLabel, g.mentions())}, nil
	}
	return Reply{Content: fmt.Sprintf(
		"The next birthday is **%s** (%s): %s",
		g.Label(), humanize.RelTime(g.Start, s.now(), "ago", "from now"), g.mentions(),
	)}, nil
}

// Upcoming replies with an embed listing birthdays grouped by date, soonest
// first.
func (s *Service) Upcoming(ctx context.Context, serverID string) (Reply, error) {
	groups, err := s.upcoming(ctx, serverID)
	if err != nil {
		return Reply{}, err
	}
	if len(groups) == 0 {
		return Reply{Content: noBirthdays}, nil
	}
	if len(groups) > maxChoices {
		groups = groups[:maxChoices]
	}

	embed := &discordgo.MessageEmbed{
		Title: "Upcoming birthdays 🎂",
		Color: 0xF47FFF,
	}
	for _, g := range groups {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  g.Label(),
			Value: truncate(g.mentions(), 1024),
		})
	}
	return Reply{Embed: embed}, nil
}

// YearChoices lists valid birthday years starting with prefix, newest first.
func (s *Service) YearChoices(prefix string) []int {
	prefix = strings.TrimSpace(prefix)
	now := s.now().Year()

	var years []int
	for y := now; y >= now-MaxAge && len(years) < maxChoices; y-- {
		if strings.HasPrefix(fmt.Sprint(y), prefix) {
			years = append(years, y)
		}
	}
	return years
}

// ZoneChoices lists known time zones starting with prefix, ignoring case.
func (s *Service) ZoneChoices(prefix string) []string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))

	var zones []string
	for _, z := range timeZones {
		if len(zones) == maxChoices {
			break
		}
		if strings.HasPrefix(strings.ToLower(z), prefix) {
			zones = append(zones, z)
		}
	}
	return zones
}

func (s *Service) requireManager(ctx context.Context, serverID string, canManage bool) error {
	if !canManage {
		return apperror.Validation("Nice try. You need the Manage Server permission to change my configuration.")
	}
	return s.store.RequireServer(ctx, serverID)
}

func (s *Service) sweep(ctx context.Context, scope scheduler.Scope) {
	if _, err := s.sweeper.Sweep(ctx, scope); err != nil {
		s.log.WithError(err).WithField("scope", scope.String()).Warn("Targeted birthday sweep failed.")
	}
}

const (
	noBirthdays = "Nobody in this server has set a birthday yet."
	todayLabel  = "Today 🎉!"
)

// dateGroup is the set of users whose next occurrence falls on one date.
type dateGroup struct {
	Date    string // local date of the occurrence, YYYY-MM-DD
	Start   time.Time
	Active  bool
	UserIDs []string
}

func (g dateGroup) Label() string {
	if g.Active {
		return todayLabel
	}
	day, _ := time.Parse("2006-01-02", g.Date)
	return day.Format("January 2")
}

func (g dateGroup) mentions() string {
	out := make([]string, len(g.UserIDs))
	for i, id := range g.UserIDs {
		out[i] = mention(id)
	}
	return strings.Join(out, ", ")
}

func (s *Service) upcoming(ctx context.Context, serverID string) ([]dateGroup, error) {
	if err := s.store.RequireServer(ctx, serverID); err != nil {
		return nil, err
	}
	records, err := s.store.FindBirthdaysWithDate(ctx, dal.Filter{ServerID: serverID})
	if err != nil {
		return nil, err
	}
	return groupByDate(records, s.defaultZone, s.now()), nil
}

// groupByDate projects each record in its own zone and groups the results
// by the local date of the occurrence.
func groupByDate(records []models.Birthday, defaultZone string, now time.Time) []dateGroup {
	byDate := make(map[string]*dateGroup)
	for _, rec := range records {
		if rec.Birthday == nil {
			continue
		}
		zone := rec.TimeZone
		if zone == "" {
			zone = defaultZone
		}
		loc, err := calendar.LoadZone(zone)
		if err != nil {
			loc, _ = calendar.LoadZone(defaultZone)
		}

		occ := calendar.Project(*rec.Birthday, loc, now)
		key := occ.Start.Format("2006-01-02")
		g, ok := byDate[key]
		if !ok {
			g = &dateGroup{Date: key, Start: occ.Start}
			byDate[key] = g
		}
		if occ.Start.Before(g.Start) {
			g.Start = occ.Start
		}
		g.Active = g.Active || occ.IsActive()
		g.UserIDs = append(g.UserIDs, rec.UserID)
	}

	groups := make([]dateGroup, 0, len(byDate))
	for _, g := range byDate {
		sort.Strings(g.UserIDs)
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Active != groups[j].Active {
			return groups[i].Active
		}
		return groups[i].Start.Before(groups[j].Start)
	})
	return groups
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
