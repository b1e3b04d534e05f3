package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

type commandHandler = func(
	context.Context,
	*discordgo.InteractionCreate,
	discordgo.ApplicationCommandInteractionData,
) (Reply, error)

var (
	managePermissions int64 = discordgo.PermissionManageServer
	dmPermission            = false
	minDay                  = 1.0
)

var botCommands = []*discordgo.ApplicationCommand{
	{
		Name:         "birthday",
		Description:  "Manage your birthday.",
		DMPermission: &dmPermission,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Saves your birthday.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "day",
						Description: "Day of the month.",
						Required:    true,
						MinValue:    &minDay,
						MaxValue:    31,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "month",
						Description: "Month.",
						Required:    true,
						Choices:     monthChoices(),
					},
					{
						Type:         discordgo.ApplicationCommandOptionInteger,
						Name:         "year",
						Description:  "Year.",
						Required:     true,
						Autocomplete: true,
					},
					{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "timezone",
						Description:  "Your time zone. Defaults to the server's default.",
						Autocomplete: true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "get",
				Description: "Looks up a birthday.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "The user to look up. Defaults to you.",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Removes your birthday.",
			},
		},
	}, {
		Name:                     "config",
		Description:              "Configure birthdays for this server.",
		DefaultMemberPermissions: &managePermissions,
		DMPermission:             &dmPermission,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "role",
				Description: "Sets the role to apply on birthdays. Leave empty to stop assigning one.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionRole,
						Name:        "role",
						Description: "The role to use on birthdays.",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "channel",
				Description: "Sets the channel to use for announcements. Leave empty to stop announcing.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        "channel",
						Description: "The channel to use.",
						ChannelTypes: []discordgo.ChannelType{
							discordgo.ChannelTypeGuildText,
							discordgo.ChannelTypeGuildNews,
							discordgo.ChannelTypeGuildNewsThread,
							discordgo.ChannelTypeGuildPublicThread,
							discordgo.ChannelTypeGuildPrivateThread,
						},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "reset",
				Description: "Deletes this server's configuration and every birthday in it.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "confirm",
						Description: "Set to True to really reset.",
						Required:    true,
					},
				},
			},
		},
	}, {
		Name:         "next",
		Description:  "Gets the next occurring birthday.",
		DMPermission: &dmPermission,
	}, {
		Name:         "upcoming",
		Description:  "Lists upcoming birthdays.",
		DMPermission: &dmPermission,
	},
}

func monthChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, 12)
	for m := time.January; m <= time.December; m++ {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: m.String(), Value: m.String()})
	}
	return choices
}

// Birthday handles /birthday set, get and clear.
func (bot *Bot) Birthday(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) (Reply, error) {
	sub, opts := subcommand(data)
	userID := invokerID(i)

	switch sub {
	case "set":
		in := SetBirthday{
			ServerID: i.GuildID,
			UserID:   userID,
			Day:      int(opts["day"].IntValue()),
			Month:    opts["month"].StringValue(),
			Year:     int(opts["year"].IntValue()),
		}
		if tz, ok := opts["timezone"]; ok {
			in.TimeZone = tz.StringValue()
		}
		return bot.service.SetBirthday(ctx, in)
	case "get":
		target := userID
		if user, ok := opts["user"]; ok {
			target = user.UserValue(nil).ID
		}
		return bot.service.GetBirthday(ctx, i.GuildID, userID, target)
	case "clear":
		return bot.service.ClearBirthday(ctx, i.GuildID, userID)
	}
	return Reply{}, fmt.Errorf("unknown birthday subcommand %q", sub)
}

// Config handles /config role, channel and reset.
func (bot *Bot) Config(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) (Reply, error) {
	sub, opts := subcommand(data)
	canManage := bot.canManageServer(ctx, i)

	switch sub {
	case "role":
		var role *discordgo.Role
		if opt, ok := opts["role"]; ok {
			role = resolvedRole(bot.session, i.GuildID, data, opt)
		}
		return bot.service.SetRole(ctx, i.GuildID, canManage, role)
	case "channel":
		var channel *discordgo.Channel
		if opt, ok := opts["channel"]; ok {
			channel = resolvedChannel(data, opt)
		}
		return bot.service.SetChannel(ctx, i.GuildID, canManage, channel)
	case "reset":
		return bot.service.Reset(ctx, i.GuildID, canManage, opts["confirm"].BoolValue())
	}
	return Reply{}, fmt.Errorf("unknown config subcommand %q", sub)
}

// Next handles /next.
func (bot *Bot) Next(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	_ discordgo.ApplicationCommandInteractionData,
) (Reply, error) {
	return bot.service.Next(ctx, i.GuildID)
}

// Upcoming handles /upcoming.
func (bot *Bot) Upcoming(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	_ discordgo.ApplicationCommandInteractionData,
) (Reply, error) {
	return bot.service.Upcoming(ctx, i.GuildID)
}

// autocompleteChoices answers the focused option of an autocomplete request.
func (bot *Bot) autocompleteChoices(data discordgo.ApplicationCommandInteractionData) []*discordgo.ApplicationCommandOptionChoice {
	focused := focusedOption(data.Options)
	if focused == nil {
		return nil
	}
	typed := ""
	if focused.Value != nil {
		typed = fmt.Sprint(focused.Value)
	}

	var choices []*discordgo.ApplicationCommandOptionChoice
	switch focused.Name {
	case "year":
		for _, y := range bot.service.YearChoices(typed) {
			choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: strconv.Itoa(y), Value: y})
		}
	case "timezone":
		for _, z := range bot.service.ZoneChoices(typed) {
			choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: z, Value: z})
		}
	}
	return choices
}

func subcommand(data discordgo.ApplicationCommandInteractionData) (string, map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if len(data.Options) == 0 {
		return "", nil
	}
	sub := data.Options[0]
	return sub.Name, optionMap(sub.Options)
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func focusedOption(opts []*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range opts {
		if opt.Focused {
			return opt
		}
		if found := focusedOption(opt.Options); found != nil {
			return found
		}
	}
	return nil
}

func invokerID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// resolvedRole prefers the role data sent with the interaction, which
// carries position and flags.
func resolvedRole(
	session *discordgo.Session,
	guildID string,
	data discordgo.ApplicationCommandInteractionData,
	opt *discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.Role {
	id, _ := opt.Value.(string)
	if data.Resolved != nil {
		if role, ok := data.Resolved.Roles[id]; ok {
			return role
		}
	}
	return opt.RoleValue(session, guildID)
}

func resolvedChannel(
	data discordgo.ApplicationCommandInteractionData,
	opt *discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.Channel {
	id, _ := opt.Value.(string)
	if data.Resolved != nil {
		if channel, ok := data.Resolved.Channels[id]; ok {
			return channel
		}
	}
	return &discordgo.Channel{ID: id}
}
