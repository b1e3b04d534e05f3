package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"birthdaybot/discordutils"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const commandTimeout = 30 * time.Second

// Bot connects the command Service to a Discord session.
type Bot struct {
	session            *discordgo.Session
	client             *discordutils.Client
	service            *Service
	log                logrus.FieldLogger
	guildID            string
	registeredCommands []*discordgo.ApplicationCommand
	commandHandlers    map[string]commandHandler
}

// New prepares a bot for session. Call Open to connect.
func New(
	session *discordgo.Session,
	client *discordutils.Client,
	service *Service,
	log logrus.FieldLogger,
) *Bot {
	bot := &Bot{
		session: session,
		client:  client,
		service: service,
		log:     log,
	}

	bot.commandHandlers = map[string]commandHandler{
		"birthday": bot.Birthday,
		"config":   bot.Config,
		"next":     bot.Next,
		"upcoming": bot.Upcoming,
	}

	return bot
}

// Open connects to Discord and registers the slash commands, scoped to
// guildID when it is set and globally otherwise.
func (bot *Bot) Open(guildID string) error {
	bot.guildID = guildID
	bot.session.Identify.Intents = discordgo.IntentsGuilds

	bot.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		bot.log.WithField("guilds", len(r.Guilds)).Info("Bot is up!")
	})
	bot.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		switch i.Type {
		case discordgo.InteractionApplicationCommand:
			bot.handleCommand(i)
		case discordgo.InteractionApplicationCommandAutocomplete:
			bot.handleAutocomplete(i)
		case discordgo.InteractionMessageComponent:
			bot.handleComponent(i)
		}
	})

	if err := bot.session.Open(); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	return bot.registerCommands()
}

func (bot *Bot) registerCommands() error {
	for _, command := range botCommands {
		newCommand, err := bot.session.ApplicationCommandCreate(
			bot.session.State.User.ID,
			bot.guildID,
			command,
		)
		if err != nil {
			return fmt.Errorf("failed to create %v command: %w", command.Name, err)
		}
		bot.registeredCommands = append(bot.registeredCommands, newCommand)
		bot.log.WithField("command", command.Name).Info("Created command.")
	}
	return nil
}

// Shutdown removes the registered commands and closes the session.
func (bot *Bot) Shutdown() {
	bot.log.Info("Shutting down.")

	for _, command := range bot.registeredCommands {
		err := bot.session.ApplicationCommandDelete(
			bot.session.State.User.ID,
			bot.guildID,
			command.ID,
		)
		log := bot.log.WithField("command", command.Name)
		if err != nil {
			log.WithError(err).Warn("Failed to delete command.")
		} else {
			log.Info("Deleted command.")
		}
	}

	if err := bot.session.Close(); err != nil {
		bot.log.WithError(err).Warn("Failed to close session.")
	}
}

func (bot *Bot) handleCommand(i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	log := bot.log.WithFields(logrus.Fields{
		"command":   data.Name,
		"server_id": i.GuildID,
		"user_id":   invokerID(i),
	})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Command handler panicked.")
		}
	}()

	handler, ok := bot.commandHandlers[data.Name]
	if !ok {
		return
	}
	if err := discordutils.AckInteraction(i.Interaction, bot.session); err != nil {
		log.WithError(err).Warn("Failed to acknowledge interaction.")
		return
	}

	var reply Reply
	if i.GuildID == "" {
		reply = Reply{Content: "I only work in servers."}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		log.Debug("Handling command.")
		var err error
		reply, err = handler(ctx, i, data)
		if err != nil {
			reply = Reply{Content: replyForError(err, log)}
		}
	}

	if err := discordutils.SendFollowup(reply.Content, reply.Embed, reply.Components, i.Interaction, bot.session); err != nil {
		log.WithError(err).Warn("Failed to send reply.")
	}
}

func (bot *Bot) handleAutocomplete(i *discordgo.InteractionCreate) {
	err := bot.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{
			Choices: bot.autocompleteChoices(i.ApplicationCommandData()),
		},
	})
	if err != nil {
		bot.log.WithError(err).Debug("Failed to answer autocomplete.")
	}
}

// handleComponent answers button clicks. The only button asks a user to set
// their birthday.
func (bot *Bot) handleComponent(i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	targetID, ok := strings.CutPrefix(data.CustomID, pingPrefix)
	if !ok || i.GuildID == "" {
		return
	}
	log := bot.log.WithFields(logrus.Fields{
		"component": data.CustomID,
		"server_id": i.GuildID,
		"user_id":   invokerID(i),
	})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Component handler panicked.")
		}
	}()

	if err := discordutils.AckComponent(i.Interaction, bot.session); err != nil {
		log.WithError(err).Warn("Failed to acknowledge interaction.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := bot.service.PingUser(ctx, i.GuildID, bot.guildName(ctx, i.GuildID), invokerID(i), targetID)
	if err != nil {
		reply = Reply{Content: replyForError(err, log)}
	}
	if err := discordutils.ReplaceComponentMessage(reply.Content, i.Interaction, bot.session); err != nil {
		log.WithError(err).Warn("Failed to update reply.")
	}
}

func (bot *Bot) guildName(ctx context.Context, guildID string) string {
	guild, err := bot.client.Guild(ctx, guildID)
	if err != nil || guild.Name == "" {
		return "your server"
	}
	return guild.Name
}

// canManageServer reports whether the invoking member may change the
// configuration.
func (bot *Bot) canManageServer(ctx context.Context, i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	const manage = discordgo.PermissionAdministrator | discordgo.PermissionManageServer
	guild, err := bot.client.Guild(ctx, i.GuildID)
	if err != nil {
		bot.log.WithError(err).WithField("server_id", i.GuildID).Warn("Failed to look up guild.")
		return i.Member.Permissions&manage != 0
	}
	return discordutils.MemberCanManageServer(guild, i.Member)
}
