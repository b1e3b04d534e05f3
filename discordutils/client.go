package discordutils

import (
	"context"
	"fmt"

	"birthdaybot/apperror"

	"github.com/bwmarrin/discordgo"
)

// Client adapts a discordgo session to the operations the bot needs. Cached
// state is consulted before the REST API.
type Client struct {
	session *discordgo.Session
}

// NewClient wraps session.
func NewClient(session *discordgo.Session) *Client {
	return &Client{session: session}
}

// Guild looks up a guild.
func (c *Client) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if guild, err := c.session.State.Guild(guildID); err == nil {
		return guild, nil
	}
	return c.session.Guild(guildID, discordgo.WithContext(ctx))
}

// Member looks up a guild member.
func (c *Client) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if member, err := c.session.State.Member(guildID, userID); err == nil {
		return member, nil
	}
	return c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

// AddRole grants roleID to the member.
func (c *Client) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// RemoveRole revokes roleID from the member.
func (c *Client) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// SendMessage posts content to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) error {
	_, err := c.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return err
}

// SendDirectMessage opens a direct message channel with the user and posts
// content to it.
func (c *Client) SendDirectMessage(ctx context.Context, userID, content string) error {
	channel, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open direct message channel: %w", err)
	}
	return c.SendMessage(ctx, channel.ID, content)
}

// CheckRoleManageable returns an error unless the bot can grant and revoke
// the role in the guild.
func (c *Client) CheckRoleManageable(ctx context.Context, guildID string, role *discordgo.Role) error {
	guild, err := c.Guild(ctx, guildID)
	if err != nil {
		return fmt.Errorf("look up guild %s: %w", guildID, err)
	}
	bot, err := c.Member(ctx, guildID, c.session.State.User.ID)
	if err != nil {
		return fmt.Errorf("look up bot member: %w", err)
	}
	return CanManageRole(guild, bot, role)
}

// CheckChannelWritable returns an error unless the bot can view, post and
// embed links in the channel.
func (c *Client) CheckChannelWritable(ctx context.Context, channel *discordgo.Channel) error {
	botID := c.session.State.User.ID
	perms, err := c.session.State.UserChannelPermissions(botID, channel.ID)
	if err != nil {
		perms, err = c.session.UserChannelPermissions(botID, channel.ID, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("look up channel permissions: %w", err)
		}
	}
	return CanPostIn(channel, perms)
}

// CanManageRole decides whether bot may assign role: the role must be an
// ordinary role below the bot's highest role and the bot needs Manage Roles.
func CanManageRole(guild *discordgo.Guild, bot *discordgo.Member, role *discordgo.Role) error {
	if role.ID == guild.ID {
		return apperror.Validation("The @everyone role can't be used as a birthday role.")
	}
	if role.Managed {
		return apperror.Validation(fmt.Sprintf("%s is managed by an integration and can't be assigned.", role.Mention()))
	}
	if RoleAllowsAdminPermissions(role) {
		return apperror.Validation("That role allows admin permissions, that's a bad idea.")
	}

	guildRoles := make(map[string]*discordgo.Role)
	for _, r := range guild.Roles {
		guildRoles[r.ID] = r
	}

	var perms int64
	if everyone, ok := guildRoles[guild.ID]; ok {
		perms |= everyone.Permissions
	}
	highest := -1
	for _, roleID := range bot.Roles {
		if r, ok := guildRoles[roleID]; ok {
			perms |= r.Permissions
			if r.Position > highest {
				highest = r.Position
			}
		}
	}

	if perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageRoles) == 0 ||
		highest <= role.Position {
		return apperror.Permission(fmt.Sprintf("I don't have permission to manage %s", role.Mention()))
	}
	return nil
}

const (
	postPermissions = discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionEmbedLinks
	threadPostPermissions = discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessagesInThreads |
		discordgo.PermissionEmbedLinks
)

// CanPostIn decides whether the computed channel permissions allow
// announcements. Threads need Send Messages in Threads instead of Send
// Messages.
func CanPostIn(channel *discordgo.Channel, perms int64) error {
	required := int64(postPermissions)
	if channel.IsThread() {
		required = threadPostPermissions
	}
	if perms&discordgo.PermissionAdministrator != 0 || perms&required == required {
		return nil
	}
	return apperror.Permission(fmt.Sprintf(
		"I don't have viewing, sending, or embedding links permissions for %s",
		channel.Mention(),
	))
}
