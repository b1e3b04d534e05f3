package discordutils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"birthdaybot/apperror"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func testGuild() *discordgo.Guild {
	return &discordgo.Guild{
		ID: "g1",
		Roles: []*discordgo.Role{
			{ID: "g1", Name: "@everyone", Position: 0},
			{ID: "bday", Name: "Birthday", Position: 2},
			{ID: "bot", Name: "Bot", Position: 5, Permissions: discordgo.PermissionManageRoles},
			{ID: "top", Name: "Top", Position: 9},
			{ID: "admin", Name: "Admin", Position: 3, Permissions: discordgo.PermissionAdministrator},
			{ID: "integration", Name: "Booster", Position: 1, Managed: true},
		},
	}
}

func role(g *discordgo.Guild, id string) *discordgo.Role {
	for _, r := range g.Roles {
		if r.ID == id {
			return r
		}
	}
	panic("no role " + id)
}

func TestMemberHasAdminPermissions(t *testing.T) {
	g := testGuild()

	assert.True(t, MemberHasAdminPermissions(g, &discordgo.Member{Roles: []string{"admin"}}))
	assert.True(t, MemberHasAdminPermissions(g, &discordgo.Member{Permissions: discordgo.PermissionAdministrator}))
	assert.False(t, MemberHasAdminPermissions(g, &discordgo.Member{Roles: []string{"bday", "bot"}}))

	g.OwnerID = "owner"
	assert.True(t, MemberHasAdminPermissions(g, &discordgo.Member{User: &discordgo.User{ID: "owner"}}))
}

func TestMemberCanManageServer(t *testing.T) {
	g := testGuild()
	g.Roles = append(g.Roles, &discordgo.Role{ID: "mod", Position: 4, Permissions: discordgo.PermissionManageServer})

	assert.True(t, MemberCanManageServer(g, &discordgo.Member{Roles: []string{"mod"}}))
	assert.True(t, MemberCanManageServer(g, &discordgo.Member{Permissions: discordgo.PermissionManageServer}))
	assert.True(t, MemberCanManageServer(g, &discordgo.Member{Roles: []string{"admin"}}))
	assert.False(t, MemberCanManageServer(g, &discordgo.Member{Roles: []string{"bday", "bot"}}))
}

func TestMemberHasRole(t *testing.T) {
	m := &discordgo.Member{Roles: []string{"a", "b"}}
	assert.True(t, MemberHasRole(m, "b"))
	assert.False(t, MemberHasRole(m, "c"))
}

func TestCanManageRole(t *testing.T) {
	g := testGuild()
	bot := &discordgo.Member{Roles: []string{"bot"}}

	tests := []struct {
		name    string
		bot     *discordgo.Member
		role    string
		wantErr error
	}{
		{"ordinary role below bot", bot, "bday", nil},
		{"everyone", bot, "g1", apperror.ErrValidation},
		{"managed", bot, "integration", apperror.ErrValidation},
		{"admin role", bot, "admin", apperror.ErrValidation},
		{"role above bot", bot, "top", apperror.ErrPermission},
		{"bot without manage roles", &discordgo.Member{Roles: []string{"top"}}, "bday", apperror.ErrPermission},
		{"bot without roles", &discordgo.Member{}, "bday", apperror.ErrPermission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanManageRole(g, tt.bot, role(g, tt.role))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCanPostIn(t *testing.T) {
	ch := &discordgo.Channel{ID: "c1"}

	assert.NoError(t, CanPostIn(ch, postPermissions))
	assert.NoError(t, CanPostIn(ch, discordgo.PermissionAdministrator))

	err := CanPostIn(ch, discordgo.PermissionViewChannel|discordgo.PermissionSendMessages)
	assert.ErrorIs(t, err, apperror.ErrPermission)
	assert.Contains(t, err.Error(), "<#c1>")
}

func TestCanPostInThread(t *testing.T) {
	thread := &discordgo.Channel{ID: "t1", Type: discordgo.ChannelTypeGuildPublicThread}

	assert.NoError(t, CanPostIn(thread, threadPostPermissions))
	assert.ErrorIs(t, CanPostIn(thread, postPermissions), apperror.ErrPermission,
		"sending in threads is a separate permission")
}

func restError(status, code int) error {
	e := &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
	if code != 0 {
		e.Message = &discordgo.APIErrorMessage{Code: code}
	}
	return fmt.Errorf("request failed: %w", e)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantNotFound  bool
		wantForbidden bool
	}{
		{"unknown member", restError(http.StatusNotFound, discordgo.ErrCodeUnknownMember), true, false},
		{"unknown guild", restError(http.StatusNotFound, discordgo.ErrCodeUnknownGuild), true, false},
		{"plain 404", restError(http.StatusNotFound, 0), true, false},
		{"state miss", discordgo.ErrStateNotFound, true, false},
		{"missing permissions", restError(http.StatusForbidden, discordgo.ErrCodeMissingPermissions), false, true},
		{"missing access", restError(http.StatusForbidden, discordgo.ErrCodeMissingAccess), false, true},
		{"direct messages closed", restError(http.StatusForbidden, discordgo.ErrCodeCannotSendMessagesToThisUser), false, true},
		{"rate limited", restError(http.StatusTooManyRequests, 0), false, false},
		{"other", errors.New("socket closed"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantNotFound, IsNotFound(tt.err))
			assert.Equal(t, tt.wantForbidden, IsForbidden(tt.err))
		})
	}
}
