// Package dispatchtest provides in-memory fakes of the chat platform and
// media provider for tests.
package dispatchtest

import (
	"context"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Message is a message recorded by Platform.
type Message struct {
	ChannelID string
	Content   string
}

// Platform is a fake chat platform holding guild members in memory.
type Platform struct {
	mu       sync.Mutex
	members  map[string]*discordgo.Member // guildID/userID
	messages []Message
	adds     int
	removes  int

	// Errors injected per operation; nil means success.
	MemberErr error
	AddErr    error
	RemoveErr error
	SendErr   error
}

// NewPlatform returns an empty fake platform.
func NewPlatform() *Platform {
	return &Platform{members: make(map[string]*discordgo.Member)}
}

func key(guildID, userID string) string { return guildID + "/" + userID }

// AddMember registers a member holding the given roles.
func (p *Platform) AddMember(guildID, userID string, roles ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[key(guildID, userID)] = &discordgo.Member{
		GuildID: guildID,
		User:    &discordgo.User{ID: userID},
		Roles:   append([]string(nil), roles...),
	}
}

// Roles returns the roles currently held by a member.
func (p *Platform) Roles(guildID, userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.members[key(guildID, userID)]; ok {
		return append([]string(nil), m.Roles...)
	}
	return nil
}

// Messages returns every message sent so far.
func (p *Platform) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Calls returns the number of successful role grants and revocations.
func (p *Platform) Calls() (adds, removes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adds, p.removes
}

// Member implements dispatch.Platform.
func (p *Platform) Member(_ context.Context, guildID, userID string) (*discordgo.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MemberErr != nil {
		return nil, p.MemberErr
	}
	m, ok := p.members[key(guildID, userID)]
	if !ok {
		return nil, NotFoundError(discordgo.ErrCodeUnknownMember)
	}
	copied := *m
	copied.Roles = append([]string(nil), m.Roles...)
	return &copied, nil
}

// AddRole implements dispatch.Platform.
func (p *Platform) AddRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AddErr != nil {
		return p.AddErr
	}
	m, ok := p.members[key(guildID, userID)]
	if !ok {
		return NotFoundError(discordgo.ErrCodeUnknownMember)
	}
	for _, r := range m.Roles {
		if r == roleID {
			return nil
		}
	}
	m.Roles = append(m.Roles, roleID)
	p.adds++
	return nil
}

// RemoveRole implements dispatch.Platform.
func (p *Platform) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RemoveErr != nil {
		return p.RemoveErr
	}
	m, ok := p.members[key(guildID, userID)]
	if !ok {
		return NotFoundError(discordgo.ErrCodeUnknownMember)
	}
	kept := m.Roles[:0]
	for _, r := range m.Roles {
		if r != roleID {
			kept = append(kept, r)
		}
	}
	m.Roles = kept
	p.removes++
	return nil
}

// SendMessage implements dispatch.Platform.
func (p *Platform) SendMessage(_ context.Context, channelID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return p.SendErr
	}
	p.messages = append(p.messages, Message{ChannelID: channelID, Content: content})
	return nil
}

// NotFoundError builds the REST error Discord returns for unknown resources.
func NotFoundError(code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "Unknown"},
	}
}

// ForbiddenError builds the REST error Discord returns for missing permissions.
func ForbiddenError() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingPermissions, Message: "Missing Permissions"},
	}
}

// Media is a fake media provider.
type Media struct {
	URL string
	Err error
}

// CelebrationMediaURL implements dispatch.MediaProvider.
func (m Media) CelebrationMediaURL(context.Context, string) (string, error) {
	return m.URL, m.Err
}
