package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"birthdaybot/apperror"
	"birthdaybot/dispatch/dispatchtest"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flagStore struct {
	mu    sync.Mutex
	flags map[string]bool
	err   error
}

func (s *flagStore) SetBirthdayActive(_ context.Context, serverID, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.flags == nil {
		s.flags = make(map[string]bool)
	}
	s.flags[serverID+"/"+userID] = active
	return nil
}

func (s *flagStore) flag(serverID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[serverID+"/"+userID]
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

var target = Target{ServerID: "g1", UserID: "u1", ChannelID: "c1", RoleID: "r1"}

func TestEnter(t *testing.T) {
	store := &flagStore{}
	platform := dispatchtest.NewPlatform()
	platform.AddMember("g1", "u1")
	d := New(store, platform, dispatchtest.Media{URL: "https://media.tenor.com/cake.gif"}, quietLogger())

	res, err := d.Enter(context.Background(), target)
	require.NoError(t, err)

	assert.True(t, res.RoleGranted)
	assert.True(t, res.Announced)
	assert.Empty(t, res.Failures)
	assert.True(t, store.flag("g1", "u1"))
	assert.Equal(t, []string{"r1"}, platform.Roles("g1", "u1"))
	assert.Equal(t, []dispatchtest.Message{{
		ChannelID: "c1",
		Content:   "Happy birthday <@u1>! 🎉🎂🎆 https://media.tenor.com/cake.gif",
	}}, platform.Messages())
}

func TestEnterWithoutConfig(t *testing.T) {
	store := &flagStore{}
	platform := dispatchtest.NewPlatform()
	platform.AddMember("g1", "u1")
	d := New(store, platform, nil, quietLogger())

	res, err := d.Enter(context.Background(), Target{ServerID: "g1", UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, Result{}, res)
	assert.True(t, store.flag("g1", "u1"))
	assert.Empty(t, platform.Messages())
}

func TestEnterMediaFailureStillAnnounces(t *testing.T) {
	platform := dispatchtest.NewPlatform()
	platform.AddMember("g1", "u1")
	d := New(&flagStore{}, platform, dispatchtest.Media{Err: errors.New("tenor down")}, quietLogger())

	res, err := d.Enter(context.Background(), target)
	require.NoError(t, err)

	assert.True(t, res.Announced)
	require.Len(t, platform.Messages(), 1)
	assert.Equal(t, "Happy birthday <@u1>! 🎉🎂🎆", platform.Messages()[0].Content)
}

func TestEnterRoleAlreadyHeld(t *testing.T) {
	platform := dispatchtest.NewPlatform()
	platform.AddMember("g1", "u1", "r1")
	d := New(&flagStore{}, platform, nil, quietLogger())

	res, err := d.Enter(context.Background(), target)
	require.NoError(t, err)

	assert.False(t, res.RoleGranted)
	assert.Empty(t, res.Failures)
	adds, _ := platform.Calls()
	assert.Zero(t, adds)
}

func TestEnterMissingMemberIsSoft(t *testing.T) {
	store := &flagStore{}
	platform := dispatchtest.NewPlatform()
	d := New(store, platform, nil, quietLogger())

	res, err := d.Enter(context.Background(), target)
	require.NoError(t, err)

	assert.True(t, store.flag("g1", "u1"), "flag is set so the member is not retried every tick")
	require.Len(t, res.Failures, 1)
	assert.Empty(t, platform.Messages())
}

func TestEnterForbiddenIsSoft(t *testing.T) {
	platform := dispatchtest.NewPlatform()
	platform.AddMember("g1", "u1")
	platform.AddErr = dispatchtest.ForbiddenError()
	platform.SendErr = dispatchtest.ForbiddenError()
	d := New(&flagStore{}, platform, nil, quietLogger())

	res, err := d.Enter(context.Background(), target)
	require.NoError(t, err)

	assert.False(t, res.RoleGranted)
	assert.False(t, res.Announced)
	assert.Len(t, res.Failures, 2)
}

func TestEnterStorageFailureAppliesNothing(t *testing.T) {
	store := &flagStore{err: apperror.Storage("set birthday active", errors.New("locked"))}
	platform := dispatchtest.NewPlatform()
	platform.AddMember("g1", "u1")
	d := New(store, platform, nil, quietLogger())

	_, err := d.Enter(context.Background(), target)
	assert.ErrorIs(t, err, apperror.ErrStorage)
	assert.Empty(t, platform.Roles("g1", "u1"))
	assert.Empty(t, platform.Messages())
}

func TestExit(t *testing.T) {
	store := &flagStore{flags: map[string]bool{"g1/u1": true}}
	platform := dispatchtest.NewPlatform()
	platform.AddMember("g1", "u1", "r1", "other")
	d := New(store, platform, nil, quietLogger())

	res, err := d.Exit(context.Background(), target)
	require.NoError(t, err)

	assert.True(t, res.RoleRevoked)
	assert.False(t, store.flag("g1", "u1"))
	assert.Equal(t, []string{"other"}, platform.Roles("g1", "u1"))
}

func TestExitDeletedRecordStillRevokesRole(t *testing.T) {
	store := &flagStore{err: apperror.NotFound("birthday", "g1/u1")}
	platform := dispatchtest.NewPlatform()
	platform.AddMember("g1", "u1", "r1")
	d := New(store, platform, nil, quietLogger())

	res, err := d.Exit(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, res.RoleRevoked)
	assert.Empty(t, platform.Roles("g1", "u1"))
}

func TestEnterDeletedRecordAppliesNothing(t *testing.T) {
	store := &flagStore{err: apperror.NotFound("birthday", "g1/u1")}
	platform := dispatchtest.NewPlatform()
	platform.AddMember("g1", "u1")
	d := New(store, platform, nil, quietLogger())

	_, err := d.Enter(context.Background(), target)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Empty(t, platform.Roles("g1", "u1"))
	assert.Empty(t, platform.Messages())
}

func TestExitRoleAlreadyRemoved(t *testing.T) {
	platform := dispatchtest.NewPlatform()
	platform.AddMember("g1", "u1")
	d := New(&flagStore{}, platform, nil, quietLogger())

	res, err := d.Exit(context.Background(), target)
	require.NoError(t, err)

	assert.False(t, res.RoleRevoked)
	assert.Empty(t, res.Failures)
	_, removes := platform.Calls()
	assert.Zero(t, removes)
}

func TestExitDeletedRoleIsNotAFailure(t *testing.T) {
	platform := dispatchtest.NewPlatform()
	platform.AddMember("g1", "u1", "r1")
	platform.RemoveErr = dispatchtest.NotFoundError(10011)
	d := New(&flagStore{}, platform, nil, quietLogger())

	res, err := d.Exit(context.Background(), target)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
}

func TestExitMemberLeft(t *testing.T) {
	store := &flagStore{flags: map[string]bool{"g1/u1": true}}
	d := New(store, dispatchtest.NewPlatform(), nil, quietLogger())

	res, err := d.Exit(context.Background(), target)
	require.NoError(t, err)

	assert.False(t, store.flag("g1", "u1"))
	assert.Len(t, res.Failures, 1)
}
