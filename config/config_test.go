package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil, env(map[string]string{"DISCORD_TOKEN": "abc"}))
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, "", cfg.GuildID)
	assert.Equal(t, "birthdays.db", cfg.DBPath)
	assert.Equal(t, "*/5 * * * * *", cfg.CheckSchedule)
	assert.Equal(t, 4, cfg.SweepConcurrency)
	assert.Equal(t, 5, cfg.PlatformRatePerSec)
	assert.Equal(t, 365, cfg.CooldownDays)
	assert.Equal(t, "America/New_York", cfg.DefaultTimeZone)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	cfg, err := load(
		[]string{"-token", "flag-token", "-guild", "123", "-db", "postgres://bot@db/birthdays"},
		env(map[string]string{"DISCORD_TOKEN": "env-token", "GUILD_ID": "999"}),
	)
	require.NoError(t, err)

	assert.Equal(t, "flag-token", cfg.Token)
	assert.Equal(t, "123", cfg.GuildID)
	assert.Equal(t, "postgres://bot@db/birthdays", cfg.DBPath)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		args []string
	}{
		{"missing token", map[string]string{}, nil},
		{"bad concurrency", map[string]string{"DISCORD_TOKEN": "x", "SWEEP_CONCURRENCY": "many"}, nil},
		{"zero concurrency", map[string]string{"DISCORD_TOKEN": "x", "SWEEP_CONCURRENCY": "0"}, nil},
		{"zero rate", map[string]string{"DISCORD_TOKEN": "x", "PLATFORM_RATE_PER_SEC": "0"}, nil},
		{"negative cooldown", map[string]string{"DISCORD_TOKEN": "x", "COOLDOWN_DAYS": "-1"}, nil},
		{"bad zone", map[string]string{"DISCORD_TOKEN": "x", "DEFAULT_TIME_ZONE": "Nowhere/Land"}, nil},
		{"bad schedule", map[string]string{"DISCORD_TOKEN": "x", "CHECK_SCHEDULE": "every now and then"}, nil},
		{"unknown flag", map[string]string{"DISCORD_TOKEN": "x"}, []string{"-verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(tt.args, env(tt.vars))
			assert.Error(t, err)
		})
	}
}

func TestLoadAcceptsDescriptors(t *testing.T) {
	cfg, err := load(nil, env(map[string]string{"DISCORD_TOKEN": "x", "CHECK_SCHEDULE": "@daily"}))
	require.NoError(t, err)
	assert.Equal(t, "@daily", cfg.CheckSchedule)
}
