package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"birthdaybot/calendar"
	"birthdaybot/cooldown"
	"birthdaybot/scheduler"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the bot.
type Config struct {
	Token   string
	GuildID string // empty registers commands globally
	DBPath  string

	TenorAPIKey    string
	TenorClientKey string

	CheckSchedule      string
	SweepConcurrency   int
	PlatformRatePerSec int
	CooldownDays       int
	DefaultTimeZone    string

	LogLevel    string
	Environment string
}

// Load reads configuration from a .env file (if present), the environment and
// finally the command-line flags in args, each overriding the previous.
func Load(args []string) (*Config, error) {
	// godotenv.Load never overrides variables that are already set.
	_ = godotenv.Load()
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Token:           getenv("DISCORD_TOKEN"),
		GuildID:         getenv("GUILD_ID"),
		DBPath:          orDefault(getenv("DATABASE_URL"), "birthdays.db"),
		TenorAPIKey:     getenv("TENOR_API_KEY"),
		TenorClientKey:  orDefault(getenv("TENOR_CLIENT_KEY"), "birthdaybot"),
		CheckSchedule:   orDefault(getenv("CHECK_SCHEDULE"), "*/5 * * * * *"),
		DefaultTimeZone: orDefault(getenv("DEFAULT_TIME_ZONE"), calendar.DefaultTimeZone),
		LogLevel:        strings.ToLower(orDefault(getenv("LOG_LEVEL"), "info")),
		Environment:     strings.ToLower(orDefault(getenv("ENVIRONMENT"), "development")),
	}

	var err error
	if cfg.SweepConcurrency, err = intVar(getenv, "SWEEP_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.PlatformRatePerSec, err = intVar(getenv, "PLATFORM_RATE_PER_SEC", 5); err != nil {
		return nil, err
	}
	if cfg.CooldownDays, err = intVar(getenv, "COOLDOWN_DAYS", cooldown.DefaultDays); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("birthdaybot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Token, "token", cfg.Token, "Bot access token.")
	fs.StringVar(&cfg.GuildID, "guild", cfg.GuildID,
		"Test guild ID. If not set, slash commands will be registered globally.")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath,
		"SQLite database file path or postgres:// URL.")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Token == "" {
		return fmt.Errorf("DISCORD_TOKEN or -token must be provided")
	}
	if cfg.SweepConcurrency < 1 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be at least 1")
	}
	if cfg.PlatformRatePerSec < 1 {
		return fmt.Errorf("PLATFORM_RATE_PER_SEC must be at least 1")
	}
	if cfg.CooldownDays < 0 {
		return fmt.Errorf("COOLDOWN_DAYS must not be negative")
	}
	if _, err := time.LoadLocation(cfg.DefaultTimeZone); err != nil {
		return fmt.Errorf("invalid DEFAULT_TIME_ZONE: %w", err)
	}
	if _, err := scheduler.Parser.Parse(cfg.CheckSchedule); err != nil {
		return fmt.Errorf("invalid CHECK_SCHEDULE: %w", err)
	}
	return nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func intVar(getenv func(string) string, key string, fallback int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
