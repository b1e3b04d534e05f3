package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // zone data for hosts without a system tz database

	"birthdaybot/bot"
	"birthdaybot/config"
	"birthdaybot/dal"
	"birthdaybot/discordutils"
	"birthdaybot/dispatch"
	"birthdaybot/logger"
	"birthdaybot/media"
	"birthdaybot/scheduler"

	"github.com/bwmarrin/discordgo"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)

	store, err := dal.InitDB(cfg.DBPath, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialise database.")
	}
	defer store.Close()

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create discord session.")
	}
	client := discordutils.NewClient(session)

	var mediaProvider dispatch.MediaProvider
	if cfg.TenorAPIKey != "" {
		mediaProvider = media.NewTenorClient(cfg.TenorAPIKey, cfg.TenorClientKey)
	} else {
		log.Info("TENOR_API_KEY not set, announcements will have no media.")
	}

	dispatcher := dispatch.New(store, client, mediaProvider, log)
	checker, err := scheduler.New(store, dispatcher, log, scheduler.Options{
		Concurrency:     cfg.SweepConcurrency,
		RatePerSec:      cfg.PlatformRatePerSec,
		DefaultTimeZone: cfg.DefaultTimeZone,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create birthday checker.")
	}

	service := bot.NewService(store, checker, client, log, bot.ServiceOptions{
		CooldownDays:    cfg.CooldownDays,
		DefaultTimeZone: cfg.DefaultTimeZone,
	})
	birthdayBot := bot.New(session, client, service, log)
	if err := birthdayBot.Open(cfg.GuildID); err != nil {
		log.WithError(err).Fatal("Failed to start bot.")
	}

	if err := checker.Start(cfg.CheckSchedule); err != nil {
		birthdayBot.Shutdown()
		log.WithError(err).Fatal("Failed to start birthday checker.")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	log.Info("Press Ctrl+C to exit.")
	<-stop

	checker.Stop()
	birthdayBot.Shutdown()
}
