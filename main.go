package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medsync/api"
	"medsync/chat"
	"medsync/config"
	"medsync/logging"
	"medsync/models"
	"medsync/realtime"
	"medsync/reminders"
	"medsync/store"
)

func main() {
	config.Load()

	cleanup, err := logging.Init(config.App.LogFile, config.App.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}
	defer cleanup()
	log := logging.Component("main")

	cache, err := store.Open(config.App.CachePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local cache")
	}
	defer cache.Close()

	session := realtime.NewSession(realtime.Config{
		URL:               config.App.ServerURL,
		Token:             config.App.Token,
		BaseDelay:         time.Duration(config.App.ReconnectBaseMillis) * time.Millisecond,
		MaxAttempts:       config.App.ReconnectMaxAttempts,
		ConnectTimeout:    time.Duration(config.App.ConnectTimeoutSeconds) * time.Second,
		HeartbeatInterval: time.Duration(config.App.HeartbeatSeconds) * time.Second,
	})
	defer session.Close()

	apiClient := api.New(config.App.ServerURL, config.App.Token)

	reminderCh := reminders.New(session.Registry, session.Manager, cache)
	reminderCh.OnReminder(func(r models.ReminderNotification) {
		log.Info().Str("medication", r.Name).Str("dosage", r.Dosage).
			Time("scheduled_at", r.ScheduledAt).Msg("medication reminder")
	})
	if !reminderCh.Attach() {
		log.Fatal().Msg("no credential available, set TOKEN and retry")
	}

	typingIdle := time.Duration(config.App.TypingIdleMillis) * time.Millisecond
	chatCh := chat.New(session.Registry, session.Manager, apiClient, session.States, cache, typingIdle)
	chatCh.OnMessage(func(m models.ChatMessage) {
		log.Info().Str("from", m.SenderName).Str("content", m.Content).Msg("message")
	})
	chatCh.OnPeerTyping(func(ts models.TypingStatus) {
		log.Debug().Str("user", ts.UserID).Bool("is_typing", ts.IsTyping).Msg("peer typing")
	})
	chatCh.Attach()
	defer chatCh.Close()

	if config.App.ConversationID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := chatCh.Open(ctx, config.App.ConversationID); err != nil {
			log.Warn().Str("conversation", config.App.ConversationID).Err(err).Msg("could not open conversation")
		}
		cancel()
	}

	session.States.Subscribe(func(up bool) {
		log.Info().Bool("connected", up).Msg("connectivity changed")
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")
}
