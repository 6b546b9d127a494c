package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/korjavin/whenwemeet/pkg/clock"
	"github.com/korjavin/whenwemeet/pkg/config"
	"github.com/korjavin/whenwemeet/pkg/health"
	"github.com/korjavin/whenwemeet/pkg/interaction"
	"github.com/korjavin/whenwemeet/pkg/logger"
	"github.com/korjavin/whenwemeet/pkg/messages"
	"github.com/korjavin/whenwemeet/pkg/openai"
	"github.com/korjavin/whenwemeet/pkg/poll"
	"github.com/korjavin/whenwemeet/pkg/scheduler"
	"github.com/korjavin/whenwemeet/pkg/session"
	"github.com/korjavin/whenwemeet/pkg/stats"
	"github.com/korjavin/whenwemeet/pkg/storage"
	"github.com/korjavin/whenwemeet/pkg/telegram"
)

func main() {
	// Initialize logger
	log := logger.Global
	log.Info("Starting WhenWeMeet bot...")

	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	loc := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := storage.Open(ctx, cfg.StorageDriver, cfg.DataDir, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Start BadgerDB garbage collection
	if b, ok := store.(*storage.Badger); ok {
		b.StartGCRoutine(10 * time.Minute)
	}

	// Initialize Telegram bot
	bot, err := telegram.New(cfg.BotToken)
	if err != nil {
		log.Fatal("Failed to initialize Telegram bot: %v", err)
	}

	// Initialize services
	clk := clock.Real()
	openaiClient := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIAPIBase, cfg.OpenAIModel)
	messageService := messages.New(openaiClient, loc)
	pollService := poll.New(store, clk)
	statsService := stats.New(store, loc)

	sessions := session.New(clk, cfg.SessionTTL)
	sessions.StartJanitor(ctx, time.Minute)

	reminders := scheduler.New(store, bot, clk, messageService.Reminder)
	if err := reminders.Init(ctx); err != nil {
		log.Fatal("Failed to load reminders: %v", err)
	}
	defer reminders.Stop()
	go reminders.Run(ctx)

	router := interaction.New(interaction.Config{
		Renderer:    bot,
		Polls:       pollService,
		Sessions:    sessions,
		Reminders:   reminders,
		Stats:       statsService,
		Messages:    messageService,
		Clock:       clk,
		ExpireHours: cfg.PollExpireHours,
	})

	if cfg.HealthAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv := health.New(cfg.HealthAddr, clk, reminders.Armed)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("Failed to stop health server: %v", err)
			}
		}()
	}

	// Start the bot
	log.Info("Bot is now running. Press CTRL-C to exit.")
	bot.Run(ctx, router.Handle)
	log.Info("Shutting down...")
}
