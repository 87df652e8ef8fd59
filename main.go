package main

import (
	"context"
	"time"

	"github.com/taskforge/taskforge/activity"
	"github.com/taskforge/taskforge/bot"
	"github.com/taskforge/taskforge/config"
	"github.com/taskforge/taskforge/controllers"
	"github.com/taskforge/taskforge/models"
	"github.com/taskforge/taskforge/notify"
	"github.com/taskforge/taskforge/routes"
	"github.com/taskforge/taskforge/schedule"
	"github.com/taskforge/taskforge/session"
	"github.com/taskforge/taskforge/storage"
	"github.com/taskforge/taskforge/streak"
	"github.com/taskforge/taskforge/utils"
	"github.com/taskforge/taskforge/ws"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(
		&models.User{}, &models.TelegramProfile{},
		&models.Habit{}, &models.HabitCheckin{},
		&models.Notification{}, &models.ConfirmationSession{},
		&models.WeeklyActivity{},
	)
	store := storage.New(db)
	rdb := utils.GetRedis()

	hub := ws.NewHub(utils.Sugar)
	streaks := streak.NewEngine(store)
	tracker := activity.NewTracker(store, utils.Sugar)

	// chat is optional: without a bot token the system is web-only
	var (
		tgBot       *bot.Bot
		chatChannel notify.ChatChannel
		prompter    session.Prompter
	)
	if cfg.TelegramBotToken != "" {
		b, err := bot.New(cfg.TelegramBotToken, store, utils.Sugar)
		if err != nil {
			utils.Sugar.Fatalf("telegram bot init failed: %v", err)
		}
		tgBot = b
		chatChannel = b
		prompter = b
	} else {
		utils.Sugar.Warn("no telegram bot token configured; chat delivery and 2fa disabled")
	}

	sessions := session.NewManager(store, prompter, utils.Sugar, session.Config{
		Login2FATTL:      cfg.Login2FATTL,
		PasswordResetTTL: cfg.PasswordResetTTL,
		Retention:        cfg.SessionRetention,
		MinPasswordLen:   cfg.MinPasswordLen,
	})
	if tgBot != nil {
		tgBot.SetSessions(sessions)
	}

	window := schedule.NewWindow(
		config.ClockMinutes(cfg.ActivePeriodStart),
		config.ClockMinutes(cfg.ActivePeriodEnd),
		cfg.BucketOffsetsMin,
		cfg.BucketToleranceMin,
	)
	dispatcher := notify.NewDispatcher(store, streaks, window, hub, chatChannel, utils.Sugar, notify.Options{
		RetryAttempts:   cfg.TickRetryAttempts,
		RetryBackoff:    cfg.TickRetryBackoff,
		DeliveryTimeout: cfg.DeliveryTimeout,
	})

	runner := schedule.NewRunner(rdb, utils.Sugar)
	mustRegister := func(name, spec string, lockTTL time.Duration, fn func(ctx context.Context) error) {
		if err := runner.Register(name, spec, lockTTL, fn); err != nil {
			utils.Sugar.Fatalf("registering job %s: %v", name, err)
		}
	}
	mustRegister("reminder-tick", "*/5 * * * *", 4*time.Minute, dispatcher.Tick)
	mustRegister("broken-streak", "5 0 * * *", 10*time.Minute, dispatcher.BrokenStreakCheck)
	mustRegister("weekly-activity-sweep", "0 0 * * 1", 10*time.Minute, func(ctx context.Context) error {
		n, err := tracker.SweepRollover(ctx, time.Now())
		if err == nil && n > 0 {
			utils.Sugar.Infof("rolled over %d weekly activity rows", n)
		}
		return err
	})
	mustRegister("session-sweep", "0 * * * *", 5*time.Minute, func(ctx context.Context) error {
		if _, err := sessions.ExpireSweep(ctx); err != nil {
			return err
		}
		_, err := sessions.PurgeSweep(ctx)
		return err
	})
	runner.Start()
	defer runner.Stop()

	if tgBot != nil {
		go tgBot.Start()
		defer tgBot.Stop()
	}

	r := routes.SetupRouter(routes.Deps{
		Auth:          controllers.NewAuthController(store, sessions, utils.Sugar),
		Habits:        controllers.NewHabitController(store, streaks, tracker, dispatcher, utils.Sugar),
		Notifications: controllers.NewNotificationController(store),
		Activity:      controllers.NewActivityController(tracker, utils.Sugar),
		Telegram:      controllers.NewTelegramController(store, utils.Sugar),
		Hub:           hub,
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
