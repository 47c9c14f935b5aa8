package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tfdgestao/relatorios/internal/api"
	"github.com/tfdgestao/relatorios/internal/auth"
	"github.com/tfdgestao/relatorios/internal/config"
	"github.com/tfdgestao/relatorios/internal/database"
	"github.com/tfdgestao/relatorios/internal/logs"
	"github.com/tfdgestao/relatorios/internal/metrics"
	"github.com/tfdgestao/relatorios/internal/notify"
	"github.com/tfdgestao/relatorios/internal/report"
	"github.com/tfdgestao/relatorios/internal/schedule"
	"github.com/tfdgestao/relatorios/internal/users"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Initialize configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logs.Fatal("Failed to load config: %v", err)
	}

	if err := logs.Init(logs.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}); err != nil {
		logs.Fatal("Failed to initialize logging: %v", err)
	}
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = logs.Writer()

	// Initialize database
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logs.Fatal("Failed to initialize database: %v", err)
	}
	defer database.Close(db)

	loc := cfg.Location()
	now := func() time.Time { return time.Now().In(loc) }
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	directory := users.NewDirectory(db)
	admin, err := directory.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword, cfg.Auth.AdminEmail)
	if err != nil {
		logs.Fatal("Failed to create admin user: %v", err)
	}

	// Delivery collaborators; mail and Slack stay off until configured.
	var mailer schedule.Mailer
	if cfg.Mail.SMTPHost != "" {
		mailer = notify.NewMailer(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.From)
	} else {
		logs.Warn("mail.smtp_host is not set; schedules with recipients will fail delivery")
	}
	var notifier schedule.FailureNotifier
	if slack := notify.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel); slack != nil {
		notifier = slack
	}

	m := metrics.New()
	store := schedule.NewGormStore(db, now)
	runner := schedule.NewRunner(store, report.NewGenerator(db, now), mailer, schedule.RunnerConfig{
		Directory: directory,
		Notifier:  notifier,
		Metrics:   m,
		Now:       now,
		Timeout:   cfg.Scheduler.RunTimeout,
	})
	scheduler := schedule.NewScheduler(store, runner, schedule.SchedulerConfig{
		Lookahead:      cfg.Scheduler.Lookahead,
		ReloadInterval: cfg.Scheduler.ReloadInterval,
		Metrics:        m,
		Now:            now,
	})
	sweeper := schedule.NewSweeper(store, runner, cfg.Scheduler.SweepConcurrency, m)
	service := schedule.NewService(store, runner, scheduler, sweeper, now)

	// Create default schedules if none exist
	if n, err := service.CreateDefaultSchedules(ctx, admin.ID); err != nil {
		logs.Warn("Failed to create default schedules: %v", err)
	} else if n > 0 {
		logs.Info("Created %d default schedules (inactive)", n)
	}

	// Catch up on anything missed while the service was down, then arm timers.
	if _, err := service.SweepNow(ctx); err != nil {
		logs.Warn("Startup sweep failed: %v", err)
	}
	scheduler.Start(ctx)

	sweepTrigger, err := schedule.NewSweepTrigger(service, cfg.Scheduler.SweepSpec, loc)
	if err != nil {
		logs.Fatal("Failed to schedule the pending sweep: %v", err)
	}
	sweepTrigger.Start()

	// Initialize and start API server
	server := api.NewServer(service, auth.NewAuthenticator(cfg.Auth.JWTSecret, db), directory, db, m)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(cfg.Server.Port) }()

	select {
	case <-ctx.Done():
		logs.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			logs.Error("API server stopped: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logs.Warn("API server shutdown: %v", err)
	}
	sweepTrigger.Stop(shutdownCtx)
	scheduler.Stop(shutdownCtx)
}
