package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/api"
	"github.com/remexa/remexa/internal/app"
	"github.com/remexa/remexa/internal/app/maintenance"
	"github.com/remexa/remexa/internal/cache"
	"github.com/remexa/remexa/internal/database"
	"github.com/remexa/remexa/internal/notify/senders"
	"github.com/remexa/remexa/internal/queue"
	"github.com/remexa/remexa/internal/services"
	"github.com/remexa/remexa/pkg/logger"
	"github.com/remexa/remexa/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remexa-notifier", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	store := selectCacheStore(cfg, db, log)
	defer func() {
		if rc, ok := store.(*cache.RedisClient); ok && rc != nil {
			_ = rc.Close()
		}
	}()

	prefs, err := services.NewPreferenceService(db)
	if err != nil {
		return fmt.Errorf("initialise preference service: %w", err)
	}
	templates, err := services.NewTemplateService(db, store)
	if err != nil {
		return fmt.Errorf("initialise template service: %w", err)
	}
	history, err := services.NewHistoryService(db)
	if err != nil {
		return fmt.Errorf("initialise history service: %w", err)
	}

	dispatchQueue, err := queue.New(db, queue.Config{
		Concurrency:  cfg.Queue.Concurrency,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BaseDelay:    cfg.Queue.BaseDelay,
		MaxDelay:     cfg.Queue.MaxDelay,
		PollInterval: cfg.Queue.PollInterval,
		StallTimeout: cfg.Queue.StallTimeout,
	})
	if err != nil {
		return fmt.Errorf("initialise queue: %w", err)
	}

	registry := buildSenderRegistry(cfg, log)

	dispatch, err := services.NewDispatchService(db, prefs, templates, history, dispatchQueue, registry)
	if err != nil {
		return fmt.Errorf("initialise dispatch service: %w", err)
	}

	if err := dispatchQueue.Start(ctx, dispatch.ProcessJob); err != nil {
		return fmt.Errorf("start queue workers: %w", err)
	}
	defer dispatchQueue.Stop()

	if cfg.Maintenance.Enabled {
		janitor, janitorErr := maintenance.NewJanitor(db, dispatchQueue,
			maintenance.WithJobRetentionDays(cfg.Maintenance.JobRetentionDays),
			maintenance.WithJobsSchedule(cfg.Maintenance.JobsSchedule),
			maintenance.WithStalledSchedule(cfg.Maintenance.StalledSchedule),
			maintenance.WithCacheSchedule(cfg.Maintenance.CacheSchedule),
		)
		if janitorErr != nil {
			return fmt.Errorf("initialise maintenance: %w", janitorErr)
		}
		if err := janitor.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer janitor.Stop()
	}

	router, err := api.NewRouter(db, cfg, api.Services{
		Dispatch:    dispatch,
		Preferences: prefs,
		Templates:   templates,
		History:     history,
		Queue:       dispatchQueue,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	if strings.TrimSpace(path) == "" {
		return app.LoadConfig()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config path %q: %w", path, err)
	}
	if info.IsDir() {
		return app.LoadConfig(path)
	}
	return app.LoadConfig(filepath.Dir(path))
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(database.Config{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Name:     cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Options:  cfg.Database.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("access underlying database handle failed", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close database failed", zap.Error(err))
	}
}

func selectCacheStore(cfg *app.Config, db *gorm.DB, log *zap.Logger) cache.Store {
	if cfg.Cache.Redis.Enabled {
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Timeout:  cfg.Cache.Redis.Timeout,
		})
		if err != nil {
			log.Warn("redis unavailable; falling back to database cache", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
			return client
		}
	}
	return cache.NewDatabaseStore(db)
}

func buildSenderRegistry(cfg *app.Config, log *zap.Logger) *senders.Registry {
	var mailer mail.Mailer
	if cfg.Email.SMTP.Enabled {
		smtpMailer, err := mail.NewSMTPMailer(mail.SMTPSettings{
			Enabled:  true,
			Host:     cfg.Email.SMTP.Host,
			Port:     cfg.Email.SMTP.Port,
			Username: cfg.Email.SMTP.Username,
			Password: cfg.Email.SMTP.Password,
			From:     cfg.Email.SMTP.From,
			UseTLS:   cfg.Email.SMTP.UseTLS,
			Timeout:  cfg.Email.SMTP.Timeout,
		})
		if err != nil {
			log.Warn("smtp unavailable; email runs in logged-only mode", zap.Error(err))
		} else {
			mailer = smtpMailer
		}
	}

	smsGateway := senders.GatewayConfig{From: cfg.SMS.From, Timeout: cfg.SMS.Timeout}
	if cfg.SMS.Enabled {
		smsGateway.URL = cfg.SMS.URL
		smsGateway.APIKey = cfg.SMS.APIKey
	}

	pushGateway := senders.GatewayConfig{Timeout: cfg.Push.Timeout}
	if cfg.Push.Enabled {
		pushGateway.URL = cfg.Push.URL
		pushGateway.APIKey = cfg.Push.APIKey
	}

	return senders.NewRegistry(
		senders.NewEmailSender(mailer, cfg.Email.SMTP.Timeout),
		senders.NewSMSSender(smsGateway),
		senders.NewPushSender(pushGateway),
	)
}
