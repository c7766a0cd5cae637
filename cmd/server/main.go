package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/api"
	"github.com/zhenyuanlu/haybeat/internal/auth"
	"github.com/zhenyuanlu/haybeat/internal/config"
	"github.com/zhenyuanlu/haybeat/internal/reminder"
	"github.com/zhenyuanlu/haybeat/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

// run wires and serves the application and returns the process exit code.
// Deferred cleanup runs before the exit.
func run() int {
	cfg := config.Load()
	logger, err := internal.NewLogger(cfg.Env, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("invalid timezone: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	repos, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to init storage: %v", err)
	}
	defer func() {
		if err := repos.Close(); err != nil {
			logger.Errorf("closing storage: %v", err)
		}
	}()

	var sessions *auth.PasswordService
	var provider auth.Provider
	switch cfg.AuthMode {
	case "password":
		sessions = auth.NewPasswordService(repos.Users, cfg.SessionSecret, cfg.SessionTTL, logger)
		sessions.OnSessionChange(func(ev auth.SessionEvent) {
			logger.Infof("auth: session %s for %s", ev.Kind, ev.UserID)
		})
		provider = sessions
	case "static":
		provider = auth.NewStaticProvider(cfg.AuthStaticToken, logger)
	case "remote":
		provider = auth.NewRemoteProvider(cfg.AuthServiceURL, logger)
	}

	var scheduler reminder.Scheduler = reminder.NopScheduler{}
	if cfg.RemindersEnabled {
		ticker := reminder.NewTickerScheduler(reminder.NewLogNotifier(logger), loc, logger)
		habits, err := repos.Habits.ListHabitsWithReminders(ctx)
		if err != nil {
			logger.Errorf("reminders: loading habits: %v", err)
		}
		logger.Infof("reminders: restored %d", ticker.Restore(habits))
		go ticker.Run(ctx)
		scheduler = ticker
	}

	app := api.NewApp(repos, api.Options{
		Location:       loc,
		FirstDayOfWeek: cfg.FirstDayOfWeek,
		Reminders:      scheduler,
		Sessions:       sessions,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(app, provider),
		ReadHeaderTimeout: 10 * time.Second,
	}
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	err = serve(srv, signals, logger)
	stop()
	if err != nil {
		logger.Errorf("server failed: %v", err)
		return 1
	}
	return 0
}

// serve runs srv until a signal arrives or the listener fails, then shuts
// it down.
func serve(srv *http.Server, signals <-chan os.Signal, logger internal.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Server running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case sig := <-signals:
		logger.Infof("Shutting down server on %s...", sig)
	case err := <-serveErr:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
