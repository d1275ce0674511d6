package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog/v3"
	"github.com/tunelog/notify/internal/config"
	"github.com/tunelog/notify/internal/domain/notification"
	appHTTP "github.com/tunelog/notify/internal/handler/http"
	"github.com/tunelog/notify/internal/pkg/cron"
	"github.com/tunelog/notify/internal/pkg/database"
	"github.com/tunelog/notify/internal/pkg/jwt"
	"github.com/tunelog/notify/internal/pkg/sse"
	"github.com/tunelog/notify/internal/repository/memory"
	"github.com/tunelog/notify/internal/repository/postgresql"
	notificationService "github.com/tunelog/notify/internal/service/notification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config: ", err)
	}

	JWTService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiration)

	// notifyd token <user_id> prints an access token for local testing
	if len(os.Args) == 3 && os.Args[1] == "token" {
		token, expiresAt, err := JWTService.GenerateAccessToken(os.Args[2])
		if err != nil {
			log.Fatal("Error generating token: ", err)
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires at %s\n", time.Unix(expiresAt, 0).Format(time.RFC3339))
		return
	}

	logFormat := httplog.SchemaECS.Concise(cfg.App.Env != "production")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       cfg.LogLevel(),
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "tunelog-notify"),
		slog.String("env", cfg.App.Env),
	)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notificationRepo notification.Repository
	switch cfg.App.Storage {
	case config.StoragePostgres:
		dsn := database.DSN(
			cfg.Database.Host,
			fmt.Sprint(cfg.Database.Port),
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Name,
			cfg.Database.SSLMode,
		)
		db, err := database.NewPostgreSQLDB(ctx, dsn, database.PoolConfig{
			MaxConns: int32(cfg.Database.MaxConns),
			MinConns: int32(cfg.Database.MinConns),
		})
		if err != nil {
			log.Fatal("Error connecting to database: ", err)
		}
		defer db.Close()

		if err := postgresql.Migrate(ctx, db); err != nil {
			log.Fatal("Error migrating database: ", err)
		}
		notificationRepo = postgresql.NewNotificationRepository(db)
	case config.StorageMemory:
		logger.Warn("using in-memory notification storage, data is lost on restart")
		notificationRepo = memory.NewNotificationRepository()
	default:
		log.Fatal("Unsupported storage type: ", cfg.App.Storage)
	}

	hub := sse.NewHub(cfg.Stream.HubBuffer)
	notifService := notificationService.NewNotificationService(notificationRepo, hub, notificationService.Config{
		BatchSize:     cfg.Stream.BatchSize,
		FlushInterval: cfg.Stream.FlushInterval,
		WorkerCount:   cfg.Stream.WorkerCount,
		QueueSize:     cfg.Stream.QueueSize,
		Logger:        logger,
	})
	defer notifService.Stop()

	stats := cron.NewScheduler(ctx, logger)
	stats.AddJob("log_stream_stats", cfg.Stream.StatsInterval, func(context.Context) error {
		logger.Info("stream stats", "subscribers", hub.TotalSubscribers(), "dropped_events", hub.Dropped())
		return nil
	})
	stats.Start()
	defer func() {
		stats.Stop()
		stats.RunOnce(context.Background())
	}()

	notificationHandler := appHTTP.NewNotificationHandler(notifService, JWTService, cfg.Stream.KeepaliveInterval, logger)
	router := appHTTP.NewRouter(appHTTP.RouterConfig{
		AllowedOrigins: cfg.App.AllowedOrigins,
		Logger:         logger,
	}, JWTService, notificationHandler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("server running", "addr", "http://localhost"+srv.Addr, "storage", cfg.App.Storage)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}
}
