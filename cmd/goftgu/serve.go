package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/4xmen/goftgu/internal/auth"
	"github.com/4xmen/goftgu/internal/chat"
	"github.com/4xmen/goftgu/internal/db"
	"github.com/4xmen/goftgu/internal/handlers"
	"github.com/4xmen/goftgu/internal/metrics"
	"github.com/4xmen/goftgu/internal/push"
	"github.com/4xmen/goftgu/internal/ws"
	"github.com/4xmen/goftgu/pkg/config"
	"github.com/4xmen/goftgu/pkg/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServer(ctx, cfg)
	},
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := log.WithComponent("server")

	if dir := filepath.Dir(cfg.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	notifier := push.NewNotifier(database.GetConn(), cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber, log.WithComponent("push"))

	chatOpts := []chat.Option{chat.WithLogger(log.WithComponent("chat"))}
	if notifier != nil {
		chatOpts = append(chatOpts, chat.WithPusher(notifier))
	} else {
		logger.Info().Msg("push notifications disabled (no VAPID keys)")
	}
	chatSvc := chat.NewService(database.GetConn(), chatOpts...)

	hubOpts := []ws.Option{
		ws.WithLogger(log.WithComponent("ws")),
		ws.WithEventRate(cfg.WSEventsPerSecond, cfg.WSEventBurst),
	}
	var relay *ws.Relay
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Str("channel", cfg.RedisChannel).Msg("redis relay enabled")
		relay = ws.NewRelay(redisClient, cfg.RedisChannel, log.WithComponent("relay"))
		hubOpts = append(hubOpts, ws.WithRelay(relay))
	}

	hub := ws.NewHub(chatSvc, hubOpts...)
	go hub.Run(ctx)
	chatSvc.SetNotifier(hub)

	if err := resetPresence(ctx, chatSvc, relay); err != nil {
		return err
	}

	collector, err := metrics.NewCollector(database.GetConn(), cfg.StatsCron, log.WithComponent("metrics"))
	if err != nil {
		return err
	}
	collector.Start(ctx)
	defer collector.Stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.IsProduction() && cfg.JWTSecret == "your-secret-key-change-in-production" {
		logger.Warn().Msg("JWT_SECRET is the default value")
	}
	if cfg.WebhookSecret == "" {
		logger.Warn().Msg("WEBHOOK_SECRET is empty, identity webhooks will be rejected")
	}

	router := handlers.NewRouter(handlers.Deps{
		Chat:          chatSvc,
		Auth:          auth.New(cfg.JWTSecret, cfg.JWTIssuer),
		Hub:           hub,
		Push:          notifier,
		WebhookSecret: cfg.WebhookSecret,
		CORSOrigins:   cfg.CORSOrigins,
		Logger:        log.WithComponent("http"),
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr()).Str("version", Version).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// presenceLister reports users connected to other live instances.
type presenceLister interface {
	OnlineUsers(ctx context.Context) ([]string, error)
}

// resetPresence clears online flags left by a previous process. Users still
// connected to another instance keep theirs. It runs before the listener
// opens, so no local connection exists yet.
func resetPresence(ctx context.Context, chatSvc *chat.Service, relay *ws.Relay) error {
	var lister presenceLister
	if relay != nil {
		lister = relay
	}
	return resetPresenceWith(ctx, chatSvc, lister)
}

func resetPresenceWith(ctx context.Context, chatSvc *chat.Service, lister presenceLister) error {
	logger := log.WithComponent("server")

	var keep []string
	if lister != nil {
		var err error
		if keep, err = lister.OnlineUsers(ctx); err != nil {
			logger.Warn().Err(err).Msg("could not read shared presence, skipping presence reset")
			return nil
		}
	}

	n, err := chatSvc.ResetPresence(ctx, keep)
	if err != nil {
		return fmt.Errorf("failed to reset presence: %w", err)
	}
	if n > 0 {
		logger.Info().Int("users", n).Msg("cleared stale online flags")
	}
	return nil
}
