// Command notifywatch follows a user's notifications from the terminal. It
// keeps the live stream open, falls back to polling the unread count, and
// logs every change of the local notification state.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tunelog/notify/internal/client/api"
	"github.com/tunelog/notify/internal/client/auth"
	"github.com/tunelog/notify/internal/client/connector"
	"github.com/tunelog/notify/internal/client/store"
	"github.com/tunelog/notify/internal/client/stream"
	"github.com/tunelog/notify/internal/config"
	"golang.org/x/oauth2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		log.Fatal("Invalid config: ", err)
	}
	if cfg.Client.AccessToken == "" {
		log.Fatal("NOTIFY_ACCESS_TOKEN is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	tokens := auth.FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.Client.AccessToken,
		TokenType:   "Bearer",
	}))

	gateway := api.New(cfg.Client.APIURL, tokens)
	st := store.New(gateway, store.WithPageSize(cfg.Client.PageSize), store.WithLogger(logger))
	client := stream.NewClient(
		stream.NewHTTPTransport(cfg.StreamURL(), 10*time.Second, cfg.Client.ReadTimeout),
		tokens,
		stream.WithRetryDelay(cfg.Client.RetryDelay),
		stream.WithLogger(logger),
	)
	conn := connector.New(client, st,
		connector.WithPollInterval(cfg.Client.PollInterval),
		connector.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots, unsubscribe := st.Subscribe()
	defer unsubscribe()

	conn.SetAuthenticated(true)
	defer conn.Close()

	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case snap := <-snapshots:
			for _, n := range snap.Items {
				if _, ok := seen[n.ID]; ok {
					continue
				}
				seen[n.ID] = struct{}{}
				logger.Info("notification",
					"id", n.ID,
					"kind", n.Kind,
					"actor", n.Payload.ActorName,
					"target", n.Payload.TargetType+":"+n.Payload.TargetID,
					"read", n.Read,
					"created_at", n.CreatedAt,
				)
			}
			logger.Info("state",
				"items", len(snap.Items),
				"unread", snap.UnreadCount,
				"has_more", snap.HasMore,
				"stream", client.State(),
			)
		}
	}
}
