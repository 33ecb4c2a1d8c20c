package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/client"
	"boardsync/engine"
	"boardsync/gateway"
	"boardsync/presence"
	"boardsync/stream"
)

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Fatalf("invalid %s: %q", key, v)
		}
		return n
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid %s: %q", key, v)
		}
		return d
	}
	return def
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	serverURL := os.Getenv("SERVER_URL")
	if serverURL == "" {
		log.Fatal("missing SERVER_URL")
	}
	serverToken := os.Getenv("SERVER_TOKEN")

	logger := log.New()
	logger.SetLevel(log.GetLevel())

	api := client.New(serverURL, serverToken, envDur("REQUEST_TIMEOUT", 15*time.Second), logger)

	tracker := presence.NewTracker(envDur("PRESENCE_STALE_AFTER", presence.DefaultStaleAfter))
	eng := engine.New(engine.Config{
		API:            api,
		Logger:         logger,
		Presence:       tracker,
		Workers:        envInt("SYNC_WORKERS", 4),
		OpTimeout:      envDur("OP_TIMEOUT", 15*time.Second),
		MaxAttempts:    envInt("MAX_ATTEMPTS", 4),
		AutoResolveLWW: os.Getenv("AUTO_RESOLVE_LWW") == "1",
	})
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := stream.NewConsumer(eng, logger, envInt("EVENT_QUEUE_SIZE", 1024))
	go consumer.Run(ctx)

	// Losing the event stream means presence heartbeats stop arriving;
	// everyone tracked as online goes offline until the stream says otherwise.
	dropPresence := func() {
		for _, p := range tracker.OnlineUsers() {
			tracker.MarkOffline(p.UserID)
		}
	}

	// Events arrive over redis pub/sub when a bus is configured, otherwise
	// over the server's SSE endpoint.
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			parts := strings.Split(redisConn, ",")
			redisOpts = &redis.Options{Addr: parts[0]}
			for _, p := range parts[1:] {
				kv := strings.SplitN(p, "=", 2)
				if len(kv) != 2 {
					continue
				}
				switch strings.ToLower(kv[0]) {
				case "password":
					redisOpts.Password = kv[1]
				case "ssl":
					if strings.ToLower(kv[1]) == "true" {
						redisOpts.TLSConfig = &tls.Config{}
					}
				}
			}
		}
		rc := redis.NewClient(redisOpts)
		channel := envString("EVENTS_CHANNEL", "board-events")
		go stream.NewRedisSource(rc, channel, consumer, logger, dropPresence).Run(ctx)
	} else {
		streamURL := strings.TrimSuffix(serverURL, "/") + "/api/events"
		src := stream.NewSSESource(streamURL, serverToken, consumer, logger, func(ctx context.Context) {
			if err := eng.ResyncAll(ctx); err != nil {
				logger.WithError(err).Error("resync after reconnect failed")
			}
		}, dropPresence)
		go src.Run(ctx)
	}

	// Sweep silent users off the presence list.
	go func() {
		ticker := time.NewTicker(envDur("PRESENCE_SWEEP_INTERVAL", 10*time.Second))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if swept := tracker.Sweep(now); len(swept) > 0 {
					logger.WithField("users", swept).Debug("marked stale users offline")
				}
			}
		}
	}()

	if boards := os.Getenv("BOARDS"); boards != "" {
		ids := strings.Split(boards, ",")
		if err := eng.Resync(ctx, ids...); err != nil {
			log.Fatalf("initial board sync: %v", err)
		}
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	gateway.Register(e, eng, logger, os.Getenv("GATEWAY_TOKEN"))

	listenAddr := ":" + envString("PORT", "8080")
	e.Logger.Fatal(e.Start(listenAddr))
}
