package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fiora/chat-app/internal/ban"
	"github.com/fiora/chat-app/internal/chat"
	"github.com/fiora/chat-app/internal/config"
	"github.com/fiora/chat-app/internal/handler"
	"github.com/fiora/chat-app/internal/hub"
	"github.com/fiora/chat-app/internal/identity"
	"github.com/fiora/chat-app/internal/logging"
	"github.com/fiora/chat-app/internal/membership"
	"github.com/fiora/chat-app/internal/messaging"
	"github.com/fiora/chat-app/internal/notify"
	"github.com/fiora/chat-app/internal/pipeline"
	"github.com/fiora/chat-app/internal/presence"
	"github.com/fiora/chat-app/internal/ratelimit"
	"github.com/fiora/chat-app/internal/roster"
	"github.com/fiora/chat-app/internal/store"
	"github.com/fiora/chat-app/internal/store/memory"
	"github.com/fiora/chat-app/internal/store/postgres"
	"github.com/fiora/chat-app/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("server_name", cfg.Server.Name).
		Int("worker_pool", cfg.Server.WorkerPoolSize).
		Int("max_connections", cfg.Server.MaxConnections).
		Str("redis_addr", cfg.Redis.Addr).
		Str("nats_url", cfg.NATS.URL).
		Str("store", cfg.Postgres.Driver).
		Msg("chat server starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	presenceStore := presence.NewStore(redisClient, cfg.Server.Name)
	banStore := ban.NewStore(redisClient)
	upgradeLimiter := ratelimit.NewLimiter(redisClient, logging.Component(log, "ratelimit"))

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.Name = cfg.Server.Name
	natsClient, err := messaging.NewNATSClient(natsConfig, logging.Component(log, "nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}

	// --- document store ---
	st, db := openStore(ctx, cfg.Postgres, log)
	def, created, err := store.EnsureDefaultGroup(ctx, st, cfg.Chat.DefaultGroupName, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load default group")
	}
	if created {
		log.Info().Str("group", def.ID).Str("name", def.Name).Msg("default group created")
	}

	// --- transport ---
	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.Server.ListenAddr
	serverConfig.WorkerPoolSize = cfg.Server.WorkerPoolSize
	serverConfig.MaxConnections = cfg.Server.MaxConnections
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.ConnectPerMin = cfg.Server.ConnectPerMin
	if serverConfig.TrustedProxies, err = cfg.Server.ProxyPrefixes(); err != nil {
		log.Fatal().Err(err).Msg("invalid trusted proxies")
	}
	serverConfig.Heartbeat = ws.HeartbeatConfig{
		Interval: cfg.Server.HeartbeatInterval,
		Grace:    cfg.Server.HeartbeatGrace,
	}

	dispatcher := ws.NewMessageDispatcher(logging.Component(log, "dispatcher"), cfg.Server.HandlerTimeout)
	server := ws.NewServer(serverConfig, presenceStore, upgradeLimiter, logging.Component(log, "ws"), dispatcher.Dispatch)

	rooms := hub.New(cfg.Server.Name, server, natsClient, logging.Component(log, "hub"))
	if err := rooms.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe hub")
	}

	var pusher chat.Pusher
	if cfg.Push.Enabled {
		pusher = notify.New(natsClient, notify.Config{
			Subject:   cfg.Push.Subject,
			Timeout:   cfg.Push.Timeout,
			PerSecond: cfg.Push.PerSecond,
			Burst:     cfg.Push.Burst,
		}, logging.Component(log, "notify"))
	}

	// --- engines ---
	members := membership.New(st, presenceStore, rooms, membership.Config{
		CommunityGroupLimit: cfg.Chat.CommunityGroupLimit,
		MaxNameLength:       membership.DefaultConfig().MaxNameLength,
	}, logging.Component(log, "membership"))

	chatConfig := chat.DefaultConfig()
	chatConfig.MaxTextLength = cfg.Chat.MaxTextLength
	chatConfig.MaxFileSize = cfg.Chat.MaxFileSize
	chatConfig.RollDefault = cfg.Chat.RollDefault
	chatConfig.RollMax = cfg.Chat.RollMax
	chatConfig.HistoryPageSize = cfg.Chat.HistoryPageSize
	chatConfig.DefaultGroupBuffer = cfg.Chat.DefaultGroupBuffer
	messages := chat.New(st, presenceStore, rooms, pusher, chatConfig, logging.Component(log, "chat"))

	onlineRoster := roster.New(st, presenceStore, cfg.Roster.TTL, logging.Component(log, "roster"))

	identityConfig := identity.DefaultConfig(cfg.Auth.JWTSecret)
	identityConfig.TokenTTL = cfg.Auth.TokenTTL
	identityConfig.NewUserWindow = cfg.Guard.NewUserWindow
	identityConfig.Administrators = cfg.Auth.Administrators
	identityConfig.NotificationTokenCap = cfg.Chat.NotificationTokenCap
	identities := identity.New(st, presenceStore, banStore, rooms, members, messages, identityConfig, logging.Component(log, "identity"))

	// --- pipeline + handlers ---
	window := ratelimit.NewWindow()
	window.Start(cfg.Guard.Window)

	dispatcher.Use(pipeline.Stages(banStore, window, pipeline.Config{
		MaxCallPerMinutes:        cfg.Guard.MaxCallPerMinutes,
		NewUserMaxCallPerMinutes: cfg.Guard.NewUserMaxCallPerMinutes,
		SealDuration:             cfg.Guard.SealDuration,
	}, logging.Component(log, "pipeline"))...)

	handlers := handler.New(handler.Deps{
		Store:             st,
		Identity:          identities,
		Membership:        members,
		Chat:              messages,
		Roster:            onlineRoster,
		Ledger:            banStore,
		Presence:          presenceStore,
		Rooms:             rooms,
		Counter:           window,
		AdminSealDuration: cfg.Guard.AdminSealDuration,
	}, logging.Component(log, "handler"))
	handlers.Register(dispatcher)
	server.SetOnDisconnect(handlers.OnDisconnect)

	log.Info().Int("events", len(dispatcher.Events())).Msg("handlers registered")

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		window.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
		if n, err := presenceStore.PurgeServer(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("presence purge error")
		} else if n > 0 {
			log.Info().Int("removed", n).Msg("purged stale presence records")
		}
		natsClient.Close()
		if db != nil {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("database close error")
			}
		}
		if err := presenceStore.Close(); err != nil {
			log.Error().Err(err).Msg("redis close error")
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// openStore returns the configured document store. db is nil for the
// in-memory driver.
func openStore(ctx context.Context, cfg config.PostgresConfig, log zerolog.Logger) (*store.Store, *sql.DB) {
	if cfg.Driver == "memory" {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
	db, err := postgres.Open(ctx, cfg.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	if cfg.AutoMigrate {
		if err := postgres.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		log.Info().Msg("migrations applied")
	}
	return postgres.New(db), db
}
