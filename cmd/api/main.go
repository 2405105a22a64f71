package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"fraudnet.ai/internal/audit"
	"fraudnet.ai/internal/auth"
	"fraudnet.ai/internal/config"
	"fraudnet.ai/internal/fraud"
	"fraudnet.ai/internal/httpapi"
	"fraudnet.ai/internal/obs"
	"fraudnet.ai/internal/ratelimit"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(os.Getenv("FRAUDNET_CONFIG_DIR"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.DB.DSN != "" {
		db, err = sql.Open("pgx", cfg.DB.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// Stores degrade gracefully: Postgres and Redis when configured,
	// process memory otherwise. Memory mode is for development only; it
	// cannot share revocations or buckets across instances.
	var (
		users      auth.UserStore
		refresh    auth.RefreshTokenStore
		deny       auth.DenyList
		apiKeys    auth.APIKeyStore
		auditStore audit.Store
		limiter    ratelimit.Limiter
	)
	if db != nil {
		users = auth.NewPGUserStore(db)
		refresh = auth.NewPGRefreshTokenStore(db)
		auditStore = audit.NewPGStore(db)
	} else {
		log.Print("FRAUDNET_DB_DSN not set; credential and audit stores are in-memory and will not survive a restart")
		users = auth.NewMemoryUserStore()
		refresh = auth.NewMemoryRefreshTokenStore()
		auditStore = audit.NewMemoryStore()
	}
	if rdb != nil {
		deny = auth.NewRedisDenyList(rdb)
		apiKeys = auth.NewRedisAPIKeyStore(rdb)
		limiter = ratelimit.NewRedisLimiter(rdb)
	} else {
		log.Print("redis not configured; deny-list and rate limits are per-instance")
		deny = auth.NewMemoryDenyList()
		apiKeys = auth.NewMemoryAPIKeyStore()
		limiter = ratelimit.NewMemoryLimiter()
	}

	if cfg.Auth.Secret == "" {
		log.Fatal("FRAUDNET_AUTH_SECRET is required")
	}
	session, err := auth.NewService(users, refresh, deny,
		auth.WithSecret([]byte(cfg.Auth.Secret)),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithAPIKeys(apiKeys),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Session:      session,
		Users:        users,
		Limiter:      limiter,
		Policies:     ratelimit.DefaultPolicySet(),
		Auditor:      audit.NewLogger(auditStore),
		Scorer:       fraud.NewRuleScorer(),
		Transactions: fraud.NewMemoryTransactionStore(10000),
		ReadyProbe:   httpapi.ReadyProbe{DB: db, Redis: rdb},
		Version:      version,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Printf("Starting fraudnet-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Println("Stopped")
}
