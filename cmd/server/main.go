package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/chatto/internal/config"
	"github.com/christopherjohns/chatto/internal/database"
	"github.com/christopherjohns/chatto/internal/message"
	"github.com/christopherjohns/chatto/internal/server"
	"github.com/christopherjohns/chatto/internal/session"
	"github.com/christopherjohns/chatto/internal/user"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	opts := []server.Option{server.WithSessionTTL(cfg.SessionTTL)}

	if cfg.DatabaseURL != "" {
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer db.Close()
		log.Printf("Connected to Postgres")

		opts = append(opts,
			server.WithUserStore(user.NewPostgresStore(db)),
			server.WithMessageStore(message.NewPostgresStore(db)),
			server.WithSessionManager(session.NewPostgresManager(db, cfg.SessionTTL)),
		)
	} else {
		log.Printf("No DATABASE_URL set; running on in-memory stores")
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		log.Printf("Connected to Redis at %s; using Redis sessions", cfg.RedisAddr)
		opts = append(opts, server.WithSessionManager(session.NewRedisManager(rdb, cfg.SessionTTL)))
	}

	srv := server.New(cfg.ListenAddr, opts...)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting chatto server on %s", cfg.ListenAddr)
		errCh <- srv.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-stop:
		log.Printf("Received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}
}
