package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mandoob/backend/internal/config"
	"mandoob/backend/internal/engine"
	"mandoob/backend/internal/httpapi"
	"mandoob/backend/internal/kv"
	filekv "mandoob/backend/internal/kv/file"
	pgkv "mandoob/backend/internal/kv/postgres"
	rediskv "mandoob/backend/internal/kv/redis"
	"mandoob/backend/internal/storage"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slots, closers := openSlots(ctx, cfg)

	var remote *storage.Remote
	if cfg.RemoteSyncURL != "" {
		remote = storage.NewRemote(cfg.RemoteSyncURL)
		log.Println("remote store: configured")
	} else {
		log.Println("remote store: none (offline only)")
	}

	eng := engine.New(storage.NewLocal(slots), remote)
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("engine startup failed: %v", err)
	}

	tokens := httpapi.NewTokenManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	api := httpapi.New(eng, tokens, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("mandoob backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// openSlots selects the durable KV backend: Postgres when DATABASE_URL is
// set (refusing to start if it is unreachable), otherwise Redis with a file
// fallback, otherwise the local data directory.
func openSlots(ctx context.Context, cfg config.Config) (kv.Store, []func() error) {
	closers := make([]func() error, 0, 1)

	if cfg.DatabaseURL != "" {
		pg, err := pgkv.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with a local fallback", err)
		}
		closers = append(closers, pg.Close)
		log.Println("storage: postgres")
		return pg, closers
	}

	if cfg.RedisAddr != "" {
		rd := rediskv.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rd.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using file storage", err)
			_ = rd.Close()
		} else {
			closers = append(closers, rd.Close)
			log.Println("storage: redis")
			return rd, closers
		}
	}

	fs, err := filekv.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("cannot open data dir %s: %v", cfg.DataDir, err)
	}
	closers = append(closers, fs.Close)
	log.Printf("storage: file (%s)", cfg.DataDir)
	return fs, closers
}

func validateSecurityConfig(cfg config.Config) error {
	// Empty means the dev default; anything explicitly set must be strong.
	if cfg.AuthSecret != "" && len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 characters")
	}
	return nil
}
