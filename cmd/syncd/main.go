package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"canvaslive/internal/access"
	"canvaslive/internal/app"
	"canvaslive/internal/config"
	"canvaslive/internal/room"
	"canvaslive/internal/session"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var accessStore access.Store
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pg, err := access.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer pg.Close()
		accessStore = pg
	} else {
		// Local-only mode: no canvas database, every session may join
		// nothing; collaboration stays disabled client-side.
		log.Printf("WARNING: no DATABASE_URL, using empty in-memory access store")
		accessStore = access.NewMemoryStore()
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	service := app.New(cfg, sessions, accessStore)
	hub := room.NewHub()
	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("canvas sync listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
