package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	internalhttp "github.com/outfleet/beacon/internal/api/http"
	"github.com/outfleet/beacon/internal/command"
	"github.com/outfleet/beacon/internal/db"
	"github.com/outfleet/beacon/internal/session"
	"github.com/outfleet/beacon/internal/snapshot"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Beacon Controller", "version", AppVersion)

	sessions := session.NewStore()
	commands := command.NewQueue()

	var snapshots snapshot.Store
	var pool interface{ Close() }
	if config.Db.Url != "" {
		if err := db.RunMigrations(config.Db.Url); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}

		dbPool, err := db.InitDB(context.Background(), config.Db.Url)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		pool = dbPool

		store := snapshot.NewPostgresStore(dbPool)
		snapshots = store

		// Rehydrate sessions so counters and buffers survive restarts.
		persisted, err := store.List(context.Background())
		if err != nil {
			slog.Error("Failed to load persisted sessions", "error", err)
			os.Exit(1)
		}
		sessions.Restore(persisted)
		slog.Info("Restored persisted sessions", "count", len(persisted))
	} else {
		slog.Warn("No database configured, session snapshots are disabled")
	}

	services := &internalhttp.Services{
		Sessions:  sessions,
		Commands:  commands,
		Snapshots: snapshots,
		Config:    config.Http,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Auth-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down...")

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	wg.Wait()

	if pool != nil {
		pool.Close()
	}

	slog.Info("Shutdown complete")
}
