// GroupStash archives GroupMe group histories into a relational store
// and serves aggregate queries over them.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kataras/iris/v12"

	"github.com/edgard/groupstash/internal/config"
	"github.com/edgard/groupstash/internal/database"
	"github.com/edgard/groupstash/internal/groupme"
	"github.com/edgard/groupstash/internal/ingest"
	"github.com/edgard/groupstash/internal/logger"
	"github.com/edgard/groupstash/internal/server"
	"github.com/edgard/groupstash/internal/tasks"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx))
}

func run(ctx context.Context) int {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	db, err := database.New(cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		log.Error("Failed to initialize database", "error", err)
		return 1
	}
	defer database.Close(db, log)

	store := database.NewStore(db, log)
	client := groupme.NewClient(cfg.GroupMe.BaseURL, cfg.GroupMe.Timeout, log)
	ingestSvc := ingest.NewService(client, store, log)

	if cfg.Maintenance.Enabled {
		scheduler, err := tasks.NewScheduler(cfg.Maintenance.Cron, store, log)
		if err != nil {
			log.Error("Failed to set up maintenance scheduler", "error", err)
			return 1
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	app := server.New(server.Deps{
		Log:    log,
		Store:  store,
		Client: client,
		Ingest: ingestSvc,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Listen(cfg.Server.Addr,
			iris.WithoutServerError(iris.ErrServerClosed),
			iris.WithoutStartupLog,
		)
	}()
	log.Info("Server listening", "addr", cfg.Server.Addr)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error("Server error", "error", err)
			return 1
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Error("Error during server shutdown", "error", err)
			return 1
		}
	}

	log.Info("Server stopped")
	return 0
}
