// Package main is the entry point for the Scholar service: teacher ratings and
// multi-level approval workflows over a region → sector → school hierarchy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/scholar/internal/auth"
	"github.com/aristath/scholar/internal/config"
	"github.com/aristath/scholar/internal/di"
	"github.com/aristath/scholar/internal/scheduler"
	"github.com/aristath/scholar/internal/server"
	"github.com/aristath/scholar/pkg/logger"
)

func main() {
	issueToken := flag.String("token", "", "print a bearer token for the given user id and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.DevMode,
		Service: "scholar",
	})
	logger.SetGlobalLogger(log)

	if *issueToken != "" {
		token, err := auth.NewService(cfg.JWTSecret, cfg.JWTTTL).IssueToken(*issueToken)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to issue token")
		}
		fmt.Println(token)
		return
	}

	log.Info().Msg("Starting Scholar")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(log)

	// Databases, repositories, services, event subscribers and jobs
	container, jobs, err := di.Wire(ctx, cfg, sched, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Flag anything that went overdue while the service was down
	if err := sched.RunNow(jobs.OverdueSweep); err != nil {
		log.Error().Err(err).Msg("Startup overdue sweep failed")
	}
	sched.Start()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	// Let running jobs finish before the database closes
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
