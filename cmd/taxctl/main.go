// Command taxctl seeds jurisdictions and rates and runs imports and rate changes against the
// configured database without going through the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"nytax/internal/app"
	"nytax/internal/config"
	"nytax/internal/database"
	"nytax/internal/logger"
	"nytax/internal/service"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(openPostgres).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// openPostgres builds the services on the database named by the environment.
func openPostgres(ctx context.Context, envFile string) (*app.Services, service.Calendar, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, service.Calendar{}, err
	}
	log := logger.New(cfg.LogLevel, cfg.Release())

	calendar, err := service.LoadCalendar(cfg.TaxTimezone)
	if err != nil {
		return nil, service.Calendar{}, err
	}
	db, err := database.NewConnection(cfg.DB.DSN(), log)
	if err != nil {
		return nil, service.Calendar{}, fmt.Errorf("database connection failed: %w", err)
	}
	archiver, err := app.NewArchiver(ctx, cfg.Archive)
	if err != nil {
		return nil, service.Calendar{}, err
	}

	svcs := app.NewServices(app.PostgresRepositories(db), app.Options{
		Calendar:  calendar,
		Archiver:  archiver,
		JWTSecret: []byte(cfg.JWTSecret),
		Workers:   cfg.ImportWorkers,
		Log:       log,
	})
	return svcs, calendar, nil
}
