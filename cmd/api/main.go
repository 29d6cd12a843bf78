package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "nytax/api/swagger" // swagger docs
	"nytax/internal/app"
	"nytax/internal/config"
	"nytax/internal/database"
	"nytax/internal/handler"
	"nytax/internal/logger"
	"nytax/internal/metrics"
	"nytax/internal/service"
	"nytax/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// @title           NY Sales Tax API
// @version         1.0
// @description     Composite New York sales tax: jurisdiction resolution, rate timelines, order imports.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load("configs/.env")
	if err != nil {
		logger.New("info", false).WithError(err).Fatal("invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.Release())
	gin.SetMode(cfg.GinMode)

	calendar, err := service.LoadCalendar(cfg.TaxTimezone)
	if err != nil {
		log.WithError(err).Fatal("invalid TAX_TIMEZONE")
	}

	db, err := database.NewConnection(cfg.DB.DSN(), log)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	log.Info("connected to PostgreSQL")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos := app.PostgresRepositories(db)
	locator, err := app.NewLocator(ctx, cfg.Resolver, repos.Jurisdictions, log)
	if err != nil {
		log.WithError(err).Fatal("resolver setup failed")
	}
	if shapes, ok := locator.(*service.ShapeLocator); ok {
		go reloadOnHangup(ctx, shapes, repos, log)
	}
	archiver, err := app.NewArchiver(ctx, cfg.Archive)
	if err != nil {
		log.WithError(err).Fatal("archive setup failed")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	wsHub := websocket.NewHub(log)
	go wsHub.Run()

	svcs := app.NewServices(repos, app.Options{
		Calendar:  calendar,
		Locator:   locator,
		Archiver:  archiver,
		Notifier:  wsHub,
		Metrics:   metrics.New(registry),
		JWTSecret: []byte(cfg.JWTSecret),
		Workers:   cfg.ImportWorkers,
		Log:       log,
	})

	router := handler.NewRouter(handler.RouterConfig{
		Resolver:       svcs.Resolver,
		Rates:          svcs.Rates,
		Tax:            svcs.Tax,
		Orders:         svcs.Orders,
		Imports:        svcs.Imports,
		Jurisdictions:  svcs.Jurisdictions,
		Audit:          svcs.Audit,
		Auth:           svcs.Auth,
		Calendar:       calendar,
		JWTSecret:      []byte(cfg.JWTSecret),
		ImportMaxBytes: cfg.ImportMaxBytes,
		CORSOrigins:    cfg.CORSOrigins,
		Hub:            wsHub,
		Gatherer:       registry,
		Log:            log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	log.Info("server stopped")
}

// reloadOnHangup refreshes the in-memory boundaries on SIGHUP, e.g. after `taxctl seed jurisdictions`.
func reloadOnHangup(ctx context.Context, shapes *service.ShapeLocator, repos app.Repositories, log logrus.FieldLogger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := shapes.Reload(ctx, repos.Jurisdictions); err != nil {
				log.WithError(err).Error("jurisdiction reload failed")
				continue
			}
			log.WithField("jurisdictions", shapes.Len()).Info("in-memory resolver reloaded")
		}
	}
}
