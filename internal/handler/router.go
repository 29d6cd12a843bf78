package handler

import (
	"net/http"

	"nytax/internal/logger"
	"nytax/internal/middleware"
	"nytax/internal/service"
	"nytax/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// RouterConfig holds everything the HTTP surface is built from.
type RouterConfig struct {
	Resolver      service.ResolverService
	Rates         service.RateService
	Tax           service.TaxService
	Orders        service.OrderService
	Imports       service.ImportService
	Jurisdictions service.JurisdictionService
	Audit         service.AuditService
	Auth          service.AuthService

	Calendar       service.Calendar
	JWTSecret      []byte
	ImportMaxBytes int64
	CORSOrigins    []string

	// Optional
	Hub      *websocket.Hub
	Gatherer prometheus.Gatherer
	Log      logrus.FieldLogger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Log != nil {
		router.Use(logger.Gin(cfg.Log))
	}

	if len(cfg.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.CORSOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
		router.Use(cors.New(corsConfig))
	}

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := middleware.NewAuth(cfg.JWTSecret)

	if cfg.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			websocket.ServeWs(cfg.Hub, c, auth)
		})
	}

	api := router.Group("")
	NewAuthHandler(cfg.Auth).RegisterRoutes(api, auth)
	NewTaxHandler(cfg.Tax, cfg.Calendar).RegisterRoutes(api, auth)
	NewOrderHandler(cfg.Tax, cfg.Orders, cfg.Calendar).RegisterRoutes(api, auth)
	NewJurisdictionHandler(cfg.Jurisdictions, cfg.Resolver, cfg.Rates, cfg.Calendar).RegisterRoutes(api, auth)
	NewImportHandler(cfg.Imports, cfg.ImportMaxBytes).RegisterRoutes(api, auth)
	NewAuditHandler(cfg.Audit).RegisterRoutes(api, auth)

	return router
}
