// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"costledger/internal/domain/costing"
	"costledger/internal/infrastructure/http/v1/handlers"
	"costledger/internal/infrastructure/http/v1/middleware"
	"costledger/internal/infrastructure/storage/postgres"
	"costledger/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Pool is the database connection pool (for health checks)
	Pool *postgres.Pool

	// Logger for request logging
	Logger *logger.Logger

	// Costing is the costing engine service
	Costing *costing.Service
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	// API v1
	v1 := router.Group("/api/v1")
	{
		baseHandler := handlers.NewBaseHandler()
		costingHandler := handlers.NewCostingHandler(baseHandler, cfg.Costing)
		costingHandler.RegisterRoutes(v1.Group("/costing"))
	}

	return router
}
