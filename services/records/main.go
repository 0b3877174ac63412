package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/config"
	"github.com/suite33/backoffice/shared/events"
	"github.com/suite33/backoffice/shared/middleware"
	"github.com/suite33/backoffice/shared/utils"
)

func main() {
	spec, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := utils.NewLogger("records-service", spec.LogLevel, spec.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := config.ConnectDatabase(spec.Database(), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}

	redisClient, err := utils.NewRedisClient(ctx, utils.RedisConfig{
		Addr:     spec.RedisAddr(),
		Password: spec.RedisPassword,
		DB:       spec.RedisDB,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}
	defer redisClient.Close()

	provider := middleware.IdentityProvider(middleware.NewSessionIdentityProvider(utils.NewSessionStore(redisClient), logger))
	if spec.CognitoEnabled() {
		validator := utils.NewJWKSValidator(utils.CognitoIssuer(spec.AWSRegion, spec.CognitoUserPoolID), nil)
		breaker := utils.NewCircuitBreaker("cognito-jwks", 5, 30*time.Second)
		provider = middleware.NewChainIdentityProvider(provider, middleware.NewCognitoIdentityProvider(validator, breaker, db))
	}

	var notifier events.Notifier = events.NewLogNotifier(logger)
	if len(spec.KafkaBrokers) > 0 {
		kafkaNotifier := events.NewKafkaNotifier(spec.KafkaBrokers, logger)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	alerts := NewStockAlerter(notifier, spec.InventoryAlertChannel, registry, logger)
	router := newRouter(db, alerts, middleware.NewAuthMiddleware(provider, logger), middleware.NewHTTPMetrics("records", registry), registry)

	srv := &http.Server{Addr: ":" + spec.RecordsServicePort, Handler: router}
	go func() {
		logger.Infof("Records service starting on port %s", spec.RecordsServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("failed to start records service")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func newRouter(db *gorm.DB, alerts *StockAlerter, auth *middleware.AuthMiddleware, metrics *middleware.HTTPMetrics, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), metrics.Handler())

	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Records service is healthy", nil)
	})
	router.GET("/metrics", middleware.MetricsHandler(gatherer))

	records := router.Group("/records")
	records.Use(auth.RequireAuth())
	{
		records.POST("/sales", handleCreateSale(db, alerts))
		records.GET("/sales", handleListSales(db))
		records.POST("/expenditures", handleCreateExpenditure(db))
		records.GET("/expenditures", handleListExpenditures(db))

		records.POST("/inventory", handleCreateInventory(db))
		records.GET("/inventory", handleListInventory(db, false))
		records.GET("/inventory/low-stock", handleListInventory(db, true))

		records.POST("/categories", handleCreateCategory(db))
		records.GET("/categories", handleListCategories(db))
		records.POST("/departments", handleCreateDepartment(db))
		records.GET("/departments", handleListDepartments(db))

		payroll := records.Group("/payroll/batches")
		payroll.POST("", handleCreatePayrollBatch(db))
		payroll.GET("", handleListPayrollBatches(db))
		payroll.POST("/:id/lock", handleLockPayrollBatch(db))
		payroll.POST("/:id/items/:itemID/paid", handleMarkItemPaid(db))
	}

	return router
}
