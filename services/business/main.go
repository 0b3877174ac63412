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
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/config"
	"github.com/suite33/backoffice/shared/events"
	"github.com/suite33/backoffice/shared/middleware"
	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/utils"
)

func main() {
	spec, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := utils.NewLogger("business-service", spec.LogLevel, spec.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := config.ConnectDatabase(spec.Database(), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	if spec.DBAutoMigrate {
		if err := config.Migrate(db); err != nil {
			logger.WithError(err).Fatal("failed to migrate database")
		}
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

	teardown := NewTeardownService(db, notifier, spec.BusinessEventsChannel, NewTeardownMetrics(registry), logger)

	router := newRouter(db, teardown, middleware.NewAuthMiddleware(provider, logger), middleware.NewHTTPMetrics("business", registry), registry, spec.CookieSecure, logger)

	srv := &http.Server{Addr: ":" + spec.BusinessServicePort, Handler: router}
	go func() {
		logger.Infof("Business service starting on port %s", spec.BusinessServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("failed to start business service")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func newRouter(db *gorm.DB, teardown *TeardownService, auth *middleware.AuthMiddleware, metrics *middleware.HTTPMetrics, gatherer prometheus.Gatherer, cookieSecure bool, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), metrics.Handler())

	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Business service is healthy", nil)
	})
	router.GET("/metrics", middleware.MetricsHandler(gatherer))

	router.POST("/business/invites/accept", handleAcceptInvite(db, logger))

	business := router.Group("/business")
	business.Use(auth.RequireAuth())
	{
		business.GET("", handleGetBusiness(db))
		business.PUT("", auth.RequireRole(models.RoleAdmin), handleUpdateBusiness(db))
		// Teardown re-checks the stored role itself; the session role is not trusted here.
		business.DELETE("", handleDeleteBusiness(teardown, cookieSecure))

		business.GET("/invites", handleListInvites(db))
		business.POST("/invites", handleCreateInvite(db, logger))
		business.DELETE("/invites/:id", handleRevokeInvite(db))

		business.GET("/staff", handleListStaff(db))
		business.DELETE("/staff/:id", auth.RequireRole(models.RoleAdmin), handleRemoveStaff(db))
	}

	return router
}
