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

	"github.com/suite33/backoffice/shared/config"
	"github.com/suite33/backoffice/shared/middleware"
	"github.com/suite33/backoffice/shared/utils"
)

func main() {
	spec, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := utils.NewLogger("api-gateway", spec.LogLevel, spec.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients := &ServiceClients{
		Auth:     NewServiceClient("auth_service", spec.AuthServiceURL, logger),
		Business: NewServiceClient("business_service", spec.BusinessServiceURL, logger),
		Records:  NewServiceClient("records_service", spec.RecordsServiceURL, logger),
		Notifier: NewServiceClient("notifier_service", spec.NotifierServiceURL, logger),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router := newRouter(clients, middleware.NewHTTPMetrics("gateway", registry), registry, logger)

	srv := &http.Server{Addr: ":" + spec.GatewayPort, Handler: router}
	go func() {
		logger.Infof("API Gateway starting on port %s", spec.GatewayPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("failed to start API gateway")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func newRouter(clients *ServiceClients, metrics *middleware.HTTPMetrics, gatherer prometheus.Gatherer, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), metrics.Handler(), cors())

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status, healthy := clients.GetServiceStatus(ctx)
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, utils.APIResponse{
				Success: false,
				Error:   "One or more services are unhealthy",
				Data:    status,
			})
			return
		}
		utils.OKResponse(c, "API Gateway is healthy", status)
	})
	router.GET("/metrics", middleware.MetricsHandler(gatherer))

	// Services authenticate callers themselves from the forwarded cookie or
	// bearer token.
	router.Any("/auth/*path", clients.Auth.ProxyRequest)
	router.Any("/business", clients.Business.ProxyRequest)
	router.Any("/business/*path", clients.Business.ProxyRequest)
	router.Any("/records/*path", clients.Records.ProxyRequest)

	return router
}

// cors lets the browser front end call the gateway with cookies.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	}
}
