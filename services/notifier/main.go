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
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/config"
	"github.com/suite33/backoffice/shared/middleware"
	"github.com/suite33/backoffice/shared/utils"
)

func main() {
	spec, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := utils.NewLogger("notifier-service", spec.LogLevel, spec.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := config.ConnectDatabase(spec.Database(), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	if err := db.AutoMigrate(&FailedNotification{}); err != nil {
		logger.WithError(err).Fatal("failed to migrate failed_notifications")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewDeliveryMetrics(registry)

	var (
		sender  Sender = logSender{logger: logger}
		webhook *WebhookClient
	)
	if spec.WebhookURL != "" {
		breaker := utils.NewCircuitBreaker("webhook", 5, 30*time.Second)
		breaker.OnStateChange = func(name string, from, to utils.CircuitState) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("circuit breaker state changed")
		}
		webhook = NewWebhookClient(spec.WebhookURL, rate.Limit(spec.WebhookRate), spec.WebhookBurst, breaker)
		sender = webhook
	} else {
		logger.Warn("WEBHOOK_URL not set, notifications are only logged")
	}

	if len(spec.KafkaBrokers) > 0 {
		topics := []string{spec.BusinessEventsChannel, spec.InventoryAlertChannel}
		reader := NewKafkaReader(spec.KafkaBrokers, spec.KafkaGroupID, topics)
		defer reader.Close()

		go NewConsumer(reader, sender, db, metrics, logger).Run(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS not set, consumer disabled")
	}

	retrier := NewRetrier(db, sender, metrics, spec.RetryMaxAttempts, spec.RetryInterval, logger)
	go retrier.Run(ctx)

	router := newRouter(db, webhook, retrier, middleware.NewHTTPMetrics("notifier", registry), registry)

	srv := &http.Server{Addr: ":" + spec.NotifierServicePort, Handler: router}
	go func() {
		logger.Infof("Notifier service starting on port %s", spec.NotifierServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("failed to start notifier service")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func newRouter(db *gorm.DB, webhook *WebhookClient, retrier *Retrier, metrics *middleware.HTTPMetrics, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), metrics.Handler())

	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Notifier service is healthy", nil)
	})
	router.GET("/stats", handleGetStats(db, webhook, retrier))
	router.GET("/metrics", middleware.MetricsHandler(gatherer))

	return router
}

// handleGetStats reports failed notification counts and webhook health
func handleGetStats(db *gorm.DB, webhook *WebhookClient, retrier *Retrier) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := GetRetryStats(c.Request.Context(), db)
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch retry stats")
			return
		}

		data := gin.H{
			"retry_stats": stats,
			"config": gin.H{
				"max_retries":    retrier.maxAttempts,
				"batch_size":     retrier.batchSize,
				"check_interval": retrier.interval.String(),
			},
		}
		if webhook != nil {
			data["webhook"] = webhook.Status()
		}

		utils.OKResponse(c, "Retry stats retrieved successfully", data)
	}
}
