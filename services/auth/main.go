package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
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

	logger := utils.NewLogger("auth-service", spec.LogLevel, spec.LogFormat)

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

	sessions := utils.NewSessionStore(redisClient)
	provider := middleware.IdentityProvider(middleware.NewSessionIdentityProvider(sessions, logger))
	authn := ChainAuthenticator{NewLocalAuthenticator(db)}

	if spec.CognitoEnabled() {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(spec.AWSRegion)})
		if err != nil {
			logger.WithError(err).Fatal("failed to create AWS session")
		}

		breaker := utils.NewCircuitBreaker("cognito", 5, 30*time.Second)
		breaker.OnStateChange = func(name string, from, to utils.CircuitState) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("circuit breaker state changed")
		}
		authn = append(authn, NewCognitoAuthenticator(cognitoidentityprovider.New(sess), spec.CognitoClientID, spec.CognitoClientSecret, breaker, db))

		validator := utils.NewJWKSValidator(utils.CognitoIssuer(spec.AWSRegion, spec.CognitoUserPoolID), nil)
		provider = middleware.NewChainIdentityProvider(provider, middleware.NewCognitoIdentityProvider(validator, breaker, db))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := sessionOptions{TTL: spec.SessionTTL, CookieSecure: spec.CookieSecure}
	router := newRouter(db, authn, sessions, opts, middleware.NewAuthMiddleware(provider, logger), middleware.NewHTTPMetrics("auth", registry), registry, logger)

	srv := &http.Server{Addr: ":" + spec.AuthServicePort, Handler: router}
	go func() {
		logger.Infof("Auth service starting on port %s", spec.AuthServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("failed to start auth service")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func newRouter(db *gorm.DB, authn Authenticator, sessions *utils.SessionStore, opts sessionOptions, auth *middleware.AuthMiddleware, metrics *middleware.HTTPMetrics, gatherer prometheus.Gatherer, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), metrics.Handler())

	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Auth service is healthy", nil)
	})
	router.GET("/metrics", middleware.MetricsHandler(gatherer))

	routes := router.Group("/auth")
	{
		routes.POST("/login", handleLogin(db, authn, sessions, opts, logger))
		routes.POST("/logout", auth.RequireAuth(), handleLogout(sessions, opts))
		routes.DELETE("/sessions", auth.RequireAuth(), handleRevokeAllSessions(sessions, opts))
		routes.GET("/me", auth.RequireAuth(), handleMe())
	}

	return router
}
