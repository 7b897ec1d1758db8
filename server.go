package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/middlewares"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// RateLimiter is a fixed-window per-IP limiter kept in Redis.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// readinessGate answers 503 until the database is connected. Redis is optional.
func readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if config.IsProduction() {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationIdHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationIdHeader)
	if !corsConfig.AllowAllOrigins {
		corsConfig.AllowCredentials = true
	}
	return cors.New(corsConfig)
}

func setupRouter(logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(readinessGate())
	r.Use(corsMiddleware())

	// RATE_LIMIT_ENABLED=true, RATE_LIMIT_WINDOW_SECONDS=60, RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		if client := config.GetRedisDB(); client != nil {
			r.Use(NewRateLimiter(client, int64Env("RATE_LIMIT_MAX_REQUESTS", 600), time.Duration(int64Env("RATE_LIMIT_WINDOW_SECONDS", 60))*time.Second).RateLimitMiddleware)
		} else {
			logger.WithFields(logrus.Fields{"field": "rateLimit"}).Warn("RATE_LIMIT_ENABLED=true but Redis is not configured; rate limiting disabled")
		}
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := r.Group("/api", middlewares.AuthMiddleware(), middlewares.SessionMiddleware())
	{
		api.POST("/products", createProductHandler)
		api.GET("/products", listProductsHandler)
		api.GET("/products/:id", getProductHandler)
		api.PUT("/products/:id", updateProductHandler)
		api.POST("/products/:id/adjust-stock", adjustStockHandler)
		api.GET("/products/:id/movements", listProductMovementsHandler)

		api.POST("/customers", createCustomerHandler)
		api.GET("/customers", listCustomersHandler)
		api.GET("/customers/:id", getCustomerHandler)
		api.PUT("/customers/:id", updateCustomerHandler)
		api.PATCH("/customers/:id/active", toggleActiveCustomerHandler)
		api.GET("/customers/:id/ledger", customerLedgerHandler)
		api.POST("/customers/:id/payments", recordPaymentHandler)
		api.GET("/customers/:id/payments", listPaymentsHandler)
		api.DELETE("/payments/:id", deletePaymentHandler)
		api.GET("/balance-entries", listBalanceEntriesHandler)

		api.POST("/invoices", createInvoiceHandler)
		api.POST("/invoices/preview", previewInvoiceHandler)
		api.GET("/invoices", listInvoicesHandler)
		api.GET("/invoices/:id", getInvoiceHandler)
		api.PATCH("/invoices/:id/status", updateInvoiceStatusHandler)
		api.DELETE("/invoices/:id", deleteInvoiceHandler)
		api.GET("/invoices/:id/ledger", invoiceLedgerHandler)

		api.POST("/manual-entries", middlewares.RequireAdmin(), createManualEntryHandler)
		api.GET("/manual-entries", listManualEntriesHandler)
		api.DELETE("/manual-entries/:id", middlewares.RequireAdmin(), deleteManualEntryHandler)

		api.GET("/history", listHistoryHandler)
	}

	ops := r.Group("/internal/ops", middlewares.AuthMiddleware(), middlewares.SessionMiddleware(), middlewares.RequireAdmin())
	{
		ops.POST("/reconcile", reconcileHandler)
		ops.GET("/reconciliation-reports", listReconciliationReportsHandler)
		ops.POST("/invoices/:id/retry-reversal", retryInvoiceReversalHandler)
		ops.POST("/ledger-events/:id/requeue", requeueLedgerEventHandler)
	}

	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Redis first so the rate limiter can see it; it returns at once when not configured.
	config.ConnectRedisWithRetry()

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: setupRouter(logger),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	// AutoMigrate can block tables; SKIP_MIGRATIONS=true leaves it to a separate job.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	if config.PubSubEnabled() {
		go workflow.NewOutboxDispatcher(db, logger, config.NewPubSubPublisher()).Run(workerCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("PUBSUB_PROJECT_ID/LEDGER_EVENTS_TOPIC not set; ledger events stay PENDING")
	}
	if minutes := int64Env("RECONCILE_INTERVAL_MINUTES", 0); minutes > 0 {
		go workflow.StartReconciliationLoop(workerCtx, logger, time.Duration(minutes)*time.Minute)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("billing ledger listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid := c.Writer.Header().Get(middlewares.CorrelationIdHeader)
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "rateLimit:" + c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if count == 1 {
		if err := rl.client.Expire(c.Request.Context(), key, rl.window).Err(); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}

func int64Env(key string, fallback int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
