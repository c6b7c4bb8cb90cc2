package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/configs"
	"github.com/enterprise/withdraw-review/internal/ai"
	"github.com/enterprise/withdraw-review/internal/analytics"
	"github.com/enterprise/withdraw-review/internal/auth"
	"github.com/enterprise/withdraw-review/internal/enrich"
	"github.com/enterprise/withdraw-review/internal/models"
	"github.com/enterprise/withdraw-review/internal/notify"
	"github.com/enterprise/withdraw-review/internal/queue"
	"github.com/enterprise/withdraw-review/internal/repositories"
	"github.com/enterprise/withdraw-review/internal/review"
	"github.com/enterprise/withdraw-review/internal/rules"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting Withdrawal Review API Server")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	var cacheClient *queue.CacheClient
	if cfg.Redis.Enabled {
		cacheClient, err = queue.NewCacheClient(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer cacheClient.Close()
	}

	var notifier notify.Notifier = notify.NewNoopNotifier()
	if cfg.Kafka.Enabled {
		kafkaNotifier, err := notify.NewKafkaNotifier(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Kafka")
		}
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	// Initialize repositories
	featureRepo := repositories.NewFeatureRepository(db)
	ruleRepo := repositories.NewRuleRepository(db)
	decisionRepo := repositories.NewDecisionRepository(db)

	// The on-demand pipeline behind POST /review/run is the same one the
	// standalone worker runs on a timer.
	ruleCache := rules.NewCache(ruleRepo, cfg.Worker.RuleCacheTTL)
	poller := enrich.NewPoller(featureRepo, cfg.Worker.EnrichMaxAttempts, cfg.Worker.EnrichPollDelay)
	aiClient := ai.NewClient(cfg.AI)

	var decisionCache review.DecisionCache
	var locker review.RunLocker
	if cacheClient != nil {
		decisionCache = cacheClient
		locker = cacheClient
	}

	decisionLogger := review.NewLogger(decisionRepo, decisionCache)
	scheduler := review.NewScheduler(
		featureRepo,
		decisionRepo,
		ruleCache,
		poller,
		aiClient,
		decisionLogger,
		notifier,
		locker,
		cfg.Worker,
	)

	analyticsService := analytics.NewAnalyticsService(db, cacheClient)
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiration)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	setupRoutes(router, cfg, jwtManager, scheduler, ruleCache, decisionRepo, analyticsService, cacheClient, db)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(
	router *gin.Engine,
	cfg *configs.Config,
	jwtManager *auth.JWTManager,
	scheduler *review.Scheduler,
	ruleCache *rules.Cache,
	decisionRepo *repositories.DecisionRepository,
	analyticsService *analytics.AnalyticsService,
	cacheClient *queue.CacheClient,
	db *repositories.Database,
) {
	// Health check
	router.GET("/health", healthHandler(db))

	v1 := router.Group("/api/v1")

	// Tokens are minted out of band in production; the dev endpoint exists
	// so local runs do not need a separate issuer.
	if cfg.Server.Environment == "development" {
		v1.POST("/auth/token", devTokenHandler(jwtManager))
	}

	protected := v1.Group("")
	protected.Use(auth.AuthMiddleware(jwtManager))

	reviewRoutes := protected.Group("/review")
	reviewRoutes.Use(auth.RoleMiddleware("admin", "operator"))
	{
		reviewRoutes.POST("/run", runReviewHandler(scheduler))
	}

	protected.GET("/rules", listRulesHandler(ruleCache))
	protected.GET("/decisions/:user_code/:txn_id", getDecisionHandler(decisionRepo, cacheClient))

	analyticsRoutes := protected.Group("/analytics")
	{
		analyticsRoutes.GET("/summary", getDecisionSummaryHandler(analyticsService))
		analyticsRoutes.GET("/rules/top", getTopHoldNarrativesHandler(analyticsService))
		analyticsRoutes.GET("/backlog", getBacklogHandler(analyticsService))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Handlers

func healthHandler(db *repositories.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

func devTokenHandler(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject" binding:"required"`
			Role    string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		token, err := jwtManager.GenerateToken(req.Subject, req.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// runReviewHandler triggers one batch synchronously. The caller waits for
// the batch so the response can carry the processed count; long batches are
// bounded by the server write timeout.
func runReviewHandler(scheduler *review.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, _ := auth.GetSubjectFromContext(c)
		log.Info().Str("subject", subject).Msg("Manual review batch requested")

		result := scheduler.RunBatch(c.Request.Context())

		c.JSON(http.StatusOK, gin.H{
			"run_id":    result.RunID.String(),
			"selected":  result.Selected,
			"processed": result.Processed,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
			"message":   result.Summary(),
		})
	}
}

func listRulesHandler(ruleCache *rules.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		defs := ruleCache.Definitions(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"rules": defs,
			"count": len(defs),
		})
	}
}

func getDecisionSummaryHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		date := time.Now().UTC()
		if dateStr := c.Query("date"); dateStr != "" {
			parsed, err := time.Parse("2006-01-02", dateStr)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, use YYYY-MM-DD"})
				return
			}
			date = parsed
		}

		summary, err := analyticsService.GetDecisionSummary(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

func getTopHoldNarrativesHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)
		limit := getIntParam(c, "limit", 10)

		top, err := analyticsService.GetTopHoldNarratives(c.Request.Context(), days, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"rules": top})
	}
}

func getBacklogHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		backlog, err := analyticsService.GetAIReviewBacklog(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, backlog)
	}
}

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}

func getDecisionHandler(decisionRepo *repositories.DecisionRepository, cacheClient *queue.CacheClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCode := c.Param("user_code")
		txnID := c.Param("txn_id")

		if cacheClient != nil {
			var cached models.DecisionRecord
			key := "decision:" + userCode + ":" + txnID
			if err := cacheClient.Get(c.Request.Context(), key, &cached); err == nil {
				c.JSON(http.StatusOK, gin.H{"decision": cached, "cached": true})
				return
			}
		}

		record, err := decisionRepo.LatestDecision(c.Request.Context(), userCode, txnID)
		if err != nil {
			if errors.Is(err, repositories.ErrDecisionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no decision recorded for transaction"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"decision": record, "cached": false})
	}
}
