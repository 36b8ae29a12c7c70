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

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"bitbucket.org/mmdatafocus/pharmacy_backend/middlewares"
	"bitbucket.org/mmdatafocus/pharmacy_backend/models"
	"bitbucket.org/mmdatafocus/pharmacy_backend/models/reports"
	"bitbucket.org/mmdatafocus/pharmacy_backend/utils"
	"bitbucket.org/mmdatafocus/pharmacy_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

const sessionTTL = 24 * time.Hour

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func signInHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var req signInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
			return
		}

		employee, err := models.GetEmployeeByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if err := utils.ComparePassword(employee.PasswordHash, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		token := uuid.NewString()
		session := middlewares.Session{EmployeeId: employee.ID, EmployeeName: employee.Name}
		if err := config.SetRedisObject("Token:"+token, session, sessionTTL); err != nil {
			config.LogError(logger, "server.go", "signInHandler", "SetRedisObject", employee.ID, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not create session"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":  token,
			"emp_id": employee.ID,
			"name":   employee.Name,
			"role":   employee.Role,
		})
	}
}

func signOutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := utils.GetTokenFromContext(c.Request.Context())
		if !ok || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		_ = config.RemoveRedisKey("Token:" + token)
		c.Status(http.StatusNoContent)
	}
}

func bindErrorResponse(err error) gin.H {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)}
	}
	return gin.H{"error": "invalid request"}
}

func requireEmployee(c *gin.Context) (int, bool) {
	empId, ok := utils.GetEmployeeIdFromContext(c.Request.Context())
	if !ok || empId <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return empId, true
}

// writeWorkflowError maps workflow failures to HTTP statuses. Stock shortfalls
// are conflicts, not client mistakes: the cart was valid when composed.
func writeWorkflowError(c *gin.Context, err error) {
	var validationErr *workflow.ValidationError
	var stockErr *models.InsufficientStockError

	switch {
	case errors.Is(err, utils.ErrorUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, workflow.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message, "fields": validationErr.Fields})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "insufficient stock",
			"product_id": stockErr.ProductId,
			"shortfall":  stockErr.Shortfall.String(),
		})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		// The correlation id lets support match a 500 to its log lines.
		correlationId, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "correlation_id": correlationId})
	}
}

func currentEmployeeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		empId, ok := requireEmployee(c)
		if !ok {
			return
		}
		name, _ := utils.GetEmployeeNameFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"emp_id": empId, "name": name})
	}
}

func receiveStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		empId, ok := requireEmployee(c)
		if !ok {
			return
		}

		var input workflow.ReceiveStockInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, bindErrorResponse(err))
			return
		}

		result, err := workflow.ProcessReceiveStock(config.GetDB(), config.GetLogger(), empId, input)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func checkoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		empId, ok := requireEmployee(c)
		if !ok {
			return
		}

		var input workflow.CheckoutInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, bindErrorResponse(err))
			return
		}

		// Redis lock is a best-effort double-submit guard per cashier.
		// Correctness never depends on it: batches are row-locked inside
		// the checkout transaction either way.
		var lock *redislock.Lock
		if redisLock := config.GetRedisLock(); redisLock != nil {
			var err error
			lock, err = redisLock.Obtain(c.Request.Context(), fmt.Sprintf("checkout:%d", empId), 30*time.Second, nil)
			if err == redislock.ErrNotObtained {
				c.JSON(http.StatusConflict, gin.H{"error": "another checkout is in progress"})
				return
			} else if err != nil {
				logger.WithFields(logrus.Fields{
					"field":  "checkoutHandler",
					"emp_id": empId,
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"field":  "checkoutHandler",
					"emp_id": empId,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		result, err := workflow.ProcessCheckout(config.GetDB(), logger, empId, input)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func draftSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		empId, ok := requireEmployee(c)
		if !ok {
			return
		}

		var input workflow.DraftSaleInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, bindErrorResponse(err))
			return
		}

		invoiceId, err := workflow.ProcessDraftSale(config.GetDB(), config.GetLogger(), empId, input)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"invoice_id": invoiceId, "status": models.SalesInvoiceStatusDraft})
	}
}

func searchPosProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireEmployee(c); !ok {
			return
		}

		query := strings.TrimSpace(c.Query("q"))
		results, err := models.SearchPosProducts(c.Request.Context(), query)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

func invoiceReceiptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireEmployee(c); !ok {
			return
		}

		invoiceId, err := strconv.Atoi(c.Param("id"))
		if err != nil || invoiceId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}

		receipt, err := models.GetInvoiceReceipt(c.Request.Context(), invoiceId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, receipt)
	}
}

type adjustStockRequest struct {
	NewStock decimal.Decimal `json:"new_stock"`
}

func adjustStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		empId, ok := requireEmployee(c)
		if !ok {
			return
		}

		productId, err := strconv.Atoi(c.Param("id"))
		if err != nil || productId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
			return
		}

		var req adjustStockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, bindErrorResponse(err))
			return
		}

		if err := workflow.AdjustProductStock(config.GetDB(), config.GetLogger(), empId, productId, req.NewStock); err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"product_id": productId, "new_stock": req.NewStock})
	}
}

func inventoryAlertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireEmployee(c); !ok {
			return
		}

		report, err := reports.GetInventoryAlertsReport(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func exportInventoryAlertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireEmployee(c); !ok {
			return
		}

		if err := reports.ExportInventoryAlertsXlsx(c.Request.Context(), c.Writer); err != nil {
			config.LogError(config.GetLogger(), "server.go", "exportInventoryAlertsHandler", "ExportInventoryAlertsXlsx", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}
}

type setInvoiceClearedRequest struct {
	IsCleared *bool `json:"is_cleared" binding:"required"`
}

func setSupplierInvoiceClearedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireEmployee(c); !ok {
			return
		}

		invoiceId, err := strconv.Atoi(c.Param("id"))
		if err != nil || invoiceId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}

		var req setInvoiceClearedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "is_cleared is required"})
			return
		}

		if err := models.SetSupplierInvoiceCleared(c.Request.Context(), invoiceId, *req.IsCleared); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"invoice_id": invoiceId, "is_cleared": *req.IsCleared})
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/signin", signInHandler())
	r.POST("/signout", signOutHandler())

	api := r.Group("/api")
	api.GET("/me", currentEmployeeHandler())
	api.POST("/inventory/grn", receiveStockHandler())
	api.GET("/inventory/alerts", inventoryAlertsHandler())
	api.GET("/inventory/alerts/export", exportInventoryAlertsHandler())
	api.PUT("/inventory/invoices/:id/cleared", setSupplierInvoiceClearedHandler())
	api.POST("/pos/checkout", checkoutHandler())
	api.POST("/pos/draft", draftSaleHandler())
	api.GET("/pos/products", searchPosProductsHandler())
	api.GET("/pos/invoices/:id", invoiceReceiptHandler())
	api.PUT("/products/:id/stock", adjustStockHandler())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	// Start listening immediately (startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP()

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
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
