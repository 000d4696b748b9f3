package apigateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voice-order-eval-platform/backend/internal/auth"
	"voice-order-eval-platform/backend/internal/configmanagement"
	"voice-order-eval-platform/backend/internal/jobmanagement"
	"voice-order-eval-platform/backend/internal/observability"
)

// RouterConfig carries the dependencies the HTTP surface needs.
type RouterConfig struct {
	Execution *jobmanagement.ExecutionHandlers
	// Metrics, when set, records a counter and a latency sample per request.
	Metrics *observability.Metrics
	// AuthEnabled guards the /api group with the session middleware.
	AuthEnabled bool
	// ModelsConfigured is reported by /health so a deployment without API
	// keys is visible before anything is executed.
	ModelsConfigured bool
	// CORSOrigins lists allowed browser origins. "*" allows any origin.
	CORSOrigins []string
}

// SetupRouter initializes the main Gin router for the API gateway: the public
// health, metrics and auth routes, plus the authenticated /api group carrying
// the scenario, execution, product and settings surface.
func SetupRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(corsMiddleware(cfg.CORSOrigins))
	if cfg.Metrics != nil {
		router.Use(metricsMiddleware(cfg.Metrics))
	}

	// Public routes
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "healthy",
			"ai_configured": cfg.ModelsConfigured,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/login", auth.LoginHandler)
		authRoutes.POST("/logout", auth.LogoutHandler)
	}

	// Authenticated routes
	api := router.Group("/api")
	if cfg.AuthEnabled {
		api.Use(auth.AuthMiddleware())
	}

	scenarios := api.Group("/scenarios")
	{
		scenarios.GET("", configmanagement.ListScenariosHandler)
		scenarios.POST("", configmanagement.CreateScenarioHandler)
		scenarios.GET("/:id", configmanagement.GetScenarioHandler)
		scenarios.PUT("/:id", configmanagement.UpdateScenarioHandler)
		scenarios.DELETE("/:id", configmanagement.DeleteScenarioHandler)
		scenarios.POST("/:id/clone", configmanagement.CloneScenarioHandler)
		scenarios.DELETE("/:id/results", configmanagement.ClearResultsHandler)

		scenarios.POST("/:id/steps", configmanagement.AddStepHandler)
		scenarios.PUT("/:id/steps/:stepID", configmanagement.UpdateStepHandler)
		scenarios.DELETE("/:id/steps/:stepID", configmanagement.DeleteStepHandler)

		scenarios.POST("/:id/steps/:stepID/voice", configmanagement.UploadVoiceHandler)
		scenarios.GET("/:id/steps/:stepID/voice", configmanagement.DownloadVoiceHandler)
		scenarios.DELETE("/:id/steps/:stepID/voice", configmanagement.DeleteVoiceHandler)

		scenarios.POST("/:id/steps/:stepID/transcribe", configmanagement.TranscribeStepHandler)
		scenarios.POST("/:id/steps/:stepID/generate", configmanagement.GenerateOrderHandler)

		cfg.Execution.RegisterScenarioRoutes(scenarios)
	}

	executions := api.Group("/executions")
	cfg.Execution.RegisterBatchRoutes(executions)

	products := api.Group("/products")
	{
		products.GET("", configmanagement.ListProductsHandler)
		products.POST("", configmanagement.CreateProductHandler)
		products.POST("/import", configmanagement.ImportProductsHandler)
		products.GET("/:id", configmanagement.GetProductHandler)
		products.PUT("/:id", configmanagement.UpdateProductHandler)
		products.DELETE("/:id", configmanagement.DeleteProductHandler)
	}

	settings := api.Group("/settings")
	{
		settings.GET("/system-prompt", configmanagement.GetSystemPromptHandler)
		settings.PUT("/system-prompt", configmanagement.UpdateSystemPromptHandler)
	}

	return router
}

// corsMiddleware adds CORS headers for browser clients and answers preflight
// requests. An entry of "*" in allowedOrigins allows any origin.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// metricsMiddleware observes every request. The route label is the registered
// template path, not the raw URL, so label cardinality stays bounded.
func metricsMiddleware(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
