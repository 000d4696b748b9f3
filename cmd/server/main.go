package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"voice-order-eval-platform/backend/internal/apigateway"
	"voice-order-eval-platform/backend/internal/auth"
	"voice-order-eval-platform/backend/internal/config"
	"voice-order-eval-platform/backend/internal/configmanagement"
	"voice-order-eval-platform/backend/internal/coreengine/authoring"
	"voice-order-eval-platform/backend/internal/coreengine/evaluationengine"
	"voice-order-eval-platform/backend/internal/coreengine/metricscalculator"
	"voice-order-eval-platform/backend/internal/coreengine/modeladapters"
	"voice-order-eval-platform/backend/internal/datastore"
	"voice-order-eval-platform/backend/internal/jobmanagement"
	"voice-order-eval-platform/backend/internal/objectstore"
	"voice-order-eval-platform/backend/internal/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	})))

	if err := datastore.InitDB(cfg.Database.DSN()); err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer datastore.DB.Close()

	if err := datastore.EnsureSchema(); err != nil {
		slog.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	if err := objectstore.InitMinioClient(
		cfg.Minio.Endpoint,
		cfg.Minio.AccessKeyID,
		cfg.Minio.SecretAccessKey,
		cfg.Minio.Bucket,
		cfg.Minio.UseSSL,
	); err != nil {
		slog.Error("failed to initialize MinIO client", "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	registry, err := modeladapters.NewRegistry(modeladapters.RegistryConfig{
		GeminiAPIKey:    cfg.Models.GeminiAPIKey,
		OpenAIAPIKey:    cfg.Models.OpenAIAPIKey,
		AnthropicAPIKey: cfg.Models.AnthropicAPIKey,
		MaxOutputTokens: cfg.Models.MaxOutputTokens,
		Retry: modeladapters.RetryPolicy{
			MaxAttempts:    cfg.Models.MaxRetries,
			InitialBackoff: time.Duration(cfg.Models.RetryInitialSeconds) * time.Second,
			MaxBackoff:     time.Duration(cfg.Models.RetryMaxSeconds) * time.Second,
		},
		Recorder: metrics,
	})
	if err != nil {
		slog.Error("failed to build model adapters", "error", err)
		os.Exit(1)
	}

	engine := evaluationengine.NewEngine(
		evaluationengine.DatastoreSource{},
		evaluationengine.MinioAudioSource{},
		evaluationengine.DatastoreSource{},
		registry,
		cfg.Models.Execute,
	)

	// Authoring services need a Gemini key. Without one the server still
	// starts; the transcribe and generate endpoints report 503.
	var transcriber *authoring.Transcriber
	var generator *authoring.OrderGenerator
	if cfg.Models.GeminiAPIKey != "" {
		transcriber, err = authoring.NewTranscriber(cfg.Models.GeminiAPIKey, cfg.Models.TranscriptionModel)
		if err != nil {
			slog.Error("failed to build transcriber", "error", err)
			os.Exit(1)
		}
		generator, err = authoring.NewOrderGenerator(cfg.Models.GeminiAPIKey, cfg.Models.GenerationModel)
		if err != nil {
			slog.Error("failed to build order generator", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("GEMINI_API_KEY not set; transcription and order generation are disabled")
	}
	configmanagement.InitAuthoring(transcriber, generator)
	configmanagement.SetMaxUploadMB(cfg.Execution.MaxUploadMB)

	costs := make(map[string]metricscalculator.ModelCost, len(cfg.Models.Pricing))
	for model, p := range cfg.Models.Pricing {
		costs[model] = metricscalculator.ModelCost{
			InputPerMTok:  p.InputPerMTok,
			OutputPerMTok: p.OutputPerMTok,
		}
	}

	service := jobmanagement.NewExecutionService(
		engine,
		datastore.GetScenario,
		jobmanagement.NewStatusStore(time.Duration(cfg.Execution.CleanupDelaySeconds)*time.Second),
		jobmanagement.NewQueue(),
		jobmanagement.NewExecutionLog(cfg.Execution.LogBufferLines),
		metricscalculator.NewCostEstimator(costs),
	)
	service.SetMetrics(metrics)

	if cfg.Auth.Enabled {
		auth.Configure(
			cfg.Auth.AdminUsername,
			cfg.Auth.AdminPassword,
			time.Duration(cfg.Auth.SessionTTLMinutes)*time.Minute,
		)
	}

	router := apigateway.SetupRouter(apigateway.RouterConfig{
		Execution:        jobmanagement.NewExecutionHandlers(service),
		Metrics:          metrics,
		AuthEnabled:      cfg.Auth.Enabled,
		ModelsConfigured: modelsConfigured(cfg),
		CORSOrigins:      cfg.Server.CORSOrigins,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("starting server",
		"addr", addr,
		"models", cfg.Models.Execute,
		"auth_enabled", cfg.Auth.Enabled,
	)
	if err := router.Run(addr); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// modelsConfigured reports whether at least one model family has credentials,
// surfaced by /health as ai_configured.
func modelsConfigured(cfg *config.Config) bool {
	return cfg.Models.GeminiAPIKey != "" || cfg.Models.OpenAIAPIKey != "" || cfg.Models.AnthropicAPIKey != ""
}
