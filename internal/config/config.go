package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting for the platform. Values come from an
// optional YAML file, are overridden by environment variables, and fall back
// to defaults where a default makes sense.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Minio     MinioConfig     `yaml:"minio"`
	Auth      AuthConfig      `yaml:"auth"`
	Models    ModelsConfig    `yaml:"models"`
	Execution ExecutionConfig `yaml:"execution"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// CORSOrigins lists allowed browser origins. "*" allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type MinioConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	UseSSL          bool   `yaml:"use_ssl"`
}

type AuthConfig struct {
	Enabled           bool   `yaml:"enabled"`
	AdminUsername     string `yaml:"admin_username"`
	AdminPassword     string `yaml:"admin_password"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes"`
}

// ModelPricing is the per-million-token price pair used for cost estimates.
type ModelPricing struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

type ModelsConfig struct {
	// Execute lists the models every scenario execution runs, in order.
	Execute             []string                `yaml:"execute"`
	GeminiAPIKey        string                  `yaml:"gemini_api_key"`
	OpenAIAPIKey        string                  `yaml:"openai_api_key"`
	AnthropicAPIKey     string                  `yaml:"anthropic_api_key"`
	TranscriptionModel  string                  `yaml:"transcription_model"`
	GenerationModel     string                  `yaml:"generation_model"`
	MaxOutputTokens     int                     `yaml:"max_output_tokens"`
	MaxRetries          int                     `yaml:"max_retries"`
	RetryInitialSeconds int                     `yaml:"retry_initial_seconds"`
	RetryMaxSeconds     int                     `yaml:"retry_max_seconds"`
	Pricing             map[string]ModelPricing `yaml:"pricing"`
}

type ExecutionConfig struct {
	// CleanupDelaySeconds is how long a terminal status entry stays readable
	// before it is removed.
	CleanupDelaySeconds int `yaml:"cleanup_delay_seconds"`
	LogBufferLines      int `yaml:"log_buffer_lines"`
	MaxUploadMB         int `yaml:"max_upload_mb"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML file at path (missing file is fine), applies environment
// overrides, fills defaults, and validates required fields.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// Environment overrides. Names match the deployment convention.
	envOverrideInt(&cfg.Server.Port, "SERVER_PORT")
	envOverrideList(&cfg.Server.CORSOrigins, "CORS_ORIGINS")
	envOverride(&cfg.Database.Host, "DB_HOST")
	envOverrideInt(&cfg.Database.Port, "DB_PORT")
	envOverride(&cfg.Database.User, "DB_USER")
	envOverride(&cfg.Database.Password, "DB_PASSWORD")
	envOverride(&cfg.Database.Name, "DB_NAME")
	envOverride(&cfg.Database.SSLMode, "DB_SSLMODE")
	envOverride(&cfg.Minio.Endpoint, "MINIO_ENDPOINT")
	envOverride(&cfg.Minio.AccessKeyID, "MINIO_ACCESS_KEY_ID")
	envOverride(&cfg.Minio.SecretAccessKey, "MINIO_SECRET_ACCESS_KEY")
	envOverride(&cfg.Minio.Bucket, "MINIO_BUCKET_NAME")
	envOverrideBool(&cfg.Minio.UseSSL, "MINIO_USE_SSL")
	envOverrideBool(&cfg.Auth.Enabled, "AUTH_ENABLED")
	envOverride(&cfg.Auth.AdminUsername, "ADMIN_USERNAME")
	envOverride(&cfg.Auth.AdminPassword, "ADMIN_PASSWORD")
	envOverrideInt(&cfg.Auth.SessionTTLMinutes, "SESSION_TTL_MINUTES")
	envOverrideList(&cfg.Models.Execute, "EXECUTION_MODELS")
	envOverride(&cfg.Models.GeminiAPIKey, "GEMINI_API_KEY")
	envOverride(&cfg.Models.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.Models.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.Models.TranscriptionModel, "TRANSCRIPTION_MODEL")
	envOverride(&cfg.Models.GenerationModel, "GENERATION_MODEL")
	envOverrideInt(&cfg.Models.MaxOutputTokens, "MAX_OUTPUT_TOKENS")
	envOverrideInt(&cfg.Models.MaxRetries, "LLM_MAX_RETRIES")
	envOverrideInt(&cfg.Execution.CleanupDelaySeconds, "CLEANUP_DELAY_SECONDS")
	envOverride(&cfg.Logging.Level, "LOG_LEVEL")

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "voice_order_eval_db"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if len(cfg.Models.Execute) == 0 {
		cfg.Models.Execute = []string{"gemini-2.5-pro", "gemini-2.5-flash"}
	}
	if cfg.Models.TranscriptionModel == "" {
		cfg.Models.TranscriptionModel = "gemini-2.0-flash"
	}
	if cfg.Models.GenerationModel == "" {
		cfg.Models.GenerationModel = "gemini-2.5-flash"
	}
	if cfg.Models.MaxOutputTokens == 0 {
		cfg.Models.MaxOutputTokens = 8192
	}
	if cfg.Models.MaxRetries == 0 {
		cfg.Models.MaxRetries = 5
	}
	if cfg.Models.RetryInitialSeconds == 0 {
		cfg.Models.RetryInitialSeconds = 1
	}
	if cfg.Models.RetryMaxSeconds == 0 {
		cfg.Models.RetryMaxSeconds = 60
	}
	if cfg.Models.Pricing == nil {
		cfg.Models.Pricing = map[string]ModelPricing{
			"gemini-2.5-pro":   {InputPerMTok: 1.25, OutputPerMTok: 10.0},
			"gemini-2.5-flash": {InputPerMTok: 0.30, OutputPerMTok: 2.50},
		}
	}
	if cfg.Execution.CleanupDelaySeconds == 0 {
		cfg.Execution.CleanupDelaySeconds = 5
	}
	if cfg.Execution.LogBufferLines == 0 {
		cfg.Execution.LogBufferLines = 100
	}
	if cfg.Execution.MaxUploadMB == 0 {
		cfg.Execution.MaxUploadMB = 50
	}
	if cfg.Auth.SessionTTLMinutes == 0 {
		cfg.Auth.SessionTTLMinutes = 60
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *Config) error {
	if cfg.Auth.Enabled {
		if cfg.Auth.AdminUsername == "" || cfg.Auth.AdminPassword == "" {
			return errors.New("auth is enabled but admin_username/admin_password are not set (ADMIN_USERNAME, ADMIN_PASSWORD)")
		}
	}
	for _, m := range cfg.Models.Execute {
		if strings.TrimSpace(m) == "" {
			return errors.New("models.execute contains an empty model id")
		}
	}
	return nil
}

func envOverride(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envOverrideInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func envOverrideBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func envOverrideList(target *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*target = out
		}
	}
}
