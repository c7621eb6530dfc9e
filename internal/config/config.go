package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Pipeline modes selecting the service implementation.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Config holds shared runtime configuration for the API and runner services.
type Config struct {
	Env          string
	HTTPPort     string
	MetricsAddr  string
	PipelineMode string

	// EmbeddedRunner runs the stage-advancement loop inside the API
	// process so a single binary serves the whole pipeline.
	EmbeddedRunner bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueName     string

	PostgresDSN string // empty disables the status mirror

	DefaultTimeout      time.Duration
	DefaultResumeWindow time.Duration
	VisibilityTimeout   time.Duration
	RunnerPollInterval  time.Duration
	StageStepInterval   time.Duration

	HealthWindow     time.Duration
	DegradedFailRate float64

	RateLimitCapacity int
	RateLimitRefill   float64

	OutputDir     string
	OutputS3      string
	S3Region      string
	S3Endpoint    string
	S3PathStyle   bool
	MaxOutputRows int

	RemoteBaseURL string
	RemoteAPIKey  string
	RemoteRetries int
	RemoteTimeout time.Duration
}

// Load reads configuration from the environment (and a .env file when
// present) with defaults suited to local development.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:          getEnv("APP_ENV", "dev"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		MetricsAddr:  getEnv("METRICS_ADDR", ":9090"),
		PipelineMode: getEnv("PIPELINE_MODE", ModeLocal),

		EmbeddedRunner: getEnvBool("EMBEDDED_RUNNER", true),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		QueueName:     getEnv("QUEUE_NAME", "pipeline:ready"),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		DefaultTimeout:      getEnvDuration("JOB_TIMEOUT", 10*time.Minute),
		DefaultResumeWindow: getEnvDuration("RESUME_WINDOW", time.Hour),
		VisibilityTimeout:   getEnvDuration("VISIBILITY_TIMEOUT", 30*time.Second),
		RunnerPollInterval:  getEnvDuration("RUNNER_POLL_INTERVAL", time.Second),
		StageStepInterval:   getEnvDuration("STAGE_STEP_INTERVAL", 200*time.Millisecond),

		HealthWindow:     getEnvDuration("HEALTH_WINDOW", 5*time.Minute),
		DegradedFailRate: getEnvFloat("DEGRADED_FAIL_RATE", 0.5),

		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 50),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 20),

		OutputDir:     getEnv("OUTPUT_DIR", "./output"),
		OutputS3:      getEnv("OUTPUT_S3_BUCKET", ""),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3PathStyle:   getEnvBool("S3_PATH_STYLE", false),
		MaxOutputRows: getEnvInt("MAX_OUTPUT_ROWS", 1_000_000),

		RemoteBaseURL: getEnv("REMOTE_BASE_URL", ""),
		RemoteAPIKey:  getEnv("REMOTE_API_KEY", ""),
		RemoteRetries: getEnvInt("REMOTE_RETRIES", 3),
		RemoteTimeout: getEnvDuration("REMOTE_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
