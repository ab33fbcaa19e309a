package common

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds all process configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Pipeline PipelineConfig
	OCR      OCRConfig
	LogLevel slog.Level
}

// DatabaseConfig holds run store configuration. An empty DSN disables persistence.
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds daemon configuration
type ServerConfig struct {
	GRPCAddr      string
	WatchDebounce time.Duration
	QueueSize     int
}

// PipelineConfig holds batch execution configuration
type PipelineConfig struct {
	SpecPath        string
	Workers         int
	DocumentTimeout time.Duration
	WorkDir         string
	OutputDir       string
}

// OCRConfig holds external tool locations
type OCRConfig struct {
	Engine      string // tesseract (exec) or gosseract (requires -tags ocr)
	Tesseract   string
	TessdataDir string
	Pdftoppm    string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr:      getEnv("GRPC_ADDR", ":8080"),
			WatchDebounce: getEnvAsDuration("SCANFLOW_WATCH_DEBOUNCE", 500*time.Millisecond),
			QueueSize:     getEnvAsInt("SCANFLOW_QUEUE_SIZE", 256),
		},
		Pipeline: PipelineConfig{
			SpecPath:        getEnv("SCANFLOW_CONFIG", "config/pipeline.yaml"),
			Workers:         getEnvAsInt("SCANFLOW_WORKERS", 0),
			DocumentTimeout: getEnvAsDuration("SCANFLOW_DOC_TIMEOUT", 10*time.Minute),
			WorkDir:         getEnv("SCANFLOW_WORK_DIR", "./tmp/work"),
			OutputDir:       getEnv("SCANFLOW_OUTPUT_DIR", "./out"),
		},
		OCR: OCRConfig{
			Engine:      getEnv("OCR_ENGINE", "tesseract"),
			Tesseract:   getEnv("TESSERACT_BIN", "tesseract"),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			Pdftoppm:    getEnv("PDFTOPPM_BIN", "pdftoppm"),
		},
		LogLevel: getEnvAsLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// EffectiveWorkers resolves a worker count of 0 (or less) to the CPU count.
func EffectiveWorkers(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsLevel(key string, defaultValue slog.Level) slog.Level {
	switch strings.ToLower(os.Getenv(key)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultValue
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator().
		Field("SCANFLOW_CONFIG", c.Pipeline.SpecPath, Required).
		Field("SCANFLOW_WORK_DIR", c.Pipeline.WorkDir, Required).
		Field("SCANFLOW_OUTPUT_DIR", c.Pipeline.OutputDir, Required).
		Field("SCANFLOW_WORKERS", c.Pipeline.Workers, NonNegative).
		Field("SCANFLOW_DOC_TIMEOUT", c.Pipeline.DocumentTimeout, NonNegative)
	if v.HasErrors() {
		return NewAppError(CodeConfig, v.ErrorMessage(), ErrInvalidInput)
	}
	if c.OCR.Engine != "tesseract" && c.OCR.Engine != "gosseract" {
		return NewAppError(CodeConfig, "OCR_ENGINE must be tesseract or gosseract", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError(CodeConfig, "GRPC_ADDR is required", ErrInvalidInput)
	}
	return nil
}
