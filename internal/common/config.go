package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	OCR      OCRConfig      `yaml:"ocr"`
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	DataDir  string `yaml:"data_dir"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Lang          string        `yaml:"lang"`          // primary OCR language
	FallbackLang  string        `yaml:"fallback_lang"` // secondary language for low-confidence retries
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MinConfidence float32       `yaml:"min_confidence"`
	DPI           int           `yaml:"dpi"`
	MaxPages      int           `yaml:"max_pages"` // 0 = no limit
	Tesseract     string        `yaml:"tesseract"` // binary name or absolute path
	Pdftoppm      string        `yaml:"pdftoppm"`
	EasyOCR       string        `yaml:"easyocr"` // easyocr CLI wrapper
	TessdataDir   string        `yaml:"tessdata_dir"`
}

// LLMConfig holds language-model backend configuration
type LLMConfig struct {
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Temperature     float32       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
	OllamaHost      string        `yaml:"ollama_host"`
	OllamaModel     string        `yaml:"ollama_model"`
	ParallelEnabled bool          `yaml:"parallel_enabled"`
}

// PipelineConfig holds cross-stage pipeline options
type PipelineConfig struct {
	TaxRate        float64       `yaml:"tax_rate"`
	Workers        int           `yaml:"workers"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8000"),
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
			DataDir:  getEnv("DATA_DIR", "./data"),
		},
		OCR: OCRConfig{
			Lang:          getEnv("OCR_LANG", "eng"),
			FallbackLang:  getEnv("OCR_FALLBACK_LANG", "tur"),
			MaxRetries:    getEnvAsInt("OCR_MAX_RETRIES", 3),
			RetryDelay:    getEnvAsDuration("OCR_RETRY_DELAY", time.Second),
			MinConfidence: getEnvAsFloat32("MIN_CONFIDENCE_THRESHOLD", 0.7),
			DPI:           getEnvAsInt("OCR_DPI", 200),
			MaxPages:      getEnvAsInt("OCR_MAX_PAGES", 0),
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
			Pdftoppm:      getEnv("PDFTOPPM_BIN", "pdftoppm"),
			EasyOCR:       getEnv("EASYOCR_BIN", "easyocr"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
		},
		LLM: LLMConfig{
			Model:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			BaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature:     getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:         getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
			OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
			OllamaModel:     getEnv("OLLAMA_MODEL", "llama3.2"),
			ParallelEnabled: getEnvAsBool("PARALLEL_EXTRACTION_ENABLED", true),
		},
		Pipeline: PipelineConfig{
			TaxRate:        getEnvAsFloat64("TAX_RATE", 0.18),
			Workers:        getEnvAsInt("PIPELINE_WORKERS", 4),
			ProcessTimeout: getEnvAsDuration("PIPELINE_TIMEOUT", 3*time.Minute),
		},
	}
}

// LoadConfigFile loads env-based defaults, then overlays a YAML file when
// path is non-empty. Zero values in the file keep the env defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := LoadConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		return NewAppError("CONFIG_ERROR", "MIN_CONFIDENCE_THRESHOLD must be in [0,1]", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	return nil
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

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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
