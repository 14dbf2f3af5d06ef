package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	Auth      AuthConfig      `json:"auth"`
	Logging   LoggingConfig   `json:"logging"`
	Redis     RedisConfig     `json:"redis"`
	Memory    MemoryConfig    `json:"memory"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Timeout int    `json:"timeout"`
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
// Dimensions must match the vector columns created at migration time.
type EmbeddingConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Timeout    int    `json:"timeout"`
}

type AuthConfig struct {
	Enabled        bool     `json:"enabled"`
	JWTSecret      string   `json:"jwt_secret"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type LoggingConfig struct {
	Mode string `json:"mode"`
}

// RedisConfig holds configuration for the research-context cache.
type RedisConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	ResearchCacheTTL int    `json:"research_cache_ttl"` // seconds
	EnableCache      bool   `json:"enable_cache"`
}

// MemoryConfig tunes the research loop defaults and background cleanup.
type MemoryConfig struct {
	MaxIterations        int           `json:"max_iterations"`
	MaxPagesPerIteration int           `json:"max_pages_per_iteration"`
	MaxContextTokens     int           `json:"max_context_tokens"`
	MinRelevanceScore    float64       `json:"min_relevance_score"`
	MaxAge               time.Duration `json:"max_age"`          // 0 disables cleanup
	CleanupInterval      time.Duration `json:"cleanup_interval"` // how often the cleanup ticker fires
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "memoryuser"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "memory_service"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", "http://localhost:8081"),
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", ""),
			Timeout: getEnvAsInt("LLM_TIMEOUT", 60),
		},
		Embedding: EmbeddingConfig{
			BaseURL:    getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
			APIKey:     getEnv("EMBEDDING_API_KEY", ""),
			Model:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", 1536),
			Timeout:    getEnvAsInt("EMBEDDING_TIMEOUT", 30),
		},
		Auth: AuthConfig{
			Enabled:        getEnvAsBool("AUTH_ENABLED", false),
			JWTSecret:      getEnv("JWT_SECRET", ""),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Logging: LoggingConfig{
			Mode: getEnv("LOG_MODE", "dev"),
		},
		Redis: RedisConfig{
			Host:             getEnv("REDIS_HOST", ""),
			Port:             getEnvAsInt("REDIS_PORT", 6379),
			Password:         getEnv("REDIS_PASSWORD", ""),
			DB:               getEnvAsInt("REDIS_DB", 0),
			ResearchCacheTTL: getEnvAsInt("REDIS_RESEARCH_CACHE_TTL", 300),
			EnableCache:      getEnvAsBool("REDIS_ENABLE_CACHE", true),
		},
		Memory: MemoryConfig{
			MaxIterations:        getEnvAsInt("MEMORY_MAX_ITERATIONS", 5),
			MaxPagesPerIteration: getEnvAsInt("MEMORY_MAX_PAGES_PER_ITERATION", 10),
			MaxContextTokens:     getEnvAsInt("MEMORY_MAX_CONTEXT_TOKENS", 8000),
			MinRelevanceScore:    getEnvAsFloat("MEMORY_MIN_RELEVANCE_SCORE", 0.3),
			MaxAge:               time.Duration(getEnvAsInt("MEMORY_MAX_AGE_DAYS", 0)) * 24 * time.Hour,
			CleanupInterval:      time.Duration(getEnvAsInt("MEMORY_CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute,
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	if config.LLM.BaseURL == "" {
		return fmt.Errorf("LLM base URL is required (LLM_BASE_URL)")
	}

	if config.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive (EMBEDDING_DIMENSIONS)")
	}

	if config.Auth.Enabled && config.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required when auth is enabled (JWT_SECRET)")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
