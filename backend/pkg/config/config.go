package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	apperrors "circl/backend/pkg/errors"
)

// Store backends
const (
	StoreNeo4j  = "neo4j"
	StoreMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Store
	StoreBackend  string // neo4j or memory
	FixturePath   string // YAML fixture loaded into the memory store, optional
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string
	QueryTimeout  time.Duration // Deadline applied to every store call

	// Discovery
	MinDegree         int
	MaxDegree         int
	CandidateLimit    int
	DefaultDegree     int // Degree assigned when resolution fails or finds no path
	MaxSearchDegree   int // Hop bound for shortest-path resolution
	DegreeConcurrency int
	ExcludeLiked      bool
	ExcludeMatched    bool

	// Redis candidate cache (disabled when RedisAddr is empty)
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	CandidateCacheTTL time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		StoreBackend:      getEnv("STORE_BACKEND", StoreNeo4j),
		FixturePath:       getEnv("FIXTURE_PATH", ""),
		Neo4jURI:          getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:         getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:     getEnv("NEO4J_PASSWORD", "password"),
		Neo4jDatabase:     getEnv("NEO4J_DATABASE", "neo4j"),
		QueryTimeout:      getEnvDuration("QUERY_TIMEOUT", 5*time.Second),
		MinDegree:         getEnvInt("MIN_DEGREE", 2),
		MaxDegree:         getEnvInt("MAX_DEGREE", 3),
		CandidateLimit:    getEnvInt("CANDIDATE_LIMIT", 20),
		DefaultDegree:     getEnvInt("DEFAULT_DEGREE", 2),
		MaxSearchDegree:   getEnvInt("MAX_SEARCH_DEGREE", 3),
		DegreeConcurrency: getEnvInt("DEGREE_CONCURRENCY", 8),
		ExcludeLiked:      getEnvBool("EXCLUDE_LIKED", false),
		ExcludeMatched:    getEnvBool("EXCLUDE_MATCHED", true),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		CandidateCacheTTL: getEnvDuration("CANDIDATE_CACHE_TTL", time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreNeo4j:
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	case StoreMemory:
	default:
		return apperrors.NewConfigValidationFailed("STORE_BACKEND", fmt.Sprintf("unknown backend %q", c.StoreBackend))
	}
	if c.QueryTimeout <= 0 {
		return apperrors.NewConfigValidationFailed("QUERY_TIMEOUT", "must be positive")
	}
	if c.MinDegree < 1 {
		return apperrors.NewConfigValidationFailed("MIN_DEGREE", "must be at least 1")
	}
	if c.MaxDegree < c.MinDegree {
		return apperrors.NewConfigValidationFailed("MAX_DEGREE", "must be >= MIN_DEGREE")
	}
	if c.CandidateLimit < 1 {
		return apperrors.NewConfigValidationFailed("CANDIDATE_LIMIT", "must be at least 1")
	}
	if c.MaxSearchDegree < 1 {
		return apperrors.NewConfigValidationFailed("MAX_SEARCH_DEGREE", "must be at least 1")
	}
	if c.DegreeConcurrency < 1 {
		return apperrors.NewConfigValidationFailed("DEGREE_CONCURRENCY", "must be at least 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CacheEnabled reports whether a Redis address was configured
func (c *Config) CacheEnabled() bool {
	return c.RedisAddr != "" && c.CandidateCacheTTL > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
