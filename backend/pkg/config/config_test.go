package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "circl/backend/pkg/errors"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("MIN_DEGREE", "")
	t.Setenv("EXCLUDE_MATCHED", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreNeo4j, cfg.StoreBackend)
	assert.Equal(t, 2, cfg.MinDegree)
	assert.Equal(t, 3, cfg.MaxDegree)
	assert.Equal(t, 20, cfg.CandidateLimit)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout)
	assert.True(t, cfg.ExcludeMatched)
	assert.False(t, cfg.ExcludeLiked)
	assert.False(t, cfg.CacheEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("MIN_DEGREE", "1")
	t.Setenv("MAX_DEGREE", "4")
	t.Setenv("QUERY_TIMEOUT", "750ms")
	t.Setenv("EXCLUDE_LIKED", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, 1, cfg.MinDegree)
	assert.Equal(t, 4, cfg.MaxDegree)
	assert.Equal(t, 750*time.Millisecond, cfg.QueryTimeout)
	assert.True(t, cfg.ExcludeLiked)
	assert.True(t, cfg.CacheEnabled())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StoreBackend:      StoreMemory,
			QueryTimeout:      time.Second,
			MinDegree:         2,
			MaxDegree:         3,
			CandidateLimit:    10,
			MaxSearchDegree:   3,
			DegreeConcurrency: 4,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.StoreBackend = "sqlite" }, "STORE_BACKEND"},
		{"zero min degree", func(c *Config) { c.MinDegree = 0 }, "MIN_DEGREE"},
		{"inverted range", func(c *Config) { c.MaxDegree = 1 }, "MAX_DEGREE"},
		{"zero limit", func(c *Config) { c.CandidateLimit = 0 }, "CANDIDATE_LIMIT"},
		{"zero timeout", func(c *Config) { c.QueryTimeout = 0 }, "QUERY_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var vErr *apperrors.ErrConfigValidationFailed
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	assert.NoError(t, base().Validate())

	neo := base()
	neo.StoreBackend = StoreNeo4j
	err := neo.Validate()
	var missing *apperrors.ErrConfigMissingRequired
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "NEO4J_URI", missing.Field)
}
