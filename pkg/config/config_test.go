package config

import (
	"context"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, StoragePostgres, c.Storage)
	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, uint64(10), c.DBConnectAttempts)
	assert.False(t, c.OtelEnabled)
	assert.Empty(t, c.SeedFile)
	assert.False(t, c.SeedDemo)
}

func TestLoadOverrides(t *testing.T) {
	c, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"PORT":         "9999",
		"STORAGE":      "memory",
		"SEED_DEMO":    "true",
		"LOG_LEVEL":    "warn",
		"OTEL_ENABLED": "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9999", c.Port)
	assert.Equal(t, StorageMemory, c.Storage)
	assert.True(t, c.SeedDemo)
	assert.Empty(t, c.SeedFile)
	assert.Equal(t, "warn", c.LogLevel)
	assert.True(t, c.OtelEnabled)
}

func TestLoadRejectsUnknownStorage(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{"STORAGE": "dynamodb"}))
	assert.ErrorContains(t, err, "STORAGE")
}

func TestLoadRejectsSeedFileForMemoryStorage(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"STORAGE":   "memory",
		"SEED_FILE": "seed.sql",
	}))
	assert.ErrorContains(t, err, "SEED_DEMO")

	c, err := load(context.Background(), envconfig.MapLookuper(map[string]string{"SEED_FILE": "seed.sql"}))
	require.NoError(t, err)
	assert.Equal(t, "seed.sql", c.SeedFile)
}
