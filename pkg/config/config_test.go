package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port     int           `env:"TEST_CFG_PORT" envDefault:"8090"`
	BaseURL  string        `env:"TEST_CFG_BASE_URL" envDefault:"http://localhost:8080"`
	CacheTTL time.Duration `env:"TEST_CFG_CACHE_TTL" envDefault:"5m"`
	Enabled  bool          `env:"TEST_CFG_ENABLED" envDefault:"false"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig
	err := Load(&cfg)

	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.False(t, cfg.Enabled)
}

func TestLoad_FromEnvVars(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "9090")
	t.Setenv("TEST_CFG_BASE_URL", "https://shop.example.com")
	t.Setenv("TEST_CFG_CACHE_TTL", "90s")
	t.Setenv("TEST_CFG_ENABLED", "true")

	var cfg testConfig
	err := Load(&cfg)

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "https://shop.example.com", cfg.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.True(t, cfg.Enabled)
}

type requiredConfig struct {
	Token string `env:"TEST_CFG_TOKEN,required"`
}

func TestLoad_RequiredFieldMissing(t *testing.T) {
	var cfg requiredConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("TEST_CFG_CACHE_TTL", "five minutes")

	var cfg testConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadWithPrefix(t *testing.T) {
	t.Setenv("SHOP_A_TEST_CFG_PORT", "7000")

	var cfg testConfig
	err := LoadWithPrefix(&cfg, "SHOP_A_")

	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
}
