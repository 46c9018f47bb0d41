package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courserank/ranking-engine/internal/config"
)

// isolate points ENV_FILE at a missing file so a developer's .env never
// leaks into the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10, cfg.Ranking.Size)
	assert.Equal(t, 4, cfg.Refresh.Concurrency)
	assert.Zero(t, cfg.Refresh.Interval)
	assert.True(t, cfg.MultipleQuizAttempts)
	assert.False(t, cfg.EnforceUniqueCompletion)
	assert.Equal(t, time.Monday, cfg.WeekStart())
	assert.Equal(t, time.UTC, cfg.Location())

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.True(t, p.DefaultPoints.Equal(decimal.NewFromInt(2)))
	assert.True(t, p.Base("quiz").Equal(decimal.NewFromInt(2)))
	assert.True(t, p.Multiplier.Equal(decimal.NewFromInt(1)))
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("RANKING_SIZE", "20")
	t.Setenv("POINTS_QUIZ", "7.5")
	t.Setenv("GRADE_MULTIPLIER", "0.5")
	t.Setenv("MULTIPLE_QUIZ_ATTEMPTS", "false")
	t.Setenv("REFRESH_INTERVAL", "15m")
	t.Setenv("WEEK_START_DAY", "0")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 20, cfg.Ranking.Size)
	assert.False(t, cfg.MultipleQuizAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Refresh.Interval)
	assert.Equal(t, time.Sunday, cfg.WeekStart())

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.True(t, p.Base("quiz").Equal(decimal.NewFromFloat(7.5)))
	assert.True(t, p.Multiplier.Equal(decimal.NewFromFloat(0.5)))
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("RANKING_SIZE=50\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	// godotenv does not override variables already set; make sure this
	// one starts unset and is cleaned up afterwards.
	t.Setenv("RANKING_SIZE", "")
	require.NoError(t, os.Unsetenv("RANKING_SIZE"))

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Ranking.Size)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"GRADE_MULTIPLIER": "-1",
		"RANKING_SIZE":     "0",
		"TIMEZONE":         "Mars/Olympus",
		"WEEK_START_DAY":   "9",
		"POINTS_PAGE":      "lots",
		"POINTS_QUIZ":      "-3",
		"POINTS_DEFAULT":   "-0.5",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			isolate(t)
			t.Setenv(key, val)
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
