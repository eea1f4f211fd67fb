package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.StoreDriver)
		assert.Equal(t, "greedy", cfg.GroupingStrategy)
		assert.Equal(t, []int{10, 11}, cfg.PhoneNationalLengths)
		assert.Equal(t, 30*time.Minute, cfg.ReviewSessionIdleTTL)
		assert.Equal(t, 15*time.Second, cfg.MergeTimeout)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "memory")
		t.Setenv("MERGE_TIMEOUT", "3s")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.StoreDriver)
		assert.Equal(t, 3*time.Second, cfg.MergeTimeout)
	})

	t.Run("config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clover.yaml")
		require.NoError(t, os.WriteFile(path, []byte("grouping_strategy: components\nredis_enabled: true\n"), 0o600))
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "components", cfg.GroupingStrategy)
		assert.True(t, cfg.RedisEnabled)
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Setenv("GROUPING_STRATEGY", "nearest")
		_, err := Load("")
		assert.ErrorContains(t, err, "grouping strategy")
	})
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DatabaseHost:     "db",
		DatabasePort:     "5432",
		DatabaseUserName: "clover",
		DatabasePassword: "secret",
		DatabaseName:     "clover",
		DatabaseSSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=clover password=secret dbname=clover sslmode=disable", cfg.DatabaseDSN())
}
