package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Less(t, cfg.Refresh.Tick, time.Second, "tick must be sub-second")
	assert.GreaterOrEqual(t, cfg.Refresh.MinInterval, 10*time.Second)
	assert.Contains(t, cfg.Termination.Sensitive, "steam")
	assert.Positive(t, cfg.Refresh.NameCacheTTL, "names must be re-resolved periodically")
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Refresh, cfg.Refresh)
}

func TestLoadOverridesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portwarden.yaml")
	content := `
refresh:
  tick: 250ms
  minInterval: 45s
  batchSize: 10
termination:
  settleDelay: 1s
  sensitive: [steam, origin]
dashboard:
  address: 127.0.0.1:4100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Refresh.Tick)
	assert.Equal(t, 45*time.Second, cfg.Refresh.MinInterval)
	assert.Equal(t, 10, cfg.Refresh.BatchSize)
	assert.Equal(t, Default().Refresh.MaxLines, cfg.Refresh.MaxLines, "unset fields keep defaults")
	assert.Equal(t, time.Second, cfg.Termination.SettleDelay)
	assert.Equal(t, []string{"steam", "origin"}, cfg.Termination.Sensitive)
	assert.Equal(t, "127.0.0.1:4100", cfg.Dashboard.Address)
}

func TestLoadFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refresh:\n  batchSize: 7\n"), 0600))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Refresh.BatchSize)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero tick", "refresh:\n  tick: 0s\n"},
		{"interval below tick", "refresh:\n  tick: 1s\n  minInterval: 500ms\n"},
		{"empty sensitive pattern", "termination:\n  sensitive: [steam, '']\n"},
		{"negative name cache ttl", "refresh:\n  nameCacheTTL: -1s\n"},
		{"inverted port range", "dashboard:\n  portRangeStart: 45000\n  portRangeEnd: 44000\n"},
		{"zero verify attempts", "termination:\n  verifyAttempts: 0\n"},
		{"malformed yaml", "refresh: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
