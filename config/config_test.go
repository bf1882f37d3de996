package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driverkit/coord/halerr"
	"github.com/driverkit/coord/resource"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(1024), cfg.QueueCapacity)
	assert.Equal(t, 100*time.Microsecond, cfg.PollInterval())

	period, err := cfg.CleanupPeriod()
	require.NoError(t, err)
	assert.Equal(t, time.Second, period)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"queue_capacity": 256,
		"poll_interval_us": 50,
		"cleanup_interval": "2s",
		"resource_orders": [
			{"type": "hardware", "rank": 50, "description": "hardware first"}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(256), cfg.QueueCapacity)
	assert.Equal(t, 50*time.Microsecond, cfg.PollInterval())
	require.Len(t, cfg.ResourceOrders, 1)
	assert.Equal(t, uint32(50), cfg.ResourceOrders[0].Rank)

	// Missing fields fall back to defaults.
	cfg, err = Parse([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Default().QueueCapacity, cfg.QueueCapacity)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"not json":           `{`,
		"bad capacity":       `{"queue_capacity": 1}`,
		"bad poll":           `{"poll_interval_us": -5}`,
		"bad duration":       `{"cleanup_interval": "soon"}`,
		"bad stats duration": `{"stats_log_interval": "often"}`,
		"bad order type":     `{"resource_orders": [{"type": "gpu", "rank": 1}]}`,
		"bad log level":      `{"log_level": "loud"}`,
	}
	for name, raw := range cases {
		_, err := Parse([]byte(raw))
		require.Error(t, err, name)
		assert.True(t, halerr.IsValidation(err), name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coord.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"queue_capacity": 64}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), cfg.QueueCapacity)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Equal(t, "CONFIG_READ", halerr.CodeOf(err))
}

func TestParseType(t *testing.T) {
	for name, want := range map[string]resource.Type{
		"hardware":      resource.Hardware,
		"memory":        resource.Memory,
		"performance":   resource.Performance,
		"communication": resource.Communication,
		"platform":      resource.Platform,
		"custom":        resource.Custom,
	} {
		got, err := ParseType(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseType("gpu")
	require.Error(t, err)
	assert.Equal(t, "BAD_TYPE", halerr.CodeOf(err))
}

func TestWatchReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coord.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"queue_capacity": 64}`), 0o644))

	reloaded := make(chan Config, 4)
	w, err := Watch(path, func(cfg Config) { reloaded <- cfg }, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"queue_capacity": 128}`), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, uint64(128), cfg.QueueCapacity)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatchSkipsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coord.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"queue_capacity": 64}`), 0o644))

	reloaded := make(chan Config, 4)
	w, err := Watch(path, func(cfg Config) { reloaded <- cfg }, nil)
	require.NoError(t, err)
	defer w.Close()

	// Invalid intermediate state, then a valid one. Only the valid config
	// reaches the callback.
	require.NoError(t, os.WriteFile(path, []byte(`{"queue_capacity":`), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(`{"queue_capacity": 256}`), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			require.NotEqual(t, uint64(0), cfg.QueueCapacity)
			if cfg.QueueCapacity == 256 {
				return
			}
		case <-deadline:
			t.Fatal("no valid reload observed")
		}
	}
}

func TestWatchMissingFile(t *testing.T) {
	_, err := Watch(filepath.Join(t.TempDir(), "missing.json"), func(Config) {}, nil)
	require.Error(t, err)
}

func TestWatchCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coord.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	w, err := Watch(path, func(Config) {}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
