package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/departureboard/config"
	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/window"
)

const fullConfig = `
storage:
  backend: sqlite
  directory: /var/lib/departureboard
feed:
  static_url: https://example.com/gtfs.zip
  realtime_urls:
    - https://example.com/trip-updates.pb
  headers:
    Authorization: Bearer abc
  refresh_interval: 1h
engine:
  depth: 2
  count: 20
  items_per_point: 3
  max_goroutines: 4
  closure_policy: conservative
  rt_level: realtime
synthese:
  url: https://synthese.example.com/
  timezone: Europe/Paris
  timeout: 5s
  cache_ttl: 1m
  max_requests_per_second: 2.5
  breaker_max_failures: 3
  breaker_reset_timeout: 30s
redis:
  addr: localhost:6379
  db: 1
http:
  listen: 127.0.0.1:9000
`

func TestParseFullConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/departureboard", cfg.Storage.Directory)
	assert.Equal(t, "https://example.com/gtfs.zip", cfg.Feed.StaticURL)
	assert.Equal(t, []string{"https://example.com/trip-updates.pb"}, cfg.Feed.RealtimeURLs)
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc"}, cfg.Feed.Headers)
	assert.Equal(t, time.Hour, cfg.Feed.RefreshInterval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Listen)
	assert.Equal(t, model.RTLevelRealtime, cfg.RTLevel())

	engine, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, engine.MaxGoroutines)
	assert.Equal(t, window.Conservative, engine.ClosurePolicy)

	proxy, ok, err := cfg.SyntheseConfig()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://synthese.example.com/", proxy.URL)
	assert.Equal(t, "Europe/Paris", proxy.Timezone.String())
	assert.Equal(t, 5*time.Second, proxy.Timeout)
	assert.Equal(t, time.Minute, proxy.CacheTTL)
	assert.Equal(t, 2.5, proxy.MaxRequestsPerSecond)
	assert.Equal(t, uint32(3), proxy.BreakerMaxFailures)
	assert.Equal(t, 30*time.Second, proxy.BreakerResetTimeout)
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("feed:\n  static_url: http://example.com/gtfs.zip\n"))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 1, cfg.Engine.Depth)
	assert.Equal(t, 10, cfg.Engine.Count)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, model.RTLevelBaseSchedule, cfg.RTLevel())

	engine, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, window.Optimistic, engine.ClosurePolicy)

	_, ok, err := cfg.SyntheseConfig()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseInvalid(t *testing.T) {
	for _, tc := range []struct {
		Name   string
		Config string
	}{
		{"malformed yaml", "feed: [\n"},
		{"missing static url", "engine:\n  depth: 1\n"},
		{"bad static url", "feed:\n  static_url: not a url\n"},
		{"bad realtime url", "feed:\n  static_url: http://a/b.zip\n  realtime_urls: [nope]\n"},
		{"unknown backend", "feed:\n  static_url: http://a/b.zip\nstorage:\n  backend: mongo\n"},
		{"postgres without dsn", "feed:\n  static_url: http://a/b.zip\nstorage:\n  backend: postgres\n"},
		{"sqlite without directory", "feed:\n  static_url: http://a/b.zip\nstorage:\n  backend: sqlite\n"},
		{"zero depth", "feed:\n  static_url: http://a/b.zip\nengine:\n  depth: 0\n"},
		{"negative count", "feed:\n  static_url: http://a/b.zip\nengine:\n  count: -1\n"},
		{"unknown policy", "feed:\n  static_url: http://a/b.zip\nengine:\n  closure_policy: maybe\n"},
		{"unknown rt level", "feed:\n  static_url: http://a/b.zip\nengine:\n  rt_level: live\n"},
		{"bad timezone", "feed:\n  static_url: http://a/b.zip\nsynthese:\n  timezone: Mars/Olympus\n"},
		{"bad duration", "feed:\n  static_url: http://a/b.zip\nsynthese:\n  timeout: soon\n"},
		{"bad redis addr", "feed:\n  static_url: http://a/b.zip\nredis:\n  addr: localhost\n"},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := config.Parse([]byte(tc.Config))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Engine.Count)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
