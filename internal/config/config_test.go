package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func requiredEnv() map[string]string {
	return map[string]string{
		EnvDiscordWebhookURL:     "https://discord.com/api/webhooks/1/token",
		EnvMinifluxAPIKey:        "api-key",
		EnvMinifluxWebhookSecret: "secret",
		EnvMinifluxBaseURL:       "https://rss.example.org",
		EnvListenHost:            "127.0.0.1",
		EnvListenPort:            "8080",
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	env := requiredEnv()
	env[EnvDeliveryMinInterval] = "3s"
	env[EnvDeliveryStrict] = "true"
	env[EnvNotifyConvertICO] = "false"
	env[EnvNotifyLinkMode] = "feed"
	env[EnvLogLevel] = "debug"

	m := NewManager("")
	m.SetLookup(envMap(env))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Miniflux.WebhookSecret)
	assert.Equal(t, "3s", cfg.Delivery.MinInterval)
	assert.True(t, cfg.Delivery.Strict)
	assert.False(t, cfg.Notification.ConvertICOEnabled())
	assert.Equal(t, "feed", cfg.Notification.LinkMode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Same(t, cfg, m.Get())
}

func TestMissingRequiredKeysAreAllReported(t *testing.T) {
	env := requiredEnv()
	delete(env, EnvMinifluxAPIKey)
	delete(env, EnvListenPort)

	m := NewManager("")
	m.SetLookup(envMap(env))
	_, err := m.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.ElementsMatch(t, []string{EnvMinifluxAPIKey, EnvListenPort}, cerr.Missing)
	assert.NotContains(t, err.Error(), "secret")
}

func TestInvalidValues(t *testing.T) {
	env := requiredEnv()
	env[EnvListenPort] = "eighty"
	m := NewManager("")
	m.SetLookup(envMap(env))
	_, err := m.Load()
	assert.ErrorIs(t, err, ErrConfiguration)

	env = requiredEnv()
	env[EnvDeliveryMinInterval] = "soon"
	env[EnvNotifyLinkMode] = "sideways"
	m.SetLookup(envMap(env))
	_, err = m.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery.min_interval")
	assert.Contains(t, err.Error(), "notification.link_mode")
}

func TestPprofSettings(t *testing.T) {
	env := requiredEnv()
	env[EnvPprofAddr] = "127.0.0.1:6060"
	env[EnvPprofToken] = "tok"
	m := NewManager("")
	m.SetLookup(envMap(env))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6060", cfg.Debug.PprofAddr)
	assert.Equal(t, "tok", cfg.Debug.PprofToken)

	env[EnvPprofAddr] = "6060"
	m.SetLookup(envMap(env))
	_, err = m.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debug.pprof_addr")
}

func TestYAMLFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxhook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 0.0.0.0
  port: 9000
  path: /hooks/miniflux
miniflux:
  base_url: https://rss.internal
  api_key: from-file
  webhook_secret: from-file
discord:
  webhook_url: https://discord.com/api/webhooks/2/x
delivery:
  min_interval: 3s
logging:
  level: warn
  console: true
`), 0o600))

	m := NewManager(path)
	m.SetLookup(envMap(map[string]string{EnvMinifluxAPIKey: "from-env", EnvListenPort: " "}))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port, "blank env values do not override")
	assert.Equal(t, "/hooks/miniflux", cfg.Server.Path)
	assert.Equal(t, "from-env", cfg.Miniflux.APIKey)
	assert.Equal(t, "from-file", cfg.Miniflux.WebhookSecret)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Notification.ConvertICOEnabled())
}

func TestStrictDecoding(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.json")
	require.NoError(t, os.WriteFile(unknown, []byte(`{"server":{"host":"x","prot":1}}`), 0o600))
	_, err := NewManager(unknown).Parse()
	assert.Error(t, err)

	trailing := filepath.Join(dir, "trailing.json")
	require.NoError(t, os.WriteFile(trailing, []byte(`{"server":{"host":"x"}} {}`), 0o600))
	_, err = NewManager(trailing).Parse()
	assert.Error(t, err)
}

func TestDurationOr(t *testing.T) {
	assert.Equal(t, 5*time.Second, DurationOr("", 5*time.Second))
	assert.Equal(t, 3*time.Second, DurationOr("3s", 5*time.Second))
	assert.Equal(t, 5*time.Second, DurationOr("bogus", 5*time.Second))
	_, err := ParseDurationField("x", "-1s")
	assert.Error(t, err)
}

func TestSummarizeConfigChange(t *testing.T) {
	old := Default()
	old.Discord.WebhookURL = "https://discord.com/api/webhooks/1/secret-token"
	next := *old
	next.Logging.Level = "debug"
	next.Delivery.MinInterval = "3s"
	next.Discord.WebhookURL = "https://discord.com/api/webhooks/1/other-token"

	changed, attrs, restart := SummarizeConfigChange(old, &next)
	assert.Equal(t, []string{"discord", "delivery", "logging"}, changed)
	assert.Equal(t, []string{"discord"}, restart)
	assert.NotEmpty(t, attrs)

	changed, _, restart = SummarizeConfigChange(old, old)
	assert.Empty(t, changed)
	assert.Empty(t, restart)
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxhook.json")
	write := func(level string) {
		body := `{"server":{"host":"127.0.0.1","port":8080},` +
			`"miniflux":{"base_url":"https://rss.example.org","api_key":"k","webhook_secret":"s"},` +
			`"discord":{"webhook_url":"https://discord.com/api/webhooks/1/t"},` +
			`"logging":{"level":"` + level + `","console":true}}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write("info")

	m := NewManager(path)
	m.SetLookup(envMap(nil))
	_, err := m.Load()
	require.NoError(t, err)
	updates := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	write("debug")

	select {
	case cfg := <-updates:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxhook.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600))

	m := NewManager(path)
	m.SetLookup(envMap(requiredEnv()))
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"delivery":{"min_interval":"later"}}`), 0o600))
	published, err := m.Reload()
	assert.False(t, published)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, "info", m.Get().Logging.Level)
}
