package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, env, body string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config."+env+".yaml"), []byte(body), 0o644))
	chdir(t, dir)
	t.Setenv("CONFIG_ENV", env)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, "ws://localhost:5000/ws", cfg.Signal.URL)
	assert.Equal(t, 20*time.Second, cfg.Transport.CallTimeout)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Transport.ICEServers)
	assert.True(t, cfg.Call.AutoAnswer)
	assert.True(t, cfg.Media.ScreenShare)
}

func TestLoadFromFile(t *testing.T) {
	writeConfig(t, "test", `
mode: debug
port: 9090
signal:
  url: wss://rv.example.org/ws
transport:
  broker_url: https://broker.example.org
  key: calls
  call_timeout: 3s
media:
  echo_cancellation: false
  video_width: 1280
call:
  auto_answer: false
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "wss://rv.example.org/ws", cfg.Signal.URL)
	assert.Equal(t, "calls", cfg.Transport.Key)
	assert.Equal(t, 3*time.Second, cfg.Transport.CallTimeout)
	assert.False(t, cfg.Call.AutoAnswer)

	mc := cfg.MediaConstraints()
	assert.False(t, mc.EchoCancellation)
	assert.True(t, mc.NoiseSuppression)
	assert.Equal(t, 1280, mc.Width)
	assert.Equal(t, 480, mc.Height)
}

func TestBackendURLEnvOverridesSignal(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("BACKEND_URL", "ws://signal.local:7000/socket")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ws://signal.local:7000/socket", cfg.Signal.URL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	writeConfig(t, "bad", `
signal:
  url: http://not-a-socket
`)
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal.url")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Mode:      "release",
			Port:      8080,
			Signal:    Signal{URL: "ws://localhost:5000/ws", SendBuffer: 8},
			Transport: Transport{BrokerURL: "http://localhost:9000", Key: "peerjs", CallTimeout: time.Second, OpenTimeout: time.Second},
			Recording: Recording{Dir: "rec"},
		}
	}

	ok := base()
	assert.NoError(t, ok.Validate())

	cases := map[string]func(c *Config){
		"mode":         func(c *Config) { c.Mode = "prod" },
		"port":         func(c *Config) { c.Port = 0 },
		"broker":       func(c *Config) { c.Transport.BrokerURL = "ws://x" },
		"key":          func(c *Config) { c.Transport.Key = " " },
		"call timeout": func(c *Config) { c.Transport.CallTimeout = 0 },
		"recording":    func(c *Config) { c.Recording.Dir = "" },
	}
	for name, mutate := range cases {
		c := base()
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
