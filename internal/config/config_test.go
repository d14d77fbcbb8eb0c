package config

import (
	"net/netip"
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
	assert.Equal(t, 20, cfg.Guard.MaxCallPerMinutes)
	assert.Equal(t, 5, cfg.Guard.NewUserMaxCallPerMinutes)
	assert.Equal(t, time.Minute, cfg.Guard.Window)
	assert.Equal(t, 5*time.Minute, cfg.Guard.SealDuration)
	assert.Equal(t, 10, cfg.Chat.CommunityGroupLimit)
	assert.Zero(t, cfg.Server.HandlerTimeout, "handlers run without a deadline by default")
	assert.Empty(t, cfg.Server.TrustedProxies)
}

func TestProxyPrefixes(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.7")
	t.Setenv("HANDLER_TIMEOUT", "3s")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Server.HandlerTimeout)

	got, err := cfg.Server.ProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Contains(netip.MustParseAddr("10.1.2.3")))
	assert.True(t, got[1].Contains(netip.MustParseAddr("192.0.2.7")))
	assert.False(t, got[1].Contains(netip.MustParseAddr("192.0.2.8")))
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := []byte("server:\n  listen_addr: \":7000\"\nguard:\n  max_call_per_minutes: 7\n  seal_duration: 2m\n")
	require.NoError(t, os.WriteFile(path, yml, 0o600))

	t.Setenv("MAX_CALL_PER_MINUTES", "9")
	t.Setenv("ADMINISTRATORS", " a , b,,c ")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, 9, cfg.Guard.MaxCallPerMinutes, "env overrides file")
	assert.Equal(t, 2*time.Minute, cfg.Guard.SealDuration)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.Administrators)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Guard, cfg.Guard)
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("RATE_WINDOW", "soon")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Server.ListenAddr = "" }},
		{"zero window", func(c *Config) { c.Guard.Window = 0 }},
		{"zero calls", func(c *Config) { c.Guard.NewUserMaxCallPerMinutes = 0 }},
		{"bad driver", func(c *Config) { c.Postgres.Driver = "mongo" }},
		{"roll max below default", func(c *Config) { c.Chat.RollMax = 1 }},
		{"no secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"negative handler timeout", func(c *Config) { c.Server.HandlerTimeout = -time.Second }},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/33"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIsAdministrator(t *testing.T) {
	auth := AuthConfig{Administrators: []string{"u1"}}
	assert.True(t, auth.IsAdministrator("u1"))
	assert.False(t, auth.IsAdministrator("u2"))
	assert.False(t, auth.IsAdministrator(""))
}
