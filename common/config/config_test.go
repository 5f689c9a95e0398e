package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/qualityapi/common/config"
)

func TestResolveBaseURL(t *testing.T) {
	cases := []struct {
		name     string
		explicit []string
		host     string
		want     string
	}{
		{"explicit wins", []string{"https://api.example.com/", "", ""}, "x.pages.dev", "https://api.example.com"},
		{"second candidate", []string{"  ", "http://vite:9000//", ""}, "", "http://vite:9000"},
		{"third candidate", []string{"", "", " http://base:1 "}, "", "http://base:1"},
		{"render host", nil, "quality-app.onrender.com", config.HostedBaseURL},
		{"pages host", nil, "Dash.Pages.Dev", config.HostedBaseURL},
		{"local", nil, "localhost:5173", config.LocalBaseURL},
		{"nothing", nil, "", config.LocalBaseURL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, config.ResolveBaseURL(tc.explicit, tc.host))
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, k := range []string{"DASH_API_URL", "VITE_API_URL", "VITE_API_BASE_URL", "DASH_PAGE_HOST", "DASH_CACHE", "LOG_FORMAT", "MINIO_ENDPOINT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.LocalBaseURL, cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 15*time.Second, cfg.API.RenewTimeout)
	assert.Equal(t, config.CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.False(t, cfg.Export.MinIO.Enabled())
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "dash.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"DASH_API_URL=http://from-file:8000/\nDASH_CACHE=redis\nDASH_RENEW_TIMEOUT=2s\nDASH_EMAIL=ops@example.com\n",
	), 0o600))
	for _, k := range []string{"DASH_API_URL", "DASH_CACHE", "DASH_RENEW_TIMEOUT", "DASH_EMAIL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	// the process environment wins over the file
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := config.Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "http://from-file:8000", cfg.API.BaseURL)
	assert.Equal(t, config.CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, 2*time.Second, cfg.API.RenewTimeout)
	assert.Equal(t, "ops@example.com", cfg.Auth.Email)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DASH_CACHE", "memcached")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DASH_CACHE")
	assert.Contains(t, err.Error(), "LOG_FORMAT")
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
