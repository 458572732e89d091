package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("UNSUBSCAN_CONFIG_DIR", dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ConfigDir)
	assert.Equal(t, filepath.Join(dir, "unsubscan.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 500, cfg.Gmail.PageSize)
	assert.Equal(t, 20, cfg.Gmail.BatchSize)
	assert.Equal(t, 4, cfg.Gmail.Concurrency)
	assert.Equal(t, 4, cfg.Gmail.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Gmail.BackoffBase)
	assert.Equal(t, 500*time.Millisecond, cfg.Gmail.MaxJitter)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Server.ScanTimeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	yaml := `
config_dir: ` + dir + `
user_email: me@x.com
gmail:
  batch_size: 50
  backoff_base: 250ms
server:
  addr: 127.0.0.1:9000
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("UNSUBSCAN_GMAIL_CONCURRENCY", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "me@x.com", cfg.UserEmail)
	assert.Equal(t, 50, cfg.Gmail.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Gmail.BackoffBase)
	assert.Equal(t, 8, cfg.Gmail.Concurrency)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	opts := cfg.Gmail.Options()
	assert.Equal(t, 50, opts.BatchSize)
	assert.Equal(t, 8, opts.Concurrency)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("UNSUBSCAN_CONFIG_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("UNSUBSCAN_USER_EMAIL=dot@x.com\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("UNSUBSCAN_USER_EMAIL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dot@x.com", cfg.UserEmail)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		ConfigDir: "/tmp/x",
		Gmail:     GmailConfig{PageSize: 1, BatchSize: 1, Concurrency: 1, MaxAttempts: 1},
		Server:    ServerConfig{ScanTimeout: time.Second},
	}
	require.NoError(t, Validate(valid))

	tooBig := valid
	tooBig.Gmail.BatchSize = 101
	assert.Error(t, Validate(tooBig))

	noAttempts := valid
	noAttempts.Gmail.MaxAttempts = 0
	assert.Error(t, Validate(noAttempts))

	manyAttempts := valid
	manyAttempts.Gmail.MaxAttempts = 70
	assert.Error(t, Validate(manyAttempts))

	negative := valid
	negative.Gmail.MaxJitter = -time.Second
	assert.Error(t, Validate(negative))
}
