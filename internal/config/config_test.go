package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.DiscordToken = "token"
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Driver = "mysql"
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsZeroTick(t *testing.T) {
	cfg := validConfig()
	cfg.Purge.TickSeconds = 0
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	assert.Error(t, Validate(cfg))
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("discord_token: from-file\ndata_dir: " + dir + "\nmarkov:\n  quote_char: \">\"\nmoderation:\n  mod_role_ids: [\"r1\"]\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("DATABASE_DSN", ":memory:")
	t.Setenv("ADMIN_ROLE_IDS", "a1, a2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.DiscordToken)
	assert.Equal(t, ":memory:", cfg.Database.DSN)
	assert.Equal(t, ">", cfg.Markov.QuoteChar)
	assert.Equal(t, []string{"r1"}, cfg.Moderation.ModRoleIDs)
	assert.Equal(t, []string{"a1", "a2"}, cfg.Moderation.AdminRoleIDs)
	assert.Equal(t, 180, cfg.Prompt.TimeoutSeconds)
}

func TestLoadFileIgnoresConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "explicit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discord_token: explicit\n"), 0o600))

	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.DiscordToken)
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestJailArchiveDir(t *testing.T) {
	cfg := validConfig()
	cfg.DataDir = "/srv/cogwarden"
	assert.Equal(t, filepath.Join("/srv/cogwarden", "jail"), cfg.JailArchiveDir())

	cfg.Jail.ArchiveDir = "/archives"
	assert.Equal(t, "/archives", cfg.JailArchiveDir())
}

func TestValidateRejectsNegativeRetention(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.RetentionDays = -1
	assert.Error(t, Validate(cfg))
}
