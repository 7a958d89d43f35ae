package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gookit/validate"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string           `yaml:"discord_token" validate:"required"`
	Database      DatabaseConfig   `yaml:"database"`
	DataDir       string           `yaml:"data_dir" validate:"required"`
	LogLevel      string           `yaml:"log_level" validate:"in:debug,info,warn,error"`
	Health        HealthConfig     `yaml:"health"`
	Moderation    ModerationConfig `yaml:"moderation"`
	Markov        MarkovConfig     `yaml:"markov"`
	Purge         PurgeConfig      `yaml:"purge"`
	Jail          JailConfig       `yaml:"jail"`
	Phishing      PhishingConfig   `yaml:"phishing"`
	Watcher       WatcherConfig    `yaml:"watcher"`
	Notes         NotesConfig      `yaml:"notes"`
	Prompt        PromptConfig     `yaml:"prompt"`
	Audit         AuditConfig      `yaml:"audit"`
	Notifications NotifyConfig     `yaml:"notifications"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"required|in:sqlite,postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
}

type ModerationConfig struct {
	ModRoleIDs   []string `yaml:"mod_role_ids"`
	AdminRoleIDs []string `yaml:"admin_role_ids"`
}

type MarkovConfig struct {
	QuoteChar    string `yaml:"quote_char"`
	MaxLength    int    `yaml:"max_length" validate:"required|min:1"`
	MaxDepth     int    `yaml:"max_depth" validate:"required|min:1"`
	DefaultMode  string `yaml:"default_mode"`
	DefaultDepth int    `yaml:"default_depth" validate:"required|min:1"`
}

type PurgeConfig struct {
	TickSeconds       int    `yaml:"tick_seconds" validate:"required|min:1"`
	DefaultSchedule   string `yaml:"default_schedule" validate:"required"`
	DefaultMinAgeDays int    `yaml:"default_min_age_days" validate:"min:0"`
}

type JailConfig struct {
	// ArchiveDir defaults to <data_dir>/jail.
	ArchiveDir   string `yaml:"archive_dir"`
	ChannelTopic string `yaml:"channel_topic" validate:"required"`
}

type PhishingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url" validate:"required"`
	Identity       string `yaml:"identity"`
	RefreshMinutes int    `yaml:"refresh_minutes" validate:"required|min:1"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"required|min:1"`
}

type WatcherConfig struct {
	AlertCooldownSeconds int `yaml:"alert_cooldown_seconds" validate:"min:0"`
	VoiceSuppressHours   int `yaml:"voice_suppress_hours" validate:"required|min:1"`
	CacheSizeMB          int `yaml:"cache_size_mb" validate:"required|min:1"`
}

type NotesConfig struct {
	PageLines int `yaml:"page_lines" validate:"required|min:1"`
}

type PromptConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"required|min:1"`
}

type AuditConfig struct {
	RetentionDays int `yaml:"retention_days" validate:"min:0"`
}

type NotifyConfig struct {
	EmbedColors EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "/data/cogwarden.db"},
		DataDir:  "/data",
		LogLevel: "info",
		Health:   HealthConfig{Enabled: false, Addr: ":8080", Metrics: true},
		Markov: MarkovConfig{
			QuoteChar:    "`",
			MaxLength:    2000,
			MaxDepth:     10,
			DefaultMode:  "word",
			DefaultDepth: 1,
		},
		Purge: PurgeConfig{
			TickSeconds:       60,
			DefaultSchedule:   "0 0 * * *",
			DefaultMinAgeDays: 14,
		},
		Jail: JailConfig{
			ChannelTopic: "You are in timeout. Leaving the server while jailed is treated as ban evasion.",
		},
		Phishing: PhishingConfig{
			Enabled:        true,
			BaseURL:        "https://phish.sinking.yachts/v2",
			Identity:       "cogwarden",
			RefreshMinutes: 60,
			TimeoutSeconds: 30,
		},
		Watcher: WatcherConfig{
			AlertCooldownSeconds: 300,
			VoiceSuppressHours:   24,
			CacheSizeMB:          8,
		},
		Notes:  NotesConfig{PageLines: 25},
		Prompt: PromptConfig{TimeoutSeconds: 180},
		Audit:  AuditConfig{RetentionDays: 90},
		Notifications: NotifyConfig{
			EmbedColors: EmbedColors{
				Action:  0xF59E0B,
				Warning: 0xEF4444,
				Error:   0xF97316,
			},
		},
	}
}

// Load reads $CONFIG_PATH, or config.yaml, then the environment.
func Load() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit YAML path. A missing file is not an
// error.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags of every section.
func Validate(cfg Config) error {
	sections := []any{&cfg, &cfg.Database, &cfg.Markov, &cfg.Purge, &cfg.Jail, &cfg.Phishing, &cfg.Watcher, &cfg.Notes, &cfg.Prompt, &cfg.Audit}
	for _, section := range sections {
		v := validate.Struct(section)
		if !v.Validate() {
			return fmt.Errorf("invalid config: %s", v.Errors.One())
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envString("DATABASE_DSN", cfg.Database.DSN)
	cfg.DataDir = envString("DATA_DIR", cfg.DataDir)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Health.Metrics = envBool("METRICS_ENABLED", cfg.Health.Metrics)
	cfg.Moderation.ModRoleIDs = envList("MOD_ROLE_IDS", cfg.Moderation.ModRoleIDs)
	cfg.Moderation.AdminRoleIDs = envList("ADMIN_ROLE_IDS", cfg.Moderation.AdminRoleIDs)
	cfg.Markov.QuoteChar = envString("MARKOV_QUOTE_CHAR", cfg.Markov.QuoteChar)
	cfg.Purge.TickSeconds = envInt("PURGE_TICK_SECONDS", cfg.Purge.TickSeconds)
	cfg.Jail.ArchiveDir = envString("JAIL_ARCHIVE_DIR", cfg.Jail.ArchiveDir)
	cfg.Phishing.Enabled = envBool("PHISHING_ENABLED", cfg.Phishing.Enabled)
	cfg.Phishing.BaseURL = envString("PHISHING_BASE_URL", cfg.Phishing.BaseURL)
	cfg.Phishing.Identity = envString("PHISHING_IDENTITY", cfg.Phishing.Identity)
	cfg.Phishing.RefreshMinutes = envInt("PHISHING_REFRESH_MINUTES", cfg.Phishing.RefreshMinutes)
	cfg.Prompt.TimeoutSeconds = envInt("PROMPT_TIMEOUT_SECONDS", cfg.Prompt.TimeoutSeconds)
	cfg.Audit.RetentionDays = envInt("AUDIT_RETENTION_DAYS", cfg.Audit.RetentionDays)
	cfg.Notifications.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.Notifications.EmbedColors.Action)
	cfg.Notifications.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Notifications.EmbedColors.Warning)
	cfg.Notifications.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.Notifications.EmbedColors.Error)
}

// JailArchiveDir resolves where jail transcripts are written.
func (c Config) JailArchiveDir() string {
	if c.Jail.ArchiveDir != "" {
		return c.Jail.ArchiveDir
	}
	return filepath.Join(c.DataDir, "jail")
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
