package watcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"cogwarden/internal/storage"
)

const (
	subsystem   = "watcher"
	settingsKey = "settings"

	LevelLow  = "LOW"
	LevelHigh = "HIGH"
)

var (
	ErrInvalidPattern = errors.New("pattern is not a valid regular expression")
	ErrInvalidLevel   = errors.New("level must be LOW or HIGH")
	ErrRuleNotFound   = errors.New("profile rule not found")
	ErrInvalidValue   = errors.New("value out of range")
)

type ProfileRule struct {
	Pattern   string `json:"pattern"`
	CheckNick bool   `json:"check_nick"`
	Level     string `json:"level"`
	Reason    string `json:"reason"`
}

type Frequencies struct {
	Embed float64 `json:"embed"`
}

type Exemptions struct {
	MemberDurationHours int     `json:"member_duration_hours"`
	TextMessages        float64 `json:"text_messages"`
}

// Settings is the per-guild watcher document.
type Settings struct {
	LogChannel          string        `json:"log_channel"`
	VoiceMinJoinedHours int           `json:"voice_min_joined_hours"`
	ProfileRules        []ProfileRule `json:"profile_rules"`
	RecentFetchTimeMs   int           `json:"recent_fetch_time_ms"`
	Frequencies         Frequencies   `json:"frequencies"`
	Exemptions          Exemptions    `json:"exemptions"`
}

func DefaultSettings() Settings {
	return Settings{
		VoiceMinJoinedHours: 24,
		RecentFetchTimeMs:   60000,
		Frequencies:         Frequencies{Embed: 2.0},
		Exemptions:          Exemptions{MemberDurationHours: 24, TextMessages: 0.5},
	}
}

func (m *Module) Settings(ctx context.Context, guildID string) (Settings, error) {
	return storage.Get(ctx, m.store, storage.Guild(subsystem, guildID), settingsKey, DefaultSettings())
}

func (m *Module) update(ctx context.Context, guildID string, fn func(*Settings) error) (Settings, error) {
	return storage.Update(ctx, m.store, storage.Guild(subsystem, guildID), settingsKey, DefaultSettings(), fn)
}

// SetLogChannel sets the alert channel; an empty id disables alerts.
func (m *Module) SetLogChannel(ctx context.Context, guildID, channelID string) error {
	_, err := m.update(ctx, guildID, func(s *Settings) error {
		s.LogChannel = channelID
		return nil
	})
	return err
}

func (m *Module) SetVoiceHours(ctx context.Context, guildID string, hours int) error {
	if hours < 0 {
		return ErrInvalidValue
	}
	_, err := m.update(ctx, guildID, func(s *Settings) error {
		s.VoiceMinJoinedHours = hours
		return nil
	})
	return err
}

// AddProfileRule validates and appends a rule, returning its 1-based index.
func (m *Module) AddProfileRule(ctx context.Context, guildID string, rule ProfileRule) (int, error) {
	if _, err := regexp.Compile(rule.Pattern); err != nil || rule.Pattern == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPattern, rule.Pattern)
	}
	rule.Level = strings.ToUpper(strings.TrimSpace(rule.Level))
	if rule.Level != LevelLow && rule.Level != LevelHigh {
		return 0, ErrInvalidLevel
	}
	settings, err := m.update(ctx, guildID, func(s *Settings) error {
		s.ProfileRules = append(s.ProfileRules, rule)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(settings.ProfileRules), nil
}

func (m *Module) ProfileRules(ctx context.Context, guildID string) ([]ProfileRule, error) {
	settings, err := m.Settings(ctx, guildID)
	return settings.ProfileRules, err
}

// DeleteProfileRule removes the rule at the 1-based index.
func (m *Module) DeleteProfileRule(ctx context.Context, guildID string, index int) (ProfileRule, error) {
	var removed ProfileRule
	_, err := m.update(ctx, guildID, func(s *Settings) error {
		if index < 1 || index > len(s.ProfileRules) {
			return ErrRuleNotFound
		}
		removed = s.ProfileRules[index-1]
		s.ProfileRules = append(s.ProfileRules[:index-1], s.ProfileRules[index:]...)
		return nil
	})
	return removed, err
}

func (m *Module) SetFetchTime(ctx context.Context, guildID string, ms int) error {
	if ms <= 0 {
		return ErrInvalidValue
	}
	_, err := m.update(ctx, guildID, func(s *Settings) error {
		s.RecentFetchTimeMs = ms
		return nil
	})
	return err
}

func (m *Module) SetEmbedFrequency(ctx context.Context, guildID string, perSecond float64) error {
	if perSecond <= 0 {
		return ErrInvalidValue
	}
	_, err := m.update(ctx, guildID, func(s *Settings) error {
		s.Frequencies.Embed = perSecond
		return nil
	})
	return err
}

func (m *Module) SetMemberDuration(ctx context.Context, guildID string, hours int) error {
	if hours < 0 {
		return ErrInvalidValue
	}
	_, err := m.update(ctx, guildID, func(s *Settings) error {
		s.Exemptions.MemberDurationHours = hours
		return nil
	})
	return err
}

func (m *Module) SetTextFrequency(ctx context.Context, guildID string, perSecond float64) error {
	if perSecond < 0 {
		return ErrInvalidValue
	}
	_, err := m.update(ctx, guildID, func(s *Settings) error {
		s.Exemptions.TextMessages = perSecond
		return nil
	})
	return err
}
