package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cogwarden/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const (
	EventPhishingDeleted = "phishing_message_deleted"
	EventPurgeKick       = "purge_member_kicked"
	EventPurgeRun        = "purge_run"
	EventMemberJailed    = "member_jailed"
	EventMemberFreed     = "member_freed"
	EventJailedLeft      = "jailed_member_left"
	EventNoteAdded       = "note_added"
	EventNoteDeleted     = "note_deleted"
	EventNoteRestored    = "note_restored"
	EventWatcherAlert    = "watcher_alert"
	EventMarkovErased    = "markov_erased"
)

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger, now: time.Now}
}

// Log records a moderation action. details are key/value pairs rendered as
// "k=v k=v".
func (l *Logger) Log(ctx context.Context, level, guildID, userID, event string, details ...string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   Details(details...),
		CreatedAt: l.now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit row not stored", zap.String("event", event), zap.Error(err))
		}
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", entry.Details))
}

// Recent returns the audit rows of a guild newer than window.
func (l *Logger) Recent(ctx context.Context, guildID string, window time.Duration) ([]storage.AuditLog, error) {
	if l.store == nil {
		return nil, nil
	}
	return l.store.ListAuditLogs(ctx, guildID, l.now().Add(-window))
}

type Report struct {
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
	// Latest holds up to the requested number of rows, newest first.
	Latest []storage.AuditLog
}

// Report summarises a guild's audit rows newer than window.
func (l *Logger) Report(ctx context.Context, guildID string, window time.Duration, latest int) (Report, error) {
	logs, err := l.Recent(ctx, guildID, window)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	if latest > len(logs) {
		latest = len(logs)
	}
	report.Latest = logs[:latest]
	return report, nil
}

// Prune drops rows older than retentionDays.
func (l *Logger) Prune(ctx context.Context, retentionDays int) error {
	if l.store == nil || retentionDays <= 0 {
		return nil
	}
	return l.store.CleanupAuditLogs(ctx, retentionDays)
}

func Details(pairs ...string) string {
	parts := make([]string, 0, len(pairs)/2+1)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%s", pairs[i], pairs[i+1]))
	}
	if len(pairs)%2 == 1 {
		parts = append(parts, pairs[len(pairs)-1])
	}
	return strings.Join(parts, " ")
}
