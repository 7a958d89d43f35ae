package watcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"cogwarden/internal/chat"
	"cogwarden/internal/config"
	"cogwarden/internal/metrics"
	"cogwarden/internal/modules/audit"
	"cogwarden/internal/storage"
	"cogwarden/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/coocood/freecache"
	"go.uber.org/zap"
)

const (
	RuleVoice   = "voice"
	RuleProfile = "profile"
	RuleEmbed   = "embed"

	memberPage = 1000
)

// ModChecker reports whether a member is exempt as a moderator.
type ModChecker interface {
	IsMod(guildID string, member *discordgo.Member) bool
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Module struct {
	store   *storage.Store
	client  chat.Client
	mods    ModChecker
	cfg     config.WatcherConfig
	colors  config.EmbedColors
	logger  *zap.Logger
	metrics metrics.Recorder
	audit   *audit.Logger
	clock   Clock

	windows  *utils.WindowSet
	alerted  *freecache.Cache
	patterns sync.Map
}

func New(store *storage.Store, client chat.Client, mods ModChecker, cfg config.WatcherConfig, colors config.EmbedColors, logger *zap.Logger, recorder metrics.Recorder, auditLogger *audit.Logger) *Module {
	return &Module{
		store:   store,
		client:  client,
		mods:    mods,
		cfg:     cfg,
		colors:  colors,
		logger:  logger,
		metrics: recorder,
		audit:   auditLogger,
		clock:   realClock{},
		windows: utils.NewWindowSet(),
		alerted: freecache.NewCache(cfg.CacheSizeMB * 1024 * 1024),
	}
}

func (m *Module) WithClock(clock Clock) {
	m.clock = clock
}

// HandleVoiceState alerts once when a new member starts streaming or turns
// their camera on.
func (m *Module) HandleVoiceState(ctx context.Context, event *discordgo.VoiceStateUpdate) {
	if event == nil || event.VoiceState == nil || event.GuildID == "" {
		return
	}
	if !event.SelfStream && !event.SelfVideo {
		return
	}
	settings, member, ok := m.prepare(ctx, event.GuildID, event.UserID, event.Member)
	if !ok {
		return
	}
	joinedFor := m.clock.Now().Sub(member.JoinedAt)
	if joinedFor >= time.Duration(settings.VoiceMinJoinedHours)*time.Hour {
		return
	}
	key := "voice:" + event.GuildID + ":" + event.UserID
	if !m.claim(key, m.cfg.VoiceSuppressHours*3600) {
		return
	}
	activity := "camera"
	if event.SelfStream {
		activity = "stream"
	}
	reason := fmt.Sprintf("Started a %s %s after joining.", activity, humanDuration(joinedFor))
	m.alert(ctx, event.GuildID, settings, RuleVoice, member, reason, LevelLow)
}

// HandleMemberJoin checks the profile rules against the new member.
func (m *Module) HandleMemberJoin(ctx context.Context, event *discordgo.GuildMemberAdd) {
	if event == nil || event.Member == nil || event.User == nil || event.User.Bot {
		return
	}
	settings, member, ok := m.prepare(ctx, event.GuildID, event.User.ID, event.Member)
	if !ok {
		return
	}
	m.checkProfile(ctx, event.GuildID, settings, member, false)
}

// HandleMemberUpdate re-checks the nickname rules when a nickname changes.
func (m *Module) HandleMemberUpdate(ctx context.Context, event *discordgo.GuildMemberUpdate) {
	if event == nil || event.Member == nil || event.User == nil || event.User.Bot || event.BeforeUpdate == nil {
		return
	}
	if event.Nick == "" || event.Nick == event.BeforeUpdate.Nick {
		return
	}
	settings, member, ok := m.prepare(ctx, event.GuildID, event.User.ID, event.Member)
	if !ok {
		return
	}
	member.Nick = event.Nick
	m.checkProfile(ctx, event.GuildID, settings, member, true)
}

func (m *Module) checkProfile(ctx context.Context, guildID string, settings Settings, member *discordgo.Member, nickOnly bool) {
	for _, rule := range settings.ProfileRules {
		if nickOnly && !rule.CheckNick {
			continue
		}
		re, err := m.compile(rule.Pattern)
		if err != nil {
			m.logger.Warn("profile rule skipped", zap.String("pattern", rule.Pattern), zap.Error(err))
			continue
		}
		matched := !nickOnly && re.MatchString(member.User.Username)
		if !matched && rule.CheckNick && member.Nick != "" {
			matched = re.MatchString(member.Nick)
		}
		if !matched {
			continue
		}
		reason := rule.Reason
		if reason == "" {
			reason = "Matched " + rule.Pattern
		}
		m.alert(ctx, guildID, settings, RuleProfile, member, reason, rule.Level)
	}
}

// HandleMessage records attachments and embeds, or a text-only message, and
// evaluates the embed rule.
func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.MessageCreate) {
	if msg == nil || msg.Message == nil || msg.GuildID == "" || msg.Author == nil || msg.Author.Bot {
		return
	}
	m.observe(ctx, msg.GuildID, msg.Author.ID, msg.Member, len(msg.Attachments)+len(msg.Embeds), true)
}

// HandleMessageEdit counts only the attachments and embeds an edit added.
func (m *Module) HandleMessageEdit(ctx context.Context, msg *discordgo.MessageUpdate) {
	if msg == nil || msg.Message == nil || msg.BeforeUpdate == nil || msg.GuildID == "" {
		return
	}
	author := msg.Author
	if author == nil {
		author = msg.BeforeUpdate.Author
	}
	if author == nil || author.Bot {
		return
	}
	added := len(msg.Attachments) + len(msg.Embeds) - len(msg.BeforeUpdate.Attachments) - len(msg.BeforeUpdate.Embeds)
	if added <= 0 {
		return
	}
	m.observe(ctx, msg.GuildID, author.ID, msg.Member, added, false)
}

func (m *Module) observe(ctx context.Context, guildID, userID string, partial *discordgo.Member, embeds int, countText bool) {
	settings, member, ok := m.prepare(ctx, guildID, userID, partial)
	if !ok {
		return
	}
	now := m.clock.Now()
	window := time.Duration(settings.RecentFetchTimeMs) * time.Millisecond
	key := guildID + ":" + userID
	if embeds == 0 {
		if countText {
			m.windows.Get(key+":text", window).Add(now)
		}
		return
	}

	embedWindow := m.windows.Get(key+":embed", window)
	embedWindow.AddN(now, embeds)
	frequency := embedWindow.Frequency(now)
	if frequency <= settings.Frequencies.Embed {
		return
	}
	if m.exempt(settings, member, key, window, now) {
		return
	}
	if m.cfg.AlertCooldownSeconds > 0 && !m.claim("embed:"+key, m.cfg.AlertCooldownSeconds) {
		return
	}
	reason := fmt.Sprintf("Posted attachments or embeds at %.2f/s (limit %.2f/s).", frequency, settings.Frequencies.Embed)
	m.alert(ctx, guildID, settings, RuleEmbed, member, reason, LevelHigh)
}

// exempt reports whether an established, chatty member is excused from the
// embed rule.
func (m *Module) exempt(settings Settings, member *discordgo.Member, key string, window time.Duration, now time.Time) bool {
	minAge := time.Duration(settings.Exemptions.MemberDurationHours) * time.Hour
	if now.Sub(member.JoinedAt) < minAge {
		return false
	}
	text := m.windows.Get(key+":text", window).Frequency(now)
	return text >= settings.Exemptions.TextMessages
}

// prepare loads the guild settings and the full member. ok is false when
// alerts are off or the member is a moderator.
func (m *Module) prepare(ctx context.Context, guildID, userID string, partial *discordgo.Member) (Settings, *discordgo.Member, bool) {
	settings, err := m.Settings(ctx, guildID)
	if err != nil {
		m.logger.Warn("watcher settings unavailable", zap.String("guild_id", guildID), zap.Error(err))
		return Settings{}, nil, false
	}
	if settings.LogChannel == "" {
		return settings, nil, false
	}
	member, err := m.client.Member(guildID, userID)
	if err != nil {
		if partial == nil || partial.User == nil {
			return settings, nil, false
		}
		member = partial
	}
	if m.mods != nil && m.mods.IsMod(guildID, member) {
		return settings, nil, false
	}
	return settings, member, true
}

// claim marks key for ttl seconds. It is false when key is already marked.
func (m *Module) claim(key string, ttl int) bool {
	if _, err := m.alerted.Get([]byte(key)); err == nil {
		return false
	}
	if err := m.alerted.Set([]byte(key), []byte{1}, ttl); err != nil {
		m.logger.Debug("alert suppression not stored", zap.String("key", key), zap.Error(err))
	}
	return true
}

func (m *Module) compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := m.patterns.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	m.patterns.Store(pattern, re)
	return re, nil
}

func (m *Module) alert(ctx context.Context, guildID string, settings Settings, rule string, member *discordgo.Member, reason, level string) {
	color := m.colors.Action
	var pings []string
	if level == LevelHigh {
		color = m.colors.Warning
		pings = m.responders(guildID, settings.LogChannel)
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Watcher: " + rule,
		Description: reason,
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Member", Value: fmt.Sprintf("<@%s> (%s)", member.User.ID, member.User.Username), Inline: true},
			{Name: "Level", Value: level, Inline: true},
			{Name: "Joined", Value: fmt.Sprintf("<t:%d:R>", member.JoinedAt.Unix()), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "User ID " + member.User.ID},
		Timestamp: m.clock.Now().UTC().Format(time.RFC3339),
	}
	send := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
	if len(pings) > 0 {
		mentions := make([]string, len(pings))
		for i, id := range pings {
			mentions[i] = "<@" + id + ">"
		}
		send.Content = strings.Join(mentions, " ")
	}
	if _, err := m.client.Send(settings.LogChannel, send); err != nil {
		m.logger.Warn("watcher alert not sent", zap.String("guild_id", guildID), zap.String("rule", rule), zap.Error(err))
		return
	}
	m.metrics.IncWatcherAlerts(rule)
	m.audit.Log(ctx, audit.LevelWarn, guildID, member.User.ID, audit.EventWatcherAlert, "rule", rule, "level", level)
}

// responders lists the non-bot members who can see channelID, preferring
// those online or idle.
func (m *Module) responders(guildID, channelID string) []string {
	var online, all []string
	after := ""
	for {
		page, err := m.client.Members(guildID, after, memberPage)
		if err != nil {
			m.logger.Warn("watcher responders unavailable", zap.String("guild_id", guildID), zap.Error(err))
			break
		}
		for _, member := range page {
			if member.User == nil || member.User.Bot {
				continue
			}
			perms, err := m.client.Permissions(member.User.ID, channelID)
			if err != nil || !chat.HasPermission(perms, discordgo.PermissionViewChannel) {
				continue
			}
			all = append(all, member.User.ID)
			switch m.client.Presence(guildID, member.User.ID) {
			case discordgo.StatusOnline, discordgo.StatusIdle:
				online = append(online, member.User.ID)
			}
		}
		if len(page) < memberPage {
			break
		}
		after = page[len(page)-1].User.ID
	}
	if len(online) > 0 {
		return online
	}
	return all
}

// Run prunes idle windows until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := m.windows.Prune(m.clock.Now()); removed > 0 {
				m.logger.Debug("watcher windows pruned", zap.Int("removed", removed))
			}
		}
	}
}

// Tracked reports how many sliding windows are live.
func (m *Module) Tracked() int {
	return m.windows.Len()
}

func humanDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	return fmt.Sprintf("%.1f hours", d.Hours())
}
