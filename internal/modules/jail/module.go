package jail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"cogwarden/internal/chat"
	"cogwarden/internal/metrics"
	"cogwarden/internal/modules/audit"
	"cogwarden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	subsystem   = "jail"
	settingsKey = "settings"
	recordsKey  = "records"
	rolePrefix  = "Jail:"
)

var (
	ErrNotConfigured    = errors.New("jail category has not been set up")
	ErrAlreadyJailed    = errors.New("member is already jailed")
	ErrNotJailed        = errors.New("member is not jailed")
	ErrInvalidArchiveID = errors.New("archive id is not a valid uuid")
	ErrArchiveNotFound  = errors.New("archive not found")
)

type Settings struct {
	Category string `json:"category"`
}

// Record is one jail episode. Timestamp is unix seconds UTC.
type Record struct {
	Timestamp  int64    `json:"timestamp"`
	ChannelID  string   `json:"channel_id"`
	RoleID     string   `json:"role_id"`
	Active     bool     `json:"active"`
	Jailer     string   `json:"jailer"`
	PriorRoles []string `json:"prior_roles"`
	ArchiveID  *string  `json:"archive_id"`
}

// Exporter renders a channel's history as an HTML document.
type Exporter interface {
	Export(ctx context.Context, channelID, title string) (string, error)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Module struct {
	store      *storage.Store
	client     chat.Client
	exporter   Exporter
	archiveDir string
	topic      string
	logger     *zap.Logger
	metrics    metrics.Recorder
	audit      *audit.Logger
	clock      Clock
}

func New(store *storage.Store, client chat.Client, exporter Exporter, archiveDir, topic string, logger *zap.Logger, recorder metrics.Recorder, auditLogger *audit.Logger) *Module {
	return &Module{
		store:      store,
		client:     client,
		exporter:   exporter,
		archiveDir: archiveDir,
		topic:      topic,
		logger:     logger,
		metrics:    recorder,
		audit:      auditLogger,
		clock:      realClock{},
	}
}

func (m *Module) WithClock(clock Clock) {
	m.clock = clock
}

func (m *Module) Setup(ctx context.Context, guildID, categoryID string) error {
	return storage.Set(ctx, m.store, storage.Guild(subsystem, guildID), settingsKey, Settings{Category: categoryID})
}

func (m *Module) Settings(ctx context.Context, guildID string) (Settings, error) {
	return storage.Get(ctx, m.store, storage.Guild(subsystem, guildID), settingsKey, Settings{})
}

func (m *Module) updateRecords(ctx context.Context, guildID, userID string, fn func(*[]Record) error) ([]Record, error) {
	return storage.Update(ctx, m.store, storage.Member(subsystem, guildID, userID), recordsKey, []Record(nil), fn)
}

// Jail isolates the member in a private channel behind a fresh role. The
// whole operation runs inside the member's scoped write so concurrent jails
// of one member cannot both succeed.
func (m *Module) Jail(ctx context.Context, guildID, userID, jailerID string) (Record, error) {
	settings, err := m.Settings(ctx, guildID)
	if err != nil {
		return Record{}, err
	}
	if settings.Category == "" {
		return Record{}, ErrNotConfigured
	}

	var created Record
	_, err = m.updateRecords(ctx, guildID, userID, func(records *[]Record) error {
		if activeIndex(*records) >= 0 {
			return ErrAlreadyJailed
		}
		member, err := m.client.Member(guildID, userID)
		if err != nil {
			return fmt.Errorf("load member: %w", err)
		}
		roles, err := m.client.Roles(guildID)
		if err != nil {
			return fmt.Errorf("load roles: %w", err)
		}
		prior := removableRoles(member.Roles, roles, guildID)

		record, err := m.provision(guildID, member, settings.Category, prior)
		if err != nil {
			return err
		}
		record.Jailer = jailerID
		record.Timestamp = m.clock.Now().UTC().Unix()
		*records = append(*records, record)
		created = record
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	m.metrics.IncJailOperations("jail")
	m.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventMemberJailed,
		"jailer", jailerID, "channel", created.ChannelID, "prior_roles", strings.Join(created.PriorRoles, ","))
	welcome := fmt.Sprintf("<@%s> you have been placed in timeout by <@%s>.", userID, jailerID)
	if _, err := m.client.Send(created.ChannelID, &discordgo.MessageSend{Content: welcome}); err != nil {
		m.logger.Warn("jail welcome not sent", zap.String("channel_id", created.ChannelID), zap.Error(err))
	}
	return created, nil
}

// provision creates the role and channel and swaps the member's roles. On
// failure everything created so far is undone best-effort.
func (m *Module) provision(guildID string, member *discordgo.Member, category string, prior []string) (Record, error) {
	name := displayName(member)
	mentionable := false
	var noPerms int64
	role, err := m.client.CreateRole(guildID, &discordgo.RoleParams{
		Name:        rolePrefix + name,
		Mentionable: &mentionable,
		Permissions: &noPerms,
	})
	if err != nil {
		return Record{}, fmt.Errorf("create jail role: %w", err)
	}

	channel, err := m.client.CreateChannel(guildID, discordgo.GuildChannelCreateData{
		Name:     channelName(name) + "-timeout",
		Type:     discordgo.ChannelTypeGuildText,
		Topic:    m.topic,
		ParentID: category,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
			{
				ID:    role.ID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory,
			},
		},
	})
	if err != nil {
		m.rollback(guildID, member.User.ID, role.ID, "", nil)
		return Record{}, fmt.Errorf("create jail channel: %w", err)
	}

	var removed []string
	for _, roleID := range prior {
		if err := m.client.RemoveRole(guildID, member.User.ID, roleID); err != nil {
			m.rollback(guildID, member.User.ID, role.ID, channel.ID, removed)
			return Record{}, fmt.Errorf("strip role %s: %w", roleID, err)
		}
		removed = append(removed, roleID)
	}
	if err := m.client.AddRole(guildID, member.User.ID, role.ID); err != nil {
		m.rollback(guildID, member.User.ID, role.ID, channel.ID, removed)
		return Record{}, fmt.Errorf("add jail role: %w", err)
	}

	return Record{
		ChannelID:  channel.ID,
		RoleID:     role.ID,
		Active:     true,
		PriorRoles: prior,
	}, nil
}

func (m *Module) rollback(guildID, userID, roleID, channelID string, removed []string) {
	for _, id := range removed {
		if err := m.client.AddRole(guildID, userID, id); err != nil {
			m.logger.Warn("rollback: role not restored", zap.String("role_id", id), zap.Error(err))
		}
	}
	if channelID != "" {
		if err := m.client.DeleteChannel(channelID); err != nil {
			m.logger.Warn("rollback: channel not deleted", zap.String("channel_id", channelID), zap.Error(err))
		}
	}
	if err := m.client.DeleteRole(guildID, roleID); err != nil {
		m.logger.Warn("rollback: role not deleted", zap.String("role_id", roleID), zap.Error(err))
	}
}

// Free restores the member's roles, archives the jail channel and closes the
// active record.
func (m *Module) Free(ctx context.Context, guildID, userID, moderatorID string) (Record, error) {
	var closed Record
	var written string
	_, err := m.updateRecords(ctx, guildID, userID, func(records *[]Record) error {
		idx := activeIndex(*records)
		if idx < 0 {
			return ErrNotJailed
		}
		record := (*records)[idx]

		archiveID, err := m.archive(ctx, record.ChannelID, userID)
		switch {
		case chat.IsNotFound(err):
			// the jail channel is gone; free the member without a transcript
			m.logger.Warn("jail channel missing, no transcript", zap.String("guild_id", guildID),
				zap.String("channel_id", record.ChannelID), zap.Error(err))
		case err != nil:
			return err
		default:
			written = archiveID
		}
		m.restoreRoles(guildID, userID, record)

		if err := m.client.DeleteChannel(record.ChannelID); err != nil && !chat.IsNotFound(err) {
			m.logger.Warn("jail channel not deleted", zap.String("channel_id", record.ChannelID), zap.Error(err))
		}
		if err := m.client.DeleteRole(guildID, record.RoleID); err != nil && !chat.IsNotFound(err) {
			m.logger.Warn("jail role not deleted", zap.String("role_id", record.RoleID), zap.Error(err))
		}

		record.Active = false
		if written != "" {
			record.ArchiveID = &written
		}
		(*records)[idx] = record
		closed = record
		return nil
	})
	if err != nil {
		if written != "" {
			if rmErr := os.Remove(m.archivePath(written)); rmErr != nil {
				m.logger.Warn("orphan transcript not removed", zap.String("archive_id", written), zap.Error(rmErr))
			}
		}
		return Record{}, err
	}

	archive := ""
	if closed.ArchiveID != nil {
		archive = *closed.ArchiveID
	}
	m.metrics.IncJailOperations("free")
	m.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventMemberFreed,
		"moderator", moderatorID, "archive", archive)
	return closed, nil
}

// archive writes the transcript to <archiveDir>/<uuid>.html. The export and
// write ignore cancellation so a shutdown cannot leave a partial file.
func (m *Module) archive(ctx context.Context, channelID, userID string) (string, error) {
	ctx = context.WithoutCancel(ctx)
	html, err := m.exporter.Export(ctx, channelID, "Timeout transcript for "+userID)
	if err != nil {
		return "", fmt.Errorf("export transcript: %w", err)
	}
	if err := os.MkdirAll(m.archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(m.archivePath(id), []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return id, nil
}

func (m *Module) restoreRoles(guildID, userID string, record Record) {
	if _, err := m.client.Member(guildID, userID); err != nil {
		m.logger.Info("jailed member no longer in guild", zap.String("guild_id", guildID), zap.String("user_id", userID))
		return
	}
	existing := map[string]bool{}
	if roles, err := m.client.Roles(guildID); err == nil {
		for _, role := range roles {
			existing[role.ID] = true
		}
	}
	for _, roleID := range record.PriorRoles {
		if !existing[roleID] {
			continue
		}
		if err := m.client.AddRole(guildID, userID, roleID); err != nil {
			m.logger.Warn("prior role not restored", zap.String("user_id", userID), zap.String("role_id", roleID), zap.Error(err))
		}
	}
	if err := m.client.RemoveRole(guildID, userID, record.RoleID); err != nil && !chat.IsNotFound(err) {
		m.logger.Warn("jail role not removed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Archives lists the member's records oldest first.
func (m *Module) Archives(ctx context.Context, guildID, userID string) ([]Record, error) {
	records, err := storage.Get(ctx, m.store, storage.Member(subsystem, guildID, userID), recordsKey, []Record(nil))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })
	return records, nil
}

// Active returns the member's open record, if any.
func (m *Module) Active(ctx context.Context, guildID, userID string) (Record, bool, error) {
	records, err := m.Archives(ctx, guildID, userID)
	if err != nil {
		return Record{}, false, err
	}
	if idx := activeIndex(records); idx >= 0 {
		return records[idx], true, nil
	}
	return Record{}, false, nil
}

// FetchArchive returns the file name and contents of a stored transcript.
func (m *Module) FetchArchive(raw string) (string, []byte, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", nil, ErrInvalidArchiveID
	}
	name := id.String() + ".html"
	data, err := os.ReadFile(m.archivePath(id.String()))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, ErrArchiveNotFound
	}
	if err != nil {
		return "", nil, err
	}
	return name, data, nil
}

// HandleMemberRemove flags members who leave while jailed.
func (m *Module) HandleMemberRemove(ctx context.Context, member *discordgo.GuildMemberRemove) {
	if member == nil || member.Member == nil || member.User == nil {
		return
	}
	record, active, err := m.Active(ctx, member.GuildID, member.User.ID)
	if err != nil {
		m.logger.Warn("jail records unavailable", zap.String("guild_id", member.GuildID), zap.Error(err))
		return
	}
	if !active {
		return
	}
	m.audit.Log(ctx, audit.LevelCrit, member.GuildID, member.User.ID, audit.EventJailedLeft, "channel", record.ChannelID)
	notice := fmt.Sprintf("<@%s> left the server while jailed.", member.User.ID)
	if _, err := m.client.Send(record.ChannelID, &discordgo.MessageSend{Content: notice}); err != nil {
		m.logger.Warn("jail leave notice not sent", zap.String("channel_id", record.ChannelID), zap.Error(err))
	}
}

func (m *Module) archivePath(id string) string {
	return filepath.Join(m.archiveDir, id+".html")
}

func activeIndex(records []Record) int {
	for i, record := range records {
		if record.Active {
			return i
		}
	}
	return -1
}

// removableRoles drops @everyone and roles Discord manages, which cannot be
// removed from a member.
func removableRoles(memberRoles []string, guildRoles []*discordgo.Role, guildID string) []string {
	managed := map[string]bool{}
	for _, role := range guildRoles {
		if role.Managed {
			managed[role.ID] = true
		}
	}
	out := make([]string, 0, len(memberRoles))
	for _, id := range memberRoles {
		if id == guildID || managed[id] {
			continue
		}
		out = append(out, id)
	}
	return out
}

func displayName(member *discordgo.Member) string {
	if member.User != nil && member.User.Username != "" {
		return member.User.Username
	}
	return member.User.ID
}

func channelName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '.':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "jailed"
	}
	return b.String()
}
