package purge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"cogwarden/internal/chat"
	"cogwarden/internal/config"
	"cogwarden/internal/metrics"
	"cogwarden/internal/modules/audit"
	"cogwarden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	subsystem = "purge"
	stateKey  = "state"
	pageSize  = 1000
)

var (
	ErrInvalidSchedule   = errors.New("invalid cron expression")
	ErrInvalidMinAge     = errors.New("minimum age must not be negative")
	ErrMissingPermission = errors.New("bot lacks the Kick Members permission")
)

// State is the per-guild purge document. LastRun is unix seconds UTC.
type State struct {
	Excluded   []string `json:"excluded"`
	MinAgeDays int      `json:"min_age_days"`
	Schedule   string   `json:"schedule"`
	Count      int      `json:"count"`
	LastRun    *int64   `json:"last_run"`
	Enabled    bool     `json:"enabled"`
	LogChannel string   `json:"log_channel"`
}

type Result struct {
	Eligible int
	Kicked   int
	Skipped  int
}

type Status struct {
	State
	NextRun time.Time
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Module struct {
	store   *storage.Store
	client  chat.Client
	cfg     config.PurgeConfig
	color   int
	logger  *zap.Logger
	metrics metrics.Recorder
	audit   *audit.Logger
	clock   Clock

	mu      sync.Mutex
	running map[string]*sync.Mutex
	guilds  map[string]bool // guild id -> loop launched
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(store *storage.Store, client chat.Client, cfg config.PurgeConfig, color int, logger *zap.Logger, recorder metrics.Recorder, auditLogger *audit.Logger) *Module {
	return &Module{
		store:   store,
		client:  client,
		cfg:     cfg,
		color:   color,
		logger:  logger,
		metrics: recorder,
		audit:   auditLogger,
		clock:   realClock{},
		running: make(map[string]*sync.Mutex),
		guilds:  make(map[string]bool),
	}
}

func (m *Module) WithClock(clock Clock) {
	m.clock = clock
}

func (m *Module) defaults() State {
	return State{MinAgeDays: m.cfg.DefaultMinAgeDays, Schedule: m.cfg.DefaultSchedule}
}

func (m *Module) scope(guildID string) storage.Scope {
	return storage.Guild(subsystem, guildID)
}

func (m *Module) State(ctx context.Context, guildID string) (State, error) {
	return storage.Get(ctx, m.store, m.scope(guildID), stateKey, m.defaults())
}

func (m *Module) update(ctx context.Context, guildID string, fn func(*State) error) (State, error) {
	return storage.Update(ctx, m.store, m.scope(guildID), stateKey, m.defaults(), fn)
}

func (m *Module) SetEnabled(ctx context.Context, guildID string, enabled bool) error {
	_, err := m.update(ctx, guildID, func(s *State) error {
		s.Enabled = enabled
		return nil
	})
	return err
}

func (m *Module) SetLogChannel(ctx context.Context, guildID, channelID string) error {
	_, err := m.update(ctx, guildID, func(s *State) error {
		s.LogChannel = channelID
		return nil
	})
	return err
}

func (m *Module) SetMinAge(ctx context.Context, guildID string, days int) error {
	if days < 0 {
		return ErrInvalidMinAge
	}
	_, err := m.update(ctx, guildID, func(s *State) error {
		s.MinAgeDays = days
		return nil
	})
	return err
}

func (m *Module) SetSchedule(ctx context.Context, guildID, expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	_, err := m.update(ctx, guildID, func(s *State) error {
		s.Schedule = expr
		return nil
	})
	return err
}

func (m *Module) Exclude(ctx context.Context, guildID, userID string) error {
	_, err := m.update(ctx, guildID, func(s *State) error {
		if !contains(s.Excluded, userID) {
			s.Excluded = append(s.Excluded, userID)
			sort.Strings(s.Excluded)
		}
		return nil
	})
	return err
}

func (m *Module) Include(ctx context.Context, guildID, userID string) error {
	_, err := m.update(ctx, guildID, func(s *State) error {
		out := s.Excluded[:0]
		for _, id := range s.Excluded {
			if id != userID {
				out = append(out, id)
			}
		}
		s.Excluded = out
		return nil
	})
	return err
}

func (m *Module) Status(ctx context.Context, guildID string) (Status, error) {
	state, err := m.State(ctx, guildID)
	if err != nil {
		return Status{}, err
	}
	status := Status{State: state}
	if next, err := m.nextRun(state, m.clock.Now()); err == nil {
		status.NextRun = next
	}
	return status, nil
}

// NextRun is a pure function of the schedule and the last run. Without a
// last run the base is one tick before now.
func NextRun(schedule string, lastRun *int64, now time.Time, tick time.Duration) (time.Time, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	base := now.Add(-tick)
	if lastRun != nil {
		base = time.Unix(*lastRun, 0).UTC()
	}
	return sched.Next(base.UTC()), nil
}

func (m *Module) nextRun(state State, now time.Time) (time.Time, error) {
	return NextRun(state.Schedule, state.LastRun, now, m.tick())
}

func (m *Module) tick() time.Duration {
	return time.Duration(m.cfg.TickSeconds) * time.Second
}

// Eligible reports whether member would be purged.
func Eligible(member *discordgo.Member, guildID string, state State, now time.Time, botID string) bool {
	if member == nil || member.User == nil || member.User.ID == botID {
		return false
	}
	for _, roleID := range member.Roles {
		if roleID != guildID {
			return false
		}
	}
	if contains(state.Excluded, member.User.ID) {
		return false
	}
	minAge := time.Duration(state.MinAgeDays) * 24 * time.Hour
	return now.Sub(member.JoinedAt) > minAge
}

// Simulate counts the eligible members without kicking anyone.
func (m *Module) Simulate(ctx context.Context, guildID string) (int, error) {
	unlock := m.lockGuild(guildID)
	defer unlock()

	state, err := m.State(ctx, guildID)
	if err != nil {
		return 0, err
	}
	eligible, err := m.eligible(ctx, guildID, state)
	if err != nil {
		return 0, err
	}
	m.metrics.IncPurgeRuns("simulate")
	return len(eligible), nil
}

// Execute kicks the eligible members now and adds the successful kicks to
// the guild's count.
func (m *Module) Execute(ctx context.Context, guildID string) (Result, error) {
	unlock := m.lockGuild(guildID)
	defer unlock()
	return m.run(ctx, guildID, "manual", false)
}

// Tick runs the scheduled purge for guildID when it is due. It reports
// whether a purge ran.
func (m *Module) Tick(ctx context.Context, guildID string) (bool, error) {
	unlock := m.lockGuild(guildID)
	defer unlock()

	state, err := m.State(ctx, guildID)
	if err != nil {
		return false, err
	}
	if !state.Enabled || state.LogChannel == "" {
		return false, nil
	}
	now := m.clock.Now()
	next, err := m.nextRun(state, now)
	if err != nil {
		return false, err
	}
	if now.Before(next) {
		return false, nil
	}
	if err := m.checkPermission(guildID); err != nil {
		return false, err
	}
	if _, err := m.run(ctx, guildID, "scheduled", true); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Module) run(ctx context.Context, guildID, mode string, scheduled bool) (Result, error) {
	state, err := m.State(ctx, guildID)
	if err != nil {
		return Result{}, err
	}
	eligible, err := m.eligible(ctx, guildID, state)
	if err != nil {
		return Result{}, err
	}

	result := Result{Eligible: len(eligible)}
	for _, member := range eligible {
		err := m.client.Kick(guildID, member.User.ID, "Inactive member purge")
		if err != nil {
			result.Skipped++
			if chat.IsForbidden(err) {
				m.logger.Info("purge kick forbidden", zap.String("guild_id", guildID), zap.String("user_id", member.User.ID))
			} else {
				m.logger.Warn("purge kick failed", zap.String("guild_id", guildID), zap.String("user_id", member.User.ID), zap.Error(err))
			}
			continue
		}
		result.Kicked++
		m.audit.Log(ctx, audit.LevelWarn, guildID, member.User.ID, audit.EventPurgeKick, "mode", mode)
	}

	now := m.clock.Now().UTC().Unix()
	state, err = m.update(ctx, guildID, func(s *State) error {
		s.Count += result.Kicked
		if scheduled {
			s.LastRun = &now
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	m.metrics.AddPurgeKicks(result.Kicked)
	m.metrics.IncPurgeRuns(mode)
	m.audit.Log(ctx, audit.LevelInfo, guildID, "", audit.EventPurgeRun,
		"mode", mode, "kicked", strconv.Itoa(result.Kicked), "skipped", strconv.Itoa(result.Skipped))
	if state.LogChannel != "" {
		if _, err := m.client.SendEmbed(state.LogChannel, m.summaryEmbed(mode, result, state)); err != nil {
			m.logger.Warn("purge summary not sent", zap.String("guild_id", guildID), zap.Error(err))
		}
	}
	return result, nil
}

func (m *Module) eligible(ctx context.Context, guildID string, state State) ([]*discordgo.Member, error) {
	now := m.clock.Now()
	botID := m.client.BotID()
	var out []*discordgo.Member
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := m.client.Members(guildID, after, pageSize)
		if err != nil {
			return nil, err
		}
		for _, member := range page {
			if Eligible(member, guildID, state, now, botID) {
				out = append(out, member)
			}
		}
		if len(page) < pageSize {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (m *Module) checkPermission(guildID string) error {
	guild, err := m.client.Guild(guildID)
	if err != nil {
		return err
	}
	member, err := m.client.Member(guildID, m.client.BotID())
	if err != nil {
		return err
	}
	if !chat.HasPermission(chat.GuildPermissions(guild, member), discordgo.PermissionKickMembers) {
		return ErrMissingPermission
	}
	return nil
}

func (m *Module) summaryEmbed(mode string, result Result, state State) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Purge complete",
		Description: fmt.Sprintf("Members without roles who joined more than %d days ago were removed.", state.MinAgeDays),
		Color:       m.color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Mode", Value: mode, Inline: true},
			{Name: "Kicked", Value: strconv.Itoa(result.Kicked), Inline: true},
			{Name: "Skipped", Value: strconv.Itoa(result.Skipped), Inline: true},
			{Name: "Total purged", Value: strconv.Itoa(state.Count), Inline: true},
		},
		Timestamp: m.clock.Now().UTC().Format(time.RFC3339),
	}
}

func (m *Module) lockGuild(guildID string) func() {
	m.mu.Lock()
	lock, ok := m.running[guildID]
	if !ok {
		lock = &sync.Mutex{}
		m.running[guildID] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Start prepares the scheduler and launches a loop for every guild that
// became available before it ran.
func (m *Module) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, m.cancel = context.WithCancel(ctx)
	m.group, m.ctx = errgroup.WithContext(ctx)
	for guildID, launched := range m.guilds {
		if !launched {
			m.launch(guildID)
		}
	}
}

// HandleGuildAvailable records the guild and starts its loop once the
// scheduler is running.
func (m *Module) HandleGuildAvailable(_ context.Context, guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guilds[guildID] {
		return
	}
	m.guilds[guildID] = false
	if m.group != nil {
		m.launch(guildID)
	}
}

// launch must be called with m.mu held.
func (m *Module) launch(guildID string) {
	m.guilds[guildID] = true
	ctx := m.ctx
	m.group.Go(func() error {
		m.loop(ctx, guildID)
		return nil
	})
}

// Close cancels every guild loop and waits for them to return.
func (m *Module) Close() error {
	m.mu.Lock()
	group, cancel := m.group, m.cancel
	m.mu.Unlock()
	if group == nil {
		return nil
	}
	cancel()
	return group.Wait()
}

func (m *Module) loop(ctx context.Context, guildID string) {
	ticker := time.NewTicker(m.tick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Tick(ctx, guildID); err != nil && ctx.Err() == nil {
				m.logger.Warn("purge tick skipped", zap.String("guild_id", guildID), zap.Error(err))
			}
		}
	}
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
