package purge

import (
	"context"
	"strings"
	"testing"
	"time"

	"cogwarden/internal/chat"
	"cogwarden/internal/chat/chattest"
	"cogwarden/internal/config"
	"cogwarden/internal/metrics"
	"cogwarden/internal/modules/audit"
	"cogwarden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestModule(t *testing.T, recorder metrics.Recorder) (*Module, *chattest.Fake, *fakeClock) {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(store.Close)

	client := chattest.New("bot")
	client.AddGuild("g1", "bot")
	client.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "bot"}, JoinedAt: time.Unix(0, 0)})

	clock := &fakeClock{now: time.Date(2024, 3, 10, 0, 0, 30, 0, time.UTC)}
	m := New(store, client, config.DefaultConfig().Purge, 0xF59E0B, zap.NewNop(), recorder, audit.NewLogger(store, zap.NewNop()))
	m.WithClock(clock)
	return m, client, clock
}

func addMember(client *chattest.Fake, id string, joined time.Time, roles ...string) {
	client.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: id}, JoinedAt: joined, Roles: roles})
}

func TestScenarioSimulateAndExecute(t *testing.T) {
	m, client, clock := newTestModule(t, metrics.Noop{})
	ctx := context.Background()
	day := 24 * time.Hour

	addMember(client, "u1", clock.now.Add(-10*day))
	addMember(client, "u2", clock.now.Add(-10*day))
	addMember(client, "u3", clock.now.Add(-10*day), "roleX")
	addMember(client, "u4", clock.now.Add(-1*day))

	require.NoError(t, m.SetMinAge(ctx, "g1", 5))
	require.NoError(t, m.Exclude(ctx, "g1", "u1"))

	eligible, err := m.Simulate(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, eligible)
	assert.Empty(t, client.Kicked())

	result, err := m.Execute(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, Result{Eligible: 1, Kicked: 1}, result)
	assert.Equal(t, []string{"u2"}, client.Kicked())

	state, err := m.State(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
	assert.Nil(t, state.LastRun)
}

func TestExecuteTwiceCountsOnce(t *testing.T) {
	m, client, clock := newTestModule(t, metrics.Noop{})
	ctx := context.Background()
	addMember(client, "u1", clock.now.Add(-30*24*time.Hour))

	_, err := m.Execute(ctx, "g1")
	require.NoError(t, err)
	_, err = m.Execute(ctx, "g1")
	require.NoError(t, err)

	state, err := m.State(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
}

func TestForbiddenKickIsSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := metrics.New(reg)
	m, client, clock := newTestModule(t, recorder)
	ctx := context.Background()
	old := clock.now.Add(-30 * 24 * time.Hour)
	addMember(client, "u1", old)
	addMember(client, "u2", old)
	client.SetError("kick", "u1", chat.ErrForbidden)

	result, err := m.Execute(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, Result{Eligible: 2, Kicked: 1, Skipped: 1}, result)

	state, err := m.State(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
	expected := `
# HELP cogwarden_purge_kicks_total Members kicked by the purge engine
# TYPE cogwarden_purge_kicks_total counter
cogwarden_purge_kicks_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cogwarden_purge_kicks_total"))
}

func TestEligible(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	state := State{MinAgeDays: 14, Excluded: []string{"excluded"}}
	member := func(id string, age time.Duration, roles ...string) *discordgo.Member {
		return &discordgo.Member{User: &discordgo.User{ID: id}, JoinedAt: now.Add(-age), Roles: roles}
	}
	day := 24 * time.Hour

	cases := []struct {
		name   string
		member *discordgo.Member
		want   bool
	}{
		{"old without roles", member("u", 15*day), true},
		{"everyone role only", member("u", 15*day, "g1"), true},
		{"has a role", member("u", 15*day, "r1"), false},
		{"exactly min age", member("u", 14*day), false},
		{"too new", member("u", day), false},
		{"excluded", member("excluded", 15*day), false},
		{"bot", member("bot", 15*day), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Eligible(tc.member, "g1", state, now, "bot"))
		})
	}
}

func TestTickRunsWhenDue(t *testing.T) {
	m, client, clock := newTestModule(t, metrics.Noop{})
	ctx := context.Background()
	addMember(client, "u1", clock.now.Add(-30*24*time.Hour))

	ran, err := m.Tick(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ran, "disabled guild must not run")

	require.NoError(t, m.SetEnabled(ctx, "g1", true))
	ran, err = m.Tick(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ran, "no log channel")
	state, err := m.State(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, state.LastRun)

	require.NoError(t, m.SetLogChannel(ctx, "g1", "log"))
	ran, err = m.Tick(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []string{"u1"}, client.Kicked())
	require.Len(t, client.SentTo("log"), 1)
	assert.Equal(t, "Purge complete", client.SentTo("log")[0].Embeds[0].Title)

	state, err = m.State(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, state.LastRun)
	assert.Equal(t, clock.now.Unix(), *state.LastRun)

	clock.Advance(time.Minute)
	ran, err = m.Tick(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ran, "next run is tomorrow")

	clock.Advance(24 * time.Hour)
	ran, err = m.Tick(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestTickNotDue(t *testing.T) {
	m, _, clock := newTestModule(t, metrics.Noop{})
	ctx := context.Background()
	clock.now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.SetEnabled(ctx, "g1", true))
	require.NoError(t, m.SetLogChannel(ctx, "g1", "log"))

	ran, err := m.Tick(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestTickRequiresKickPermission(t *testing.T) {
	m, client, _ := newTestModule(t, metrics.Noop{})
	ctx := context.Background()
	client.AddGuild("g2", "owner")
	client.AddMember("g2", &discordgo.Member{User: &discordgo.User{ID: "bot"}})
	require.NoError(t, m.SetEnabled(ctx, "g2", true))
	require.NoError(t, m.SetLogChannel(ctx, "g2", "log"))

	ran, err := m.Tick(ctx, "g2")
	assert.ErrorIs(t, err, ErrMissingPermission)
	assert.False(t, ran)

	state, err := m.State(ctx, "g2")
	require.NoError(t, err)
	assert.Nil(t, state.LastRun)
}

func TestNextRun(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	next, err := NextRun("0 0 * * *", nil, now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), next)

	last := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix()
	next, err = NextRun("0 0 * * *", &last, now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), next)

	_, err = NextRun("every day", nil, now, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestSettings(t *testing.T) {
	m, _, _ := newTestModule(t, metrics.Noop{})
	ctx := context.Background()

	assert.ErrorIs(t, m.SetSchedule(ctx, "g1", "61 * * * *"), ErrInvalidSchedule)
	require.NoError(t, m.SetSchedule(ctx, "g1", "30 4 * * 1"))
	assert.ErrorIs(t, m.SetMinAge(ctx, "g1", -1), ErrInvalidMinAge)

	require.NoError(t, m.Exclude(ctx, "g1", "u2"))
	require.NoError(t, m.Exclude(ctx, "g1", "u1"))
	require.NoError(t, m.Exclude(ctx, "g1", "u1"))
	require.NoError(t, m.Include(ctx, "g1", "u2"))

	status, err := m.Status(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "30 4 * * 1", status.Schedule)
	assert.Equal(t, 14, status.MinAgeDays)
	assert.Equal(t, []string{"u1"}, status.Excluded)
	assert.False(t, status.Enabled)
	assert.Equal(t, time.Date(2024, 3, 11, 4, 30, 0, 0, time.UTC), status.NextRun)
}

func TestSchedulerLifecycle(t *testing.T) {
	m, _, _ := newTestModule(t, metrics.Noop{})
	m.Start(context.Background())
	m.HandleGuildAvailable(context.Background(), "g1")
	m.HandleGuildAvailable(context.Background(), "g1")
	assert.Equal(t, map[string]bool{"g1": true}, m.guilds)
	require.NoError(t, m.Close())
}

func TestGuildsAvailableBeforeStartGetLoops(t *testing.T) {
	m, _, _ := newTestModule(t, metrics.Noop{})
	ctx := context.Background()

	m.HandleGuildAvailable(ctx, "g1")
	m.HandleGuildAvailable(ctx, "g2")
	assert.Equal(t, map[string]bool{"g1": false, "g2": false}, m.guilds)

	m.Start(ctx)
	assert.Equal(t, map[string]bool{"g1": true, "g2": true}, m.guilds)

	m.HandleGuildAvailable(ctx, "g3")
	assert.True(t, m.guilds["g3"])
	require.NoError(t, m.Close())
}
