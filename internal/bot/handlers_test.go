package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cogwarden/internal/chat/chattest"
	"cogwarden/internal/config"
	"cogwarden/internal/metrics"
	"cogwarden/internal/modules/audit"
	"cogwarden/internal/modules/notes"
	"cogwarden/internal/modules/watcher"
	"cogwarden/internal/prompt"
	"cogwarden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testBot struct {
	bot    *Bot
	client *chattest.Fake
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(store.Close)

	now := time.Now().UTC()
	client := chattest.New("bot")
	client.AddGuild("g1", "owner")
	client.AddGuildRole("g1", &discordgo.Role{ID: "rMod", Permissions: discordgo.PermissionKickMembers})
	client.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "owner"}, JoinedAt: now})
	client.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "mod"}, Roles: []string{"rMod"}, JoinedAt: now.Add(-90 * 24 * time.Hour)})
	client.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "idle"}, JoinedAt: now.Add(-60 * 24 * time.Hour)})
	client.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "fresh"}, JoinedAt: now.Add(-24 * time.Hour)})

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Phishing.Enabled = false
	b := newBot(cfg, zap.NewNop(), client, store, audit.NewLogger(store, zap.NewNop()), metrics.Noop{})
	return &testBot{bot: b, client: client}
}

func member(userID string, roles ...string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roles}
}

func opt(name string, kind discordgo.ApplicationCommandOptionType, value any) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: kind, Value: value}
}

func subOpt(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionSubCommand, Options: opts}
}

func groupOpt(name string, sub *discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionSubCommandGroup, Options: []*discordgo.ApplicationCommandInteractionDataOption{sub}}
}

func interaction(guildID string, caller *discordgo.Member, command string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	i := &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   guildID,
		ChannelID: "general",
		Data:      discordgo.ApplicationCommandInteractionData{Name: command, Options: opts},
	}
	if guildID == "" {
		i.User = caller.User
	} else {
		i.Member = caller
	}
	return i
}

func (tb *testBot) run(t *testing.T, i *discordgo.Interaction) (reply, error) {
	t.Helper()
	return tb.bot.execute(context.Background(), newInvocation(i))
}

func TestNewInvocationFlattensSubcommands(t *testing.T) {
	i := interaction("g1", member("owner"), "watcher",
		groupOpt("profilewatch", subOpt("add",
			opt("pattern", discordgo.ApplicationCommandOptionString, "  free nitro "),
			opt("level", discordgo.ApplicationCommandOptionString, "HIGH"),
			opt("check_nick", discordgo.ApplicationCommandOptionBoolean, true),
		)),
	)
	inv := newInvocation(i)
	assert.Equal(t, "watcher profilewatch add", inv.path)
	assert.Equal(t, "owner", inv.userID)
	assert.Equal(t, "free nitro", inv.str("pattern"))
	assert.True(t, inv.boolean("check_nick"))
	assert.False(t, inv.has("reason"))
	assert.Equal(t, "", inv.str("reason"))

	dm := newInvocation(interaction("", member("u1"), "markov", subOpt("generate")))
	assert.Equal(t, "markov generate", dm.path)
	assert.Equal(t, "u1", dm.userID)
}

func TestInvocationNumbers(t *testing.T) {
	inv := newInvocation(interaction("g1", member("owner"), "purge",
		subOpt("setminage", opt("days", discordgo.ApplicationCommandOptionInteger, float64(30))),
	))
	days, err := inv.integer("days")
	require.NoError(t, err)
	assert.Equal(t, 30, days)

	_, err = inv.integer("missing")
	assert.ErrorIs(t, err, errMissingInput)
	_, err = inv.number("days")
	assert.NoError(t, err)
}

func TestEveryCommandHasARoute(t *testing.T) {
	b := newTestBot(t).bot
	var paths []string
	var walk func(prefix string, opts []*discordgo.ApplicationCommandOption)
	walk = func(prefix string, opts []*discordgo.ApplicationCommandOption) {
		for _, o := range opts {
			switch o.Type {
			case discordgo.ApplicationCommandOptionSubCommand:
				paths = append(paths, prefix+" "+o.Name)
			case discordgo.ApplicationCommandOptionSubCommandGroup:
				walk(prefix+" "+o.Name, o.Options)
			}
		}
	}
	for _, cmd := range Commands() {
		walk(cmd.Name, cmd.Options)
	}

	for _, path := range paths {
		assert.Contains(t, b.routes, path)
	}
	assert.Len(t, b.routes, len(paths))
}

func TestNotesCommandFlow(t *testing.T) {
	tb := newTestBot(t)
	mod := member("mod", "rMod")

	out, err := tb.run(t, interaction("g1", mod, "notes", subOpt("add",
		opt("user", discordgo.ApplicationCommandOptionUser, "idle"),
		opt("text", discordgo.ApplicationCommandOptionString, "posted invite links"),
	)))
	require.NoError(t, err)
	require.Len(t, out.embeds, 1)
	assert.Contains(t, out.embeds[0].Description, "Note #1")

	_, err = tb.run(t, interaction("g1", mod, "warnings", subOpt("add",
		opt("user", discordgo.ApplicationCommandOptionUser, "idle"),
		opt("text", discordgo.ApplicationCommandOptionString, "second strike"),
	)))
	require.NoError(t, err)

	out, err = tb.run(t, interaction("g1", mod, "notes", subOpt("list",
		opt("user", discordgo.ApplicationCommandOptionUser, "idle"),
	)))
	require.NoError(t, err)
	require.Len(t, out.embeds, 1)
	assert.Contains(t, out.embeds[0].Description, "**Note #1**")
	assert.Contains(t, out.embeds[0].Description, "**Warning #1**")

	_, err = tb.run(t, interaction("g1", mod, "warnings", subOpt("delete",
		opt("id", discordgo.ApplicationCommandOptionInteger, float64(1)),
	)))
	require.NoError(t, err)
	_, err = tb.run(t, interaction("g1", mod, "warnings", subOpt("delete",
		opt("id", discordgo.ApplicationCommandOptionInteger, float64(1)),
	)))
	assert.ErrorIs(t, err, notes.ErrAlreadyDeleted)

	out, err = tb.run(t, interaction("g1", mod, "notes", subOpt("status")))
	require.NoError(t, err)
	require.Len(t, out.embeds[0].Fields, 2)
	assert.Equal(t, "1 active, 0 deleted", out.embeds[0].Fields[0].Value)
	assert.Equal(t, "0 active, 1 deleted", out.embeds[0].Fields[1].Value)
}

func TestTiers(t *testing.T) {
	tb := newTestBot(t)
	add := func(caller *discordgo.Member) error {
		_, err := tb.run(t, interaction("g1", caller, "notes", subOpt("add",
			opt("user", discordgo.ApplicationCommandOptionUser, "idle"),
			opt("text", discordgo.ApplicationCommandOptionString, "x"),
		)))
		return err
	}
	assert.ErrorIs(t, add(member("fresh")), errForbidden)
	assert.NoError(t, add(member("mod", "rMod")))
	assert.NoError(t, add(member("owner")))

	_, err := tb.run(t, interaction("g1", member("mod", "rMod"), "purge", subOpt("status")))
	assert.ErrorIs(t, err, errForbidden, "purge needs an admin")

	_, err = tb.run(t, interaction("g1", member("fresh"), "markov", subOpt("show_user",
		opt("user", discordgo.ApplicationCommandOptionUser, "idle"),
	)))
	assert.ErrorIs(t, err, errForbidden, "viewing another member needs a mod")

	_, err = tb.run(t, interaction("g1", member("fresh"), "markov", subOpt("show_user")))
	assert.NoError(t, err)
}

func TestGuildOnlyAndUnknown(t *testing.T) {
	tb := newTestBot(t)

	_, err := tb.run(t, interaction("", member("owner"), "notes", subOpt("status")))
	assert.ErrorIs(t, err, errGuildOnly)

	_, err = tb.run(t, interaction("g1", member("owner"), "notes", subOpt("export")))
	assert.ErrorIs(t, err, errUnknown)

	_, err = tb.run(t, interaction("", member("u1"), "markov", subOpt("enable")))
	assert.NoError(t, err, "personal markov commands work in DMs")
}

func TestWatcherCommands(t *testing.T) {
	tb := newTestBot(t)
	owner := member("owner")

	_, err := tb.run(t, interaction("g1", owner, "watcher", groupOpt("profilewatch", subOpt("add",
		opt("pattern", discordgo.ApplicationCommandOptionString, "(unclosed"),
		opt("level", discordgo.ApplicationCommandOptionString, "HIGH"),
		opt("check_nick", discordgo.ApplicationCommandOptionBoolean, false),
	))))
	assert.ErrorIs(t, err, watcher.ErrInvalidPattern)
	assert.Contains(t, userMessage(err), "Pattern is not a valid regular expression")

	out, err := tb.run(t, interaction("g1", owner, "watcher", groupOpt("profilewatch", subOpt("add",
		opt("pattern", discordgo.ApplicationCommandOptionString, "(?i)nitro"),
		opt("level", discordgo.ApplicationCommandOptionString, "LOW"),
		opt("check_nick", discordgo.ApplicationCommandOptionBoolean, true),
	))))
	require.NoError(t, err)
	assert.Equal(t, "Profile rule #1 added.", out.embeds[0].Description)

	out, err = tb.run(t, interaction("g1", owner, "watcher", groupOpt("profilewatch", subOpt("list"))))
	require.NoError(t, err)
	assert.Contains(t, out.embeds[0].Description, "1. `(?i)nitro` LOW, nicknames too")

	_, err = tb.run(t, interaction("g1", owner, "watcher", groupOpt("frequencies", subOpt("embed",
		opt("value", discordgo.ApplicationCommandOptionNumber, 2.5),
	))))
	require.NoError(t, err)
	settings, err := tb.bot.watcher.Settings(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 2.5, settings.Frequencies.Embed)

	out, err = tb.run(t, interaction("g1", owner, "watcher", subOpt("status")))
	require.NoError(t, err)
	fields := out.embeds[0].Fields
	require.NotEmpty(t, fields)
	assert.Equal(t, "Tracked members", fields[len(fields)-1].Name)
	assert.Equal(t, "0", fields[len(fields)-1].Value)
}

func TestPurgeSimulateCommand(t *testing.T) {
	tb := newTestBot(t)

	out, err := tb.run(t, interaction("g1", member("owner"), "purge", subOpt("simulate")))
	require.NoError(t, err)
	assert.Equal(t, "1 members would be kicked.", out.embeds[0].Description, "only idle is role-less and old enough")
	assert.Empty(t, tb.client.Kicked())

	_, err = tb.run(t, interaction("g1", member("owner"), "purge", subOpt("exclude",
		opt("user", discordgo.ApplicationCommandOptionUser, "idle"),
	)))
	require.NoError(t, err)
	out, err = tb.run(t, interaction("g1", member("owner"), "purge", subOpt("simulate")))
	require.NoError(t, err)
	assert.Equal(t, "0 members would be kicked.", out.embeds[0].Description)

	_, err = tb.run(t, interaction("g1", member("owner"), "purge", subOpt("schedule",
		opt("cron", discordgo.ApplicationCommandOptionString, "not a cron"),
	)))
	assert.Error(t, err)
	assert.NotEmpty(t, userMessage(err))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Note not found: #4.", userMessage(fmt.Errorf("%w: #4", notes.ErrNoteNotFound)))
	assert.Equal(t, "Cancelled.", userMessage(errCancelled))
	assert.Equal(t, "No answer in time, nothing was changed.", userMessage(fmt.Errorf("confirm: %w", prompt.ErrTimeout)))
	assert.Equal(t, "", userMessage(errors.New("disk on fire")))
}

func TestAuditReportCommand(t *testing.T) {
	tb := newTestBot(t)
	mod := member("mod", "rMod")

	_, err := tb.run(t, interaction("g1", mod, "notes", subOpt("add",
		opt("user", discordgo.ApplicationCommandOptionUser, "idle"),
		opt("text", discordgo.ApplicationCommandOptionString, "spam"),
	)))
	require.NoError(t, err)

	out, err := tb.run(t, interaction("g1", mod, "audit", subOpt("report")))
	require.NoError(t, err)
	fields := out.embeds[0].Fields
	require.Len(t, fields, 4)
	assert.Equal(t, "1", fields[0].Value)
	assert.Equal(t, "INFO 1, WARN 0, CRIT 0", fields[1].Value)
	assert.Equal(t, "`note_added` 1", fields[2].Value)
	assert.Contains(t, fields[3].Value, "<@idle>")

	_, err = tb.run(t, interaction("g1", mod, "audit", subOpt("report",
		opt("hours", discordgo.ApplicationCommandOptionInteger, float64(0)),
	)))
	assert.ErrorIs(t, err, errMissingInput)

	_, err = tb.run(t, interaction("g1", member("fresh"), "audit", subOpt("report")))
	assert.ErrorIs(t, err, errForbidden)
}

func TestIntentsCoverDirectMessageReactions(t *testing.T) {
	// confirmations for personal commands can be answered in DMs
	assert.NotZero(t, Intents&discordgo.IntentsDirectMessageReactions)
	assert.NotZero(t, Intents&discordgo.IntentsGuildMessageReactions)
}
