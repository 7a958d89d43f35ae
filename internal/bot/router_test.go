package bot

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	events []string
}

func (r *recorder) HandleMessage(_ context.Context, msg *discordgo.MessageCreate) {
	r.events = append(r.events, "message:"+msg.Content)
}

func (r *recorder) HandleMemberRemove(_ context.Context, event *discordgo.GuildMemberRemove) {
	r.events = append(r.events, "remove:"+event.User.ID)
}

func (r *recorder) HandleGuildAvailable(_ context.Context, guildID string) {
	r.events = append(r.events, "guild:"+guildID)
}

type panicker struct{}

func (panicker) HandleMessage(context.Context, *discordgo.MessageCreate) {
	panic("boom")
}

func TestRouterDispatchesByCapability(t *testing.T) {
	router := NewRouter(zap.NewNop())
	rec := &recorder{}
	router.Register("recorder", rec)
	router.Register("inert", struct{}{})
	ctx := context.Background()

	router.Message(ctx, &discordgo.MessageCreate{Message: &discordgo.Message{Content: "hi"}})
	router.MemberRemove(ctx, &discordgo.GuildMemberRemove{Member: &discordgo.Member{User: &discordgo.User{ID: "u1"}}})
	router.GuildAvailable(ctx, "g1")
	router.VoiceState(ctx, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{UserID: "u1"}})

	assert.Equal(t, []string{"message:hi", "remove:u1", "guild:g1"}, rec.events)
}

func TestRouterIgnoresEmptyEvents(t *testing.T) {
	router := NewRouter(zap.NewNop())
	rec := &recorder{}
	router.Register("recorder", rec)
	ctx := context.Background()

	router.Message(ctx, nil)
	router.Message(ctx, &discordgo.MessageCreate{})
	router.MemberRemove(ctx, &discordgo.GuildMemberRemove{})

	assert.Empty(t, rec.events)
}

func TestRouterRecoversFromPanics(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	router := NewRouter(zap.New(core))
	rec := &recorder{}
	router.Register("panicker", panicker{})
	router.Register("recorder", rec)

	assert.NotPanics(t, func() {
		router.Message(context.Background(), &discordgo.MessageCreate{Message: &discordgo.Message{Content: "still delivered"}})
	})
	assert.Equal(t, []string{"message:still delivered"}, rec.events)
	entries := logs.FilterMessage("handler panic").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "panicker", entries[0].ContextMap()["module"])
	}
}
