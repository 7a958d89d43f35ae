package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *discordgo.MessageCreate)
}

type MessageEditHandler interface {
	HandleMessageEdit(ctx context.Context, msg *discordgo.MessageUpdate)
}

type MemberJoinHandler interface {
	HandleMemberJoin(ctx context.Context, event *discordgo.GuildMemberAdd)
}

type MemberUpdateHandler interface {
	HandleMemberUpdate(ctx context.Context, event *discordgo.GuildMemberUpdate)
}

type MemberRemoveHandler interface {
	HandleMemberRemove(ctx context.Context, event *discordgo.GuildMemberRemove)
}

type VoiceStateHandler interface {
	HandleVoiceState(ctx context.Context, event *discordgo.VoiceStateUpdate)
}

type GuildAvailableHandler interface {
	HandleGuildAvailable(ctx context.Context, guildID string)
}

type ReactionAddHandler interface {
	HandleReactionAdd(ctx context.Context, reaction *discordgo.MessageReactionAdd)
}

type listener struct {
	name  string
	value any
}

// Router fans gateway events out to the registered modules that implement
// the matching handler interface. A panicking handler is logged and skipped.
type Router struct {
	logger    *zap.Logger
	listeners []listener
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{logger: logger}
}

// Register adds a module. It must be called before Attach.
func (r *Router) Register(name string, module any) {
	r.listeners = append(r.listeners, listener{name: name, value: module})
}

// Attach subscribes the router to session events. ctx is passed to every
// handler.
func (r *Router) Attach(ctx context.Context, session *discordgo.Session) {
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) { r.Message(ctx, e) })
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageUpdate) { r.MessageEdit(ctx, e) })
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) { r.MemberJoin(ctx, e) })
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) { r.MemberUpdate(ctx, e) })
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberRemove) { r.MemberRemove(ctx, e) })
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) { r.VoiceState(ctx, e) })
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionAdd) { r.ReactionAdd(ctx, e) })
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildCreate) {
		if e.Guild != nil && !e.Unavailable {
			r.GuildAvailable(ctx, e.ID)
		}
	})
}

func (r *Router) Message(ctx context.Context, msg *discordgo.MessageCreate) {
	if msg == nil || msg.Message == nil {
		return
	}
	for _, l := range r.listeners {
		if h, ok := l.value.(MessageHandler); ok {
			r.guard(l.name, "message", func() { h.HandleMessage(ctx, msg) })
		}
	}
}

func (r *Router) MessageEdit(ctx context.Context, msg *discordgo.MessageUpdate) {
	if msg == nil || msg.Message == nil {
		return
	}
	for _, l := range r.listeners {
		if h, ok := l.value.(MessageEditHandler); ok {
			r.guard(l.name, "message_edit", func() { h.HandleMessageEdit(ctx, msg) })
		}
	}
}

func (r *Router) MemberJoin(ctx context.Context, event *discordgo.GuildMemberAdd) {
	if event == nil || event.Member == nil {
		return
	}
	for _, l := range r.listeners {
		if h, ok := l.value.(MemberJoinHandler); ok {
			r.guard(l.name, "member_join", func() { h.HandleMemberJoin(ctx, event) })
		}
	}
}

func (r *Router) MemberUpdate(ctx context.Context, event *discordgo.GuildMemberUpdate) {
	if event == nil || event.Member == nil {
		return
	}
	for _, l := range r.listeners {
		if h, ok := l.value.(MemberUpdateHandler); ok {
			r.guard(l.name, "member_update", func() { h.HandleMemberUpdate(ctx, event) })
		}
	}
}

func (r *Router) MemberRemove(ctx context.Context, event *discordgo.GuildMemberRemove) {
	if event == nil || event.Member == nil {
		return
	}
	for _, l := range r.listeners {
		if h, ok := l.value.(MemberRemoveHandler); ok {
			r.guard(l.name, "member_remove", func() { h.HandleMemberRemove(ctx, event) })
		}
	}
}

func (r *Router) VoiceState(ctx context.Context, event *discordgo.VoiceStateUpdate) {
	if event == nil || event.VoiceState == nil {
		return
	}
	for _, l := range r.listeners {
		if h, ok := l.value.(VoiceStateHandler); ok {
			r.guard(l.name, "voice_state", func() { h.HandleVoiceState(ctx, event) })
		}
	}
}

func (r *Router) ReactionAdd(ctx context.Context, reaction *discordgo.MessageReactionAdd) {
	if reaction == nil || reaction.MessageReaction == nil {
		return
	}
	for _, l := range r.listeners {
		if h, ok := l.value.(ReactionAddHandler); ok {
			r.guard(l.name, "reaction_add", func() { h.HandleReactionAdd(ctx, reaction) })
		}
	}
}

func (r *Router) GuildAvailable(ctx context.Context, guildID string) {
	for _, l := range r.listeners {
		if h, ok := l.value.(GuildAvailableHandler); ok {
			r.guard(l.name, "guild_available", func() { h.HandleGuildAvailable(ctx, guildID) })
		}
	}
}

func (r *Router) guard(module, event string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic",
				zap.String("module", module),
				zap.String("event", event),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
	}()
	fn()
}
