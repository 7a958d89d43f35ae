package prompt

import (
	"context"
	"errors"
	"sync"
	"time"

	"cogwarden/internal/chat"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	EmojiYes = "✅"
	EmojiNo  = "❌"
)

var ErrTimeout = errors.New("confirmation timed out")

// Prompter posts yes/no questions and waits for the invoking user to react.
type Prompter struct {
	client  chat.Client
	logger  *zap.Logger
	timeout time.Duration
	color   int

	mu      sync.Mutex
	waiters map[string]*waiter
}

type waiter struct {
	userID string
	answer chan bool
}

func New(client chat.Client, logger *zap.Logger, timeout time.Duration, color int) *Prompter {
	return &Prompter{
		client:  client,
		logger:  logger,
		timeout: timeout,
		color:   color,
		waiters: make(map[string]*waiter),
	}
}

// Confirm asks userID to confirm text in channelID. The prompt message is
// deleted whatever the outcome.
func (p *Prompter) Confirm(ctx context.Context, channelID, userID, text string) (bool, error) {
	msg, err := p.client.SendEmbed(channelID, &discordgo.MessageEmbed{
		Title:       "Confirmation required",
		Description: text + "\n\nReact with " + EmojiYes + " to confirm or " + EmojiNo + " to cancel.",
		Color:       p.color,
	})
	if err != nil {
		return false, err
	}

	w := &waiter{userID: userID, answer: make(chan bool, 1)}
	p.mu.Lock()
	p.waiters[msg.ID] = w
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.waiters, msg.ID)
		p.mu.Unlock()
		if err := p.client.DeleteMessage(channelID, msg.ID); err != nil {
			p.logger.Debug("prompt cleanup failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}()

	for _, emoji := range []string{EmojiYes, EmojiNo} {
		if err := p.client.AddReaction(channelID, msg.ID, emoji); err != nil {
			return false, err
		}
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case answer := <-w.answer:
		return answer, nil
	case <-timer.C:
		return false, ErrTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// HandleReactionAdd resolves a pending prompt when its user reacts.
func (p *Prompter) HandleReactionAdd(_ context.Context, reaction *discordgo.MessageReactionAdd) {
	if reaction == nil || reaction.MessageReaction == nil {
		return
	}
	p.Resolve(reaction.MessageID, reaction.UserID, reaction.Emoji.Name)
}

// Resolve delivers an answer for messageID. It reports whether a waiter
// accepted the reaction.
func (p *Prompter) Resolve(messageID, userID, emoji string) bool {
	p.mu.Lock()
	w, ok := p.waiters[messageID]
	p.mu.Unlock()
	if !ok || w.userID != userID {
		return false
	}

	var answer bool
	switch emoji {
	case EmojiYes:
		answer = true
	case EmojiNo:
		answer = false
	default:
		return false
	}
	select {
	case w.answer <- answer:
		return true
	default:
		return false
	}
}

// Pending returns the ids of prompts still waiting for an answer.
func (p *Prompter) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.waiters))
	for id := range p.waiters {
		ids = append(ids, id)
	}
	return ids
}
