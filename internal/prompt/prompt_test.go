package prompt

import (
	"context"
	"testing"
	"time"

	"cogwarden/internal/chat/chattest"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitPending(t *testing.T, p *Prompter) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ids := p.Pending(); len(ids) == 1 {
			return ids[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("prompt never registered")
	return ""
}

func TestConfirmAccepts(t *testing.T) {
	fake := chattest.New("bot")
	p := New(fake, zap.NewNop(), time.Second, 0)

	done := make(chan bool, 1)
	go func() {
		ok, err := p.Confirm(context.Background(), "c1", "u1", "Kick 3 members?")
		assert.NoError(t, err)
		done <- ok
	}()

	id := waitPending(t, p)
	assert.False(t, p.Resolve(id, "someone-else", EmojiYes))
	p.HandleReactionAdd(context.Background(), &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{MessageID: id, UserID: "u1", Emoji: discordgo.Emoji{Name: EmojiYes}},
	})

	require.True(t, <-done)
	assert.Contains(t, fake.DeletedMessages(), id)
	assert.Contains(t, fake.Reactions(), id+":"+EmojiYes)
	assert.Contains(t, fake.Reactions(), id+":"+EmojiNo)
	assert.Empty(t, p.Pending())
}

func TestConfirmDeclines(t *testing.T) {
	fake := chattest.New("bot")
	p := New(fake, zap.NewNop(), time.Second, 0)

	done := make(chan bool, 1)
	go func() {
		ok, err := p.Confirm(context.Background(), "c1", "u1", "Reset?")
		assert.NoError(t, err)
		done <- ok
	}()

	id := waitPending(t, p)
	require.True(t, p.Resolve(id, "u1", EmojiNo))
	assert.False(t, <-done)
}

func TestConfirmTimesOut(t *testing.T) {
	fake := chattest.New("bot")
	p := New(fake, zap.NewNop(), 20*time.Millisecond, 0)

	ok, err := p.Confirm(context.Background(), "c1", "u1", "Reset?")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Len(t, fake.DeletedMessages(), 1)
}

func TestConfirmHonoursCancellation(t *testing.T) {
	fake := chattest.New("bot")
	p := New(fake, zap.NewNop(), time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := p.Confirm(ctx, "c1", "u1", "Reset?")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
