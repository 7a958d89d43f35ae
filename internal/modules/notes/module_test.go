package notes

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"cogwarden/internal/config"
	"cogwarden/internal/modules/audit"
	"cogwarden/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newModule(t *testing.T) (*Module, *fakeClock) {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(store.Close)

	clock := &fakeClock{now: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)}
	m := New(store, config.DefaultConfig().Notes, zap.NewNop(), audit.NewLogger(store, zap.NewNop()))
	m.WithClock(clock)
	return m, clock
}

func messages(notes []Note) []string {
	out := make([]string, len(notes))
	for i, note := range notes {
		out[i] = note.Message
	}
	return out
}

func TestScenarioNoteFlow(t *testing.T) {
	m, clock := newModule(t)
	ctx := context.Background()

	first, err := m.Add(ctx, "g1", KindNote, "u1", "mod", "first")
	require.NoError(t, err)
	assert.Equal(t, 1, first.ID)
	clock.Advance(time.Minute)
	second, err := m.Add(ctx, "g1", KindNote, "u1", "mod", "second")
	require.NoError(t, err)
	assert.Equal(t, 2, second.ID)

	_, err = m.Delete(ctx, "g1", KindNote, 1, "mod")
	require.NoError(t, err)
	list, err := m.List(ctx, "g1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, messages(list))

	_, err = m.Restore(ctx, "g1", KindNote, 1, "mod")
	require.NoError(t, err)
	list, err = m.List(ctx, "g1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, messages(list))
}

func TestListMergesWarningsChronologically(t *testing.T) {
	m, clock := newModule(t)
	ctx := context.Background()

	_, err := m.Add(ctx, "g1", KindWarning, "u1", "mod", "warned")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = m.Add(ctx, "g1", KindNote, "u2", "mod", "other member")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = m.Add(ctx, "g1", KindNote, "u1", "mod", "noted")
	require.NoError(t, err)

	list, err := m.List(ctx, "g1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"warned", "other member", "noted"}, messages(list))
	assert.True(t, list[0].IsWarning)

	list, err = m.List(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"warned", "noted"}, messages(list))
}

func TestIDStability(t *testing.T) {
	m, _ := newModule(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	want := map[int]string{}
	for i := 0; i < 60; i++ {
		switch rng.Intn(3) {
		case 0:
			note, err := m.Add(ctx, "g1", KindWarning, "u1", "mod", fmt.Sprintf("entry %d", i))
			require.NoError(t, err)
			want[note.ID] = note.Message
		case 1:
			if len(want) > 0 {
				_, _ = m.Delete(ctx, "g1", KindWarning, rng.Intn(len(want))+1, "mod")
			}
		case 2:
			if len(want) > 0 {
				_, _ = m.Restore(ctx, "g1", KindWarning, rng.Intn(len(want))+1, "mod")
			}
		}
	}

	stored, err := m.notes(ctx, "g1", KindWarning)
	require.NoError(t, err)
	require.Len(t, stored, len(want))
	for _, note := range stored {
		assert.Equal(t, want[note.ID], note.Message)
	}
}

func TestConcurrentAddsGetDistinctIDs(t *testing.T) {
	m, _ := newModule(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan int, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			note, err := m.Add(ctx, "g1", KindNote, "u1", "mod", fmt.Sprintf("n%d", i))
			if err == nil {
				ids <- note.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[int]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, 20)
}

func TestDeleteRules(t *testing.T) {
	m, _ := newModule(t)
	ctx := context.Background()
	_, err := m.Add(ctx, "g1", KindNote, "u1", "mod", "about u1")
	require.NoError(t, err)

	_, err = m.Delete(ctx, "g1", KindNote, 1, "u1")
	assert.ErrorIs(t, err, ErrSelfDelete)
	_, err = m.Delete(ctx, "g1", KindNote, 9, "mod")
	assert.ErrorIs(t, err, ErrNoteNotFound)
	_, err = m.Delete(ctx, "g1", KindWarning, 1, "mod")
	assert.ErrorIs(t, err, ErrNoteNotFound, "warnings are a separate list")
	_, err = m.Restore(ctx, "g1", KindNote, 1, "mod")
	assert.ErrorIs(t, err, ErrNotDeleted)

	_, err = m.Delete(ctx, "g1", KindNote, 1, "mod")
	require.NoError(t, err)
	_, err = m.Delete(ctx, "g1", KindNote, 1, "mod")
	assert.ErrorIs(t, err, ErrAlreadyDeleted)

	_, err = m.Add(ctx, "g1", KindNote, "u1", "mod", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = m.Add(ctx, "g1", Kind("other"), "u1", "mod", "x")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestStatus(t *testing.T) {
	m, _ := newModule(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := m.Add(ctx, "g1", KindNote, "u1", "mod", "n")
		require.NoError(t, err)
	}
	_, err := m.Add(ctx, "g1", KindWarning, "u1", "mod", "w")
	require.NoError(t, err)
	_, err = m.Delete(ctx, "g1", KindNote, 2, "mod")
	require.NoError(t, err)

	status, err := m.Status(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, Counts{Active: 2, Deleted: 1}, status.Notes)
	assert.Equal(t, Counts{Active: 1}, status.Warnings)
}

func TestPages(t *testing.T) {
	m, _ := newModule(t)
	var list []Note
	for i := 1; i <= 30; i++ {
		list = append(list, Note{ID: i, MemberID: "u1", ReporterID: "mod", Message: "short", CreatedAt: 1700000000})
	}
	pages := m.Pages(list)
	require.Len(t, pages, 2)
	assert.Equal(t, 25, strings.Count(pages[0], "\n")+1)
	assert.True(t, strings.HasPrefix(pages[0], "**Note #1** <@u1>"))

	long := []Note{
		{ID: 1, MemberID: "u1", Message: strings.Repeat("a", 3000)},
		{ID: 2, MemberID: "u1", Message: strings.Repeat("b", 3000), IsWarning: true},
	}
	pages = m.Pages(long)
	require.Len(t, pages, 2)
	assert.Contains(t, pages[1], "**Warning #2**")
	for _, page := range pages {
		assert.LessOrEqual(t, len(page), pageChars)
	}
	assert.Empty(t, m.Pages(nil))
}
