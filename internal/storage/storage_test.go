package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string            `json:"name"`
	Count int               `json:"count"`
	Tags  map[string]string `json:"tags"`
	Extra string            `json:"extra"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(store.Close)
	return store
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "global/phishing", Global("phishing").String())
	assert.Equal(t, "guild/notes/1", Guild("notes", "1").String())
	assert.Equal(t, "user/markov/2", User("markov", "2").String())
	assert.Equal(t, "member/jail/1/2", Member("jail", "1", "2").String())
}

func TestGetReturnsDefaults(t *testing.T) {
	store := newTestStore(t)
	doc, err := Get(context.Background(), store, Guild("test", "g1"), "doc", testDoc{Name: "default", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, "default", doc.Name)
	assert.Equal(t, 3, doc.Count)
}

func TestDefaultsAreNotShared(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	defaults := testDoc{Tags: map[string]string{"a": "1"}}

	doc, err := Get(ctx, store, Guild("test", "g1"), "doc", defaults)
	require.NoError(t, err)
	doc.Tags["b"] = "2"
	assert.Len(t, defaults.Tags, 1)
}

func TestUpdatePersists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := Guild("test", "g1")

	_, err := Update(ctx, store, scope, "doc", testDoc{}, func(doc *testDoc) error {
		doc.Name = "stored"
		doc.Count = 7
		return nil
	})
	require.NoError(t, err)

	doc, err := Get(ctx, store, scope, "doc", testDoc{Extra: "fallback"})
	require.NoError(t, err)
	assert.Equal(t, "stored", doc.Name)
	assert.Equal(t, 7, doc.Count)
	assert.Equal(t, "", doc.Extra)
}

func TestUpdateErrorSkipsPersist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := Guild("test", "g1")
	boom := errors.New("boom")

	_, err := Update(ctx, store, scope, "doc", testDoc{}, func(doc *testDoc) error {
		doc.Name = "lost"
		return boom
	})
	require.ErrorIs(t, err, boom)

	keys, err := store.Keys(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLargeDocumentsAreCompressed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := User("test", "u1")
	large := strings.Repeat("markov ", 2000)

	require.NoError(t, Set(ctx, store, scope, "doc", testDoc{Name: large}))

	var compressed int
	require.NoError(t, store.db.QueryRow(`SELECT compressed FROM documents WHERE scope = ? AND doc_key = ?`, scope.String(), "doc").Scan(&compressed))
	assert.Equal(t, 1, compressed)

	doc, err := Get(ctx, store, scope, "doc", testDoc{})
	require.NoError(t, err)
	assert.Equal(t, large, doc.Name)
}

func TestConcurrentUpdatesAreSerialised(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := Guild("test", "g1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Update(ctx, store, scope, "counter", testDoc{}, func(doc *testDoc) error {
				doc.Count++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := Get(ctx, store, scope, "counter", testDoc{})
	require.NoError(t, err)
	assert.Equal(t, 20, doc.Count)
}

func TestDeleteScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := User("markov", "u1")
	other := User("markov", "u2")

	require.NoError(t, Set(ctx, store, scope, "a", testDoc{Name: "a"}))
	require.NoError(t, Set(ctx, store, scope, "b", testDoc{Name: "b"}))
	require.NoError(t, Set(ctx, store, other, "a", testDoc{Name: "other"}))

	keys, err := store.Keys(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, store.DeleteScope(ctx, scope))
	keys, err = store.Keys(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, keys)

	doc, err := Get(ctx, store, other, "a", testDoc{})
	require.NoError(t, err)
	assert.Equal(t, "other", doc.Name)
}

func TestAuditLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.AddAuditLog(ctx, AuditLog{GuildID: "g1", UserID: "u1", Level: "INFO", Event: "note_added", Details: "id=1", CreatedAt: now}))
	require.NoError(t, store.AddAuditLog(ctx, AuditLog{GuildID: "g1", UserID: "u2", Level: "WARN", Event: "member_kicked", Details: "purge", CreatedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, store.AddAuditLog(ctx, AuditLog{GuildID: "g2", UserID: "u3", Level: "INFO", Event: "note_added", Details: "id=1", CreatedAt: now}))

	logs, err := store.ListAuditLogs(ctx, "g1", now.AddDate(0, 0, -60))
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "note_added", logs[0].Event)

	require.NoError(t, store.CleanupAuditLogs(ctx, 30))
	logs, err = store.ListAuditLogs(ctx, "g1", now.AddDate(0, 0, -60))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestRebind(t *testing.T) {
	store := &Store{dialect: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", store.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	store.dialect = DriverSQLite
	assert.Equal(t, "x = ?", store.rebind("x = ?"))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New("mysql", "dsn")
	assert.Error(t, err)
}
