package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"
)

// Kind is the level a document is attached to.
type Kind string

const (
	KindGlobal Kind = "global"
	KindGuild  Kind = "guild"
	KindUser   Kind = "user"
	KindMember Kind = "member"
)

// Scope identifies a branch of the document tree owned by one subsystem.
type Scope struct {
	Kind      Kind
	Subsystem string
	IDs       []string
}

func Global(subsystem string) Scope {
	return Scope{Kind: KindGlobal, Subsystem: subsystem}
}

func Guild(subsystem, guildID string) Scope {
	return Scope{Kind: KindGuild, Subsystem: subsystem, IDs: []string{guildID}}
}

func User(subsystem, userID string) Scope {
	return Scope{Kind: KindUser, Subsystem: subsystem, IDs: []string{userID}}
}

func Member(subsystem, guildID, userID string) Scope {
	return Scope{Kind: KindMember, Subsystem: subsystem, IDs: []string{guildID, userID}}
}

func (s Scope) String() string {
	parts := append([]string{string(s.Kind), s.Subsystem}, s.IDs...)
	return strings.Join(parts, "/")
}

// Get returns the document stored under scope/key, or a copy of defaults when
// nothing is stored. Stored fields overlay the defaults, so fields added to a
// schema later read back with their default value.
func Get[T any](ctx context.Context, s *Store, scope Scope, key string, defaults T) (T, error) {
	value, _, err := load(ctx, s, scope, key, defaults)
	return value, err
}

// Update is a scoped write: it holds the critical section for scope/key while
// fn runs, then persists the mutated value if fn returns nil. fn must not call
// Update on the same scope/key.
func Update[T any](ctx context.Context, s *Store, scope Scope, key string, defaults T, fn func(*T) error) (T, error) {
	unlock := s.locks.Lock(scope.String() + "\x00" + key)
	defer unlock()

	var zero T
	value, _, err := load(ctx, s, scope, key, defaults)
	if err != nil {
		return zero, err
	}
	if err := fn(&value); err != nil {
		return zero, err
	}
	if err := s.put(ctx, scope, key, value); err != nil {
		return zero, err
	}
	return value, nil
}

// Set replaces the document under scope/key.
func Set[T any](ctx context.Context, s *Store, scope Scope, key string, value T) error {
	unlock := s.locks.Lock(scope.String() + "\x00" + key)
	defer unlock()
	return s.put(ctx, scope, key, value)
}

func (s *Store) Delete(ctx context.Context, scope Scope, key string) error {
	unlock := s.locks.Lock(scope.String() + "\x00" + key)
	defer unlock()
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE scope = ? AND doc_key = ?`), scope.String(), key)
	return err
}

// DeleteScope removes every document under scope.
func (s *Store) DeleteScope(ctx context.Context, scope Scope) error {
	keys, err := s.Keys(ctx, scope)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, scope, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, scope Scope) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT doc_key FROM documents WHERE scope = ? ORDER BY doc_key`), scope.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func load[T any](ctx context.Context, s *Store, scope Scope, key string, defaults T) (T, bool, error) {
	var zero T
	value, err := cloneValue(defaults)
	if err != nil {
		return zero, false, err
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT value, compressed FROM documents WHERE scope = ? AND doc_key = ?`), scope.String(), key)
	var raw []byte
	var compressed int
	if err := row.Scan(&raw, &compressed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return value, false, nil
		}
		return zero, false, err
	}
	if err := s.codec.decode(raw, compressed == 1, &value); err != nil {
		return zero, false, err
	}
	return value, true, nil
}

func (s *Store) put(ctx context.Context, scope Scope, key string, value any) error {
	raw, compressed, err := s.codec.encode(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO documents (scope, doc_key, value, compressed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, doc_key) DO UPDATE SET
			value = excluded.value,
			compressed = excluded.compressed,
			updated_at = excluded.updated_at
	`), scope.String(), key, raw, boolToInt(compressed), time.Now().Unix())
	return err
}

// keyLocks is a refcounted mutex map so idle keys do not accumulate.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) Lock(key string) func() {
	k.mu.Lock()
	lock := k.locks[key]
	if lock == nil {
		lock = &keyLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
