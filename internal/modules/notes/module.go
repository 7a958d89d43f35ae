package notes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cogwarden/internal/config"
	"cogwarden/internal/modules/audit"
	"cogwarden/internal/storage"
	"cogwarden/internal/utils"

	"go.uber.org/zap"
)

const (
	subsystem = "notes"
	pageChars = 4000
)

// Kind selects one of the two per-guild lists.
type Kind string

const (
	KindNote    Kind = "notes"
	KindWarning Kind = "warnings"
)

var (
	ErrNoteNotFound   = errors.New("note not found")
	ErrSelfDelete     = errors.New("cannot delete a note about yourself")
	ErrAlreadyDeleted = errors.New("note is already deleted")
	ErrNotDeleted     = errors.New("note is not deleted")
	ErrEmptyMessage   = errors.New("note message is empty")
	ErrUnknownKind    = errors.New("unknown note kind")
)

// Note is one ledger entry. ID is its 1-based position in the list and
// CreatedAt is unix seconds UTC.
type Note struct {
	ID         int    `json:"id"`
	MemberID   string `json:"member_id"`
	Message    string `json:"message"`
	ReporterID string `json:"reporter_id"`
	CreatedAt  int64  `json:"created_at"`
	Deleted    bool   `json:"deleted"`
	IsWarning  bool   `json:"is_warning"`
}

type Counts struct {
	Active  int
	Deleted int
}

type Status struct {
	Notes    Counts
	Warnings Counts
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Module struct {
	store  *storage.Store
	cfg    config.NotesConfig
	logger *zap.Logger
	audit  *audit.Logger
	clock  Clock
}

func New(store *storage.Store, cfg config.NotesConfig, logger *zap.Logger, auditLogger *audit.Logger) *Module {
	return &Module{
		store:  store,
		cfg:    cfg,
		logger: logger,
		audit:  auditLogger,
		clock:  realClock{},
	}
}

func (m *Module) WithClock(clock Clock) {
	m.clock = clock
}

func (k Kind) valid() bool {
	return k == KindNote || k == KindWarning
}

// Label is the singular display name of the kind.
func (k Kind) Label() string {
	if k == KindWarning {
		return "Warning"
	}
	return "Note"
}

func (m *Module) notes(ctx context.Context, guildID string, kind Kind) ([]Note, error) {
	return storage.Get(ctx, m.store, storage.Guild(subsystem, guildID), string(kind), []Note(nil))
}

func (m *Module) update(ctx context.Context, guildID string, kind Kind, fn func(*[]Note) error) error {
	if !kind.valid() {
		return ErrUnknownKind
	}
	_, err := storage.Update(ctx, m.store, storage.Guild(subsystem, guildID), string(kind), []Note(nil), fn)
	return err
}

// Add appends a note about memberID and returns it with its assigned id.
func (m *Module) Add(ctx context.Context, guildID string, kind Kind, memberID, reporterID, message string) (Note, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Note{}, ErrEmptyMessage
	}
	note := Note{
		MemberID:   memberID,
		Message:    message,
		ReporterID: reporterID,
		CreatedAt:  m.clock.Now().UTC().Unix(),
		IsWarning:  kind == KindWarning,
	}
	err := m.update(ctx, guildID, kind, func(list *[]Note) error {
		note.ID = len(*list) + 1
		*list = append(*list, note)
		return nil
	})
	if err != nil {
		return Note{}, err
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, memberID, audit.EventNoteAdded,
		"kind", string(kind), "id", fmt.Sprint(note.ID), "reporter", reporterID)
	return note, nil
}

// Delete soft-deletes the note. callerID may not be the note's subject.
func (m *Module) Delete(ctx context.Context, guildID string, kind Kind, id int, callerID string) (Note, error) {
	var deleted Note
	err := m.update(ctx, guildID, kind, func(list *[]Note) error {
		note, err := find(*list, id)
		if err != nil {
			return err
		}
		if note.MemberID == callerID {
			return ErrSelfDelete
		}
		if note.Deleted {
			return ErrAlreadyDeleted
		}
		note.Deleted = true
		deleted = *note
		return nil
	})
	if err != nil {
		return Note{}, err
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, deleted.MemberID, audit.EventNoteDeleted,
		"kind", string(kind), "id", fmt.Sprint(id), "moderator", callerID)
	return deleted, nil
}

func (m *Module) Restore(ctx context.Context, guildID string, kind Kind, id int, callerID string) (Note, error) {
	var restored Note
	err := m.update(ctx, guildID, kind, func(list *[]Note) error {
		note, err := find(*list, id)
		if err != nil {
			return err
		}
		if !note.Deleted {
			return ErrNotDeleted
		}
		note.Deleted = false
		restored = *note
		return nil
	})
	if err != nil {
		return Note{}, err
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, restored.MemberID, audit.EventNoteRestored,
		"kind", string(kind), "id", fmt.Sprint(id), "moderator", callerID)
	return restored, nil
}

func find(list []Note, id int) (*Note, error) {
	if id < 1 || id > len(list) {
		return nil, fmt.Errorf("%w: #%d", ErrNoteNotFound, id)
	}
	return &list[id-1], nil
}

// List merges the live notes and warnings, optionally about one member,
// oldest first.
func (m *Module) List(ctx context.Context, guildID, memberID string) ([]Note, error) {
	var out []Note
	for _, kind := range []Kind{KindNote, KindWarning} {
		list, err := m.notes(ctx, guildID, kind)
		if err != nil {
			return nil, err
		}
		for _, note := range list {
			if note.Deleted || (memberID != "" && note.MemberID != memberID) {
				continue
			}
			out = append(out, note)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return !out[i].IsWarning && out[j].IsWarning
	})
	return out, nil
}

// Pages renders notes into embed-sized pages.
func (m *Module) Pages(notes []Note) []string {
	lines := make([]string, 0, len(notes))
	for _, note := range notes {
		kind := KindNote
		if note.IsWarning {
			kind = KindWarning
		}
		lines = append(lines, fmt.Sprintf("**%s #%d** <@%s> <t:%d:d> by <@%s>: %s",
			kind.Label(), note.ID, note.MemberID, note.CreatedAt, note.ReporterID, note.Message))
	}
	return utils.Paginate(lines, pageChars, m.cfg.PageLines)
}

func (m *Module) Status(ctx context.Context, guildID string) (Status, error) {
	var status Status
	for _, kind := range []Kind{KindNote, KindWarning} {
		list, err := m.notes(ctx, guildID, kind)
		if err != nil {
			return Status{}, err
		}
		counts := &status.Notes
		if kind == KindWarning {
			counts = &status.Warnings
		}
		for _, note := range list {
			if note.Deleted {
				counts.Deleted++
			} else {
				counts.Active++
			}
		}
	}
	return status, nil
}
