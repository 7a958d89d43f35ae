package markov

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"cogwarden/internal/config"
	"cogwarden/internal/metrics"
	"cogwarden/internal/modules/audit"
	"cogwarden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	subsystem   = "markov"
	userKey     = "user"
	channelsKey = "channels"
	maxAttempts = 3
)

var (
	ErrDisabled      = errors.New("markov is disabled for this user")
	ErrNoModel       = errors.New("no model has been built for the current mode and depth")
	ErrModelNotFound = errors.New("model not found")
	ErrInvalidDepth  = errors.New("depth out of range")
	ErrNoOutput      = errors.New("model produced no text")
)

var errSkip = errors.New("skip")

// UserModel is the per-user document.
type UserModel struct {
	Enabled bool             `json:"enabled"`
	Mode    string           `json:"mode"`
	Depth   int              `json:"depth"`
	Chains  map[string]Table `json:"chains"`
}

type GuildChannels struct {
	Channels []string `json:"channels"`
}

type Status struct {
	Enabled bool
	Mode    string
	Depth   int
	Models  []string
}

type Module struct {
	store   *storage.Store
	cfg     config.MarkovConfig
	logger  *zap.Logger
	metrics metrics.Recorder
	audit   *audit.Logger
	intn    func(int) int
}

func New(store *storage.Store, cfg config.MarkovConfig, logger *zap.Logger, recorder metrics.Recorder, auditLogger *audit.Logger) *Module {
	return &Module{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: recorder,
		audit:   auditLogger,
		intn:    rand.IntN,
	}
}

// WithRand replaces the sampler used by Generate.
func (m *Module) WithRand(intn func(int) int) {
	m.intn = intn
}

func (m *Module) defaults() UserModel {
	return UserModel{Mode: m.cfg.DefaultMode, Depth: m.cfg.DefaultDepth, Chains: map[string]Table{}}
}

func (m *Module) update(ctx context.Context, userID string, fn func(*UserModel) error) (UserModel, error) {
	return storage.Update(ctx, m.store, storage.User(subsystem, userID), userKey, m.defaults(), fn)
}

func (m *Module) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	_, err := m.update(ctx, userID, func(doc *UserModel) error {
		doc.Enabled = enabled
		return nil
	})
	return err
}

// SetMode selects the tokeniser for future messages and returns its
// canonical name.
func (m *Module) SetMode(ctx context.Context, userID, raw string) (string, error) {
	mode, err := ParseMode(raw)
	if err != nil {
		return "", err
	}
	_, err = m.update(ctx, userID, func(doc *UserModel) error {
		doc.Mode = mode.String()
		return nil
	})
	return mode.String(), err
}

func (m *Module) SetDepth(ctx context.Context, userID string, depth int) error {
	if depth < 1 || depth > m.cfg.MaxDepth {
		return ErrInvalidDepth
	}
	_, err := m.update(ctx, userID, func(doc *UserModel) error {
		doc.Depth = depth
		return nil
	})
	return err
}

// Reset drops every model of the user and keeps the settings.
func (m *Module) Reset(ctx context.Context, userID string) error {
	_, err := m.update(ctx, userID, func(doc *UserModel) error {
		doc.Chains = map[string]Table{}
		return nil
	})
	return err
}

func (m *Module) DeleteModel(ctx context.Context, userID, key string) error {
	_, err := m.update(ctx, userID, func(doc *UserModel) error {
		if _, ok := doc.Chains[key]; !ok {
			return ErrModelNotFound
		}
		delete(doc.Chains, key)
		return nil
	})
	return err
}

// Forget erases the user's document entirely.
func (m *Module) Forget(ctx context.Context, userID string) error {
	if err := m.store.DeleteScope(ctx, storage.User(subsystem, userID)); err != nil {
		return err
	}
	m.audit.Log(ctx, audit.LevelInfo, "", userID, audit.EventMarkovErased)
	return nil
}

func (m *Module) UserStatus(ctx context.Context, userID string) (Status, error) {
	doc, err := storage.Get(ctx, m.store, storage.User(subsystem, userID), userKey, m.defaults())
	if err != nil {
		return Status{}, err
	}
	status := Status{Enabled: doc.Enabled, Mode: doc.Mode, Depth: doc.Depth}
	for key := range doc.Chains {
		status.Models = append(status.Models, key)
	}
	sort.Strings(status.Models)
	return status, nil
}

// Generate produces text from the user's current model.
func (m *Module) Generate(ctx context.Context, userID string) (string, error) {
	doc, err := storage.Get(ctx, m.store, storage.User(subsystem, userID), userKey, m.defaults())
	if err != nil {
		return "", err
	}
	if !doc.Enabled {
		return "", ErrDisabled
	}
	mode, err := ParseMode(doc.Mode)
	if err != nil {
		return "", err
	}
	table := doc.Chains[ModelKey(doc.Mode, doc.Depth)]
	if len(table) == 0 {
		return "", ErrNoModel
	}

	lastErr := ErrNoOutput
	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, err := Generate(table, mode, doc.Depth, m.cfg.MaxLength, m.intn)
		if err != nil {
			m.logger.Warn("markov generation failed", zap.String("user_id", userID), zap.Int("attempt", attempt+1), zap.Error(err))
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) == "" {
			lastErr = ErrNoOutput
			continue
		}
		return text, nil
	}
	return "", lastErr
}

func (m *Module) SetChannel(ctx context.Context, guildID, channelID string, enabled bool) error {
	_, err := storage.Update(ctx, m.store, storage.Guild(subsystem, guildID), channelsKey, GuildChannels{}, func(doc *GuildChannels) error {
		doc.Channels = setChannel(doc.Channels, channelID, enabled)
		return nil
	})
	return err
}

func (m *Module) Channels(ctx context.Context, guildID string) ([]string, error) {
	doc, err := storage.Get(ctx, m.store, storage.Guild(subsystem, guildID), channelsKey, GuildChannels{})
	return doc.Channels, err
}

// Ingest learns content into the user's current model. It reports false when
// the user has not opted in.
func (m *Module) Ingest(ctx context.Context, userID, content string) (bool, error) {
	text := strings.ReplaceAll(content, Control, "")
	if m.cfg.QuoteChar != "" {
		text = strings.ReplaceAll(text, m.cfg.QuoteChar, "")
	}

	_, err := m.update(ctx, userID, func(doc *UserModel) error {
		if !doc.Enabled {
			return errSkip
		}
		mode, err := ParseMode(doc.Mode)
		if err != nil {
			return err
		}
		key := ModelKey(doc.Mode, doc.Depth)
		if doc.Chains == nil {
			doc.Chains = map[string]Table{}
		}
		table := doc.Chains[key]
		if table == nil {
			table = Table{}
			doc.Chains[key] = table
		}
		Learn(table, mode, doc.Depth, Tokenize(mode, text))
		return nil
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.metrics.IncMarkovIngested()
	return true, nil
}

func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.MessageCreate) {
	if msg.GuildID == "" || msg.Author == nil || msg.Author.Bot {
		return
	}
	first, _ := utf8.DecodeRuneInString(msg.Content)
	if !unicode.IsLetter(first) && !unicode.IsDigit(first) {
		return
	}
	channels, err := m.Channels(ctx, msg.GuildID)
	if err != nil {
		m.logger.Warn("markov channels unavailable", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return
	}
	if !contains(channels, msg.ChannelID) {
		return
	}
	if _, err := m.Ingest(ctx, msg.Author.ID, msg.Content); err != nil {
		m.logger.Warn("markov ingest failed", zap.String("user_id", msg.Author.ID), zap.Error(err))
	}
}

func setChannel(channels []string, channelID string, enabled bool) []string {
	out := make([]string, 0, len(channels)+1)
	for _, id := range channels {
		if id != channelID {
			out = append(out, id)
		}
	}
	if enabled {
		out = append(out, channelID)
	}
	sort.Strings(out)
	return out
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
