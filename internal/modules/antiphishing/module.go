package antiphishing

import (
	"context"
	"sort"
	"sync"
	"time"

	"cogwarden/internal/chat"
	"cogwarden/internal/config"
	"cogwarden/internal/metrics"
	"cogwarden/internal/modules/audit"
	"cogwarden/internal/storage"
	"cogwarden/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	subsystem  = "phishing"
	domainsKey = "domains"
	// driftSeconds widens the recent-changes window past the poll interval.
	driftSeconds = 60
)

// Domains is the persisted blocklist. UpdatedAt is unix seconds UTC.
type Domains struct {
	Domains   []string `json:"domains"`
	UpdatedAt int64    `json:"updated_at"`
}

type Status struct {
	Initialized bool
	Domains     int
	LastRefresh time.Time
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Module struct {
	feed    *Feed
	store   *storage.Store
	client  chat.Client
	cfg     config.PhishingConfig
	logger  *zap.Logger
	metrics metrics.Recorder
	audit   *audit.Logger
	clock   Clock

	mu          sync.RWMutex
	matcher     *Matcher
	initialized bool
	fetched     bool
	lastRefresh time.Time
}

func New(store *storage.Store, client chat.Client, cfg config.PhishingConfig, logger *zap.Logger, recorder metrics.Recorder, auditLogger *audit.Logger) *Module {
	return &Module{
		feed:    NewFeed(cfg.BaseURL, cfg.Identity, time.Duration(cfg.TimeoutSeconds)*time.Second),
		store:   store,
		client:  client,
		cfg:     cfg,
		logger:  logger,
		metrics: recorder,
		audit:   auditLogger,
		clock:   realClock{},
	}
}

func (m *Module) WithClock(clock Clock) {
	m.clock = clock
}

func (m *Module) interval() time.Duration {
	return time.Duration(m.cfg.RefreshMinutes) * time.Minute
}

// Load primes the matcher from the persisted blocklist.
func (m *Module) Load(ctx context.Context) error {
	doc, err := storage.Get(ctx, m.store, storage.Global(subsystem), domainsKey, Domains{})
	if err != nil {
		return err
	}
	if len(doc.Domains) == 0 {
		return nil
	}
	return m.install(doc, false)
}

// Refresh fetches the full list until one fetch succeeds, then only the
// recent changes.
func (m *Module) Refresh(ctx context.Context) error {
	m.mu.RLock()
	fetched := m.fetched
	m.mu.RUnlock()

	if !fetched {
		all, err := m.feed.All(ctx)
		if err != nil {
			return err
		}
		doc, err := m.persist(ctx, func(set map[string]struct{}) {
			clear(set)
			for _, domain := range utils.NormalizeDomains(all) {
				set[domain] = struct{}{}
			}
		})
		if err != nil {
			return err
		}
		return m.install(doc, true)
	}

	seconds := int(m.interval()/time.Second) + driftSeconds
	updates, err := m.feed.Recent(ctx, seconds)
	if err != nil {
		return err
	}
	doc, err := m.persist(ctx, func(set map[string]struct{}) {
		for _, update := range updates {
			for _, domain := range utils.NormalizeDomains(update.Domains) {
				switch update.Type {
				case UpdateAdd:
					set[domain] = struct{}{}
				case UpdateDelete:
					delete(set, domain)
				}
			}
		}
	})
	if err != nil {
		return err
	}
	return m.install(doc, true)
}

func (m *Module) persist(ctx context.Context, apply func(map[string]struct{})) (Domains, error) {
	now := m.clock.Now().UTC().Unix()
	return storage.Update(ctx, m.store, storage.Global(subsystem), domainsKey, Domains{}, func(doc *Domains) error {
		set := make(map[string]struct{}, len(doc.Domains))
		for _, domain := range doc.Domains {
			set[domain] = struct{}{}
		}
		apply(set)
		doc.Domains = doc.Domains[:0]
		for domain := range set {
			doc.Domains = append(doc.Domains, domain)
		}
		sort.Strings(doc.Domains)
		doc.UpdatedAt = now
		return nil
	})
}

func (m *Module) install(doc Domains, fetched bool) error {
	set := make(map[string]struct{}, len(doc.Domains))
	for _, domain := range doc.Domains {
		set[domain] = struct{}{}
	}
	matcher, err := NewMatcher(set)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.matcher = matcher
	m.initialized = true
	if fetched {
		m.fetched = true
		m.lastRefresh = m.clock.Now()
	}
	m.mu.Unlock()

	m.metrics.SetPhishingDomains(matcher.Len())
	return nil
}

// Run loads the stored list, fetches the feed and refreshes it until ctx is
// done. Failed fetches are retried on the next tick.
func (m *Module) Run(ctx context.Context) error {
	defer m.feed.Close()

	if err := m.Load(ctx); err != nil {
		m.logger.Warn("stored phishing domains unavailable", zap.Error(err))
	}
	m.refresh(ctx)

	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *Module) refresh(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("phishing refresh failed", zap.Error(err))
		return
	}
	m.logger.Debug("phishing domains refreshed", zap.Int("domains", m.Status().Domains))
}

// Match reports the blocklisted domain content contains, if any.
func (m *Module) Match(content string) (string, bool) {
	m.mu.RLock()
	matcher, ready := m.matcher, m.initialized
	m.mu.RUnlock()
	if !ready {
		return "", false
	}
	return matcher.Find(content)
}

func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.MessageCreate) {
	if msg.GuildID == "" || msg.Author == nil || msg.Author.ID == m.client.BotID() {
		return
	}
	domain, ok := m.Match(msg.Content)
	if !ok {
		return
	}
	if err := m.client.DeleteMessage(msg.ChannelID, msg.ID); err != nil {
		m.logger.Debug("phishing message not deleted", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	m.metrics.IncPhishingDeleted()
	m.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, audit.EventPhishingDeleted,
		"domain", domain, "channel", msg.ChannelID)
}

func (m *Module) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{Initialized: m.initialized, Domains: m.matcher.Len(), LastRefresh: m.lastRefresh}
}
