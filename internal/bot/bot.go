package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cogwarden/internal/access"
	"cogwarden/internal/chat"
	"cogwarden/internal/config"
	"cogwarden/internal/metrics"
	"cogwarden/internal/modules/antiphishing"
	"cogwarden/internal/modules/audit"
	"cogwarden/internal/modules/jail"
	"cogwarden/internal/modules/markov"
	"cogwarden/internal/modules/notes"
	"cogwarden/internal/modules/purge"
	"cogwarden/internal/modules/watcher"
	"cogwarden/internal/prompt"
	"cogwarden/internal/storage"
	"cogwarden/internal/transcript"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const pruneInterval = 24 * time.Hour

// Intents covers every event the modules and the DM confirmation prompts
// consume.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildPresences |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsDirectMessageReactions |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildVoiceStates

type Bot struct {
	cfg     config.Config
	logger  *zap.Logger
	session *discordgo.Session
	client  chat.Client
	store   *storage.Store
	audit   *audit.Logger
	access  *access.Checker
	router  *Router
	prompt  *prompt.Prompter
	routes  map[string]route

	markov   *markov.Module
	purge    *purge.Module
	jail     *jail.Module
	notes    *notes.Module
	watcher  *watcher.Module
	phishing *antiphishing.Module
}

// New opens nothing; Run connects to the gateway.
func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, recorder metrics.Recorder) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = Intents
	// message edits carry BeforeUpdate only for cached messages
	session.State.MaxMessageCount = 100

	b := newBot(cfg, logger, chat.NewSession(session), store, auditLogger, recorder)
	b.session = session
	return b, nil
}

func newBot(cfg config.Config, logger *zap.Logger, client chat.Client, store *storage.Store, auditLogger *audit.Logger, recorder metrics.Recorder) *Bot {
	colors := cfg.Notifications.EmbedColors
	checker := access.New(client, cfg.Moderation)
	b := &Bot{
		cfg:    cfg,
		logger: logger,
		client: client,
		store:  store,
		audit:  auditLogger,
		access: checker,
		router: NewRouter(logger.Named("router")),
		prompt: prompt.New(client, logger.Named("prompt"), time.Duration(cfg.Prompt.TimeoutSeconds)*time.Second, colors.Warning),

		markov:   markov.New(store, cfg.Markov, logger.Named("markov"), recorder, auditLogger),
		purge:    purge.New(store, client, cfg.Purge, colors.Action, logger.Named("purge"), recorder, auditLogger),
		jail:     jail.New(store, client, transcript.New(client), cfg.JailArchiveDir(), cfg.Jail.ChannelTopic, logger.Named("jail"), recorder, auditLogger),
		notes:    notes.New(store, cfg.Notes, logger.Named("notes"), auditLogger),
		watcher:  watcher.New(store, client, checker, cfg.Watcher, colors, logger.Named("watcher"), recorder, auditLogger),
		phishing: antiphishing.New(store, client, cfg.Phishing, logger.Named("phishing"), recorder, auditLogger),
	}
	b.routes = b.buildRoutes()

	if cfg.Phishing.Enabled {
		b.router.Register("phishing", b.phishing)
	}
	b.router.Register("markov", b.markov)
	b.router.Register("watcher", b.watcher)
	b.router.Register("jail", b.jail)
	b.router.Register("purge", b.purge)
	b.router.Register("prompt", b.prompt)
	return b
}

// Run connects to the gateway, registers the commands and runs the
// background tasks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.router.Attach(ctx, b.session)
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.onInteractionCreate(ctx, s, i)
	})

	// GUILD_CREATE arrives right after Open; the scheduler must already run.
	b.purge.Start(ctx)
	defer func() {
		if err := b.purge.Close(); err != nil {
			b.logger.Warn("purge scheduler stopped with error", zap.Error(err))
		}
	}()

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	defer func() {
		if err := b.session.Close(); err != nil {
			b.logger.Warn("gateway close failed", zap.Error(err))
		}
	}()

	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if b.cfg.Phishing.Enabled {
		g.Go(func() error { return b.phishing.Run(gctx) })
	}
	g.Go(func() error { return b.watcher.Run(gctx) })
	g.Go(func() error { return b.pruneAudit(gctx) })
	return g.Wait()
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) pruneAudit(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		if err := b.audit.Prune(ctx, b.cfg.Audit.RetentionDays); err != nil && ctx.Err() == nil {
			b.logger.Warn("audit prune failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type tier int

const (
	tierAnyone tier = iota
	tierMod
	tierAdmin
)

var (
	errForbidden    = errors.New("you do not have permission to use this command")
	errGuildOnly    = errors.New("this command only works in a server")
	errUnknown      = errors.New("unknown command")
	errMissingInput = errors.New("a required option is missing")
	errCancelled    = errors.New("cancelled")
)

type handlerFunc func(ctx context.Context, inv *invocation) (reply, error)

type route struct {
	tier      tier
	guildOnly bool
	public    bool
	run       handlerFunc
}

// invocation is a slash command flattened to its subcommand path and leaf
// options.
type invocation struct {
	guildID   string
	channelID string
	userID    string
	member    *discordgo.Member
	path      string
	options   map[string]*discordgo.ApplicationCommandInteractionDataOption
}

func newInvocation(i *discordgo.Interaction) *invocation {
	data := i.ApplicationCommandData()
	inv := &invocation{
		guildID:   i.GuildID,
		channelID: i.ChannelID,
		member:    i.Member,
		options:   map[string]*discordgo.ApplicationCommandInteractionDataOption{},
	}
	if i.Member != nil && i.Member.User != nil {
		inv.userID = i.Member.User.ID
	} else if i.User != nil {
		inv.userID = i.User.ID
	}

	path := []string{data.Name}
	opts := data.Options
	for len(opts) == 1 && (opts[0].Type == discordgo.ApplicationCommandOptionSubCommand || opts[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup) {
		path = append(path, opts[0].Name)
		opts = opts[0].Options
	}
	inv.path = strings.Join(path, " ")
	for _, opt := range opts {
		inv.options[opt.Name] = opt
	}
	return inv
}

func (inv *invocation) has(name string) bool {
	_, ok := inv.options[name]
	return ok
}

func (inv *invocation) str(name string) string {
	if opt, ok := inv.options[name]; ok {
		if s, ok := opt.Value.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// id reads a user, channel or role option as its snowflake.
func (inv *invocation) id(name string) string {
	return inv.str(name)
}

func (inv *invocation) integer(name string) (int, error) {
	opt, ok := inv.options[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errMissingInput, name)
	}
	v, ok := opt.Value.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s", errMissingInput, name)
	}
	return int(v), nil
}

func (inv *invocation) number(name string) (float64, error) {
	opt, ok := inv.options[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errMissingInput, name)
	}
	v, ok := opt.Value.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s", errMissingInput, name)
	}
	return v, nil
}

func (inv *invocation) boolean(name string) bool {
	if opt, ok := inv.options[name]; ok {
		v, _ := opt.Value.(bool)
		return v
	}
	return false
}

type reply struct {
	content string
	embeds  []*discordgo.MessageEmbed
	files   []*discordgo.File
}

// execute checks the caller's tier and runs the matching route.
func (b *Bot) execute(ctx context.Context, inv *invocation) (reply, error) {
	rt, ok := b.routes[inv.path]
	if !ok {
		return reply{}, errUnknown
	}
	if rt.guildOnly && inv.guildID == "" {
		return reply{}, errGuildOnly
	}
	if !b.allowed(inv, rt.tier) {
		return reply{}, errForbidden
	}
	return rt.run(ctx, inv)
}

func (b *Bot) allowed(inv *invocation, t tier) bool {
	switch t {
	case tierMod:
		return inv.guildID != "" && b.access.IsMod(inv.guildID, inv.member)
	case tierAdmin:
		return inv.guildID != "" && b.access.IsAdmin(inv.guildID, inv.member)
	default:
		return true
	}
}

func (b *Bot) onInteractionCreate(ctx context.Context, session *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	inv := newInvocation(i.Interaction)
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("command panic", zap.String("command", inv.path), zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()

	flags := discordgo.MessageFlagsEphemeral
	if rt, ok := b.routes[inv.path]; ok && rt.public {
		flags = 0
	}
	if err := session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}); err != nil {
		b.logger.Warn("interaction ack failed", zap.String("command", inv.path), zap.Error(err))
		return
	}

	out, err := b.execute(ctx, inv)
	if err != nil {
		out = reply{embeds: []*discordgo.MessageEmbed{b.errorEmbed(inv, err)}}
		flags = discordgo.MessageFlagsEphemeral
	}
	if _, err := session.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: out.content,
		Embeds:  out.embeds,
		Files:   out.files,
		Flags:   flags,
	}); err != nil {
		b.logger.Warn("interaction reply failed", zap.String("command", inv.path), zap.Error(err))
	}
}

func (b *Bot) errorEmbed(inv *invocation, err error) *discordgo.MessageEmbed {
	message := userMessage(err)
	if message == "" {
		b.logger.Error("command failed", zap.String("command", inv.path), zap.String("guild_id", inv.guildID), zap.String("user_id", inv.userID), zap.Error(err))
		message = "Something went wrong. The error has been logged."
	}
	return b.embed("Error", message, b.cfg.Notifications.EmbedColors.Error, nil)
}

var domainErrors = []error{
	errForbidden, errGuildOnly, errUnknown, errMissingInput, errCancelled,
	markov.ErrDisabled, markov.ErrNoModel, markov.ErrModelNotFound, markov.ErrInvalidDepth,
	markov.ErrNoOutput, markov.ErrInvalidMode, markov.ErrMalformedModel,
	purge.ErrInvalidSchedule, purge.ErrInvalidMinAge, purge.ErrMissingPermission,
	jail.ErrNotConfigured, jail.ErrAlreadyJailed, jail.ErrNotJailed, jail.ErrInvalidArchiveID, jail.ErrArchiveNotFound,
	notes.ErrNoteNotFound, notes.ErrSelfDelete, notes.ErrAlreadyDeleted, notes.ErrNotDeleted, notes.ErrEmptyMessage,
	watcher.ErrInvalidPattern, watcher.ErrInvalidLevel, watcher.ErrRuleNotFound, watcher.ErrInvalidValue,
	antiphishing.ErrUnexpectedResponse,
}

// userMessage maps an error to the text shown to the invoker. It is empty
// for unexpected errors.
func userMessage(err error) string {
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return capitalize(err.Error()) + "."
		}
	}
	switch {
	case errors.Is(err, prompt.ErrTimeout):
		return "No answer in time, nothing was changed."
	case chat.IsForbidden(err):
		return "I am missing the Discord permissions for that."
	case chat.IsNotFound(err):
		return "That member, channel or role no longer exists."
	}
	return ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (b *Bot) embed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

func (b *Bot) ok(title, description string, fields ...*discordgo.MessageEmbedField) reply {
	return reply{embeds: []*discordgo.MessageEmbed{b.embed(title, description, b.cfg.Notifications.EmbedColors.Action, fields)}}
}

func field(name, value string) *discordgo.MessageEmbedField {
	if value == "" {
		value = "-"
	}
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: true}
}
