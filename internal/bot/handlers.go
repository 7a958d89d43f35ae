package bot

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"cogwarden/internal/modules/audit"
	"cogwarden/internal/modules/notes"
	"cogwarden/internal/modules/watcher"
	"cogwarden/internal/utils"

	"github.com/bwmarrin/discordgo"
)

func (b *Bot) buildRoutes() map[string]route {
	routes := map[string]route{
		"markov enable":         {run: b.markovEnable(true)},
		"markov disable":        {run: b.markovEnable(false)},
		"markov mode":           {run: b.markovMode},
		"markov depth":          {run: b.markovDepth},
		"markov generate":       {public: true, run: b.markovGenerate},
		"markov reset":          {run: b.markovReset},
		"markov delete":         {run: b.markovDelete},
		"markov forget":         {run: b.markovForget},
		"markov channelenable":  {tier: tierMod, guildOnly: true, run: b.markovChannel(true)},
		"markov channeldisable": {tier: tierMod, guildOnly: true, run: b.markovChannel(false)},
		"markov show_user":      {run: b.markovShowUser},
		"markov show_guild":     {guildOnly: true, run: b.markovShowGuild},

		"purge execute":    {tier: tierAdmin, guildOnly: true, public: true, run: b.purgeExecute},
		"purge simulate":   {tier: tierAdmin, guildOnly: true, run: b.purgeSimulate},
		"purge exclude":    {tier: tierAdmin, guildOnly: true, run: b.purgeExclude(true)},
		"purge include":    {tier: tierAdmin, guildOnly: true, run: b.purgeExclude(false)},
		"purge setminage":  {tier: tierAdmin, guildOnly: true, run: b.purgeMinAge},
		"purge schedule":   {tier: tierAdmin, guildOnly: true, run: b.purgeSchedule},
		"purge logchannel": {tier: tierAdmin, guildOnly: true, run: b.purgeLogChannel},
		"purge enable":     {tier: tierAdmin, guildOnly: true, run: b.purgeEnable(true)},
		"purge disable":    {tier: tierAdmin, guildOnly: true, run: b.purgeEnable(false)},
		"purge status":     {tier: tierAdmin, guildOnly: true, run: b.purgeStatus},

		"jail member":         {tier: tierMod, guildOnly: true, public: true, run: b.jailMember},
		"jail free":           {tier: tierMod, guildOnly: true, public: true, run: b.jailFree},
		"jail setup":          {tier: tierAdmin, guildOnly: true, run: b.jailSetup},
		"jail archives list":  {tier: tierMod, guildOnly: true, run: b.jailArchives},
		"jail archives fetch": {tier: tierMod, guildOnly: true, run: b.jailFetch},

		"watcher logchannel":                {tier: tierAdmin, guildOnly: true, run: b.watcherLogChannel},
		"watcher voicewatch time":           {tier: tierAdmin, guildOnly: true, run: b.watcherVoiceTime},
		"watcher profilewatch add":          {tier: tierAdmin, guildOnly: true, run: b.watcherProfileAdd},
		"watcher profilewatch list":         {tier: tierAdmin, guildOnly: true, run: b.watcherProfileList},
		"watcher profilewatch delete":       {tier: tierAdmin, guildOnly: true, run: b.watcherProfileDelete},
		"watcher messagewatch fetchtime":    {tier: tierAdmin, guildOnly: true, run: b.watcherFetchTime},
		"watcher frequencies embed":         {tier: tierAdmin, guildOnly: true, run: b.watcherEmbedFrequency},
		"watcher exemptions memberduration": {tier: tierAdmin, guildOnly: true, run: b.watcherMemberDuration},
		"watcher exemptions textmessages":   {tier: tierAdmin, guildOnly: true, run: b.watcherTextFrequency},
		"watcher status":                    {tier: tierAdmin, guildOnly: true, run: b.watcherStatus},

		"phishing status":  {tier: tierMod, guildOnly: true, run: b.phishingStatus},
		"phishing refresh": {tier: tierAdmin, guildOnly: true, run: b.phishingRefresh},

		"audit report": {tier: tierMod, guildOnly: true, run: b.auditReport},
	}
	for _, kind := range []notes.Kind{notes.KindNote, notes.KindWarning} {
		prefix := string(kind) + " "
		routes[prefix+"add"] = route{tier: tierMod, guildOnly: true, run: b.notesAdd(kind)}
		routes[prefix+"delete"] = route{tier: tierMod, guildOnly: true, run: b.notesDelete(kind)}
		routes[prefix+"restore"] = route{tier: tierMod, guildOnly: true, run: b.notesRestore(kind)}
		routes[prefix+"list"] = route{tier: tierMod, guildOnly: true, public: true, run: b.notesList}
		routes[prefix+"status"] = route{tier: tierMod, guildOnly: true, run: b.notesStatus}
	}
	return routes
}

// confirm asks the invoker to react before a destructive action.
func (b *Bot) confirm(ctx context.Context, inv *invocation, text string) error {
	yes, err := b.prompt.Confirm(ctx, inv.channelID, inv.userID, text)
	if err != nil {
		return err
	}
	if !yes {
		return errCancelled
	}
	return nil
}

func (b *Bot) markovEnable(enabled bool) handlerFunc {
	return func(ctx context.Context, inv *invocation) (reply, error) {
		if err := b.markov.SetEnabled(ctx, inv.userID, enabled); err != nil {
			return reply{}, err
		}
		if enabled {
			return b.ok("Markov", "Your messages in enabled channels will now be learned."), nil
		}
		return b.ok("Markov", "Learning is off. Existing models are kept."), nil
	}
}

func (b *Bot) markovMode(ctx context.Context, inv *invocation) (reply, error) {
	mode, err := b.markov.SetMode(ctx, inv.userID, inv.str("mode"))
	if err != nil {
		return reply{}, err
	}
	return b.ok("Markov", "Mode set.", field("Mode", mode)), nil
}

func (b *Bot) markovDepth(ctx context.Context, inv *invocation) (reply, error) {
	depth, err := inv.integer("depth")
	if err != nil {
		return reply{}, err
	}
	if err := b.markov.SetDepth(ctx, inv.userID, depth); err != nil {
		return reply{}, err
	}
	return b.ok("Markov", "Depth set.", field("Depth", strconv.Itoa(depth))), nil
}

func (b *Bot) markovGenerate(ctx context.Context, inv *invocation) (reply, error) {
	userID := inv.userID
	if inv.has("user") {
		userID = inv.id("user")
	}
	text, err := b.markov.Generate(ctx, userID)
	if err != nil {
		return reply{}, err
	}
	return reply{content: text}, nil
}

func (b *Bot) markovReset(ctx context.Context, inv *invocation) (reply, error) {
	if err := b.confirm(ctx, inv, "Delete every Markov model you have?"); err != nil {
		return reply{}, err
	}
	if err := b.markov.Reset(ctx, inv.userID); err != nil {
		return reply{}, err
	}
	return b.ok("Markov", "All of your models were deleted."), nil
}

func (b *Bot) markovDelete(ctx context.Context, inv *invocation) (reply, error) {
	key := inv.str("key")
	if err := b.markov.DeleteModel(ctx, inv.userID, key); err != nil {
		return reply{}, err
	}
	return b.ok("Markov", "Model deleted.", field("Model", key)), nil
}

func (b *Bot) markovForget(ctx context.Context, inv *invocation) (reply, error) {
	if err := b.markov.Forget(ctx, inv.userID); err != nil {
		return reply{}, err
	}
	return b.ok("Markov", "Everything stored about you was erased."), nil
}

func (b *Bot) markovChannel(enabled bool) handlerFunc {
	return func(ctx context.Context, inv *invocation) (reply, error) {
		channelID := inv.channelID
		if inv.has("channel") {
			channelID = inv.id("channel")
		}
		if err := b.markov.SetChannel(ctx, inv.guildID, channelID, enabled); err != nil {
			return reply{}, err
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		return b.ok("Markov", "Learning "+state+" in <#"+channelID+">."), nil
	}
}

func (b *Bot) markovShowUser(ctx context.Context, inv *invocation) (reply, error) {
	userID := inv.userID
	if inv.has("user") && inv.id("user") != inv.userID {
		if !b.allowed(inv, tierMod) {
			return reply{}, errForbidden
		}
		userID = inv.id("user")
	}
	status, err := b.markov.UserStatus(ctx, userID)
	if err != nil {
		return reply{}, err
	}
	return b.ok("Markov settings", "<@"+userID+">",
		field("Enabled", strconv.FormatBool(status.Enabled)),
		field("Mode", status.Mode),
		field("Depth", strconv.Itoa(status.Depth)),
		field("Models", strings.Join(status.Models, ", ")),
	), nil
}

func (b *Bot) markovShowGuild(ctx context.Context, inv *invocation) (reply, error) {
	channels, err := b.markov.Channels(ctx, inv.guildID)
	if err != nil {
		return reply{}, err
	}
	if len(channels) == 0 {
		return b.ok("Markov channels", "Markov does not learn in any channel here."), nil
	}
	mentions := make([]string, len(channels))
	for i, id := range channels {
		mentions[i] = "<#" + id + ">"
	}
	return b.ok("Markov channels", strings.Join(mentions, "\n")), nil
}

func (b *Bot) purgeExecute(ctx context.Context, inv *invocation) (reply, error) {
	count, err := b.purge.Simulate(ctx, inv.guildID)
	if err != nil {
		return reply{}, err
	}
	if count == 0 {
		return b.ok("Purge", "No member is eligible."), nil
	}
	if err := b.confirm(ctx, inv, fmt.Sprintf("Kick %d eligible members now?", count)); err != nil {
		return reply{}, err
	}
	result, err := b.purge.Execute(ctx, inv.guildID)
	if err != nil {
		return reply{}, err
	}
	return b.ok("Purge complete", "",
		field("Eligible", strconv.Itoa(result.Eligible)),
		field("Kicked", strconv.Itoa(result.Kicked)),
		field("Skipped", strconv.Itoa(result.Skipped)),
	), nil
}

func (b *Bot) purgeSimulate(ctx context.Context, inv *invocation) (reply, error) {
	count, err := b.purge.Simulate(ctx, inv.guildID)
	if err != nil {
		return reply{}, err
	}
	return b.ok("Purge simulation", fmt.Sprintf("%d members would be kicked.", count)), nil
}

func (b *Bot) purgeExclude(exclude bool) handlerFunc {
	return func(ctx context.Context, inv *invocation) (reply, error) {
		userID := inv.id("user")
		if userID == "" {
			return reply{}, errMissingInput
		}
		var err error
		if exclude {
			err = b.purge.Exclude(ctx, inv.guildID, userID)
		} else {
			err = b.purge.Include(ctx, inv.guildID, userID)
		}
		if err != nil {
			return reply{}, err
		}
		if exclude {
			return b.ok("Purge", "<@"+userID+"> will never be purged."), nil
		}
		return b.ok("Purge", "<@"+userID+"> is no longer excluded."), nil
	}
}

func (b *Bot) purgeMinAge(ctx context.Context, inv *invocation) (reply, error) {
	days, err := inv.integer("days")
	if err != nil {
		return reply{}, err
	}
	if err := b.purge.SetMinAge(ctx, inv.guildID, days); err != nil {
		return reply{}, err
	}
	return b.ok("Purge", "Minimum age set.", field("Days", strconv.Itoa(days))), nil
}

func (b *Bot) purgeSchedule(ctx context.Context, inv *invocation) (reply, error) {
	expr := inv.str("cron")
	if err := b.purge.SetSchedule(ctx, inv.guildID, expr); err != nil {
		return reply{}, err
	}
	return b.ok("Purge", "Schedule set.", field("Cron", "`"+expr+"`")), nil
}

func (b *Bot) purgeLogChannel(ctx context.Context, inv *invocation) (reply, error) {
	channelID := inv.id("channel")
	if err := b.purge.SetLogChannel(ctx, inv.guildID, channelID); err != nil {
		return reply{}, err
	}
	return b.ok("Purge", "Summaries will be posted in <#"+channelID+">."), nil
}

func (b *Bot) purgeEnable(enabled bool) handlerFunc {
	return func(ctx context.Context, inv *invocation) (reply, error) {
		if err := b.purge.SetEnabled(ctx, inv.guildID, enabled); err != nil {
			return reply{}, err
		}
		if enabled {
			return b.ok("Purge", "Scheduled purges are on."), nil
		}
		return b.ok("Purge", "Scheduled purges are off."), nil
	}
}

func (b *Bot) purgeStatus(ctx context.Context, inv *invocation) (reply, error) {
	status, err := b.purge.Status(ctx, inv.guildID)
	if err != nil {
		return reply{}, err
	}
	lastRun := "never"
	if status.LastRun != nil {
		lastRun = fmt.Sprintf("<t:%d:f>", *status.LastRun)
	}
	logChannel := ""
	if status.LogChannel != "" {
		logChannel = "<#" + status.LogChannel + ">"
	}
	excluded := make([]string, len(status.Excluded))
	for i, id := range status.Excluded {
		excluded[i] = "<@" + id + ">"
	}
	return b.ok("Purge status", "",
		field("Enabled", strconv.FormatBool(status.Enabled)),
		field("Schedule", "`"+status.Schedule+"`"),
		field("Minimum age", fmt.Sprintf("%d days", status.MinAgeDays)),
		field("Kicked so far", strconv.Itoa(status.Count)),
		field("Last run", lastRun),
		field("Next run", fmt.Sprintf("<t:%d:f>", status.NextRun.Unix())),
		field("Log channel", logChannel),
		field("Excluded", strings.Join(excluded, " ")),
	), nil
}

func (b *Bot) jailMember(ctx context.Context, inv *invocation) (reply, error) {
	userID := inv.id("user")
	record, err := b.jail.Jail(ctx, inv.guildID, userID, inv.userID)
	if err != nil {
		return reply{}, err
	}
	return b.ok("Jailed", "<@"+userID+"> was placed in <#"+record.ChannelID+">.",
		field("Roles saved", strconv.Itoa(len(record.PriorRoles))),
	), nil
}

func (b *Bot) jailFree(ctx context.Context, inv *invocation) (reply, error) {
	userID := inv.id("user")
	record, err := b.jail.Free(ctx, inv.guildID, userID, inv.userID)
	if err != nil {
		return reply{}, err
	}
	archive := ""
	if record.ArchiveID != nil {
		archive = *record.ArchiveID
	}
	return b.ok("Freed", "<@"+userID+"> was released and their roles restored.",
		field("Archive", archive),
	), nil
}

func (b *Bot) jailSetup(ctx context.Context, inv *invocation) (reply, error) {
	categoryID := inv.id("channel")
	if err := b.jail.Setup(ctx, inv.guildID, categoryID); err != nil {
		return reply{}, err
	}
	return b.ok("Jail", "Jail channels will be created under <#"+categoryID+">."), nil
}

func (b *Bot) jailArchives(ctx context.Context, inv *invocation) (reply, error) {
	userID := inv.id("user")
	records, err := b.jail.Archives(ctx, inv.guildID, userID)
	if err != nil {
		return reply{}, err
	}
	if len(records) == 0 {
		return b.ok("Jail history", "<@"+userID+"> has never been jailed."), nil
	}
	lines := make([]string, 0, len(records))
	for _, record := range records {
		state := "active"
		if !record.Active {
			state = "archive `-`"
			if record.ArchiveID != nil {
				state = "archive `" + *record.ArchiveID + "`"
			}
		}
		lines = append(lines, fmt.Sprintf("<t:%d:f> by <@%s>, %s", record.Timestamp, record.Jailer, state))
	}
	return b.ok("Jail history", "<@"+userID+">\n"+strings.Join(lines, "\n")), nil
}

func (b *Bot) jailFetch(_ context.Context, inv *invocation) (reply, error) {
	name, data, err := b.jail.FetchArchive(inv.str("id"))
	if err != nil {
		return reply{}, err
	}
	return reply{
		content: "Transcript " + name,
		files:   []*discordgo.File{{Name: name, ContentType: "text/html", Reader: bytes.NewReader(data)}},
	}, nil
}

func (b *Bot) notesAdd(kind notes.Kind) handlerFunc {
	return func(ctx context.Context, inv *invocation) (reply, error) {
		memberID := inv.id("user")
		if memberID == "" {
			return reply{}, errMissingInput
		}
		note, err := b.notes.Add(ctx, inv.guildID, kind, memberID, inv.userID, inv.str("text"))
		if err != nil {
			return reply{}, err
		}
		return b.ok(kind.Label()+" added", fmt.Sprintf("%s #%d about <@%s> recorded.", kind.Label(), note.ID, memberID)), nil
	}
}

func (b *Bot) notesDelete(kind notes.Kind) handlerFunc {
	return func(ctx context.Context, inv *invocation) (reply, error) {
		id, err := inv.integer("id")
		if err != nil {
			return reply{}, err
		}
		if _, err := b.notes.Delete(ctx, inv.guildID, kind, id, inv.userID); err != nil {
			return reply{}, err
		}
		return b.ok(kind.Label()+" deleted", fmt.Sprintf("%s #%d deleted. It can be restored.", kind.Label(), id)), nil
	}
}

func (b *Bot) notesRestore(kind notes.Kind) handlerFunc {
	return func(ctx context.Context, inv *invocation) (reply, error) {
		id, err := inv.integer("id")
		if err != nil {
			return reply{}, err
		}
		if _, err := b.notes.Restore(ctx, inv.guildID, kind, id, inv.userID); err != nil {
			return reply{}, err
		}
		return b.ok(kind.Label()+" restored", fmt.Sprintf("%s #%d restored.", kind.Label(), id)), nil
	}
}

func (b *Bot) notesList(ctx context.Context, inv *invocation) (reply, error) {
	list, err := b.notes.List(ctx, inv.guildID, inv.id("user"))
	if err != nil {
		return reply{}, err
	}
	pages := b.notes.Pages(list)
	if len(pages) == 0 {
		return b.ok("Notes", "Nothing recorded."), nil
	}
	// a followup carries at most ten embeds
	if len(pages) > 10 {
		pages = pages[:10]
	}
	out := reply{}
	for i, page := range pages {
		title := "Notes and warnings"
		if len(pages) > 1 {
			title = fmt.Sprintf("Notes and warnings (%d/%d)", i+1, len(pages))
		}
		out.embeds = append(out.embeds, b.embed(title, page, b.cfg.Notifications.EmbedColors.Action, nil))
	}
	return out, nil
}

func (b *Bot) notesStatus(ctx context.Context, inv *invocation) (reply, error) {
	status, err := b.notes.Status(ctx, inv.guildID)
	if err != nil {
		return reply{}, err
	}
	return b.ok("Ledger status", "",
		field("Notes", fmt.Sprintf("%d active, %d deleted", status.Notes.Active, status.Notes.Deleted)),
		field("Warnings", fmt.Sprintf("%d active, %d deleted", status.Warnings.Active, status.Warnings.Deleted)),
	), nil
}

func (b *Bot) watcherLogChannel(ctx context.Context, inv *invocation) (reply, error) {
	channelID := inv.id("channel")
	if err := b.watcher.SetLogChannel(ctx, inv.guildID, channelID); err != nil {
		return reply{}, err
	}
	if channelID == "" {
		return b.ok("Watcher", "Alerts are off."), nil
	}
	return b.ok("Watcher", "Alerts will be posted in <#"+channelID+">."), nil
}

func (b *Bot) watcherVoiceTime(ctx context.Context, inv *invocation) (reply, error) {
	hours, err := inv.integer("hours")
	if err != nil {
		return reply{}, err
	}
	if err := b.watcher.SetVoiceHours(ctx, inv.guildID, hours); err != nil {
		return reply{}, err
	}
	return b.ok("Watcher", fmt.Sprintf("Camera and stream alerts for members who joined less than %d hours ago.", hours)), nil
}

func (b *Bot) watcherProfileAdd(ctx context.Context, inv *invocation) (reply, error) {
	index, err := b.watcher.AddProfileRule(ctx, inv.guildID, watcher.ProfileRule{
		Pattern:   inv.str("pattern"),
		Level:     inv.str("level"),
		CheckNick: inv.boolean("check_nick"),
		Reason:    inv.str("reason"),
	})
	if err != nil {
		return reply{}, err
	}
	return b.ok("Watcher", fmt.Sprintf("Profile rule #%d added.", index)), nil
}

func (b *Bot) watcherProfileList(ctx context.Context, inv *invocation) (reply, error) {
	rules, err := b.watcher.ProfileRules(ctx, inv.guildID)
	if err != nil {
		return reply{}, err
	}
	if len(rules) == 0 {
		return b.ok("Profile rules", "No rules."), nil
	}
	lines := make([]string, len(rules))
	for i, rule := range rules {
		nick := ""
		if rule.CheckNick {
			nick = ", nicknames too"
		}
		lines[i] = fmt.Sprintf("%d. `%s` %s%s %s", i+1, rule.Pattern, rule.Level, nick, rule.Reason)
	}
	return b.ok("Profile rules", strings.Join(lines, "\n")), nil
}

func (b *Bot) watcherProfileDelete(ctx context.Context, inv *invocation) (reply, error) {
	index, err := inv.integer("index")
	if err != nil {
		return reply{}, err
	}
	rule, err := b.watcher.DeleteProfileRule(ctx, inv.guildID, index)
	if err != nil {
		return reply{}, err
	}
	return b.ok("Watcher", fmt.Sprintf("Rule `%s` deleted.", rule.Pattern)), nil
}

func (b *Bot) watcherFetchTime(ctx context.Context, inv *invocation) (reply, error) {
	ms, err := inv.integer("ms")
	if err != nil {
		return reply{}, err
	}
	if err := b.watcher.SetFetchTime(ctx, inv.guildID, ms); err != nil {
		return reply{}, err
	}
	return b.ok("Watcher", "Message window set.", field("Window", (time.Duration(ms)*time.Millisecond).String())), nil
}

func (b *Bot) watcherEmbedFrequency(ctx context.Context, inv *invocation) (reply, error) {
	value, err := inv.number("value")
	if err != nil {
		return reply{}, err
	}
	if err := b.watcher.SetEmbedFrequency(ctx, inv.guildID, value); err != nil {
		return reply{}, err
	}
	return b.ok("Watcher", fmt.Sprintf("Alert above %.2f attachments or embeds per second.", value)), nil
}

func (b *Bot) watcherMemberDuration(ctx context.Context, inv *invocation) (reply, error) {
	hours, err := inv.integer("hours")
	if err != nil {
		return reply{}, err
	}
	if err := b.watcher.SetMemberDuration(ctx, inv.guildID, hours); err != nil {
		return reply{}, err
	}
	return b.ok("Watcher", fmt.Sprintf("Members older than %d hours can be exempt.", hours)), nil
}

func (b *Bot) watcherTextFrequency(ctx context.Context, inv *invocation) (reply, error) {
	value, err := inv.number("value")
	if err != nil {
		return reply{}, err
	}
	if err := b.watcher.SetTextFrequency(ctx, inv.guildID, value); err != nil {
		return reply{}, err
	}
	return b.ok("Watcher", fmt.Sprintf("Exempt at %.2f text messages per second or more.", value)), nil
}

func (b *Bot) watcherStatus(ctx context.Context, inv *invocation) (reply, error) {
	settings, err := b.watcher.Settings(ctx, inv.guildID)
	if err != nil {
		return reply{}, err
	}
	logChannel := ""
	if settings.LogChannel != "" {
		logChannel = "<#" + settings.LogChannel + ">"
	}
	return b.ok("Watcher status", "",
		field("Log channel", logChannel),
		field("Voice watch", fmt.Sprintf("%d hours", settings.VoiceMinJoinedHours)),
		field("Profile rules", strconv.Itoa(len(settings.ProfileRules))),
		field("Message window", (time.Duration(settings.RecentFetchTimeMs)*time.Millisecond).String()),
		field("Embed limit", fmt.Sprintf("%.2f/s", settings.Frequencies.Embed)),
		field("Exempt after", fmt.Sprintf("%d hours", settings.Exemptions.MemberDurationHours)),
		field("Exempt text rate", fmt.Sprintf("%.2f/s", settings.Exemptions.TextMessages)),
		field("Tracked members", strconv.Itoa(b.watcher.Tracked())),
	), nil
}

func (b *Bot) phishingStatus(_ context.Context, _ *invocation) (reply, error) {
	status := b.phishing.Status()
	lastRefresh := "never"
	if !status.LastRefresh.IsZero() {
		lastRefresh = fmt.Sprintf("<t:%d:R>", status.LastRefresh.Unix())
	}
	return b.ok("Phishing filter", "",
		field("Enabled", strconv.FormatBool(b.cfg.Phishing.Enabled)),
		field("Ready", strconv.FormatBool(status.Initialized)),
		field("Domains", strconv.Itoa(status.Domains)),
		field("Last refresh", lastRefresh),
	), nil
}

func (b *Bot) phishingRefresh(ctx context.Context, inv *invocation) (reply, error) {
	if err := b.phishing.Refresh(ctx); err != nil {
		return reply{}, err
	}
	return b.phishingStatus(ctx, inv)
}

const (
	defaultReportHours = 24
	reportLatest       = 10
)

func (b *Bot) auditReport(ctx context.Context, inv *invocation) (reply, error) {
	hours := defaultReportHours
	if inv.has("hours") {
		var err error
		if hours, err = inv.integer("hours"); err != nil {
			return reply{}, err
		}
		if hours < 1 {
			return reply{}, fmt.Errorf("%w: hours", errMissingInput)
		}
	}
	report, err := b.audit.Report(ctx, inv.guildID, time.Duration(hours)*time.Hour, reportLatest)
	if err != nil {
		return reply{}, err
	}

	levels := make([]string, 0, 3)
	for _, level := range []string{audit.LevelInfo, audit.LevelWarn, audit.LevelCrit} {
		levels = append(levels, fmt.Sprintf("%s %d", level, report.ByLevel[level]))
	}
	events := make([]string, 0, len(report.ByEvent))
	for event, count := range report.ByEvent {
		events = append(events, fmt.Sprintf("`%s` %d", event, count))
	}
	sort.Strings(events)
	latest := make([]string, len(report.Latest))
	for i, row := range report.Latest {
		latest[i] = fmt.Sprintf("<t:%d:R> `%s` <@%s> %s", row.CreatedAt.Unix(), row.Event, row.UserID, row.Details)
	}

	fields := []*discordgo.MessageEmbedField{
		field("Total", strconv.Itoa(report.Total)),
		field("By level", strings.Join(levels, ", ")),
		field("By event", strings.Join(events, "\n")),
	}
	latestField := field("Latest", utils.Truncate(strings.Join(latest, "\n"), 1024))
	latestField.Inline = false
	fields = append(fields, latestField)
	return b.ok("Audit report", fmt.Sprintf("Last %d hours", hours), fields...), nil
}
