package bot

import "github.com/bwmarrin/discordgo"

func sub(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func group(name, description string, subs ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
		Name:        name,
		Description: description,
		Options:     subs,
	}
}

func option(kind discordgo.ApplicationCommandOptionType, name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        kind,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func userOption(required bool) *discordgo.ApplicationCommandOption {
	return option(discordgo.ApplicationCommandOptionUser, "user", "Target member", required)
}

func channelOption(description string, required bool, types ...discordgo.ChannelType) *discordgo.ApplicationCommandOption {
	opt := option(discordgo.ApplicationCommandOptionChannel, "channel", description, required)
	opt.ChannelTypes = types
	return opt
}

// Commands returns the slash command tree registered at startup.
func Commands() []*discordgo.ApplicationCommand {
	guildOnly := false
	textChannel := []discordgo.ChannelType{discordgo.ChannelTypeGuildText}

	notesGroup := func(name, label string) *discordgo.ApplicationCommand {
		return &discordgo.ApplicationCommand{
			Name:         name,
			Description:  "Moderator " + label + " about members",
			DMPermission: &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				sub("add", "Record a "+label[:len(label)-1],
					userOption(true),
					option(discordgo.ApplicationCommandOptionString, "text", "What happened", true),
				),
				sub("delete", "Soft-delete an entry",
					option(discordgo.ApplicationCommandOptionInteger, "id", "Entry id", true),
				),
				sub("restore", "Restore a deleted entry",
					option(discordgo.ApplicationCommandOptionInteger, "id", "Entry id", true),
				),
				sub("list", "List notes and warnings", userOption(false)),
				sub("status", "Count entries"),
			},
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "markov",
			Description: "Text generation from your own messages",
			Options: []*discordgo.ApplicationCommandOption{
				sub("enable", "Start learning from your messages"),
				sub("disable", "Stop learning from your messages"),
				sub("mode", "Set the tokenisation mode",
					option(discordgo.ApplicationCommandOptionString, "mode", "word, chunk or chunk<N>", true),
				),
				sub("depth", "Set the model depth",
					option(discordgo.ApplicationCommandOptionInteger, "depth", "State length in tokens", true),
				),
				sub("generate", "Generate text from a model", userOption(false)),
				sub("reset", "Delete every model you have"),
				sub("delete", "Delete one model",
					option(discordgo.ApplicationCommandOptionString, "key", "Model key, e.g. word-1", true),
				),
				sub("forget", "Erase everything stored about you"),
				sub("channelenable", "Learn from a channel", channelOption("Channel to enable", false, textChannel...)),
				sub("channeldisable", "Stop learning from a channel", channelOption("Channel to disable", false, textChannel...)),
				sub("show_user", "Show a member's settings", userOption(false)),
				sub("show_guild", "List the channels markov learns from"),
			},
		},
		{
			Name:         "purge",
			Description:  "Scheduled removal of inactive role-less members",
			DMPermission: &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				sub("execute", "Kick every eligible member now"),
				sub("simulate", "Count eligible members"),
				sub("exclude", "Never purge a member", userOption(true)),
				sub("include", "Remove a member from the exclusions", userOption(true)),
				sub("setminage", "Minimum membership age",
					option(discordgo.ApplicationCommandOptionInteger, "days", "Days since joining", true),
				),
				sub("schedule", "Set the cron schedule",
					option(discordgo.ApplicationCommandOptionString, "cron", "Five-field cron expression", true),
				),
				sub("logchannel", "Channel for run summaries", channelOption("Log channel", true, textChannel...)),
				sub("enable", "Enable scheduled runs"),
				sub("disable", "Disable scheduled runs"),
				sub("status", "Show the purge settings"),
			},
		},
		{
			Name:         "jail",
			Description:  "Timeout members in a private channel",
			DMPermission: &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				sub("member", "Jail a member", userOption(true)),
				sub("free", "Release a jailed member", userOption(true)),
				sub("setup", "Set the category for jail channels",
					channelOption("Category", true, discordgo.ChannelTypeGuildCategory),
				),
				group("archives", "Transcripts of past jails",
					sub("list", "List a member's jail history", userOption(true)),
					sub("fetch", "Download a transcript",
						option(discordgo.ApplicationCommandOptionString, "id", "Archive id", true),
					),
				),
			},
		},
		notesGroup("notes", "notes"),
		notesGroup("warnings", "warnings"),
		{
			Name:         "watcher",
			Description:  "Suspicious activity alerts",
			DMPermission: &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				sub("logchannel", "Alert channel; omit to disable alerts", channelOption("Alert channel", false, textChannel...)),
				group("voicewatch", "Camera and stream alerts",
					sub("time", "Alert for members who joined less than this ago",
						option(discordgo.ApplicationCommandOptionInteger, "hours", "Hours", true),
					),
				),
				group("profilewatch", "Name rules checked at join",
					sub("add", "Add a rule",
						option(discordgo.ApplicationCommandOptionString, "pattern", "Regular expression", true),
						&discordgo.ApplicationCommandOption{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "level",
							Description: "Alert level",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "low", Value: "LOW"},
								{Name: "high", Value: "HIGH"},
							},
						},
						option(discordgo.ApplicationCommandOptionBoolean, "check_nick", "Also match nicknames", true),
						option(discordgo.ApplicationCommandOptionString, "reason", "Shown in the alert", false),
					),
					sub("list", "List rules"),
					sub("delete", "Delete a rule",
						option(discordgo.ApplicationCommandOptionInteger, "index", "Rule number from the list", true),
					),
				),
				group("messagewatch", "Attachment and embed alerts",
					sub("fetchtime", "Sliding window length",
						option(discordgo.ApplicationCommandOptionInteger, "ms", "Milliseconds", true),
					),
				),
				group("frequencies", "Alert thresholds",
					sub("embed", "Attachments and embeds per second",
						option(discordgo.ApplicationCommandOptionNumber, "value", "Per second", true),
					),
				),
				group("exemptions", "Who is excused from message alerts",
					sub("memberduration", "Minimum membership age",
						option(discordgo.ApplicationCommandOptionInteger, "hours", "Hours", true),
					),
					sub("textmessages", "Minimum text messages per second",
						option(discordgo.ApplicationCommandOptionNumber, "value", "Per second", true),
					),
				),
				sub("status", "Show the watcher settings"),
			},
		},
		{
			Name:         "audit",
			Description:  "Recent moderation actions",
			DMPermission: &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				sub("report", "Count recent actions by level and event",
					option(discordgo.ApplicationCommandOptionInteger, "hours", "Look back this many hours (default 24)", false),
				),
			},
		},
		{
			Name:         "phishing",
			Description:  "Phishing link filter",
			DMPermission: &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				sub("status", "Show the blocklist state"),
				sub("refresh", "Refresh the blocklist now"),
			},
		},
	}
}

// registerCommands replaces the global command set.
func (b *Bot) registerCommands() error {
	appID := b.session.State.User.ID
	_, err := b.session.ApplicationCommandBulkOverwrite(appID, "", Commands())
	return err
}
