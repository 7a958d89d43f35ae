// Package chattest provides an in-memory chat.Client for tests.
package chattest

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"cogwarden/internal/chat"

	"github.com/bwmarrin/discordgo"
)

// Sent is a message recorded by Send or SendEmbed.
type Sent struct {
	ChannelID string
	Content   string
	Embeds    []*discordgo.MessageEmbed
	Files     map[string][]byte
}

type Fake struct {
	mu        sync.Mutex
	botID     string
	nextID    int
	guilds    map[string]*discordgo.Guild
	members   map[string]map[string]*discordgo.Member
	presences map[string]discordgo.Status
	perms     map[string]int64
	channels  map[string]*discordgo.Channel
	messages  map[string][]*discordgo.Message
	errors    map[string]error

	sent      []Sent
	deleted   []string
	kicked    []string
	reactions []string
}

func New(botID string) *Fake {
	return &Fake{
		botID:     botID,
		guilds:    make(map[string]*discordgo.Guild),
		members:   make(map[string]map[string]*discordgo.Member),
		presences: make(map[string]discordgo.Status),
		perms:     make(map[string]int64),
		channels:  make(map[string]*discordgo.Channel),
		messages:  make(map[string][]*discordgo.Message),
		errors:    make(map[string]error),
	}
}

var _ chat.Client = (*Fake)(nil)

// AddGuild registers a guild with its @everyone role.
func (f *Fake) AddGuild(guildID, ownerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guilds[guildID] = &discordgo.Guild{
		ID:      guildID,
		OwnerID: ownerID,
		Roles:   []*discordgo.Role{{ID: guildID, Name: "@everyone"}},
	}
	f.members[guildID] = make(map[string]*discordgo.Member)
}

func (f *Fake) AddGuildRole(guildID string, role *discordgo.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	guild := f.guilds[guildID]
	guild.Roles = append(guild.Roles, role)
}

func (f *Fake) AddMember(guildID string, member *discordgo.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member.GuildID = guildID
	f.members[guildID][member.User.ID] = member
}

func (f *Fake) SetPresence(guildID, userID string, status discordgo.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presences[guildID+":"+userID] = status
}

// SetPermissions overrides the computed permissions of userID in channelID.
func (f *Fake) SetPermissions(userID, channelID string, perms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[userID+":"+channelID] = perms
}

func (f *Fake) AddChannel(channel *discordgo.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[channel.ID] = channel
}

// AddMessage appends a message to the channel history, assigning an id.
func (f *Fake) AddMessage(channelID, authorID, content string, at time.Time) *discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendMessage(channelID, &discordgo.Message{
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Username: authorID},
		Timestamp: at,
	})
}

// SetError makes op fail with err. id narrows the failure to one target;
// an empty id fails every call of op.
func (f *Fake) SetError(op, id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[op+":"+id] = err
}

func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

func (f *Fake) SentTo(channelID string) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Sent
	for _, sent := range f.sent {
		if sent.ChannelID == channelID {
			out = append(out, sent)
		}
	}
	return out
}

func (f *Fake) DeletedMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *Fake) Kicked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.kicked...)
}

func (f *Fake) Reactions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reactions...)
}

func (f *Fake) MemberRoles(guildID, userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	member := f.members[guildID][userID]
	if member == nil {
		return nil
	}
	roles := append([]string(nil), member.Roles...)
	sort.Strings(roles)
	return roles
}

func (f *Fake) Channel(channelID string) *discordgo.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[channelID]
}

func (f *Fake) GuildRoleNames(guildID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, role := range f.guilds[guildID].Roles {
		names = append(names, role.Name)
	}
	return names
}

func (f *Fake) BotID() string {
	return f.botID
}

func (f *Fake) Guild(guildID string) (*discordgo.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("guild", guildID); err != nil {
		return nil, err
	}
	guild, ok := f.guilds[guildID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	clone := *guild
	clone.Roles = append([]*discordgo.Role(nil), guild.Roles...)
	return &clone, nil
}

func (f *Fake) Member(guildID, userID string) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[guildID][userID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return cloneMember(member), nil
}

func (f *Fake) Members(guildID, after string, limit int) ([]*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("members", guildID); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(f.members[guildID]))
	for id := range f.members[guildID] {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*discordgo.Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneMember(f.members[guildID][id]))
	}
	return out, nil
}

func (f *Fake) Roles(guildID string) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	guild, ok := f.guilds[guildID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return append([]*discordgo.Role(nil), guild.Roles...), nil
}

func (f *Fake) Presence(guildID, userID string) discordgo.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.presences[guildID+":"+userID]; ok {
		return status
	}
	return discordgo.StatusOffline
}

func (f *Fake) Permissions(userID, channelID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if perms, ok := f.perms[userID+":"+channelID]; ok {
		return perms, nil
	}
	channel, ok := f.channels[channelID]
	if !ok {
		return 0, chat.ErrNotFound
	}
	guild := f.guilds[channel.GuildID]
	member := f.members[channel.GuildID][userID]
	if guild == nil || member == nil {
		return 0, chat.ErrNotFound
	}
	return chat.GuildPermissions(guild, member), nil
}

func (f *Fake) CreateRole(guildID string, params *discordgo.RoleParams) (*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("createRole", guildID); err != nil {
		return nil, err
	}
	guild, ok := f.guilds[guildID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	role := &discordgo.Role{ID: f.newID("role"), Name: params.Name}
	if params.Permissions != nil {
		role.Permissions = *params.Permissions
	}
	if params.Mentionable != nil {
		role.Mentionable = *params.Mentionable
	}
	guild.Roles = append(guild.Roles, role)
	return role, nil
}

func (f *Fake) DeleteRole(guildID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("deleteRole", roleID); err != nil {
		return err
	}
	guild, ok := f.guilds[guildID]
	if !ok {
		return chat.ErrNotFound
	}
	idx := -1
	for i, role := range guild.Roles {
		if role.ID == roleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return chat.ErrNotFound
	}
	guild.Roles = append(guild.Roles[:idx], guild.Roles[idx+1:]...)
	for _, member := range f.members[guildID] {
		member.Roles = without(member.Roles, roleID)
	}
	return nil
}

func (f *Fake) AddRole(guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("addRole", roleID); err != nil {
		return err
	}
	member, ok := f.members[guildID][userID]
	if !ok || !f.hasRole(guildID, roleID) {
		return chat.ErrNotFound
	}
	for _, id := range member.Roles {
		if id == roleID {
			return nil
		}
	}
	member.Roles = append(member.Roles, roleID)
	return nil
}

func (f *Fake) RemoveRole(guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("removeRole", roleID); err != nil {
		return err
	}
	member, ok := f.members[guildID][userID]
	if !ok {
		return chat.ErrNotFound
	}
	member.Roles = without(member.Roles, roleID)
	return nil
}

func (f *Fake) Kick(guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("kick", userID); err != nil {
		return err
	}
	if _, ok := f.members[guildID][userID]; !ok {
		return chat.ErrNotFound
	}
	delete(f.members[guildID], userID)
	f.kicked = append(f.kicked, userID)
	return nil
}

func (f *Fake) CreateChannel(guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("createChannel", guildID); err != nil {
		return nil, err
	}
	channel := &discordgo.Channel{
		ID:                   f.newID("channel"),
		GuildID:              guildID,
		Name:                 data.Name,
		Type:                 data.Type,
		Topic:                data.Topic,
		ParentID:             data.ParentID,
		PermissionOverwrites: data.PermissionOverwrites,
	}
	f.channels[channel.ID] = channel
	return channel, nil
}

func (f *Fake) DeleteChannel(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("deleteChannel", channelID); err != nil {
		return err
	}
	if _, ok := f.channels[channelID]; !ok {
		return chat.ErrNotFound
	}
	delete(f.channels, channelID)
	delete(f.messages, channelID)
	return nil
}

func (f *Fake) Send(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("send", channelID); err != nil {
		return nil, err
	}
	sent := Sent{ChannelID: channelID, Content: data.Content, Embeds: data.Embeds}
	if data.Embed != nil {
		sent.Embeds = append(sent.Embeds, data.Embed)
	}
	for _, file := range data.Files {
		if sent.Files == nil {
			sent.Files = make(map[string][]byte)
		}
		body, err := io.ReadAll(file.Reader)
		if err != nil {
			return nil, err
		}
		sent.Files[file.Name] = body
	}
	f.sent = append(f.sent, sent)
	return f.appendMessage(channelID, &discordgo.Message{
		ChannelID: channelID,
		Content:   data.Content,
		Embeds:    sent.Embeds,
		Author:    &discordgo.User{ID: f.botID, Username: "bot", Bot: true},
		Timestamp: time.Now(),
	}), nil
}

func (f *Fake) SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	return f.Send(channelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
}

func (f *Fake) DeleteMessage(channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("deleteMessage", messageID); err != nil {
		return err
	}
	f.deleted = append(f.deleted, messageID)
	history := f.messages[channelID]
	for i, msg := range history {
		if msg.ID == messageID {
			f.messages[channelID] = append(history[:i], history[i+1:]...)
			break
		}
	}
	return nil
}

// Messages returns up to limit messages older than beforeID (or newer than
// afterID), newest first like the REST API.
func (f *Fake) Messages(channelID string, limit int, beforeID, afterID string) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("messages", channelID); err != nil {
		return nil, err
	}
	var window []*discordgo.Message
	for _, msg := range f.messages[channelID] {
		if beforeID != "" && msg.ID >= beforeID {
			continue
		}
		if afterID != "" && msg.ID <= afterID {
			continue
		}
		window = append(window, msg)
	}
	if len(window) > limit {
		if afterID != "" {
			window = window[:limit]
		} else {
			window = window[len(window)-limit:]
		}
	}
	out := make([]*discordgo.Message, 0, len(window))
	for i := len(window) - 1; i >= 0; i-- {
		out = append(out, window[i])
	}
	return out, nil
}

func (f *Fake) AddReaction(channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("addReaction", messageID); err != nil {
		return err
	}
	f.reactions = append(f.reactions, messageID+":"+emoji)
	return nil
}

func (f *Fake) appendMessage(channelID string, msg *discordgo.Message) *discordgo.Message {
	msg.ID = f.newID("")
	f.messages[channelID] = append(f.messages[channelID], msg)
	return msg
}

func (f *Fake) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%08d", prefix, f.nextID)
}

func (f *Fake) hasRole(guildID, roleID string) bool {
	guild := f.guilds[guildID]
	if guild == nil {
		return false
	}
	for _, role := range guild.Roles {
		if role.ID == roleID {
			return true
		}
	}
	return false
}

func (f *Fake) fail(op, id string) error {
	if err, ok := f.errors[op+":"+id]; ok {
		return err
	}
	if err, ok := f.errors[op+":"]; ok {
		return err
	}
	return nil
}

func cloneMember(member *discordgo.Member) *discordgo.Member {
	clone := *member
	clone.Roles = append([]string(nil), member.Roles...)
	return &clone
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
