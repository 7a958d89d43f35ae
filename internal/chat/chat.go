package chat

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

var (
	ErrForbidden = errors.New("missing permissions")
	ErrNotFound  = errors.New("not found")
)

// Client is the slice of the Discord API the moderation modules use.
type Client interface {
	BotID() string

	Guild(guildID string) (*discordgo.Guild, error)
	Member(guildID, userID string) (*discordgo.Member, error)
	Members(guildID, after string, limit int) ([]*discordgo.Member, error)
	Roles(guildID string) ([]*discordgo.Role, error)
	Presence(guildID, userID string) discordgo.Status
	Permissions(userID, channelID string) (int64, error)

	CreateRole(guildID string, params *discordgo.RoleParams) (*discordgo.Role, error)
	DeleteRole(guildID, roleID string) error
	AddRole(guildID, userID, roleID string) error
	RemoveRole(guildID, userID, roleID string) error
	Kick(guildID, userID, reason string) error

	CreateChannel(guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error)
	DeleteChannel(channelID string) error

	Send(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error)
	DeleteMessage(channelID, messageID string) error
	Messages(channelID string, limit int, beforeID, afterID string) ([]*discordgo.Message, error)
	AddReaction(channelID, messageID, emoji string) error
}

// Session adapts a discordgo session to Client, preferring the state cache
// for reads.
type Session struct {
	s *discordgo.Session
}

func NewSession(s *discordgo.Session) *Session {
	return &Session{s: s}
}

func (c *Session) BotID() string {
	if c.s.State == nil || c.s.State.User == nil {
		return ""
	}
	return c.s.State.User.ID
}

func (c *Session) Guild(guildID string) (*discordgo.Guild, error) {
	if guild, err := c.s.State.Guild(guildID); err == nil {
		return guild, nil
	}
	guild, err := c.s.Guild(guildID)
	return guild, wrap(err)
}

func (c *Session) Member(guildID, userID string) (*discordgo.Member, error) {
	if member, err := c.s.State.Member(guildID, userID); err == nil {
		return member, nil
	}
	member, err := c.s.GuildMember(guildID, userID)
	return member, wrap(err)
}

func (c *Session) Members(guildID, after string, limit int) ([]*discordgo.Member, error) {
	members, err := c.s.GuildMembers(guildID, after, limit)
	return members, wrap(err)
}

func (c *Session) Roles(guildID string) ([]*discordgo.Role, error) {
	roles, err := c.s.GuildRoles(guildID)
	return roles, wrap(err)
}

func (c *Session) Presence(guildID, userID string) discordgo.Status {
	presence, err := c.s.State.Presence(guildID, userID)
	if err != nil || presence == nil {
		return discordgo.StatusOffline
	}
	return presence.Status
}

func (c *Session) Permissions(userID, channelID string) (int64, error) {
	if perms, err := c.s.State.UserChannelPermissions(userID, channelID); err == nil {
		return perms, nil
	}
	perms, err := c.s.UserChannelPermissions(userID, channelID)
	return perms, wrap(err)
}

func (c *Session) CreateRole(guildID string, params *discordgo.RoleParams) (*discordgo.Role, error) {
	role, err := c.s.GuildRoleCreate(guildID, params)
	return role, wrap(err)
}

func (c *Session) DeleteRole(guildID, roleID string) error {
	return wrap(c.s.GuildRoleDelete(guildID, roleID))
}

func (c *Session) AddRole(guildID, userID, roleID string) error {
	return wrap(c.s.GuildMemberRoleAdd(guildID, userID, roleID))
}

func (c *Session) RemoveRole(guildID, userID, roleID string) error {
	return wrap(c.s.GuildMemberRoleRemove(guildID, userID, roleID))
}

func (c *Session) Kick(guildID, userID, reason string) error {
	return wrap(c.s.GuildMemberDeleteWithReason(guildID, userID, reason))
}

func (c *Session) CreateChannel(guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	channel, err := c.s.GuildChannelCreateComplex(guildID, data)
	return channel, wrap(err)
}

func (c *Session) DeleteChannel(channelID string) error {
	_, err := c.s.ChannelDelete(channelID)
	return wrap(err)
}

func (c *Session) Send(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	msg, err := c.s.ChannelMessageSendComplex(channelID, data)
	return msg, wrap(err)
}

func (c *Session) SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	msg, err := c.s.ChannelMessageSendEmbed(channelID, embed)
	return msg, wrap(err)
}

func (c *Session) DeleteMessage(channelID, messageID string) error {
	return wrap(c.s.ChannelMessageDelete(channelID, messageID))
}

func (c *Session) Messages(channelID string, limit int, beforeID, afterID string) ([]*discordgo.Message, error) {
	messages, err := c.s.ChannelMessages(channelID, limit, beforeID, afterID, "")
	return messages, wrap(err)
}

func (c *Session) AddReaction(channelID, messageID, emoji string) error {
	return wrap(c.s.MessageReactionAdd(channelID, messageID, emoji))
}

// wrap tags REST failures with ErrForbidden or ErrNotFound so callers can
// match them with errors.Is.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return &apiError{kind: ErrForbidden, err: err}
		case http.StatusNotFound:
			return &apiError{kind: ErrNotFound, err: err}
		}
	}
	return err
}

type apiError struct {
	kind error
	err  error
}

func (e *apiError) Error() string {
	return e.err.Error()
}

func (e *apiError) Unwrap() []error {
	return []error{e.kind, e.err}
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// HasPermission reports whether perms grants bit, treating Administrator as all.
func HasPermission(perms, bit int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 || perms&bit == bit
}

// GuildPermissions folds the @everyone role and the member's roles.
func GuildPermissions(guild *discordgo.Guild, member *discordgo.Member) int64 {
	if guild == nil || member == nil {
		return 0
	}
	if member.User != nil && member.User.ID == guild.OwnerID {
		return discordgo.PermissionAll
	}
	roles := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roles[role.ID] = role
	}
	var perms int64
	if everyone := roles[guild.ID]; everyone != nil {
		perms |= everyone.Permissions
	}
	for _, roleID := range member.Roles {
		if role := roles[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	return perms
}
