package access

import (
	"cogwarden/internal/chat"
	"cogwarden/internal/config"

	"github.com/bwmarrin/discordgo"
)

const modPermissions = discordgo.PermissionKickMembers | discordgo.PermissionBanMembers | discordgo.PermissionManageMessages

// Checker resolves the owner, admin and mod tiers of a member.
type Checker struct {
	client chat.Client
	cfg    config.ModerationConfig
}

func New(client chat.Client, cfg config.ModerationConfig) *Checker {
	return &Checker{client: client, cfg: cfg}
}

func (c *Checker) IsOwner(guildID, userID string) bool {
	guild, err := c.client.Guild(guildID)
	return err == nil && guild.OwnerID == userID
}

// IsAdmin is true for the owner, the Administrator permission and the
// configured admin roles.
func (c *Checker) IsAdmin(guildID string, member *discordgo.Member) bool {
	if member == nil || member.User == nil {
		return false
	}
	guild, err := c.client.Guild(guildID)
	if err != nil {
		return false
	}
	if guild.OwnerID == member.User.ID {
		return true
	}
	if chat.GuildPermissions(guild, member)&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return hasAnyRole(member, c.cfg.AdminRoleIDs)
}

// IsMod is true for admins, the configured mod roles and members holding a
// kick, ban or manage-messages permission.
func (c *Checker) IsMod(guildID string, member *discordgo.Member) bool {
	if c.IsAdmin(guildID, member) {
		return true
	}
	if member == nil || member.User == nil {
		return false
	}
	if hasAnyRole(member, c.cfg.ModRoleIDs) {
		return true
	}
	guild, err := c.client.Guild(guildID)
	if err != nil {
		return false
	}
	return chat.GuildPermissions(guild, member)&modPermissions != 0
}

func hasAnyRole(member *discordgo.Member, roleIDs []string) bool {
	for _, want := range roleIDs {
		for _, have := range member.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
