package chat

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestWrapClassifiesRESTErrors(t *testing.T) {
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	missing := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	other := errors.New("boom")

	assert.True(t, IsForbidden(wrap(forbidden)))
	assert.True(t, IsNotFound(wrap(missing)))
	assert.False(t, IsForbidden(wrap(other)))
	assert.Nil(t, wrap(nil))

	var restErr *discordgo.RESTError
	assert.True(t, errors.As(wrap(forbidden), &restErr))
}

func TestGuildPermissions(t *testing.T) {
	guild := &discordgo.Guild{
		ID:      "g1",
		OwnerID: "owner",
		Roles: []*discordgo.Role{
			{ID: "g1", Permissions: discordgo.PermissionViewChannel},
			{ID: "mod", Permissions: discordgo.PermissionKickMembers},
		},
	}
	member := &discordgo.Member{User: &discordgo.User{ID: "u1"}, Roles: []string{"mod"}}

	perms := GuildPermissions(guild, member)
	assert.True(t, HasPermission(perms, discordgo.PermissionKickMembers))
	assert.True(t, HasPermission(perms, discordgo.PermissionViewChannel))
	assert.False(t, HasPermission(perms, discordgo.PermissionBanMembers))

	owner := &discordgo.Member{User: &discordgo.User{ID: "owner"}}
	assert.True(t, HasPermission(GuildPermissions(guild, owner), discordgo.PermissionBanMembers))
	assert.True(t, HasPermission(discordgo.PermissionAdministrator, discordgo.PermissionManageRoles))
}
