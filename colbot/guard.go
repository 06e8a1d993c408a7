package colbot

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	managerRoleMissingMessage = "Manager role not configured or not found."
	permissionDeniedMessage   = "❌ You do not have permission to use this command."
	wrongChannelMessage       = "Please use this command in <#%s>."

	votingChannelMissingMessage = "Voting channel not configured."
)

// Role is a guild role, as far as authorization is concerned
type Role struct {
	ID       string
	Name     string
	Position int
}

// Caller describes who invoked a command, and where.
// Roles are the caller's own roles, GuildRoles all roles in the guild.
type Caller struct {
	UserID     string
	Username   string
	ChannelID  string
	MessageID  string
	Roles      []Role
	GuildRoles []Role
}

func (c Caller) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", c.UserID),
		slog.String("username", c.Username),
		slog.String("channel_id", c.ChannelID),
		slog.Int("roles", len(c.Roles)),
	)
}

// HasRoleNamed reports whether the caller holds a role with the given
// name. Names are compared case-sensitively, like Discord displays them.
func (c Caller) HasRoleNamed(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range c.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

func (c Caller) highestPosition() int {
	highest := -1
	for _, r := range c.Roles {
		if r.Position > highest {
			highest = r.Position
		}
	}
	return highest
}

func findRoleNamed(roles []Role, name string) (Role, bool) {
	for _, r := range roles {
		if r.Name == name {
			return r, true
		}
	}
	return Role{}, false
}

// Guard enforces role and channel requirements for commands. All
// settings come from the GuildConfig it was built with.
type Guard struct {
	managerRole     string
	votePermRole    string
	votingChannelID string
}

func NewGuard(cfg GuildConfig) *Guard {
	return &Guard{
		managerRole:     strings.TrimSpace(cfg.ManagerRole),
		votePermRole:    strings.TrimSpace(cfg.VotePermRole),
		votingChannelID: strings.TrimSpace(cfg.VotingChannelID),
	}
}

// RequireManager passes when the caller holds the manager role
func (g *Guard) RequireManager(c Caller) error {
	if g.managerRole == "" {
		return newWorkflowError(ErrPermissionDenied, managerRoleMissingMessage, nil)
	}
	if len(c.GuildRoles) > 0 {
		if _, ok := findRoleNamed(c.GuildRoles, g.managerRole); !ok {
			return newWorkflowError(ErrPermissionDenied, managerRoleMissingMessage, nil)
		}
	}
	if !c.HasRoleNamed(g.managerRole) {
		return newWorkflowError(ErrPermissionDenied, permissionDeniedMessage, nil)
	}
	return nil
}

// RequireVoter passes when the caller holds the vote role and is in
// the voting channel. An unset vote role or channel denies everyone.
func (g *Guard) RequireVoter(c Caller) error {
	if g.votePermRole == "" || !c.HasRoleNamed(g.votePermRole) {
		return newWorkflowError(ErrPermissionDenied, permissionDeniedMessage, nil)
	}
	if g.votingChannelID == "" {
		return newWorkflowError(ErrWrongChannel, votingChannelMissingMessage, nil)
	}
	if c.ChannelID != g.votingChannelID {
		return newWorkflowError(
			ErrWrongChannel,
			fmt.Sprintf(wrongChannelMessage, g.votingChannelID),
			nil,
		)
	}
	return nil
}

// RequireAnnouncer passes when the caller's highest role is at or
// above the manager role
func (g *Guard) RequireAnnouncer(c Caller) error {
	if g.managerRole == "" {
		return newWorkflowError(ErrPermissionDenied, managerRoleMissingMessage, nil)
	}
	manager, ok := findRoleNamed(c.GuildRoles, g.managerRole)
	if !ok {
		return newWorkflowError(ErrPermissionDenied, managerRoleMissingMessage, nil)
	}
	if c.highestPosition() < manager.Position {
		return newWorkflowError(ErrPermissionDenied, permissionDeniedMessage, nil)
	}
	return nil
}
